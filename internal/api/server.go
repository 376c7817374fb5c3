package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/facilityops/inspection-core/internal/audit"
	"github.com/facilityops/inspection-core/internal/auth"
	"github.com/facilityops/inspection-core/internal/infrastructure/config"
	"github.com/facilityops/inspection-core/internal/infrastructure/logging"
	"github.com/facilityops/inspection-core/internal/infrastructure/metrics"
	"github.com/facilityops/inspection-core/internal/infrastructure/mqtt"
	"github.com/facilityops/inspection-core/internal/site"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EventPublisher publishes security events. Satisfied by *mqtt.Client.
type EventPublisher interface {
	PublishSecurityEvent(event mqtt.SecurityEvent) error
}

// GateTelemetry records auth gate outcomes as time series.
// Satisfied by *influxdb.Client.
type GateTelemetry interface {
	WriteGateOutcome(outcome, carrier string, refreshed bool)
}

// SessionTokens issues and verifies session tokens. Satisfied by
// *auth.TokenService.
type SessionTokens interface {
	Issue(subjectID string, role auth.Role, permissions []auth.Permission, ttl time.Duration) (string, error)
	IssueFor(user *auth.User) (string, error)
	Verify(token string) (*auth.CustomClaims, error)
	ShouldRefresh(claims *auth.CustomClaims) bool
	TTL() time.Duration
}

// HealthChecker reports the health of a backing service.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
// Events, Telemetry, Metrics, AuditRepo and DB are optional.
type Deps struct {
	Config     *config.Config
	Logger     *logging.Logger
	Users      auth.UserRepository
	Principals auth.PrincipalStore
	Tokens     SessionTokens
	Secrets    *auth.SecretStore
	Sites      site.Repository
	AuditRepo  audit.Repository
	Events     EventPublisher
	Telemetry  GateTelemetry
	Metrics    *metrics.Metrics
	DB         HealthChecker
	Version    string
}

// Server is the HTTP API server for Inspection Core.
//
// It is created with New() and started with Start(); Handler() exposes the
// routed handler without a listener.
type Server struct {
	cfg          config.APIConfig
	session      config.SessionConfig
	devMode      bool
	cookieSecure bool
	logger       *logging.Logger

	users      auth.UserRepository
	principals auth.PrincipalStore
	tokens     SessionTokens
	secrets    *auth.SecretStore
	sites      site.Repository
	auditRepo  audit.Repository
	events     EventPublisher
	telemetry  GateTelemetry
	metrics    *metrics.Metrics
	db         HealthChecker

	extractors []tokenExtractor
	version    string
	startTime  time.Time

	auditCh chan *audit.AuditLog
	auditWG sync.WaitGroup

	server *http.Server
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Config == nil:
		return nil, fmt.Errorf("config is required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Users == nil:
		return nil, fmt.Errorf("user repository is required")
	case deps.Principals == nil:
		return nil, fmt.Errorf("principal store is required")
	case deps.Tokens == nil:
		return nil, fmt.Errorf("token service is required")
	case deps.Sites == nil:
		return nil, fmt.Errorf("site repository is required")
	}

	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		cfg:          deps.Config.API,
		session:      deps.Config.Security.Session,
		devMode:      deps.Config.Deployment.DevMode,
		cookieSecure: deps.Config.Deployment.CookieSecure(),
		logger:       deps.Logger,
		users:        deps.Users,
		principals:   deps.Principals,
		tokens:       deps.Tokens,
		secrets:      deps.Secrets,
		sites:        deps.Sites,
		auditRepo:    deps.AuditRepo,
		events:       deps.Events,
		telemetry:    deps.Telemetry,
		metrics:      m,
		db:           deps.DB,
		version:      deps.Version,
		startTime:    time.Now(),
	}
	if s.session.CookieName == "" {
		s.session.CookieName = "inspect_session"
	}
	if s.session.HeaderName == "" {
		s.session.HeaderName = "X-Session-Token"
	}
	if s.session.CookieMaxAge <= 0 {
		s.session.CookieMaxAge = auth.DefaultTokenTTL
	}
	s.extractors = defaultExtractors(s.session.CookieName, s.session.HeaderName)

	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}
	return s, nil
}

// Handler returns the routed HTTP handler with the full middleware stack.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine and
// starts the audit writer. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Close, not ctx, ends the audit writer, so entries queued during
	// shutdown are still flushed.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if s.auditCh != nil {
		s.auditWG.Add(1)
		go func() {
			defer s.auditWG.Done()
			s.drainAuditLog(srvCtx)
		}()
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests, then flushes queued audit entries.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	// Stop the audit writer only after handlers have finished enqueuing.
	if s.cancel != nil {
		s.cancel()
	}
	s.auditWG.Wait()

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// publishEvent sends a security event if a publisher is configured.
// Failures are logged; the triggering request has already succeeded.
func (s *Server) publishEvent(event mqtt.SecurityEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSecurityEvent(event); err != nil {
		s.logger.Warn("publishing security event failed",
			"event", event.Type,
			"error", err,
		)
	}
}
