package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/facilityops/inspection-core/internal/audit"
	"github.com/facilityops/inspection-core/internal/auth"
	"github.com/facilityops/inspection-core/internal/infrastructure/config"
	"github.com/facilityops/inspection-core/internal/infrastructure/database"
	"github.com/facilityops/inspection-core/internal/infrastructure/logging"
	"github.com/facilityops/inspection-core/internal/infrastructure/metrics"
	"github.com/facilityops/inspection-core/internal/infrastructure/mqtt"
	"github.com/facilityops/inspection-core/internal/site"
	_ "github.com/facilityops/inspection-core/migrations"
)

const (
	testSecret   = "api-test-signing-secret-0123456789abcdef"
	testPassword = "test-password-123"
)

// recordingPublisher captures security events instead of sending them.
type recordingPublisher struct {
	mu     sync.Mutex
	events []mqtt.SecurityEvent
}

func (p *recordingPublisher) PublishSecurityEvent(event mqtt.SecurityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type gatePoint struct {
	outcome   string
	carrier   string
	refreshed bool
}

// recordingTelemetry captures gate outcomes instead of writing to InfluxDB.
type recordingTelemetry struct {
	mu     sync.Mutex
	points []gatePoint
}

func (rt *recordingTelemetry) WriteGateOutcome(outcome, carrier string, refreshed bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.points = append(rt.points, gatePoint{outcome, carrier, refreshed})
}

func (rt *recordingTelemetry) last() gatePoint {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if len(rt.points) == 0 {
		return gatePoint{}
	}
	return rt.points[len(rt.points)-1]
}

// testEnv is a server wired to a migrated SQLite database and real
// token, secret and metrics components.
type testEnv struct {
	srv       *Server
	handler   http.Handler
	db        *database.DB
	users     *auth.SQLiteUserRepository
	sites     *site.SQLiteRepository
	audit     *audit.SQLiteRepository
	store     *auth.SecretStore
	tokens    *auth.TokenService
	metrics   *metrics.Metrics
	events    *recordingPublisher
	telemetry *recordingTelemetry
}

type envOption func(cfg *config.Config, deps *Deps)

func withBaseURL(u string) envOption {
	return func(cfg *config.Config, _ *Deps) { cfg.Deployment.BaseURL = u }
}

func withDevMode() envOption {
	return func(cfg *config.Config, _ *Deps) { cfg.Deployment.DevMode = true }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}

	store, err := auth.NewSecretStore([]byte(testSecret))
	if err != nil {
		t.Fatalf("NewSecretStore: %v", err)
	}

	env := &testEnv{
		db:        db,
		sites:     site.NewSQLiteRepository(db.DB),
		audit:     audit.NewSQLiteRepository(db.DB),
		store:     store,
		tokens:    auth.NewTokenService(store, auth.TokenConfig{}),
		metrics:   metrics.New(),
		events:    &recordingPublisher{},
		telemetry: &recordingTelemetry{},
	}
	env.users = auth.NewUserRepository(db.DB, env.sites)

	cfg := &config.Config{
		Deployment: config.DeploymentConfig{Name: "test", BaseURL: "https://inspect.example.com"},
		API: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5, Request: 5},
		},
		Security: config.SecurityConfig{
			Session: config.SessionConfig{
				InitialSecret: testSecret,
				CookieName:    "inspect_session",
				HeaderName:    "X-Session-Token",
				CookieMaxAge:  24 * time.Hour,
			},
		},
	}
	deps := Deps{
		Config:     cfg,
		Logger:     logging.Discard(),
		Users:      env.users,
		Principals: env.users,
		Tokens:     env.tokens,
		Secrets:    store,
		Sites:      env.sites,
		AuditRepo:  env.audit,
		Events:     env.events,
		Telemetry:  env.telemetry,
		Metrics:    env.metrics,
		DB:         db,
		Version:    "test",
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.srv = srv
	env.handler = srv.Handler()
	return env
}

// startAuditWriter runs the audit drain for the duration of the test.
func (e *testEnv) startAuditWriter(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.srv.drainAuditLog(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// createUser inserts an account. An empty password creates an invited account.
func (e *testEnv) createUser(t *testing.T, email string, role auth.Role, password string) *auth.User {
	t.Helper()
	u := &auth.User{Email: email, DisplayName: email, Role: role}
	if password != "" {
		hash, err := auth.HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		u.PasswordHash = hash
	}
	if err := e.users.Create(t.Context(), u); err != nil {
		t.Fatalf("creating user %s: %v", email, err)
	}
	return u
}

func (e *testEnv) tokenFor(t *testing.T, u *auth.User) string {
	t.Helper()
	token, err := e.tokens.IssueFor(u)
	if err != nil {
		t.Fatalf("IssueFor: %v", err)
	}
	return token
}

type requestOption func(*http.Request)

func bearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func sessionCookie(token string) requestOption {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "inspect_session", Value: token}) }
}

func sessionHeader(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("X-Session-Token", token) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// expectError checks the status and code of an error response.
func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) Error {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	var body Error
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
	return body
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding body %q: %v", rec.Body.String(), err)
	}
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func counterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
