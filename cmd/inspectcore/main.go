// Inspection Core - authentication and authorization service for the
// facility-inspection backend.
//
// This binary serves the REST API behind the session-token gate, rotates
// the token signing secret on a schedule, and optionally reports security
// events over MQTT and gate telemetry to InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/facilityops/inspection-core/migrations"

	"github.com/facilityops/inspection-core/internal/api"
	"github.com/facilityops/inspection-core/internal/audit"
	"github.com/facilityops/inspection-core/internal/auth"
	"github.com/facilityops/inspection-core/internal/infrastructure/config"
	"github.com/facilityops/inspection-core/internal/infrastructure/database"
	"github.com/facilityops/inspection-core/internal/infrastructure/influxdb"
	"github.com/facilityops/inspection-core/internal/infrastructure/logging"
	"github.com/facilityops/inspection-core/internal/infrastructure/metrics"
	"github.com/facilityops/inspection-core/internal/infrastructure/mqtt"
	"github.com/facilityops/inspection-core/internal/site"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// auditWriteTimeout bounds audit writes made outside a request.
const auditWriteTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service together and blocks until ctx is cancelled.
// Deferred cleanups run in reverse order of startup.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Inspection Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"base_url", cfg.Deployment.BaseURL,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	siteRepo := site.NewSQLiteRepository(db.DB)
	userRepo := auth.NewUserRepository(db.DB, siteRepo)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	seedPassword, err := auth.SeedAdmin(ctx, userRepo, cfg.Security.SeedAdminEmail, log.Logger)
	if err != nil {
		return fmt.Errorf("seeding admin: %w", err)
	}
	if seedPassword != "" {
		// Shown once on the console, never written to the structured log.
		fmt.Fprintf(os.Stderr, "\nInitial administrator %s password: %s\n\n",
			cfg.Security.SeedAdminEmail, seedPassword)
	}

	sess := cfg.Security.Session
	secrets, err := auth.NewSecretStore([]byte(sess.InitialSecret))
	if err != nil {
		return fmt.Errorf("initialising signing secrets: %w", err)
	}
	tokens := auth.NewTokenService(secrets, auth.TokenConfig{
		TTL:              sess.TokenTTL,
		RefreshThreshold: sess.RefreshThreshold,
	})
	m := metrics.New()
	m.ActiveSecrets.Set(float64(len(secrets.Active())))

	deps := api.Deps{
		Config:     cfg,
		Logger:     log,
		Users:      userRepo,
		Principals: userRepo,
		Tokens:     tokens,
		Secrets:    secrets,
		Sites:      siteRepo,
		AuditRepo:  auditRepo,
		Metrics:    m,
		DB:         db,
		Version:    version,
	}
	reporter := &rotationReporter{
		secrets: secrets,
		metrics: m,
		audit:   auditRepo,
		log:     log,
	}

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT, mqtt.WithLogger(log))
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		deps.Events = mqttClient
		reporter.events = mqttClient
	} else {
		log.Info("MQTT disabled, security events will not be published")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		deps.Telemetry = influxClient
		reporter.telemetry = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	rotator := auth.NewRotator(secrets, sess.RotationInterval, log.Logger)
	rotator.SetOnRotate(reporter.report)
	if startErr := rotator.Start(ctx); startErr != nil {
		return fmt.Errorf("starting secret rotation: %w", startErr)
	}
	defer rotator.Stop()

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns INSPECT_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("INSPECT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

type securityEvents interface {
	PublishSecurityEvent(event mqtt.SecurityEvent) error
}

type rotationTelemetry interface {
	WriteRotation(generation int, success bool)
}

type auditWriter interface {
	Create(ctx context.Context, log *audit.AuditLog) error
}

// rotationReporter fans a rotation attempt out to metrics, the audit trail
// and, when configured, MQTT and InfluxDB.
type rotationReporter struct {
	secrets   *auth.SecretStore
	metrics   *metrics.Metrics
	audit     auditWriter
	events    securityEvents
	telemetry rotationTelemetry
	log       *logging.Logger
}

func (r *rotationReporter) report(generation int, err error) {
	ok := err == nil
	r.metrics.RecordRotation(ok, len(r.secrets.Active()))

	if r.telemetry != nil {
		r.telemetry.WriteRotation(generation, ok)
	}

	if r.events != nil {
		event := mqtt.SecurityEvent{Type: mqtt.EventSecretRotated, Generation: generation}
		if !ok {
			event.Type = mqtt.EventSecretRotationFailed
			event.Detail = err.Error()
		}
		if pubErr := r.events.PublishSecurityEvent(event); pubErr != nil {
			r.log.Warn("publishing rotation event failed", "error", pubErr)
		}
	}

	details := map[string]any{"generation": generation, "success": ok}
	if !ok {
		details["error"] = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	if auditErr := r.audit.Create(ctx, &audit.AuditLog{
		Action:     audit.ActionSecretRotation,
		EntityType: audit.EntitySecret,
		Source:     audit.SourceSystem,
		Details:    details,
	}); auditErr != nil {
		r.log.Warn("recording rotation audit entry failed", "error", auditErr)
	}
}
