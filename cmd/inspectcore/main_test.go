package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/facilityops/inspection-core/internal/audit"
	"github.com/facilityops/inspection-core/internal/auth"
	"github.com/facilityops/inspection-core/internal/infrastructure/database"
	"github.com/facilityops/inspection-core/internal/infrastructure/logging"
	"github.com/facilityops/inspection-core/internal/infrastructure/metrics"
	"github.com/facilityops/inspection-core/internal/infrastructure/mqtt"
)

const testSecret = "main-test-signing-secret-0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRun_MissingConfigFile(t *testing.T) {
	t.Setenv("INSPECT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("run() error = %v, want a config loading error", err)
	}
}

func TestRun_MissingSecret(t *testing.T) {
	t.Setenv("INSPECT_SESSION_SECRET", "")
	t.Setenv("INSPECT_CONFIG", writeConfig(t, `
database:
  path: `+filepath.Join(t.TempDir(), "core.db")+`
`))

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "initial_secret") {
		t.Fatalf("run() error = %v, want a missing secret error", err)
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	port := freePort(t)
	dbPath := filepath.Join(t.TempDir(), "core.db")
	t.Setenv("INSPECT_SESSION_SECRET", testSecret)
	t.Setenv("INSPECT_CONFIG", writeConfig(t, fmt.Sprintf(`
database:
  path: %s
api:
  host: 127.0.0.1
  port: %d
logging:
  level: error
security:
  session:
    rotation_interval: 1h
`, dbPath, port)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(url) //nolint:noctx // test polling
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("server never became healthy: %v", err)
		}
		select {
		case err := <-done:
			t.Fatalf("run() returned early: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}

	// The admin was seeded on first start.
	db, err := database.Open(context.Background(), database.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("reopening db: %v", err)
	}
	defer db.Close()
	users := auth.NewUserRepository(db.DB, nil)
	admin, err := users.GetByEmail(context.Background(), "admin@inspection.local")
	if err != nil {
		t.Fatalf("seed admin not found: %v", err)
	}
	if admin.Role != auth.RoleAdmin || !admin.PasswordChangeRequired {
		t.Errorf("seed admin = %+v", admin)
	}
}

type recordedRotation struct {
	generation int
	success    bool
}

type fakeRotationSinks struct {
	events    []mqtt.SecurityEvent
	rotations []recordedRotation
	audits    []*audit.AuditLog
}

func (f *fakeRotationSinks) PublishSecurityEvent(event mqtt.SecurityEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeRotationSinks) WriteRotation(generation int, success bool) {
	f.rotations = append(f.rotations, recordedRotation{generation, success})
}

func (f *fakeRotationSinks) Create(_ context.Context, log *audit.AuditLog) error {
	f.audits = append(f.audits, log)
	return nil
}

func TestRotationReporter(t *testing.T) {
	store, err := auth.NewSecretStore([]byte(testSecret))
	if err != nil {
		t.Fatalf("NewSecretStore: %v", err)
	}
	sinks := &fakeRotationSinks{}
	r := &rotationReporter{
		secrets:   store,
		metrics:   metrics.New(),
		audit:     sinks,
		events:    sinks,
		telemetry: sinks,
		log:       logging.Discard(),
	}

	r.report(1, nil)
	r.report(1, auth.ErrSecretRotation)

	if len(sinks.events) != 2 ||
		sinks.events[0].Type != mqtt.EventSecretRotated ||
		sinks.events[1].Type != mqtt.EventSecretRotationFailed {
		t.Errorf("events = %+v", sinks.events)
	}
	if sinks.events[1].Detail == "" {
		t.Error("failure event should carry the error")
	}
	want := []recordedRotation{{1, true}, {1, false}}
	if len(sinks.rotations) != 2 || sinks.rotations[0] != want[0] || sinks.rotations[1] != want[1] {
		t.Errorf("rotations = %v, want %v", sinks.rotations, want)
	}
	for _, entry := range sinks.audits {
		if entry.Action != audit.ActionSecretRotation || entry.Source != audit.SourceSystem {
			t.Errorf("audit entry = %+v", entry)
		}
	}
	if len(sinks.audits) != 2 || sinks.audits[1].Details["success"] != false {
		t.Errorf("audits = %+v", sinks.audits)
	}
}

func TestRotationReporter_OptionalSinks(t *testing.T) {
	store, err := auth.NewSecretStore([]byte(testSecret))
	if err != nil {
		t.Fatalf("NewSecretStore: %v", err)
	}
	sinks := &fakeRotationSinks{}
	r := &rotationReporter{
		secrets: store,
		metrics: metrics.New(),
		audit:   sinks,
		log:     logging.Discard(),
	}

	r.report(2, errors.New("entropy unavailable"))
	if len(sinks.audits) != 1 {
		t.Errorf("audit entries = %d, want 1", len(sinks.audits))
	}
}
