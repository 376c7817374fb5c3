package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRotationInterval is how often the signing secret is replaced.
const DefaultRotationInterval = 24 * time.Hour

// Rotator drives SecretStore.Rotate on a fixed schedule.
//
// A failed rotation is logged and retried at the next tick; the active window
// is unchanged in the meantime. Stopping the rotator does not affect
// in-flight verifications, which already hold their snapshot.
type Rotator struct {
	store    *SecretStore
	interval time.Duration
	logger   *slog.Logger
	onRotate func(generation int, err error)

	cron    *cron.Cron
	stop    chan struct{}
	watcher chan struct{} // closed when the cancellation watcher exits
	mu      sync.Mutex
	gen     int
}

// NewRotator creates a rotator for the store. A non-positive interval falls
// back to DefaultRotationInterval.
func NewRotator(store *SecretStore, interval time.Duration, logger *slog.Logger) *Rotator {
	if interval <= 0 {
		interval = DefaultRotationInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rotator{
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// SetOnRotate registers a callback invoked after every rotation attempt.
// err is nil on success. Used for metrics and security event publishing.
func (r *Rotator) SetOnRotate(fn func(generation int, err error)) {
	r.mu.Lock()
	r.onRotate = fn
	r.mu.Unlock()
}

// Start schedules rotation every interval until ctx is cancelled or Stop is called.
func (r *Rotator) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return fmt.Errorf("rotator already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", r.interval), r.RotateNow); err != nil {
		return fmt.Errorf("scheduling secret rotation: %w", err)
	}
	c.Start()
	r.cron = c
	stop, watcher := make(chan struct{}), make(chan struct{})
	r.stop, r.watcher = stop, watcher

	r.logger.Info("secret rotation scheduled", "interval", r.interval.String())

	go func() {
		defer close(watcher)
		select {
		case <-ctx.Done():
			r.halt(stop)
		case <-stop:
		}
	}()

	return nil
}

// Stop halts the schedule. A rotation already running is allowed to finish.
func (r *Rotator) Stop() {
	r.halt(nil)
}

// halt stops the running schedule. A non-nil only limits the stop to the
// schedule that owns that stop channel.
func (r *Rotator) halt(only chan struct{}) {
	r.mu.Lock()
	if only != nil && r.stop != only {
		r.mu.Unlock()
		return
	}
	c, stop := r.cron, r.stop
	r.cron, r.stop = nil, nil
	r.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if c != nil {
		<-c.Stop().Done()
		r.logger.Info("secret rotation stopped")
	}
}

// RotateNow performs a single rotation attempt outside the schedule.
func (r *Rotator) RotateNow() {
	err := r.store.Rotate()

	r.mu.Lock()
	if err == nil {
		r.gen++
	}
	gen := r.gen
	callback := r.onRotate
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("signing secret rotation failed, keeping active secrets",
			"error", err,
			"active_secrets", len(r.store.Active()),
		)
	} else {
		r.logger.Info("signing secret rotated",
			"generation", gen,
			"active_secrets", len(r.store.Active()),
		)
	}

	if callback != nil {
		callback(gen, err)
	}
}
