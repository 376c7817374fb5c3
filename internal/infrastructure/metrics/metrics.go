// Package metrics defines the Prometheus metrics of Inspection Core.
//
// Metrics live on a dedicated registry rather than the global default so
// that tests and multiple servers in one process do not collide.
//
// Metric naming follows Prometheus conventions:
//   - inspect_ prefix for all custom metrics
//   - _total suffix for counters
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the service's collectors and the registry serving them.
type Metrics struct {
	registry *prometheus.Registry

	// GateOutcomes counts auth gate and authorizer decisions by outcome code.
	GateOutcomes *prometheus.CounterVec

	// TokenRefreshes counts transparent session refresh attempts by result.
	TokenRefreshes *prometheus.CounterVec

	// SecretRotations counts signing secret rotations by result.
	SecretRotations *prometheus.CounterVec

	// Logins counts login attempts by result.
	Logins *prometheus.CounterVec

	// ActiveSecrets is the size of the verification window.
	ActiveSecrets prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		GateOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspect_auth_gate_outcomes_total",
				Help: "Auth gate decisions by outcome code.",
			},
			[]string{"outcome"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspect_token_refreshes_total",
				Help: "Transparent session token refreshes by result.",
			},
			[]string{"result"},
		),
		SecretRotations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspect_secret_rotations_total",
				Help: "Signing secret rotations by result.",
			},
			[]string{"result"},
		),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspect_logins_total",
				Help: "Login attempts by result.",
			},
			[]string{"result"},
		),
		ActiveSecrets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "inspect_active_signing_secrets",
				Help: "Number of secrets accepted for token verification.",
			},
		),
	}

	m.registry.MustRegister(
		m.GateOutcomes,
		m.TokenRefreshes,
		m.SecretRotations,
		m.Logins,
		m.ActiveSecrets,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

// RecordGateOutcome records one gate decision. outcome is an error code
// such as "INVALID_TOKEN", or "ADMITTED".
func (m *Metrics) RecordGateOutcome(outcome string) {
	m.GateOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRefresh records a refresh attempt.
func (m *Metrics) RecordRefresh(ok bool) {
	m.TokenRefreshes.WithLabelValues(result(ok)).Inc()
}

// RecordRotation records a rotation attempt and the resulting window size.
func (m *Metrics) RecordRotation(ok bool, activeSecrets int) {
	m.SecretRotations.WithLabelValues(result(ok)).Inc()
	m.ActiveSecrets.Set(float64(activeSecrets))
}

// RecordLogin records a login attempt.
func (m *Metrics) RecordLogin(ok bool) {
	m.Logins.WithLabelValues(result(ok)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
