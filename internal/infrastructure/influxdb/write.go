package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementGate     = "auth_gate"
	measurementRotation = "secret_rotation"
)

// WriteGateOutcome records one auth gate decision.
//
// outcome is the decision code ("ADMITTED", "NO_TOKEN", "ACCESS_DENIED", ...),
// carrier the token source ("cookie", "bearer", "header", or empty when no
// token was found). refreshed marks requests that received a new token.
func (c *Client) WriteGateOutcome(outcome, carrier string, refreshed bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(gateOutcomePoint(outcome, carrier, refreshed, time.Now()))
}

// WriteRotation records a secret rotation attempt.
func (c *Client) WriteRotation(generation int, success bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(rotationPoint(generation, success, time.Now()))
}

func gateOutcomePoint(outcome, carrier string, refreshed bool, ts time.Time) *write.Point {
	if carrier == "" {
		carrier = "none"
	}
	return write.NewPoint(
		measurementGate,
		map[string]string{
			"outcome": outcome,
			"carrier": carrier,
		},
		map[string]any{
			"count":     1,
			"refreshed": refreshed,
		},
		ts,
	)
}

func rotationPoint(generation int, success bool, ts time.Time) *write.Point {
	result := "success"
	if !success {
		result = "failure"
	}
	return write.NewPoint(
		measurementRotation,
		map[string]string{"result": result},
		map[string]any{"generation": generation},
		ts,
	)
}
