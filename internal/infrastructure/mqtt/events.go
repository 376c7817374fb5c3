package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// Security event types published under inspect/security/<type>.
const (
	EventSecretRotated         = "secret_rotated"
	EventSecretRotationFailed  = "secret_rotation_failed"
	EventPasswordChanged       = "password_changed"
	EventRegistrationCompleted = "registration_completed"
	EventUserCreated           = "user_created"
	EventUserDeleted           = "user_deleted"
	EventPasswordChangeForced  = "password_change_forced"
)

// SecurityEvent is the JSON payload of a security event.
// It never carries tokens, secrets, or password material.
type SecurityEvent struct {
	Type       string    `json:"type"`
	SubjectID  string    `json:"subject_id,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	Generation int       `json:"generation,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// encodeSecurityEvent stamps the event if needed and returns its topic and payload.
func encodeSecurityEvent(event SecurityEvent) (string, []byte, error) {
	if event.Type == "" {
		return "", nil, ErrInvalidEvent
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return "", nil, fmt.Errorf("encoding security event: %w", err)
	}
	return Topics{}.SecurityEvent(event.Type), payload, nil
}

// PublishSecurityEvent publishes event with the configured QoS.
// Events are not retained.
func (c *Client) PublishSecurityEvent(event SecurityEvent) error {
	topic, payload, err := encodeSecurityEvent(event)
	if err != nil {
		return err
	}
	return c.Publish(topic, payload, byte(c.cfg.QoS), false)
}
