package mqtt

import "fmt"

// Topic prefixes for Inspection Core.
const (
	// TopicPrefix is the root of every topic this service publishes.
	TopicPrefix = "inspect"

	// TopicPrefixSecurity is the base for security event topics.
	TopicPrefixSecurity = "inspect/security"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "inspect/system"
)

// Topics provides builders for Inspection Core MQTT topics.
//
//	topic := mqtt.Topics{}.SecurityEvent(mqtt.EventSecretRotated)
//	// Returns: "inspect/security/secret_rotated"
type Topics struct{}

// SystemStatus returns the retained online/offline status topic.
//
// Example: inspect/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SecurityEvent returns the topic for a single security event type.
//
// Example: inspect/security/password_changed
func (Topics) SecurityEvent(eventType string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixSecurity, eventType)
}

// AllSecurityEvents returns a pattern matching every security event.
//
// Pattern: inspect/security/+
func (Topics) AllSecurityEvents() string {
	return fmt.Sprintf("%s/+", TopicPrefixSecurity)
}
