// Package mqtt publishes Inspection Core security events to an MQTT broker.
//
// Downstream consumers (alerting, SIEM forwarders) subscribe to
// inspect/security/+ to learn about secret rotations, password changes,
// completed registrations and user removals. The service also maintains a
// retained online/offline status on inspect/system/status, backed by a Last
// Will so crashes are visible.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Event payloads identify users by ID only and never include tokens
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.PublishSecurityEvent(mqtt.SecurityEvent{
//	    Type:      mqtt.EventPasswordChanged,
//	    SubjectID: user.ID,
//	})
package mqtt
