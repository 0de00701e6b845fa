package mqttbridge

import "errors"

// Domain-specific errors for the MQTT host.
var (
	// ErrNotStarted is returned when Execute is called before Start.
	ErrNotStarted = errors.New("mqttbridge: not started")

	// ErrRejected is returned when the platform acknowledges a command as failed.
	ErrRejected = errors.New("mqttbridge: command rejected by host")
)
