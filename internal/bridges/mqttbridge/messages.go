package mqttbridge

import "github.com/nerrad567/gray-logic-sync/internal/entity"

// ackMessage is published by the platform on the ack topic.
type ackMessage struct {
	CorrelationID string `json:"correlation_id"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`

	// Reason is the sync failure reason, set by the client-side mirror.
	Reason string `json:"reason,omitempty"`

	// State is the entity snapshot after the command, if the platform has it.
	State *entity.Snapshot `json:"state,omitempty"`
}

// commandMessage is published by a local consumer on a mirrored entity's
// command topic.
type commandMessage struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	entity.Change
}
