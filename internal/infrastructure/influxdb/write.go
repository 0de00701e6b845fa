package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementCommands = "sync_commands"
	measurementSessions = "sync_sessions"
)

// RecordCommand writes the outcome of a dispatched command.
//
// Parameters:
//   - clientID: Issuing client
//   - entityID: Target entity
//   - outcome: "success" or a failure reason such as "not_exposed"
//   - latency: Time from receipt to result
func (c *Client) RecordCommand(clientID, entityID, outcome string, latency time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(commandPoint(clientID, entityID, outcome, latency, time.Now()))
}

// RecordSession writes a Sync Channel lifecycle event ("opened", "closed").
func (c *Client) RecordSession(clientID, event string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(sessionPoint(clientID, event, time.Now()))
}

func commandPoint(clientID, entityID, outcome string, latency time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementCommands,
		map[string]string{
			"client_id": clientID,
			"entity_id": entityID,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"latency_ms": float64(latency.Microseconds()) / 1000,
			"count":      1,
		},
		ts,
	)
}

func sessionPoint(clientID, event string, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementSessions,
		map[string]string{
			"client_id": clientID,
			"event":     event,
		},
		map[string]interface{}{"count": 1},
		ts,
	)
}
