package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/entity"
)

// MessageType identifies a Sync Channel frame.
type MessageType string

// Frame types.
const (
	TypeAuth          MessageType = "auth"           // client → server
	TypeAuthOK        MessageType = "auth_ok"        // server → client
	TypeAuthFailed    MessageType = "auth_failed"    // server → client, then close
	TypeSnapshot      MessageType = "snapshot"       // server → client
	TypeStateUpdate   MessageType = "state_update"   // server → client
	TypeCommand       MessageType = "command"        // client → server
	TypeCommandResult MessageType = "command_result" // server → client
	TypePing          MessageType = "ping"
	TypePong          MessageType = "pong"
	TypeError         MessageType = "error" // server → client, malformed input
)

// Reason is the failure cause carried in auth_failed and command_result.
type Reason string

// Failure reasons. Authentication failures are always reported as
// ReasonUnauthorized regardless of the underlying cause.
const (
	ReasonUnauthorized    Reason = "unauthorized"
	ReasonNotExposed      Reason = "not_exposed"
	ReasonReadOnly        Reason = "read_only"
	ReasonInvalidChange   Reason = "invalid_change"
	ReasonExecutionFailed Reason = "execution_failed"
	ReasonTimeout         Reason = "timeout"
	ReasonDisconnected    Reason = "disconnected"
)

// ErrMalformed is returned for frames that are not valid envelopes or whose
// payload does not match the frame type.
var ErrMalformed = errors.New("protocol: malformed message")

// Envelope is the outer frame. Payload stays raw until the type is known.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AuthPayload is the first frame a client sends.
type AuthPayload struct {
	Token string `json:"token"`
}

// AuthOKPayload confirms the authenticated identity.
type AuthOKPayload struct {
	ClientID string `json:"client_id"`
}

// AuthFailedPayload never carries more than ReasonUnauthorized.
type AuthFailedPayload struct {
	Reason Reason `json:"reason"`
}

// SnapshotPayload carries every readable entity at subscribe time.
type SnapshotPayload struct {
	Entities []entity.Snapshot `json:"entities"`
}

// CommandPayload requests a change to one entity.
type CommandPayload struct {
	EntityID      string        `json:"entity_id"`
	Change        entity.Change `json:"change"`
	CorrelationID string        `json:"correlation_id"`
}

// Validate checks the fields every command needs.
func (c CommandPayload) Validate() error {
	if c.EntityID == "" {
		return fmt.Errorf("%w: entity_id is required", ErrMalformed)
	}
	if c.CorrelationID == "" {
		return fmt.Errorf("%w: correlation_id is required", ErrMalformed)
	}
	return nil
}

// CommandResult answers a command. On failure Snapshot, when present, is
// the entity's last known actual state.
type CommandResult struct {
	CorrelationID string           `json:"correlation_id"`
	Success       bool             `json:"success"`
	Reason        Reason           `json:"reason,omitempty"`
	Message       string           `json:"message,omitempty"`
	Snapshot      *entity.Snapshot `json:"snapshot,omitempty"`
}

// ErrorPayload describes malformed input.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode builds and marshals an envelope.
func Encode(t MessageType, id string, payload any) ([]byte, error) {
	env := Envelope{
		Type:      t,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", t, err)
		}
		env.Payload = raw
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", t, err)
	}
	return data, nil
}

// Decode parses a frame. It fails for invalid JSON or a missing type.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %w", ErrMalformed, e.Type, err)
	}
	return nil
}
