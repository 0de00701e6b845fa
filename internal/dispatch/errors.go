package dispatch

import (
	"errors"

	"github.com/nerrad567/gray-logic-sync/internal/protocol"
)

// Sentinel errors for rejected commands.
var (
	// ErrRevoked means the issuing client was revoked. The caller must close
	// the client's channel.
	ErrRevoked = errors.New("dispatch: client revoked")

	// ErrNotExposed means the entity is not in the controllable set.
	ErrNotExposed = errors.New("dispatch: entity not exposed for control")

	// ErrReadOnlyEntity means the entity is a sensor or binary sensor.
	ErrReadOnlyEntity = errors.New("dispatch: entity is read-only")

	// ErrInvalidChange means the change cannot be expressed for the domain.
	ErrInvalidChange = errors.New("dispatch: invalid change")

	// ErrExecutionFailed means the host rejected or failed the command.
	ErrExecutionFailed = errors.New("dispatch: execution failed")
)

// ReasonFor maps a dispatch error to the reason reported on the wire.
func ReasonFor(err error) protocol.Reason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRevoked):
		return protocol.ReasonUnauthorized
	case errors.Is(err, ErrReadOnlyEntity):
		return protocol.ReasonReadOnly
	case errors.Is(err, ErrNotExposed):
		return protocol.ReasonNotExposed
	case errors.Is(err, ErrInvalidChange):
		return protocol.ReasonInvalidChange
	default:
		return protocol.ReasonExecutionFailed
	}
}
