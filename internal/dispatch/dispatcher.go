package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/entity"
	"github.com/nerrad567/gray-logic-sync/internal/exposure"
	"github.com/nerrad567/gray-logic-sync/internal/protocol"
)

// outcomeSuccess is the telemetry outcome of an executed command.
const outcomeSuccess = "success"

// RevocationChecker reports whether a client may still act.
type RevocationChecker interface {
	IsRevoked(clientID string) bool
}

// Recorder receives one record per handled command.
type Recorder interface {
	RecordCommand(clientID, entityID, outcome string, latency time.Duration)
}

// Logger is the subset of logging.Logger the dispatcher uses.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Dispatcher gates and executes commands from authenticated clients.
//
// Thread Safety: Handle is safe for concurrent use. Exposure is read once
// per command from the registry's current snapshot.
type Dispatcher struct {
	host      entity.Host
	exposure  *exposure.Registry
	revoked   RevocationChecker
	recorders []Recorder
	logger    Logger
	timeout   time.Duration
}

// New creates a dispatcher.
//
// Parameters:
//   - host: Host platform that executes native commands
//   - reg: Exposure registry consulted on every command
//   - revoked: Revocation check re-run on every command
//   - timeout: Upper bound on host execution; zero means none
func New(host entity.Host, reg *exposure.Registry, revoked RevocationChecker, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		host:     host,
		exposure: reg,
		revoked:  revoked,
		logger:   noopLogger{},
		timeout:  timeout,
	}
}

// SetLogger sets the logger for rejected and failed commands.
func (d *Dispatcher) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	d.logger = l
}

// AddRecorder registers a sink for command records (telemetry, audit).
// Call before the dispatcher handles commands.
func (d *Dispatcher) AddRecorder(r Recorder) {
	d.recorders = append(d.recorders, r)
}

// Handle runs cmd on behalf of clientID and returns the result to send back.
// The returned error is nil on success and otherwise matches one of the
// package sentinels; result.Reason carries the same classification.
func (d *Dispatcher) Handle(ctx context.Context, clientID string, cmd protocol.CommandPayload) (protocol.CommandResult, error) {
	start := time.Now()
	result, err := d.handle(ctx, clientID, cmd)

	outcome := outcomeSuccess
	if err != nil {
		outcome = string(result.Reason)
		d.logger.Warn("command rejected",
			"client_id", clientID,
			"entity_id", cmd.EntityID,
			"correlation_id", cmd.CorrelationID,
			"reason", result.Reason,
			"error", err,
		)
	} else {
		d.logger.Debug("command executed",
			"client_id", clientID,
			"entity_id", cmd.EntityID,
			"correlation_id", cmd.CorrelationID,
		)
	}
	latency := time.Since(start)
	for _, r := range d.recorders {
		r.RecordCommand(clientID, cmd.EntityID, outcome, latency)
	}
	return result, err
}

func (d *Dispatcher) handle(ctx context.Context, clientID string, cmd protocol.CommandPayload) (protocol.CommandResult, error) {
	if d.revoked != nil && d.revoked.IsRevoked(clientID) {
		return reject(cmd, ErrRevoked)
	}

	exp := d.exposure.Current()
	domain := entity.DomainOf(cmd.EntityID)
	switch {
	case exp.IsReadable(cmd.EntityID) && domain.ReadOnly():
		return reject(cmd, fmt.Errorf("%w: %s", ErrReadOnlyEntity, cmd.EntityID))
	case !exp.IsControllable(cmd.EntityID):
		return reject(cmd, fmt.Errorf("%w: %s", ErrNotExposed, cmd.EntityID))
	}

	if err := cmd.Validate(); err != nil {
		return reject(cmd, fmt.Errorf("%w: %w", ErrInvalidChange, err))
	}

	native, err := entity.Translate(cmd.EntityID, cmd.Change)
	if err != nil {
		if errors.Is(err, entity.ErrReadOnly) {
			return reject(cmd, fmt.Errorf("%w: %s", ErrReadOnlyEntity, cmd.EntityID))
		}
		return reject(cmd, fmt.Errorf("%w: %w", ErrInvalidChange, err))
	}
	native.CorrelationID = cmd.CorrelationID

	execCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := d.host.Execute(execCtx, native); err != nil {
		result, rerr := reject(cmd, fmt.Errorf("%w: %w", ErrExecutionFailed, err))
		// Roll the client back to what the host actually holds.
		if last, readErr := d.host.Read(ctx, cmd.EntityID); readErr == nil {
			result.Snapshot = &last
		}
		return result, rerr
	}

	snap, err := d.host.Read(ctx, cmd.EntityID)
	if err != nil {
		return reject(cmd, fmt.Errorf("%w: reading result: %w", ErrExecutionFailed, err))
	}
	return protocol.CommandResult{
		CorrelationID: cmd.CorrelationID,
		Success:       true,
		Snapshot:      &snap,
	}, nil
}

func reject(cmd protocol.CommandPayload, err error) (protocol.CommandResult, error) {
	return protocol.CommandResult{
		CorrelationID: cmd.CorrelationID,
		Success:       false,
		Reason:        ReasonFor(err),
		Message:       messageFor(err),
	}, err
}

// messageFor returns a short human-readable description. Revocation details
// are never disclosed.
func messageFor(err error) string {
	switch {
	case errors.Is(err, ErrRevoked):
		return "unauthorized"
	case errors.Is(err, ErrReadOnlyEntity):
		return "entity is read-only"
	case errors.Is(err, ErrNotExposed):
		return "entity is not exposed for control"
	case errors.Is(err, ErrInvalidChange):
		return err.Error()
	default:
		return "command execution failed"
	}
}
