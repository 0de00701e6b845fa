package audit

import (
	"context"
	"time"
)

// writeTimeout bounds a single audit insert.
const writeTimeout = 2 * time.Second

// Logger is the subset of logging.Logger the recorder uses.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder writes audit entries on behalf of the API and the dispatcher.
//
// Thread Safety: safe for concurrent use; SetLogger must be called before use.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder that writes to repo.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for dropped entries.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Record appends e. Failures are logged, never returned.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, &e); err != nil {
		r.logger.Warn("audit entry dropped", "action", e.Action, "error", err)
	}
}

// RecordCommand records one dispatched command. It satisfies
// dispatch.Recorder.
func (r *Recorder) RecordCommand(clientID, entityID, outcome string, latency time.Duration) {
	r.Record(context.Background(), Entry{
		Action:   ActionCommand,
		ClientID: clientID,
		EntityID: entityID,
		Outcome:  outcome,
		Source:   SourceDispatcher,
		Details:  map[string]any{"latency_ms": float64(latency.Microseconds()) / 1000},
	})
}

// List returns a page of the trail.
func (r *Recorder) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return r.repo.List(ctx, filter)
}
