package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/entity"
	"github.com/nerrad567/gray-logic-sync/internal/exposure"
	"github.com/nerrad567/gray-logic-sync/internal/protocol"
)

// ─── Fixtures ───────────────────────────────────────────────────────

type revokedSet map[string]bool

func (r revokedSet) IsRevoked(clientID string) bool { return r[clientID] }

type recordedCommand struct {
	clientID, entityID, outcome string
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []recordedCommand
}

func (f *fakeRecorder) RecordCommand(clientID, entityID, outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recordedCommand{clientID, entityID, outcome})
}

// blockingHost never finishes Execute before its context ends.
type blockingHost struct {
	*entity.MemoryHost
}

func (h blockingHost) Execute(ctx context.Context, _ entity.NativeCommand) error {
	<-ctx.Done()
	return ctx.Err()
}

func testFixture(t *testing.T) (*Dispatcher, *entity.MemoryHost, *exposure.Registry, revokedSet) {
	t.Helper()

	host := entity.NewMemoryHost(
		entity.Snapshot{EntityID: "light.lamp1", State: entity.StateOff},
		entity.Snapshot{EntityID: "switch.fan", State: entity.StateOff},
		entity.Snapshot{EntityID: "switch.heater", State: entity.StateOff},
		entity.Snapshot{EntityID: "sensor.sensor1", State: "21.5"},
		entity.Snapshot{EntityID: "light.hidden", State: entity.StateOff},
	)

	set, err := exposure.NewSet(
		[]string{"light.lamp1", "switch.fan", "switch.heater", "sensor.sensor1"},
		[]string{"light.lamp1", "switch.fan"},
	)
	if err != nil {
		t.Fatalf("NewSet() error = %v", err)
	}
	reg := exposure.NewRegistry(set)
	revoked := revokedSet{}

	return New(host, reg, revoked, time.Second), host, reg, revoked
}

func command(entityID string, change entity.Change) protocol.CommandPayload {
	return protocol.CommandPayload{EntityID: entityID, Change: change, CorrelationID: "corr-" + entityID}
}

// ─── Success ────────────────────────────────────────────────────────

func TestHandle_Success(t *testing.T) {
	d, host, _, _ := testFixture(t)

	var events []entity.Snapshot
	cancel := host.Subscribe(func(s entity.Snapshot) { events = append(events, s) })
	defer cancel()

	result, err := d.Handle(t.Context(), "c1", command("light.lamp1", entity.Change{State: entity.StateOn}))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !result.Success || result.Reason != "" {
		t.Errorf("result = %+v, want success", result)
	}
	if result.CorrelationID != "corr-light.lamp1" {
		t.Errorf("CorrelationID = %q", result.CorrelationID)
	}
	if result.Snapshot == nil || result.Snapshot.State != entity.StateOn {
		t.Fatalf("Snapshot = %+v, want state on", result.Snapshot)
	}

	// The broadcast path sees exactly the state the result reports.
	if len(events) != 1 || !events[0].Equal(*result.Snapshot) {
		t.Errorf("host events = %+v, want one matching the result", events)
	}
}

func TestHandle_LightAttributes(t *testing.T) {
	d, host, _, _ := testFixture(t)

	brightness := 200
	_, err := d.Handle(t.Context(), "c1", command("light.lamp1", entity.Change{Brightness: &brightness}))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got, _ := host.Read(t.Context(), "light.lamp1")
	if got.State != entity.StateOn {
		t.Errorf("State = %q, want on", got.State)
	}
	if got.Attributes[entity.AttrBrightness] != 200 {
		t.Errorf("brightness = %v, want 200", got.Attributes[entity.AttrBrightness])
	}
}

// ─── Rejections ─────────────────────────────────────────────────────

func TestHandle_Rejections(t *testing.T) {
	brightness := 10

	tests := []struct {
		name     string
		clientID string
		cmd      protocol.CommandPayload
		wantErr  error
		reason   protocol.Reason
	}{
		{
			name:     "not exposed at all",
			clientID: "c1",
			cmd:      command("light.hidden", entity.Change{State: entity.StateOn}),
			wantErr:  ErrNotExposed,
			reason:   protocol.ReasonNotExposed,
		},
		{
			name:     "readable but not controllable",
			clientID: "c1",
			cmd:      command("switch.heater", entity.Change{State: entity.StateOn}),
			wantErr:  ErrNotExposed,
			reason:   protocol.ReasonNotExposed,
		},
		{
			name:     "sensor",
			clientID: "c1",
			cmd:      command("sensor.sensor1", entity.Change{State: entity.StateOn}),
			wantErr:  ErrReadOnlyEntity,
			reason:   protocol.ReasonReadOnly,
		},
		{
			name:     "switch with brightness",
			clientID: "c1",
			cmd:      command("switch.fan", entity.Change{State: entity.StateOn, Brightness: &brightness}),
			wantErr:  ErrInvalidChange,
			reason:   protocol.ReasonInvalidChange,
		},
		{
			name:     "unknown state",
			clientID: "c1",
			cmd:      command("switch.fan", entity.Change{State: "dim"}),
			wantErr:  ErrInvalidChange,
			reason:   protocol.ReasonInvalidChange,
		},
		{
			name:     "missing correlation id",
			clientID: "c1",
			cmd:      protocol.CommandPayload{EntityID: "switch.fan", Change: entity.Change{State: entity.StateOn}},
			wantErr:  ErrInvalidChange,
			reason:   protocol.ReasonInvalidChange,
		},
		{
			name:     "revoked client",
			clientID: "revoked",
			cmd:      command("light.lamp1", entity.Change{State: entity.StateOn}),
			wantErr:  ErrRevoked,
			reason:   protocol.ReasonUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, host, _, revoked := testFixture(t)
			revoked["revoked"] = true

			var events int
			cancel := host.Subscribe(func(entity.Snapshot) { events++ })
			defer cancel()

			result, err := d.Handle(t.Context(), tt.clientID, tt.cmd)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Handle() error = %v, want %v", err, tt.wantErr)
			}
			if result.Success {
				t.Error("Success = true, want false")
			}
			if result.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", result.Reason, tt.reason)
			}
			if n := host.ExecuteCount(); n != 0 {
				t.Errorf("ExecuteCount() = %d, want 0", n)
			}
			if events != 0 {
				t.Errorf("host emitted %d state events, want 0", events)
			}
		})
	}
}

func TestHandle_ExposureChangeAppliesImmediately(t *testing.T) {
	d, host, reg, _ := testFixture(t)

	set, _ := exposure.NewSet([]string{"light.lamp1"}, nil)
	reg.Replace(set)

	_, err := d.Handle(t.Context(), "c1", command("light.lamp1", entity.Change{State: entity.StateOn}))
	if !errors.Is(err, ErrNotExposed) {
		t.Errorf("Handle() error = %v, want ErrNotExposed", err)
	}
	if host.ExecuteCount() != 0 {
		t.Error("command reached the host after exposure was withdrawn")
	}
}

// ─── Execution failures ─────────────────────────────────────────────

func TestHandle_ExecutionFailureReturnsLastKnownState(t *testing.T) {
	d, host, _, _ := testFixture(t)
	host.SetFailure("light.lamp1", errors.New("bus offline"))

	result, err := d.Handle(t.Context(), "c1", command("light.lamp1", entity.Change{State: entity.StateOn}))
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("Handle() error = %v, want ErrExecutionFailed", err)
	}
	if result.Reason != protocol.ReasonExecutionFailed {
		t.Errorf("Reason = %q, want execution_failed", result.Reason)
	}
	if result.Snapshot == nil || result.Snapshot.State != entity.StateOff {
		t.Errorf("Snapshot = %+v, want last known state off", result.Snapshot)
	}
}

func TestHandle_ExecutionTimeout(t *testing.T) {
	_, mem, reg, revoked := testFixture(t)
	d := New(blockingHost{mem}, reg, revoked, 20*time.Millisecond)

	result, err := d.Handle(t.Context(), "c1", command("light.lamp1", entity.Change{State: entity.StateOn}))
	if !errors.Is(err, ErrExecutionFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Handle() error = %v, want ErrExecutionFailed wrapping DeadlineExceeded", err)
	}
	if result.Snapshot == nil || result.Snapshot.State != entity.StateOff {
		t.Errorf("Snapshot = %+v, want last known state off", result.Snapshot)
	}
}

// ─── Telemetry ──────────────────────────────────────────────────────

func TestHandle_RecordsEveryOutcome(t *testing.T) {
	d, _, _, _ := testFixture(t)
	rec := &fakeRecorder{}
	d.AddRecorder(rec)

	d.Handle(t.Context(), "c1", command("light.lamp1", entity.Change{State: entity.StateOn}))       //nolint:errcheck // outcome checked via recorder
	d.Handle(t.Context(), "c1", command("sensor.sensor1", entity.Change{State: entity.StateOn}))   //nolint:errcheck // outcome checked via recorder
	d.Handle(t.Context(), "c2", command("light.hidden", entity.Change{State: entity.StateToggle})) //nolint:errcheck // outcome checked via recorder

	want := []recordedCommand{
		{"c1", "light.lamp1", "success"},
		{"c1", "sensor.sensor1", "read_only"},
		{"c2", "light.hidden", "not_exposed"},
	}
	if len(rec.records) != len(want) {
		t.Fatalf("recorded %d commands, want %d", len(rec.records), len(want))
	}
	for i, w := range want {
		if rec.records[i] != w {
			t.Errorf("record[%d] = %+v, want %+v", i, rec.records[i], w)
		}
	}
}

func TestReasonFor(t *testing.T) {
	if ReasonFor(nil) != "" {
		t.Error("ReasonFor(nil) should be empty")
	}
	if got := ReasonFor(errors.New("other")); got != protocol.ReasonExecutionFailed {
		t.Errorf("ReasonFor(other) = %q, want execution_failed", got)
	}
}
