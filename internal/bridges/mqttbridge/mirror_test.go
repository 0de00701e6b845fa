package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/client"
	"github.com/nerrad567/gray-logic-sync/internal/entity"
	"github.com/nerrad567/gray-logic-sync/internal/protocol"
)

// fakeExecutor records commands and answers them with fn.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []executed
	fn    func(ctx context.Context, entityID string, change entity.Change) (protocol.CommandResult, error)
}

type executed struct {
	EntityID string
	Change   entity.Change
}

func (f *fakeExecutor) Execute(ctx context.Context, entityID string, change entity.Change) (protocol.CommandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, executed{EntityID: entityID, Change: change})
	f.mu.Unlock()
	return f.fn(ctx, entityID, change)
}

func startedMirror(t *testing.T, exec Executor) (*Mirror, *MockPubSub) {
	t.Helper()
	ps := NewMockPubSub()
	m := NewMirror(ps, exec, time.Second)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { m.Stop() }) //nolint:errcheck // Test cleanup
	return m, ps
}

func (m *MockPubSub) command(t *testing.T, entityID, payload string) error {
	t.Helper()
	return m.SimulateMessage(m.topics.AllEntityCommands(), m.topics.EntityCommand(entityID), []byte(payload))
}

// waitAck waits for the first ack published for entityID.
func (m *MockPubSub) waitAck(t *testing.T, entityID string) ackMessage {
	t.Helper()
	topic := m.topics.EntityAck(entityID)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		for _, p := range m.published {
			if p.Topic == topic {
				m.mu.Unlock()
				var a ackMessage
				if err := json.Unmarshal(p.Payload, &a); err != nil {
					t.Fatalf("decoding ack: %v", err)
				}
				return a
			}
		}
		m.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no ack published on %s", topic)
	return ackMessage{}
}

// ─── Publishing ────────────────────────────────────────────────────

func TestMirror_PublishRetainsState(t *testing.T) {
	m, ps := startedMirror(t, &fakeExecutor{})

	m.PublishAll([]entity.Snapshot{
		{EntityID: "light.lamp1", Domain: entity.DomainLight, State: entity.StateOn,
			Attributes: map[string]any{"synced_from": "main-house"}},
		{EntityID: "sensor.sensor1", State: entity.StateUnavailable},
	})

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if len(ps.published) != 2 {
		t.Fatalf("published = %d messages, want 2", len(ps.published))
	}
	p := ps.published[0]
	if p.Topic != "test/state/light.lamp1" || !p.Retained {
		t.Errorf("published[0] = %s retained=%v", p.Topic, p.Retained)
	}
	var s entity.Snapshot
	if err := json.Unmarshal(p.Payload, &s); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if s.State != entity.StateOn || s.Attributes["synced_from"] != "main-house" {
		t.Errorf("published snapshot = %+v", s)
	}
	if ps.published[1].Topic != "test/state/sensor.sensor1" {
		t.Errorf("published[1].Topic = %s", ps.published[1].Topic)
	}
}

func TestMirror_PublishFailureIsNotFatal(t *testing.T) {
	m, ps := startedMirror(t, &fakeExecutor{})
	ps.failWith = errors.New("broker gone")
	m.Publish(entity.Snapshot{EntityID: "light.lamp1", State: entity.StateOn})
}

// ─── Commands ──────────────────────────────────────────────────────

func TestMirror_CommandForwarded(t *testing.T) {
	exec := &fakeExecutor{fn: func(_ context.Context, id string, c entity.Change) (protocol.CommandResult, error) {
		return protocol.CommandResult{
			Success:  true,
			Snapshot: &entity.Snapshot{EntityID: id, State: c.State},
		}, nil
	}}
	_, ps := startedMirror(t, exec)

	if err := ps.command(t, "light.lamp1", `{"correlation_id":"corr-1","state":"on","brightness":128}`); err != nil {
		t.Fatalf("command error: %v", err)
	}
	ack := ps.waitAck(t, "light.lamp1")

	if !ack.Success || ack.CorrelationID != "corr-1" || ack.Reason != "" {
		t.Errorf("ack = %+v, want success for corr-1", ack)
	}
	if ack.State == nil || ack.State.State != entity.StateOn {
		t.Errorf("ack.State = %+v, want on", ack.State)
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if len(exec.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(exec.calls))
	}
	c := exec.calls[0]
	if c.EntityID != "light.lamp1" || c.Change.State != entity.StateOn || c.Change.Brightness == nil || *c.Change.Brightness != 128 {
		t.Errorf("executed = %+v", c)
	}
}

func TestMirror_CommandFailureAcked(t *testing.T) {
	exec := &fakeExecutor{fn: func(context.Context, string, entity.Change) (protocol.CommandResult, error) {
		return protocol.CommandResult{Reason: protocol.ReasonReadOnly}, errors.New("command failed: read_only")
	}}
	_, ps := startedMirror(t, exec)

	if err := ps.command(t, "sensor.sensor1", `{"state":"on"}`); err != nil {
		t.Fatalf("command error: %v", err)
	}
	ack := ps.waitAck(t, "sensor.sensor1")

	if ack.Success || ack.Reason != string(protocol.ReasonReadOnly) || ack.Error == "" {
		t.Errorf("ack = %+v, want read_only failure", ack)
	}
	if ack.CorrelationID == "" {
		t.Error("ack without correlation id")
	}
}

func TestMirror_MalformedCommand(t *testing.T) {
	exec := &fakeExecutor{}
	_, ps := startedMirror(t, exec)

	if err := ps.command(t, "light.lamp1", `{not json`); err == nil {
		t.Error("malformed command accepted")
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if len(exec.calls) != 0 {
		t.Errorf("calls = %d, want 0", len(exec.calls))
	}
}

func TestMirror_StopCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	exec := &fakeExecutor{fn: func(ctx context.Context, _ string, _ entity.Change) (protocol.CommandResult, error) {
		close(started)
		<-ctx.Done()
		return protocol.CommandResult{}, ctx.Err()
	}}
	ps := NewMockPubSub()
	m := NewMirror(ps, exec, time.Minute)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := ps.command(t, "light.lamp1", `{"state":"off"}`); err != nil {
		t.Fatalf("command error: %v", err)
	}
	<-started

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if ack := ps.waitAck(t, "light.lamp1"); ack.Success {
		t.Errorf("ack = %+v, want failure after Stop", ack)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if len(ps.handlers) != 0 {
		t.Errorf("%d subscriptions left after Stop", len(ps.handlers))
	}
}

// ─── With a reconciler ─────────────────────────────────────────────

// answeringSender confirms every command as the server would.
type answeringSender struct{ rec *client.Reconciler }

func (a answeringSender) SendCommand(_ context.Context, cmd protocol.CommandPayload) error {
	go func() {
		s := entity.Snapshot{EntityID: cmd.EntityID, Domain: entity.DomainOf(cmd.EntityID), State: cmd.Change.State}
		a.rec.HandleCommandResult(protocol.CommandResult{CorrelationID: cmd.CorrelationID, Success: true, Snapshot: &s})
		a.rec.HandleStateUpdate(s)
	}()
	return nil
}

// lastState returns the newest state published for entityID.
func (m *MockPubSub) lastState(t *testing.T, entityID string) (entity.Snapshot, bool) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	topic := m.topics.EntityState(entityID)
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].Topic != topic {
			continue
		}
		var s entity.Snapshot
		if err := json.Unmarshal(m.published[i].Payload, &s); err != nil {
			t.Fatalf("decoding state: %v", err)
		}
		return s, true
	}
	return entity.Snapshot{}, false
}

func TestMirror_CommandsMirroredEntity(t *testing.T) {
	rec := client.NewReconciler(client.ReconcilerOptions{Origin: "main-house", CommandTimeout: time.Second})
	rec.SetSender(answeringSender{rec: rec})
	m, ps := startedMirror(t, rec)
	rec.OnChange(m.Publish)

	rec.Apply([]entity.Snapshot{{EntityID: "light.lamp1", Domain: entity.DomainLight, State: entity.StateOff}})

	s, ok := ps.lastState(t, "light.lamp1")
	if !ok || s.State != entity.StateOff || s.Attributes[entity.AttrSyncedFrom] != "main-house" {
		t.Fatalf("published lamp1 = %+v, %v", s, ok)
	}

	if err := ps.command(t, "light.lamp1", `{"correlation_id":"local-1","state":"on"}`); err != nil {
		t.Fatalf("command error: %v", err)
	}
	if ack := ps.waitAck(t, "light.lamp1"); !ack.Success || ack.CorrelationID != "local-1" {
		t.Errorf("ack = %+v, want success", ack)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if s, _ := ps.lastState(t, "light.lamp1"); s.State == entity.StateOn {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("confirmed state never published")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec.SetAvailable(false)
	if s, _ := ps.lastState(t, "light.lamp1"); s.State != entity.StateUnavailable {
		t.Errorf("state after disconnect = %q, want unavailable", s.State)
	}
}
