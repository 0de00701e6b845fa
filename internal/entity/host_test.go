package entity

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func testHost() *MemoryHost {
	return NewMemoryHost(
		Snapshot{EntityID: "light.kitchen", State: StateOff},
		Snapshot{EntityID: "switch.fan", State: StateOff},
		Snapshot{EntityID: "sensor.temp", State: "21.5"},
	)
}

type collector struct {
	mu   sync.Mutex
	seen []Snapshot
}

func (c *collector) add(s Snapshot) {
	c.mu.Lock()
	c.seen = append(c.seen, s)
	c.mu.Unlock()
}

func (c *collector) states() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.seen))
	for i, s := range c.seen {
		out[i] = s.State
	}
	return out
}

func TestMemoryHost_ReadAndList(t *testing.T) {
	h := testHost()
	ctx := context.Background()

	s, err := h.Read(ctx, "light.kitchen")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if s.Domain != DomainLight {
		t.Errorf("Domain = %q, want light (derived from id)", s.Domain)
	}

	if _, err := h.Read(ctx, "light.nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read(unknown) error = %v, want ErrNotFound", err)
	}

	all, _ := h.List(ctx)
	if len(all) != 3 || all[0].EntityID != "light.kitchen" || all[2].EntityID != "switch.fan" {
		t.Errorf("List() order = %v", all)
	}
}

func TestMemoryHost_ExecutePublishesInOrder(t *testing.T) {
	h := testHost()
	ctx := context.Background()

	var c collector
	cancel := h.Subscribe(c.add)
	defer cancel()

	for _, svc := range []string{ServiceTurnOn, ServiceTurnOff, ServiceToggle} {
		if err := h.Execute(ctx, NativeCommand{EntityID: "light.kitchen", Service: svc}); err != nil {
			t.Fatalf("Execute(%s) error = %v", svc, err)
		}
	}

	got := c.states()
	want := []string{StateOn, StateOff, StateOn}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if h.ExecuteCount() != 3 {
		t.Errorf("ExecuteCount() = %d, want 3", h.ExecuteCount())
	}
}

func TestMemoryHost_SubscribersAreIndependent(t *testing.T) {
	h := testHost()

	var a, b collector
	cancelA := h.Subscribe(a.add)
	cancelB := h.Subscribe(b.add)
	defer cancelB()

	h.Set(Snapshot{EntityID: "sensor.temp", State: "22.0"})
	cancelA()
	cancelA() // idempotent
	h.Set(Snapshot{EntityID: "sensor.temp", State: "22.5"})

	if len(a.states()) != 1 {
		t.Errorf("cancelled subscriber saw %d events, want 1", len(a.states()))
	}
	if len(b.states()) != 2 {
		t.Errorf("remaining subscriber saw %d events, want 2", len(b.states()))
	}
}

func TestMemoryHost_ExecuteFailure(t *testing.T) {
	h := testHost()
	ctx := context.Background()

	var c collector
	defer h.Subscribe(c.add)()

	h.SetFailure("switch.fan", errors.New("relay stuck"))
	err := h.Execute(ctx, NativeCommand{EntityID: "switch.fan", Service: ServiceTurnOn})
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("Execute() error = %v, want ErrExecutionFailed", err)
	}
	s, _ := h.Read(ctx, "switch.fan")
	if s.State != StateOff {
		t.Errorf("state after failure = %q, want off", s.State)
	}
	if len(c.states()) != 0 {
		t.Errorf("failed execute published %d events", len(c.states()))
	}

	h.SetFailure("switch.fan", nil)
	if err := h.Execute(ctx, NativeCommand{EntityID: "switch.fan", Service: ServiceTurnOn}); err != nil {
		t.Errorf("Execute() after clearing failure error = %v", err)
	}
}

func TestMemoryHost_SetKeepsLastChangedWhenStateUnchanged(t *testing.T) {
	h := testHost()
	ctx := context.Background()

	h.Set(Snapshot{EntityID: "sensor.temp", State: "30"})
	first, _ := h.Read(ctx, "sensor.temp")
	h.Set(Snapshot{EntityID: "sensor.temp", State: "30", Attributes: map[string]any{"unit": "C"}})
	second, _ := h.Read(ctx, "sensor.temp")

	if !second.LastChanged.Equal(first.LastChanged) {
		t.Errorf("LastChanged moved: %v -> %v", first.LastChanged, second.LastChanged)
	}
}
