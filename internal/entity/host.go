package entity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	evbus "github.com/asaskevich/EventBus"
)

// Host is the boundary to the home-automation platform that owns entity state.
//
// Subscribe callbacks run on the goroutine that observed the change, in the
// order changes were observed. They must not block on network I/O and must
// not call Execute.
type Host interface {
	// Read returns the current state of one entity.
	Read(ctx context.Context, entityID string) (Snapshot, error)

	// List returns every entity the host knows, sorted by id.
	List(ctx context.Context) ([]Snapshot, error)

	// Subscribe registers fn for state change events and returns a cancel func.
	Subscribe(fn func(Snapshot)) (cancel func())

	// Execute runs a native command. The resulting state arrives through
	// Subscribe, not through the return value.
	Execute(ctx context.Context, cmd NativeCommand) error
}

// topicStateChanged prefixes the per-subscriber bus topics.
const topicStateChanged = "entity:state_changed"

// MemoryHost is an in-process Host used for standalone servers and tests.
//
// Every subscriber gets its own bus topic; EventBus matches handlers by
// function pointer, so two subscribers using the same method value would
// otherwise unsubscribe each other.
type MemoryHost struct {
	// pubMu serialises mutate-then-publish so subscribers see changes in order.
	pubMu sync.Mutex

	mu       sync.RWMutex
	entities map[string]Snapshot
	failures map[string]error

	bus    evbus.Bus
	topics map[string]func(Snapshot)
	seq    atomic.Uint64

	executed atomic.Int64
	now      func() time.Time
}

// NewMemoryHost creates a host seeded with the given snapshots.
func NewMemoryHost(seed ...Snapshot) *MemoryHost {
	h := &MemoryHost{
		entities: make(map[string]Snapshot, len(seed)),
		failures: make(map[string]error),
		bus:      evbus.New(),
		topics:   make(map[string]func(Snapshot)),
		now:      time.Now,
	}
	for _, s := range seed {
		if s.Domain == "" {
			s.Domain = DomainOf(s.EntityID)
		}
		h.entities[s.EntityID] = s.Clone()
	}
	return h
}

// Read returns a copy of the stored snapshot.
func (h *MemoryHost) Read(_ context.Context, entityID string) (Snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.entities[entityID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	return s.Clone(), nil
}

// List returns copies of all snapshots sorted by entity id.
func (h *MemoryHost) List(_ context.Context) ([]Snapshot, error) {
	h.mu.RLock()
	out := make([]Snapshot, 0, len(h.entities))
	for _, s := range h.entities {
		out = append(out, s.Clone())
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

// Subscribe registers fn for every subsequent state change.
func (h *MemoryHost) Subscribe(fn func(Snapshot)) func() {
	topic := fmt.Sprintf("%s/%d", topicStateChanged, h.seq.Add(1))

	h.pubMu.Lock()
	h.bus.Subscribe(topic, fn) //nolint:errcheck // fn is always a func
	h.topics[topic] = fn
	h.pubMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.pubMu.Lock()
			defer h.pubMu.Unlock()
			h.bus.Unsubscribe(topic, fn) //nolint:errcheck // topic exists until now
			delete(h.topics, topic)
		})
	}
}

// Execute applies cmd to the stored snapshot and publishes the result.
// A failure injected with SetFailure is returned instead.
func (h *MemoryHost) Execute(_ context.Context, cmd NativeCommand) error {
	h.executed.Add(1)

	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.Lock()
	if err := h.failures[cmd.EntityID]; err != nil {
		h.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	current, ok := h.entities[cmd.EntityID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, cmd.EntityID)
	}
	next := Apply(current, cmd, h.now())
	h.entities[cmd.EntityID] = next
	h.mu.Unlock()

	h.publishLocked(next)
	return nil
}

// Set stores s as the new state and publishes it, as if the change
// originated in the host platform (a sensor reading, a wall switch).
func (h *MemoryHost) Set(s Snapshot) {
	if s.Domain == "" {
		s.Domain = DomainOf(s.EntityID)
	}
	now := h.now()

	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.Lock()
	prev, existed := h.entities[s.EntityID]
	if s.LastUpdated.IsZero() {
		s.LastUpdated = now
	}
	if s.LastChanged.IsZero() {
		if existed && prev.State == s.State {
			s.LastChanged = prev.LastChanged
		} else {
			s.LastChanged = now
		}
	}
	h.entities[s.EntityID] = s.Clone()
	h.mu.Unlock()

	h.publishLocked(s)
}

// SetFailure makes Execute fail for entityID. A nil err clears it.
func (h *MemoryHost) SetFailure(entityID string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.failures, entityID)
		return
	}
	h.failures[entityID] = err
}

// ExecuteCount reports how many times Execute has been called.
func (h *MemoryHost) ExecuteCount() int64 {
	return h.executed.Load()
}

// publishLocked delivers s to every subscriber. pubMu must be held.
func (h *MemoryHost) publishLocked(s Snapshot) {
	for topic := range h.topics {
		h.bus.Publish(topic, s.Clone())
	}
}
