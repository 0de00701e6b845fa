package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/nerrad567/gray-logic-sync/internal/entity"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/mqtt"
)

var _ entity.Host = (*Host)(nil)

// PubSub is the subset of mqtt.Client the host uses.
// This allows mocking in tests.
type PubSub interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Topics() mqtt.Topics
	QoS() byte
}

// Logger is the subset of logging.Logger the host uses.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Host is an entity.Host backed by MQTT topics.
//
// Thread Safety: all methods are safe for concurrent use. Subscriber
// callbacks run on the MQTT delivery goroutine without the cache lock held,
// one state change at a time.
type Host struct {
	client PubSub
	topics mqtt.Topics
	qos    byte
	logger Logger

	mu      sync.RWMutex
	cache   map[string]entity.Snapshot
	started bool

	// pubMu serialises cache update and fan-out so subscribers observe
	// changes in arrival order.
	pubMu   sync.Mutex
	subs    map[uint64]func(entity.Snapshot)
	nextSub uint64

	waiters cmap.ConcurrentMap[string, chan ackMessage]

	now func() time.Time
}

// New creates a host on client. Call Start before use.
func New(client PubSub) *Host {
	return &Host{
		client:  client,
		topics:  client.Topics(),
		qos:     client.QoS(),
		logger:  noopLogger{},
		cache:   make(map[string]entity.Snapshot),
		subs:    make(map[uint64]func(entity.Snapshot)),
		waiters: cmap.New[chan ackMessage](),
		now:     time.Now,
	}
}

// SetLogger sets the logger for malformed messages and command failures.
func (h *Host) SetLogger(logger Logger) {
	h.logger = logger
}

// Start subscribes to the state and ack topics. Retained state messages
// populate the cache as they arrive.
func (h *Host) Start() error {
	if err := h.client.Subscribe(h.topics.AllEntityStates(), h.qos, h.handleState); err != nil {
		return fmt.Errorf("subscribing to entity states: %w", err)
	}
	if err := h.client.Subscribe(h.topics.AllEntityAcks(), h.qos, h.handleAck); err != nil {
		return fmt.Errorf("subscribing to entity acks: %w", err)
	}

	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	return nil
}

// Stop unsubscribes from the host topics.
func (h *Host) Stop() error {
	h.mu.Lock()
	h.started = false
	h.mu.Unlock()

	if err := h.client.Unsubscribe(h.topics.AllEntityStates()); err != nil {
		return err
	}
	return h.client.Unsubscribe(h.topics.AllEntityAcks())
}

// Read returns the cached snapshot of one entity.
func (h *Host) Read(_ context.Context, entityID string) (entity.Snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.cache[entityID]
	if !ok {
		return entity.Snapshot{}, fmt.Errorf("%w: %s", entity.ErrNotFound, entityID)
	}
	return s.Clone(), nil
}

// List returns every cached snapshot sorted by entity id.
func (h *Host) List(_ context.Context) ([]entity.Snapshot, error) {
	h.mu.RLock()
	out := make([]entity.Snapshot, 0, len(h.cache))
	for _, s := range h.cache {
		out = append(out, s.Clone())
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

// Subscribe registers fn for every state change received from the platform.
func (h *Host) Subscribe(fn func(entity.Snapshot)) func() {
	h.pubMu.Lock()
	h.nextSub++
	id := h.nextSub
	h.subs[id] = fn
	h.pubMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.pubMu.Lock()
			delete(h.subs, id)
			h.pubMu.Unlock()
		})
	}
}

// Execute publishes cmd and waits for the platform's acknowledgement.
//
// Returns an error wrapping entity.ErrExecutionFailed if publishing fails or
// the platform rejects the command, or ctx's error if no ack arrives in time.
func (h *Host) Execute(ctx context.Context, cmd entity.NativeCommand) error {
	h.mu.RLock()
	started := h.started
	h.mu.RUnlock()
	if !started {
		return fmt.Errorf("%w: %w", entity.ErrExecutionFailed, ErrNotStarted)
	}

	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.NewString()
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	ack := make(chan ackMessage, 1)
	h.waiters.Set(cmd.CorrelationID, ack)
	defer h.waiters.Remove(cmd.CorrelationID)

	if err := h.client.Publish(h.topics.EntityCommand(cmd.EntityID), payload, h.qos, false); err != nil {
		return fmt.Errorf("%w: %w", entity.ErrExecutionFailed, err)
	}

	select {
	case a := <-ack:
		if !a.Success {
			return fmt.Errorf("%w: %w: %s", entity.ErrExecutionFailed, ErrRejected, a.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for ack of %s: %w", cmd.CorrelationID, ctx.Err())
	}
}

// handleState processes a retained state message. An empty payload clears
// the entity.
func (h *Host) handleState(topic string, payload []byte) error {
	entityID, ok := h.topics.EntityID(topic)
	if !ok {
		return fmt.Errorf("unexpected state topic %q", topic)
	}

	if len(payload) == 0 {
		h.mu.Lock()
		delete(h.cache, entityID)
		h.mu.Unlock()
		h.logger.Debug("entity removed by host", "entity_id", entityID)
		return nil
	}

	var s entity.Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		h.logger.Warn("malformed entity state", "topic", topic, "error", err)
		return fmt.Errorf("decoding state of %s: %w", entityID, err)
	}
	s.EntityID = entityID
	h.apply(s)
	return nil
}

// handleAck resolves the waiting Execute call, if any.
func (h *Host) handleAck(topic string, payload []byte) error {
	var a ackMessage
	if err := json.Unmarshal(payload, &a); err != nil {
		h.logger.Warn("malformed command ack", "topic", topic, "error", err)
		return fmt.Errorf("decoding ack: %w", err)
	}

	// Apply the resulting state first so Read after Execute sees it.
	if a.State != nil {
		if entityID, ok := h.topics.EntityID(topic); ok {
			a.State.EntityID = entityID
			h.apply(*a.State)
		}
	}

	ch, ok := h.waiters.Pop(a.CorrelationID)
	if !ok {
		h.logger.Debug("ack for unknown command", "correlation_id", a.CorrelationID)
		return nil
	}
	ch <- a
	return nil
}

// apply stores s and notifies subscribers. Identical snapshots are dropped.
func (h *Host) apply(s entity.Snapshot) {
	if s.Domain == "" {
		s.Domain = entity.DomainOf(s.EntityID)
	}
	now := h.now()

	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.Lock()
	prev, existed := h.cache[s.EntityID]
	if existed && prev.Equal(s) && (s.LastUpdated.IsZero() || !s.LastUpdated.After(prev.LastUpdated)) {
		h.mu.Unlock()
		return
	}
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
	h.cache[s.EntityID] = s.Clone()
	h.mu.Unlock()

	for _, fn := range h.subs {
		fn(s.Clone())
	}
}
