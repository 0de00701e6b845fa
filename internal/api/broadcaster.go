package api

import (
	"context"
	"sync"

	"github.com/nerrad567/gray-logic-sync/internal/entity"
	"github.com/nerrad567/gray-logic-sync/internal/exposure"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-sync/internal/protocol"
)

// broadcastQueueSize buffers host events between the host callback and
// the fan-out goroutine.
const broadcastQueueSize = 1024

// Broadcaster relays host state changes to subscribed sessions.
//
// Host events are queued in observation order and fanned out by a single
// goroutine, which preserves per-entity ordering on every session. The host
// callback only blocks if the queue is full.
type Broadcaster struct {
	hub      *Hub
	exposure *exposure.Registry
	logger   *logging.Logger

	events chan entity.Snapshot
	stop   chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancelSub func()
}

// NewBroadcaster creates a broadcaster that fans out to hub.
func NewBroadcaster(hub *Hub, reg *exposure.Registry, logger *logging.Logger) *Broadcaster {
	return &Broadcaster{
		hub:      hub,
		exposure: reg,
		logger:   logger,
		events:   make(chan entity.Snapshot, broadcastQueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start subscribes to host and begins fan-out until ctx is cancelled or
// Stop is called. Calling Start more than once has no effect.
func (b *Broadcaster) Start(ctx context.Context, host entity.Host) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.stopped {
		return
	}
	b.started = true
	b.cancelSub = host.Subscribe(b.enqueue)
	go b.run(ctx)
}

// Stop unsubscribes from the host and waits for the fan-out goroutine.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	started := b.started
	cancel := b.cancelSub
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(b.stop)
	if started {
		<-b.done
	}
}

// enqueue is the host callback.
func (b *Broadcaster) enqueue(s entity.Snapshot) {
	select {
	case b.events <- s:
	case <-b.done:
	}
}

func (b *Broadcaster) run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case s := <-b.events:
			b.Publish(s)
		}
	}
}

// Publish sends a state_update for s to every session subscribed to it,
// provided the entity is readable in the current exposure.
//
// Returns the number of sessions the update was queued on.
func (b *Broadcaster) Publish(s entity.Snapshot) int {
	if !b.exposure.Current().IsReadable(s.EntityID) {
		return 0
	}

	data, err := protocol.Encode(protocol.TypeStateUpdate, "", s)
	if err != nil {
		b.logger.Error("failed to encode state update", "entity_id", s.EntityID, "error", err)
		return 0
	}

	n := b.hub.Broadcast(s.EntityID, data)
	if n > 0 {
		b.logger.Debug("state update sent", "entity_id", s.EntityID, "recipients", n)
	}
	return n
}
