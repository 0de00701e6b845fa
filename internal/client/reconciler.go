package client

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/nerrad567/gray-logic-sync/internal/entity"
	"github.com/nerrad567/gray-logic-sync/internal/protocol"
)

// defaultCommandTimeout bounds a pending command when none is configured.
const defaultCommandTimeout = 10 * time.Second

// Sender delivers a command frame over the current Sync Channel.
type Sender interface {
	SendCommand(ctx context.Context, cmd protocol.CommandPayload) error
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	// Origin is written to every mirrored snapshot as the synced_from attribute.
	Origin string

	// Imported restricts the mirror to these entity ids. Empty mirrors all.
	Imported []string

	// CommandTimeout is how long a command may stay pending.
	CommandTimeout time.Duration
}

type outcome struct {
	result protocol.CommandResult
	err    error
}

type pendingCommand struct {
	entityID      string
	correlationID string
	deadline      time.Time
	done          chan outcome
}

// Reconciler keeps the local mirror consistent with server state.
//
// Two views are held per entity: the last state confirmed by the server and
// the displayed state. They differ only while commands for the entity are
// pending. Once the last pending command resolves the displayed state falls
// back to the confirmed one, which rolls back a failed optimistic update.
//
// Thread Safety: all methods are safe for concurrent use. Listeners are
// called without internal locks held.
type Reconciler struct {
	origin   string
	imported map[string]struct{}
	timeout  time.Duration

	// pending is keyed by correlation id. Pop decides which resolution wins.
	pending cmap.ConcurrentMap[string, *pendingCommand]

	mu              sync.RWMutex
	confirmed       map[string]entity.Snapshot
	displayed       map[string]entity.Snapshot
	pendingByEntity map[string]int
	available       bool
	sender          Sender
	listeners       []func(entity.Snapshot)

	now func() time.Time
}

// NewReconciler creates an empty, unavailable mirror.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	var imported map[string]struct{}
	if len(opts.Imported) > 0 {
		imported = make(map[string]struct{}, len(opts.Imported))
		for _, id := range opts.Imported {
			imported[id] = struct{}{}
		}
	}

	return &Reconciler{
		origin:          opts.Origin,
		imported:        imported,
		timeout:         timeout,
		pending:         cmap.New[*pendingCommand](),
		confirmed:       make(map[string]entity.Snapshot),
		displayed:       make(map[string]entity.Snapshot),
		pendingByEntity: make(map[string]int),
		now:             time.Now,
	}
}

// OnChange registers fn to receive every change of a displayed entity.
func (r *Reconciler) OnChange(fn func(entity.Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// SetSender installs the channel commands are sent on. Nil detaches it.
func (r *Reconciler) SetSender(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sender = s
}

// SetAvailable marks the whole mirror available or unavailable. While
// unavailable, Get and List report every entity as "unavailable".
func (r *Reconciler) SetAvailable(available bool) {
	r.mu.Lock()
	if r.available == available {
		r.mu.Unlock()
		return
	}
	r.available = available
	views := r.viewsLocked()
	r.mu.Unlock()

	r.notify(views...)
}

// Available reports whether the mirror reflects a live channel.
func (r *Reconciler) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available
}

// Apply replaces the mirror with a full server snapshot. Entities missing
// from entities are dropped. Displayed state of entities with pending
// commands is left alone.
func (r *Reconciler) Apply(entities []entity.Snapshot) {
	r.mu.Lock()
	confirmed := make(map[string]entity.Snapshot, len(entities))
	for _, s := range entities {
		if !r.wants(s.EntityID) {
			continue
		}
		confirmed[s.EntityID] = r.decorate(s)
	}

	for id := range r.displayed {
		if _, ok := confirmed[id]; !ok && r.pendingByEntity[id] == 0 {
			delete(r.displayed, id)
		}
	}
	views := make([]entity.Snapshot, 0, len(confirmed))
	for id, s := range confirmed {
		if r.pendingByEntity[id] > 0 {
			continue
		}
		r.displayed[id] = s
		views = append(views, r.viewLocked(s))
	}
	r.confirmed = confirmed
	r.available = true
	r.mu.Unlock()

	r.notify(views...)
}

// HandleStateUpdate records a server state change. Without pending commands
// the displayed state follows it; otherwise only the confirmed state moves.
func (r *Reconciler) HandleStateUpdate(s entity.Snapshot) {
	if !r.wants(s.EntityID) {
		return
	}
	s = r.decorate(s)

	r.mu.Lock()
	r.confirmed[s.EntityID] = s
	if r.pendingByEntity[s.EntityID] > 0 {
		r.mu.Unlock()
		return
	}
	r.displayed[s.EntityID] = s
	view := r.viewLocked(s)
	r.mu.Unlock()

	r.notify(view)
}

// HandleCommandResult resolves the pending command res answers. A result
// for an unknown or already resolved correlation id is ignored.
//
// Returns true if a pending command was resolved.
func (r *Reconciler) HandleCommandResult(res protocol.CommandResult) bool {
	var err error
	if !res.Success {
		err = fmt.Errorf("%w: %s", ErrCommandRejected, res.Reason)
	}
	return r.resolve(res.CorrelationID, res, err)
}

// Execute applies change optimistically, sends it to the server and waits
// for its resolution. A send failure rolls back immediately.
//
// Returns the server's command_result, or a synthesised one with reason
// timeout or disconnected. The error is nil only on success.
func (r *Reconciler) Execute(ctx context.Context, entityID string, change entity.Change) (protocol.CommandResult, error) {
	cmd, err := entity.Translate(entityID, change)
	if err != nil {
		return protocol.CommandResult{}, fmt.Errorf("%w: %w", ErrInvalidChange, err)
	}

	p := &pendingCommand{
		entityID:      entityID,
		correlationID: uuid.NewString(),
		deadline:      r.now().Add(r.timeout),
		done:          make(chan outcome, 1),
	}

	r.mu.Lock()
	if !r.available || r.sender == nil {
		r.mu.Unlock()
		return protocol.CommandResult{}, fmt.Errorf("%w: not connected", ErrTransport)
	}
	current, ok := r.displayed[entityID]
	if !ok {
		r.mu.Unlock()
		return protocol.CommandResult{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	optimistic := r.decorate(entity.Apply(current, cmd, r.now()))
	r.displayed[entityID] = optimistic
	r.pendingByEntity[entityID]++
	r.pending.Set(p.correlationID, p)
	sender := r.sender
	view := r.viewLocked(optimistic)
	r.mu.Unlock()

	r.notify(view)

	err = sender.SendCommand(ctx, protocol.CommandPayload{
		EntityID:      entityID,
		Change:        change,
		CorrelationID: p.correlationID,
	})
	if err != nil {
		r.resolve(p.correlationID, r.synthetic(p, protocol.ReasonDisconnected), fmt.Errorf("%w: %w", ErrTransport, err))
	}

	select {
	case o := <-p.done:
		return o.result, o.err
	case <-ctx.Done():
		// The sweeper still resolves the command.
		return protocol.CommandResult{}, ctx.Err()
	}
}

// ExpirePending resolves every command whose deadline is before now with a
// timeout, rolling back its optimistic update.
//
// Returns the number of commands expired.
func (r *Reconciler) ExpirePending(now time.Time) int {
	n := 0
	for _, p := range r.pending.Items() {
		if now.Before(p.deadline) {
			continue
		}
		if r.resolve(p.correlationID, r.synthetic(p, protocol.ReasonTimeout), ErrCommandTimeout) {
			n++
		}
	}
	return n
}

// FailAllPending resolves every pending command as disconnected.
//
// Returns the number of commands failed.
func (r *Reconciler) FailAllPending() int {
	n := 0
	for _, p := range r.pending.Items() {
		err := fmt.Errorf("%w: channel closed", ErrTransport)
		if r.resolve(p.correlationID, r.synthetic(p, protocol.ReasonDisconnected), err) {
			n++
		}
	}
	return n
}

// PendingCount returns the number of unresolved commands.
func (r *Reconciler) PendingCount() int {
	return r.pending.Count()
}

// Get returns the displayed state of one entity.
func (r *Reconciler) Get(entityID string) (entity.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.displayed[entityID]
	if !ok {
		return entity.Snapshot{}, false
	}
	return r.viewLocked(s), true
}

// List returns the displayed state of every mirrored entity, sorted by id.
func (r *Reconciler) List() []entity.Snapshot {
	r.mu.RLock()
	views := r.viewsLocked()
	r.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool { return views[i].EntityID < views[j].EntityID })
	return views
}

// resolve pops the pending command and applies its outcome. Only the first
// caller for a correlation id gets ok.
func (r *Reconciler) resolve(correlationID string, res protocol.CommandResult, err error) bool {
	p, ok := r.pending.Pop(correlationID)
	if !ok {
		return false
	}

	r.mu.Lock()
	if res.Snapshot != nil && r.wants(res.Snapshot.EntityID) {
		r.adoptLocked(r.decorate(*res.Snapshot))
	}
	r.pendingByEntity[p.entityID]--
	var views []entity.Snapshot
	if r.pendingByEntity[p.entityID] <= 0 {
		delete(r.pendingByEntity, p.entityID)
		if s, ok := r.confirmed[p.entityID]; ok {
			r.displayed[p.entityID] = s
			views = append(views, r.viewLocked(s))
		} else {
			delete(r.displayed, p.entityID)
		}
	}
	r.mu.Unlock()

	r.notify(views...)
	p.done <- outcome{result: res, err: err}
	return true
}

// adoptLocked moves the confirmed state to s unless a newer one is known.
func (r *Reconciler) adoptLocked(s entity.Snapshot) {
	if cur, ok := r.confirmed[s.EntityID]; ok && s.LastUpdated.Before(cur.LastUpdated) {
		return
	}
	r.confirmed[s.EntityID] = s
}

func (r *Reconciler) synthetic(p *pendingCommand, reason protocol.Reason) protocol.CommandResult {
	return protocol.CommandResult{
		CorrelationID: p.correlationID,
		Success:       false,
		Reason:        reason,
	}
}

func (r *Reconciler) wants(entityID string) bool {
	if r.imported == nil {
		return true
	}
	_, ok := r.imported[entityID]
	return ok
}

// decorate returns a copy of s carrying the synced_from attribute.
func (r *Reconciler) decorate(s entity.Snapshot) entity.Snapshot {
	s = s.Clone()
	if r.origin == "" {
		return s
	}
	if s.Attributes == nil {
		s.Attributes = make(map[string]any, 1)
	}
	s.Attributes[entity.AttrSyncedFrom] = r.origin
	return s
}

func (r *Reconciler) viewLocked(s entity.Snapshot) entity.Snapshot {
	s = s.Clone()
	if !r.available {
		s.State = entity.StateUnavailable
	}
	return s
}

func (r *Reconciler) viewsLocked() []entity.Snapshot {
	out := make([]entity.Snapshot, 0, len(r.displayed))
	for _, s := range r.displayed {
		out = append(out, r.viewLocked(s))
	}
	return out
}

func (r *Reconciler) notify(views ...entity.Snapshot) {
	if len(views) == 0 {
		return
	}
	r.mu.RLock()
	listeners := slices.Clone(r.listeners)
	r.mu.RUnlock()

	for _, s := range views {
		for _, fn := range listeners {
			fn(s)
		}
	}
}
