package exposure

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-sync/internal/entity"
)

// ErrReadOnlyControllable is returned when a sensor is listed as controllable.
var ErrReadOnlyControllable = errors.New("exposure: read-only entity listed as controllable")

// Set is an immutable snapshot of which entities clients may read and
// which they may control. The two lists are independent.
type Set struct {
	readable     map[string]struct{}
	controllable map[string]struct{}
}

// NewSet validates the lists and builds a Set. Duplicates are collapsed.
func NewSet(readable, controllable []string) (*Set, error) {
	s := &Set{
		readable:     make(map[string]struct{}, len(readable)),
		controllable: make(map[string]struct{}, len(controllable)),
	}

	for _, id := range readable {
		if err := entity.ValidateID(id); err != nil {
			return nil, fmt.Errorf("readable %q: %w", id, err)
		}
		s.readable[id] = struct{}{}
	}
	for _, id := range controllable {
		if err := entity.ValidateID(id); err != nil {
			return nil, fmt.Errorf("controllable %q: %w", id, err)
		}
		if entity.DomainOf(id).ReadOnly() {
			return nil, fmt.Errorf("%w: %s", ErrReadOnlyControllable, id)
		}
		s.controllable[id] = struct{}{}
	}
	return s, nil
}

// Empty returns a Set exposing nothing.
func Empty() *Set {
	return &Set{readable: map[string]struct{}{}, controllable: map[string]struct{}{}}
}

// IsReadable reports whether clients may observe entityID.
func (s *Set) IsReadable(entityID string) bool {
	_, ok := s.readable[entityID]
	return ok
}

// IsControllable reports whether clients may command entityID.
func (s *Set) IsControllable(entityID string) bool {
	_, ok := s.controllable[entityID]
	return ok
}

// Readable returns the readable ids, sorted.
func (s *Set) Readable() []string {
	return sortedKeys(s.readable)
}

// Controllable returns the controllable ids, sorted.
func (s *Set) Controllable() []string {
	return sortedKeys(s.controllable)
}

// ReadableSet returns a fresh copy of the readable ids, for per-session
// subscriptions.
func (s *Set) ReadableSet() map[string]struct{} {
	out := make(map[string]struct{}, len(s.readable))
	for id := range s.readable {
		out[id] = struct{}{}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Registry holds the process-wide exposure configuration.
//
// Readers load the current Set without locking and always see either the
// whole old value or the whole new one. Replace serialises writers and
// notifies listeners in replacement order.
type Registry struct {
	current atomic.Pointer[Set]

	mu        sync.Mutex
	listeners []func(*Set)
}

// NewRegistry creates a registry holding initial (Empty if nil).
func NewRegistry(initial *Set) *Registry {
	if initial == nil {
		initial = Empty()
	}
	r := &Registry{}
	r.current.Store(initial)
	return r
}

// Current returns the active Set.
func (r *Registry) Current() *Set {
	return r.current.Load()
}

// Replace swaps in s and notifies every listener.
func (r *Registry) Replace(s *Set) {
	if s == nil {
		s = Empty()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.current.Store(s)
	for _, fn := range r.listeners {
		fn(s)
	}
}

// OnChange registers fn to run after every Replace.
func (r *Registry) OnChange(fn func(*Set)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}
