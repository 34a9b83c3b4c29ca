// Package agenthooks implements the process-spawning hook substrate: a
// registry indexed by the fixed chat-lifecycle events, a planner that
// orders hooks by source trust tier, a runner that executes hooks as
// subprocesses exchanging JSON over stdin/stdout, and a trust store gating
// workspace/downloaded hooks behind a persisted, hash-keyed approval.
//
// agenthooks only ever spawns an external process per hook invocation;
// it runs no in-process handlers.
package agenthooks

import (
	"fmt"
	"sync"

	"github.com/ollm-core/agentcore/pkg/models"
)

// Registry maps a fixed hook event to its registered hooks, rejecting
// duplicate ids and unknown events at registration time.
type Registry struct {
	mu    sync.RWMutex
	byEvt map[models.HookEvent][]models.Hook
	byID  map[string]models.HookEvent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byEvt: make(map[models.HookEvent][]models.Hook),
		byID:  make(map[string]models.HookEvent),
	}
}

func isKnownEvent(e models.HookEvent) bool {
	for _, known := range models.AllHookEvents {
		if known == e {
			return true
		}
	}
	return false
}

// Register adds a hook to its event's list, preserving insertion order.
func (r *Registry) Register(h models.Hook) error {
	if !isKnownEvent(h.Event) {
		return fmt.Errorf("agenthooks: unknown event %q", h.Event)
	}
	if h.ID == "" {
		return fmt.Errorf("agenthooks: hook id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[h.ID]; exists {
		return fmt.Errorf("agenthooks: duplicate hook id %q", h.ID)
	}
	r.byEvt[h.Event] = append(r.byEvt[h.Event], h)
	r.byID[h.ID] = h.Event
	return nil
}

// Unregister removes a hook by id. Returns false if the id is unknown.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	evt, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)

	hooks := r.byEvt[evt]
	for i, h := range hooks {
		if h.ID == id {
			r.byEvt[evt] = append(hooks[:i], hooks[i+1:]...)
			break
		}
	}
	return true
}

// Hooks returns the hooks registered for an event, in insertion order.
func (r *Registry) Hooks(evt models.HookEvent) []models.Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Hook, len(r.byEvt[evt]))
	copy(out, r.byEvt[evt])
	return out
}

// Get returns a single hook by id.
func (r *Registry) Get(id string) (models.Hook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	evt, ok := r.byID[id]
	if !ok {
		return models.Hook{}, false
	}
	for _, h := range r.byEvt[evt] {
		if h.ID == id {
			return h, true
		}
	}
	return models.Hook{}, false
}
