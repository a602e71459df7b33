// Copyright 2024-2026 Aiku AI

package bridge

import (
	"errors"
	"sync"
)

var (
	// ErrCircleNotFound is returned for operations referencing a circle
	// with no active binding.
	ErrCircleNotFound = errors.New("circle not found")
	// ErrGroupBound is returned when a bind would attach a group that is
	// already relayed for a different circle.
	ErrGroupBound = errors.New("group is already bound to another circle")
)

// Binding is one active relay relationship between an external circle and
// a WhatsApp group.
type Binding struct {
	CircleID string `json:"circle_id"`
	GroupJID string `json:"group_jid"`
}

// Registry is the authoritative circle-to-group mapping. It is written only
// by the command surface and read by the relay on every inbound message.
// The mapping is a bijection: a circle has at most one group and a group
// belongs to at most one circle.
//
// The registry is deliberately not persisted. After a restart it is empty
// and the backend rebuilds it by replaying its join commands.
type Registry struct {
	mu       sync.RWMutex
	byCircle map[string]string
	byGroup  map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byCircle: make(map[string]string),
		byGroup:  make(map[string]string),
	}
}

// Bind records that circleID's messages flow through groupJID. Rebinding
// the same circle replaces its previous group, so a backend replaying join
// commands stays idempotent. Binding a group that already belongs to a
// different circle fails with ErrGroupBound: two circles competing for one
// inbound stream would silently split messages between them.
func (r *Registry) Bind(circleID, groupJID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byGroup[groupJID]; ok && owner != circleID {
		return ErrGroupBound
	}
	if old, ok := r.byCircle[circleID]; ok {
		delete(r.byGroup, old)
	}
	r.byCircle[circleID] = groupJID
	r.byGroup[groupJID] = circleID
	return nil
}

// Unbind removes circleID's binding, failing with ErrCircleNotFound if
// there is none.
func (r *Registry) Unbind(circleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	groupJID, ok := r.byCircle[circleID]
	if !ok {
		return ErrCircleNotFound
	}
	delete(r.byCircle, circleID)
	delete(r.byGroup, groupJID)
	return nil
}

// GroupForCircle returns the group bound to circleID.
func (r *Registry) GroupForCircle(circleID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	groupJID, ok := r.byCircle[circleID]
	return groupJID, ok
}

// CircleForGroup returns the circle whose messages flow through groupJID.
func (r *Registry) CircleForGroup(groupJID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	circleID, ok := r.byGroup[groupJID]
	return circleID, ok
}

// Bindings returns a snapshot of all active bindings. Order is unspecified.
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Binding, 0, len(r.byCircle))
	for circleID, groupJID := range r.byCircle {
		out = append(out, Binding{CircleID: circleID, GroupJID: groupJID})
	}
	return out
}
