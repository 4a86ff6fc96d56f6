// Package presence tracks which live delivery channel belongs to which participant.
package presence

import (
	"sync"
)

// Role separates the two sides of a connection; a participant may be online in both.
type Role string

const (
	RoleRequester   Role = "requester"
	RoleCounterpart Role = "counterpart"
)

// Channel is an opaque handle that can push a named event to one live participant.
// ID must be unique per live connection; Deregister matches on it.
type Channel interface {
	ID() string
	Send(event string, payload any) error
}

type entryKey struct {
	participantID string
	role          Role
}

// Registry holds at most one channel per (participant, role). Last write wins.
type Registry struct {
	mu      sync.RWMutex
	entries map[entryKey]Channel
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[entryKey]Channel)}
}

// Register stores ch for (participantID, role), returning the channel it replaced, if any.
func (r *Registry) Register(participantID string, role Role, ch Channel) Channel {
	if participantID == "" || ch == nil {
		return nil
	}
	k := entryKey{participantID: participantID, role: role}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.entries[k]
	r.entries[k] = ch
	if prev != nil && prev.ID() == ch.ID() {
		return nil
	}
	return prev
}

// Lookup returns the live channel for (participantID, role).
// A miss means the participant is unreachable right now, not an error.
func (r *Registry) Lookup(participantID string, role Role) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.entries[entryKey{participantID: participantID, role: role}]
	return ch, ok
}

// Deregister removes every entry bound to ch and returns how many were removed.
func (r *Registry) Deregister(ch Channel) int {
	if ch == nil {
		return 0
	}
	id := ch.ID()

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, v := range r.entries {
		if v.ID() == id {
			delete(r.entries, k)
			n++
		}
	}
	return n
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
