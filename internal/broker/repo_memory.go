package broker

import (
	"context"
	"sort"
	"sync"
	"time"

	"connect-platform/internal/calls"
)

// MemoryStore keeps requests and missed calls in process memory.
// Used by tests and by local runs without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]ConnectionRequest
	missed   []calls.MissedCall
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]ConnectionRequest)}
}

func (m *MemoryStore) CreateRequest(ctx context.Context, r ConnectionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.requests[r.ID]; exists {
		return ErrConflict
	}
	m.requests[r.ID] = r
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (ConnectionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return ConnectionRequest{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) TransitionStatus(ctx context.Context, id string, from, to Status, at time.Time) (ConnectionRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, from, to, at)
}

func (m *MemoryStore) MarkMissed(ctx context.Context, id string, missed calls.MissedCall) (ConnectionRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, applied, err := m.transitionLocked(id, StatusPending, StatusMissed, missed.CreatedAt)
	if err != nil || !applied {
		return r, applied, err
	}
	m.missed = append(m.missed, missed)
	return r, true, nil
}

func (m *MemoryStore) transitionLocked(id string, from, to Status, at time.Time) (ConnectionRequest, bool, error) {
	r, ok := m.requests[id]
	if !ok {
		return ConnectionRequest{}, false, ErrNotFound
	}
	if r.Status != from {
		return r, false, nil
	}
	r.Status = to
	r.UpdatedAt = at
	m.requests[id] = r
	return r, true, nil
}

func (m *MemoryStore) ListPending(ctx context.Context) ([]ConnectionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ConnectionRequest
	for _, r := range m.requests {
		if r.Status == StatusPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListMissedCalls(ctx context.Context, participantID string, limit int) ([]calls.MissedCall, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []calls.MissedCall
	for i := len(m.missed) - 1; i >= 0; i-- {
		mc := m.missed[i]
		if mc.RequesterID != participantID && mc.CounterpartID != participantID {
			continue
		}
		out = append(out, mc)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
