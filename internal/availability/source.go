// Package availability answers whether a counterpart can take a new request right now.
package availability

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("availability: counterpart not found")

// Status is the self-reported state of a counterpart.
type Status struct {
	CounterpartID string    `json:"counterpart_id" db:"counterpart_id"`
	Online        bool      `json:"online" db:"online"`
	Busy          bool      `json:"busy" db:"busy"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Available reports online and not busy.
func (s Status) Available() bool { return s.Online && !s.Busy }

// MemorySource is a settable in-process source. Unknown counterparts are unavailable.
type MemorySource struct {
	mu       sync.RWMutex
	statuses map[string]Status
	clock    func() time.Time
}

func NewMemorySource() *MemorySource {
	return &MemorySource{statuses: make(map[string]Status), clock: time.Now}
}

func (m *MemorySource) IsAvailable(ctx context.Context, counterpartID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[counterpartID].Available(), nil
}

func (m *MemorySource) SetStatus(ctx context.Context, counterpartID string, online, busy bool) (Status, error) {
	if counterpartID == "" {
		return Status{}, ErrNotFound
	}
	s := Status{CounterpartID: counterpartID, Online: online, Busy: busy, UpdatedAt: m.clock().UTC()}
	m.mu.Lock()
	m.statuses[counterpartID] = s
	m.mu.Unlock()
	return s, nil
}

// PostgresSource reads the online/busy flags from counterpart_status.
type PostgresSource struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db, clock: time.Now}
}

func (p *PostgresSource) IsAvailable(ctx context.Context, counterpartID string) (bool, error) {
	const q = `SELECT online, busy FROM counterpart_status WHERE counterpart_id = $1`
	var s Status
	err := p.db.QueryRowContext(ctx, q, counterpartID).Scan(&s.Online, &s.Busy)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.Available(), nil
}

// SetStatus upserts the flags for a counterpart that exists in counterparts.
func (p *PostgresSource) SetStatus(ctx context.Context, counterpartID string, online, busy bool) (Status, error) {
	const q = `
INSERT INTO counterpart_status (counterpart_id, online, busy, updated_at)
SELECT id, $2, $3, $4 FROM counterparts WHERE id = $1
ON CONFLICT (counterpart_id)
DO UPDATE SET online = EXCLUDED.online, busy = EXCLUDED.busy, updated_at = EXCLUDED.updated_at
RETURNING counterpart_id, online, busy, updated_at
`
	var s Status
	err := p.db.QueryRowContext(ctx, q, counterpartID, online, busy, p.clock().UTC()).Scan(
		&s.CounterpartID, &s.Online, &s.Busy, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Status{}, ErrNotFound
	}
	if err != nil {
		return Status{}, err
	}
	return s, nil
}
