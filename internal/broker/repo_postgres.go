package broker

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"connect-platform/internal/calls"
	"connect-platform/pkg/utils"
)

// PostgresStore persists requests in connection_requests and missed calls in missed_calls.
// See db/schema.sql.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, requester_id, counterpart_id, mode, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (ConnectionRequest, error) {
	var r ConnectionRequest
	err := row.Scan(&r.ID, &r.RequesterID, &r.CounterpartID, &r.Mode, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (p *PostgresStore) CreateRequest(ctx context.Context, r ConnectionRequest) error {
	const q = `
INSERT INTO connection_requests (` + requestColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := p.db.ExecContext(ctx, q, r.ID, r.RequesterID, r.CounterpartID, r.Mode, r.Status, r.CreatedAt, r.UpdatedAt)
	if utils.IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (ConnectionRequest, error) {
	const q = `SELECT ` + requestColumns + ` FROM connection_requests WHERE id = $1`
	r, err := scanRequest(p.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ConnectionRequest{}, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) TransitionStatus(ctx context.Context, id string, from, to Status, at time.Time) (ConnectionRequest, bool, error) {
	var (
		out     ConnectionRequest
		applied bool
	)
	err := utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, applied, err = transitionTx(ctx, tx, id, from, to, at)
		return err
	})
	return out, applied, err
}

func (p *PostgresStore) MarkMissed(ctx context.Context, id string, missed calls.MissedCall) (ConnectionRequest, bool, error) {
	var (
		out     ConnectionRequest
		applied bool
	)
	err := utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, applied, err = transitionTx(ctx, tx, id, StatusPending, StatusMissed, missed.CreatedAt)
		if err != nil || !applied {
			return err
		}
		const q = `
INSERT INTO missed_calls (id, request_id, requester_id, counterpart_id, mode, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
		_, err = tx.ExecContext(ctx, q, missed.ID, missed.RequestID, missed.RequesterID, missed.CounterpartID, missed.Mode, missed.CreatedAt)
		return err
	})
	if err != nil {
		return ConnectionRequest{}, false, err
	}
	return out, applied, nil
}

// transitionTx applies the status change only when the row still holds from.
// When it does not, the current row is returned with applied=false.
func transitionTx(ctx context.Context, tx *sql.Tx, id string, from, to Status, at time.Time) (ConnectionRequest, bool, error) {
	const upd = `
UPDATE connection_requests
SET status = $3, updated_at = $4
WHERE id = $1 AND status = $2
RETURNING ` + requestColumns
	r, err := scanRequest(tx.QueryRowContext(ctx, upd, id, from, to, at))
	if err == nil {
		return r, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ConnectionRequest{}, false, err
	}

	const sel = `SELECT ` + requestColumns + ` FROM connection_requests WHERE id = $1`
	r, err = scanRequest(tx.QueryRowContext(ctx, sel, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ConnectionRequest{}, false, ErrNotFound
	}
	if err != nil {
		return ConnectionRequest{}, false, err
	}
	return r, false, nil
}

func (p *PostgresStore) ListPending(ctx context.Context) ([]ConnectionRequest, error) {
	const q = `SELECT ` + requestColumns + ` FROM connection_requests WHERE status = $1 ORDER BY created_at ASC`
	rows, err := p.db.QueryContext(ctx, q, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConnectionRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListMissedCalls(ctx context.Context, participantID string, limit int) ([]calls.MissedCall, error) {
	const q = `
SELECT id, request_id, requester_id, counterpart_id, mode, created_at
FROM missed_calls
WHERE requester_id = $1 OR counterpart_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := p.db.QueryContext(ctx, q, participantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calls.MissedCall
	for rows.Next() {
		var mc calls.MissedCall
		if err := rows.Scan(&mc.ID, &mc.RequestID, &mc.RequesterID, &mc.CounterpartID, &mc.Mode, &mc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}
