package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"connect-platform/pkg/utils"
)

// NOTE: This store assumes the tables in db/schema.sql:
// - wallets (projection, CHECK balance >= 0)
// - transactions (immutable append-only)
// - deposits (immutable, UNIQUE (requester_id, order_id))

// maxTxAttempts bounds reruns after serialization failures or deadlocks.
const maxTxAttempts = 3

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
			return fn(ctx, &postgresTx{tx: tx})
		})
		if err == nil || !utils.IsRetryableTx(err) {
			return err
		}
	}
	return err
}

func (p *PostgresStore) Wallet(ctx context.Context, kind AccountKind, accountID string) (Wallet, error) {
	const q = `
SELECT account_id, account_kind, balance, updated_at
FROM wallets
WHERE account_kind = $1 AND account_id = $2
`
	var w Wallet
	err := p.db.QueryRowContext(ctx, q, kind, accountID).Scan(&w.AccountID, &w.Kind, &w.Balance, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, ErrNotFound
	}
	if err != nil {
		return Wallet{}, err
	}
	return w, nil
}

func (p *PostgresStore) ListTransactions(ctx context.Context, participantID string, limit int) ([]Transaction, error) {
	const q = `
SELECT id, requester_id, counterpart_id, amount, counterpart_share, platform_share,
       mode, duration_seconds, status, created_at
FROM transactions
WHERE requester_id = $1 OR counterpart_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := p.db.QueryContext(ctx, q, participantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID,
			&t.RequesterID,
			&t.CounterpartID,
			&t.Amount,
			&t.CounterpartShare,
			&t.PlatformShare,
			&t.Mode,
			&t.DurationSeconds,
			&t.Status,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListDeposits(ctx context.Context, requesterID string, limit int) ([]Deposit, error) {
	const q = `
SELECT id, requester_id, amount, order_id, signature_id, status, created_at
FROM deposits
WHERE requester_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := p.db.QueryContext(ctx, q, requesterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Deposit
	for rows.Next() {
		var d Deposit
		if err := rows.Scan(&d.ID, &d.RequesterID, &d.Amount, &d.OrderID, &d.SignatureID, &d.Status, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) LockWallet(ctx context.Context, kind AccountKind, accountID string) (Wallet, error) {
	// Row lock serializes concurrent money operations per account.
	const q = `
SELECT account_id, account_kind, balance, updated_at
FROM wallets
WHERE account_kind = $1 AND account_id = $2
FOR UPDATE
`
	var w Wallet
	if err := t.tx.QueryRowContext(ctx, q, kind, accountID).Scan(&w.AccountID, &w.Kind, &w.Balance, &w.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

func (t *postgresTx) AddToBalance(ctx context.Context, kind AccountKind, accountID string, delta int64, at time.Time) (Wallet, error) {
	const q = `
UPDATE wallets
SET balance = balance + $3, updated_at = $4
WHERE account_kind = $1 AND account_id = $2
RETURNING account_id, account_kind, balance, updated_at
`
	var w Wallet
	if err := t.tx.QueryRowContext(ctx, q, kind, accountID, delta, at).Scan(&w.AccountID, &w.Kind, &w.Balance, &w.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		if utils.IsCheckViolation(err) {
			return Wallet{}, ErrInsufficientFunds
		}
		return Wallet{}, err
	}
	return w, nil
}

func (t *postgresTx) InsertTransaction(ctx context.Context, rec Transaction) error {
	const q = `
INSERT INTO transactions (
  id, requester_id, counterpart_id, amount, counterpart_share, platform_share,
  mode, duration_seconds, status, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := t.tx.ExecContext(ctx, q,
		rec.ID,
		rec.RequesterID,
		rec.CounterpartID,
		rec.Amount,
		rec.CounterpartShare,
		rec.PlatformShare,
		rec.Mode,
		rec.DurationSeconds,
		rec.Status,
		rec.CreatedAt,
	)
	return err
}

func (t *postgresTx) InsertDeposit(ctx context.Context, d Deposit) error {
	const q = `
INSERT INTO deposits (id, requester_id, amount, order_id, signature_id, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := t.tx.ExecContext(ctx, q, d.ID, d.RequesterID, d.Amount, d.OrderID, d.SignatureID, d.Status, d.CreatedAt)
	return err
}

func (t *postgresTx) FindDepositByOrder(ctx context.Context, requesterID, orderID string) (Deposit, bool, error) {
	const q = `
SELECT id, requester_id, amount, order_id, signature_id, status, created_at
FROM deposits
WHERE requester_id = $1 AND order_id = $2
LIMIT 1
`
	var d Deposit
	err := t.tx.QueryRowContext(ctx, q, requesterID, orderID).Scan(
		&d.ID, &d.RequesterID, &d.Amount, &d.OrderID, &d.SignatureID, &d.Status, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Deposit{}, false, nil
		}
		return Deposit{}, false, err
	}
	return d, true, nil
}
