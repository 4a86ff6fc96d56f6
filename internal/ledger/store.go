package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidArgument   = errors.New("ledger: invalid argument")
	ErrNotFound          = errors.New("ledger: account not found")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrPaymentDeclined   = errors.New("ledger: payment declined")
)

// Tx is one atomic unit of ledger work. Nothing written through it is visible
// to other callers until the surrounding RunInTx returns nil.
//
// LockWallet must be called before AddToBalance on the same account. It blocks
// while another transaction holds that account.
type Tx interface {
	LockWallet(ctx context.Context, kind AccountKind, accountID string) (Wallet, error)
	AddToBalance(ctx context.Context, kind AccountKind, accountID string, delta int64, at time.Time) (Wallet, error)
	InsertTransaction(ctx context.Context, t Transaction) error
	InsertDeposit(ctx context.Context, d Deposit) error
	FindDepositByOrder(ctx context.Context, requesterID, orderID string) (Deposit, bool, error)
}

// Store runs ledger transactions and serves ledger reads.
type Store interface {
	// RunInTx commits every write made through tx if fn returns nil and discards them otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Wallet(ctx context.Context, kind AccountKind, accountID string) (Wallet, error)
	// ListTransactions returns transfers where participantID is either side, newest first.
	ListTransactions(ctx context.Context, participantID string, limit int) ([]Transaction, error)
	// ListDeposits returns a requester's deposits, newest first.
	ListDeposits(ctx context.Context, requesterID string, limit int) ([]Deposit, error)
}
