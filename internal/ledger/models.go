package ledger

import (
	"time"

	"connect-platform/internal/calls"
)

// CounterpartShareBasisPoints is the counterpart's cut of every transfer (5000 = 50%).
const CounterpartShareBasisPoints = 5000

// MaxAmount caps a single transfer or deposit, in minor units.
const MaxAmount int64 = 1_000_000_000_000_000

// AccountKind separates requester and counterpart wallets; the same id may exist in both.
type AccountKind string

const (
	AccountRequester   AccountKind = "requester"
	AccountCounterpart AccountKind = "counterpart"
)

func (k AccountKind) Valid() bool {
	return k == AccountRequester || k == AccountCounterpart
}

// AccountRef identifies one wallet.
type AccountRef struct {
	Kind AccountKind `json:"kind"`
	ID   string      `json:"id"`
}

// Wallet is the balance projection for one account.
// Invariant: Balance >= 0, and it changes only inside a Store transaction
// that also writes a Transaction or Deposit record.
type Wallet struct {
	AccountID string      `json:"account_id" db:"account_id"`
	Kind      AccountKind `json:"kind" db:"account_kind"`
	// Balance is in minor units.
	Balance   int64     `json:"balance" db:"balance"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type TransactionStatus string

const (
	TransactionSuccess TransactionStatus = "SUCCESS"
	TransactionFailed  TransactionStatus = "FAILED"
)

// Transaction is the immutable audit record of one transfer attempt.
// For SUCCESS rows CounterpartShare + PlatformShare == Amount.
type Transaction struct {
	ID               string            `json:"id" db:"id"`
	RequesterID      string            `json:"requester_id" db:"requester_id"`
	CounterpartID    string            `json:"counterpart_id" db:"counterpart_id"`
	Amount           int64             `json:"amount" db:"amount"`
	CounterpartShare int64             `json:"counterpart_share" db:"counterpart_share"`
	PlatformShare    int64             `json:"platform_share" db:"platform_share"`
	Mode             calls.Mode        `json:"mode" db:"mode"`
	DurationSeconds  int64             `json:"duration_seconds" db:"duration_seconds"`
	Status           TransactionStatus `json:"status" db:"status"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
}

type DepositStatus string

const (
	DepositSuccess DepositStatus = "SUCCESS"
	DepositFailed  DepositStatus = "FAILED"
)

// Deposit records a wallet top-up attempt. OrderID is unique per requester.
type Deposit struct {
	ID          string        `json:"id" db:"id"`
	RequesterID string        `json:"requester_id" db:"requester_id"`
	Amount      int64         `json:"amount" db:"amount"`
	OrderID     string        `json:"order_id" db:"order_id"`
	SignatureID string        `json:"signature_id" db:"signature_id"`
	Status      DepositStatus `json:"status" db:"status"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}

// Split divides amount between counterpart and platform.
// The platform takes the remainder so the two always sum to amount.
// Whole and fractional parts are scaled separately so no product exceeds int64.
func Split(amount int64) (counterpartShare, platformShare int64) {
	counterpartShare = amount/10000*CounterpartShareBasisPoints + amount%10000*CounterpartShareBasisPoints/10000
	return counterpartShare, amount - counterpartShare
}
