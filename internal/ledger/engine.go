package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"connect-platform/internal/calls"
	"connect-platform/internal/observability"

	"github.com/google/uuid"
)

// Invalidator drops cached reads for accounts whose wallet or history changed.
type Invalidator interface {
	Invalidate(ctx context.Context, accounts ...AccountRef)
}

// Engine executes wallet-affecting operations.
//
// Money invariants:
// - Debit, credit and the audit record commit together or not at all
// - Wallets are locked counterpart first, then requester, so two transfers never deadlock
// - A declined transfer leaves both wallets untouched but still writes a FAILED record
type Engine struct {
	store       Store
	invalidator Invalidator
	log         *slog.Logger

	// clock and newID are injectable for deterministic tests.
	clock func() time.Time
	newID func() string
}

func NewEngine(store Store, invalidator Invalidator, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:       store,
		invalidator: invalidator,
		log:         log,
		clock:       time.Now,
		newID:       uuid.NewString,
	}
}

type TransferRequest struct {
	RequesterID     string
	CounterpartID   string
	Amount          int64
	Mode            calls.Mode
	DurationSeconds int64
}

func (r TransferRequest) validate() error {
	if r.RequesterID == "" || r.CounterpartID == "" {
		return ErrInvalidArgument
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if r.Amount > MaxAmount {
		return fmt.Errorf("%w: amount exceeds %d", ErrInvalidArgument, MaxAmount)
	}
	if !r.Mode.Valid() {
		return fmt.Errorf("%w: unsupported mode %q", ErrInvalidArgument, r.Mode)
	}
	if r.DurationSeconds < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidArgument)
	}
	return nil
}

// Transfer debits the requester, credits the counterpart share and records the attempt.
//
// Unknown counterpart or requester: ErrNotFound and nothing is written.
// Balance below amount: ErrInsufficientFunds with the FAILED record committed.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (Transaction, error) {
	if err := req.validate(); err != nil {
		return Transaction{}, err
	}

	cpShare, platShare := Split(req.Amount)
	var (
		out      Transaction
		declined bool
	)
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		declined = false
		now := e.clock().UTC()

		if _, err := tx.LockWallet(ctx, AccountCounterpart, req.CounterpartID); err != nil {
			return err
		}
		payer, err := tx.LockWallet(ctx, AccountRequester, req.RequesterID)
		if err != nil {
			return err
		}

		rec := Transaction{
			ID:              e.newID(),
			RequesterID:     req.RequesterID,
			CounterpartID:   req.CounterpartID,
			Amount:          req.Amount,
			Mode:            req.Mode,
			DurationSeconds: req.DurationSeconds,
			CreatedAt:       now,
		}

		if payer.Balance < req.Amount {
			rec.Status = TransactionFailed
			if err := tx.InsertTransaction(ctx, rec); err != nil {
				return err
			}
			out = rec
			declined = true
			return nil
		}

		if _, err := tx.AddToBalance(ctx, AccountRequester, req.RequesterID, -req.Amount, now); err != nil {
			return err
		}
		if _, err := tx.AddToBalance(ctx, AccountCounterpart, req.CounterpartID, cpShare, now); err != nil {
			return err
		}
		rec.CounterpartShare = cpShare
		rec.PlatformShare = platShare
		rec.Status = TransactionSuccess
		if err := tx.InsertTransaction(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		observability.RecordTransfer(string(req.Mode), "error", 0, 0)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInsufficientFunds) {
			return Transaction{}, err
		}
		return Transaction{}, fmt.Errorf("ledger: transfer: %w", err)
	}

	e.invalidate(ctx,
		AccountRef{Kind: AccountRequester, ID: req.RequesterID},
		AccountRef{Kind: AccountCounterpart, ID: req.CounterpartID},
	)

	if declined {
		observability.RecordTransfer(string(req.Mode), string(TransactionFailed), 0, 0)
		e.log.InfoContext(ctx, "transfer declined",
			"transaction_id", out.ID, "requester_id", req.RequesterID, "counterpart_id", req.CounterpartID, "amount", req.Amount)
		return out, ErrInsufficientFunds
	}

	observability.RecordTransfer(string(req.Mode), string(TransactionSuccess), out.CounterpartShare, out.PlatformShare)
	e.log.InfoContext(ctx, "transfer applied",
		"transaction_id", out.ID, "requester_id", req.RequesterID, "counterpart_id", req.CounterpartID,
		"amount", req.Amount, "counterpart_share", out.CounterpartShare, "platform_share", out.PlatformShare)
	return out, nil
}

type DepositRequest struct {
	RequesterID string
	Amount      int64
	OrderID     string
	SignatureID string
	// Valid is the payment gateway's verdict on the order.
	Valid bool
}

// Deposit credits a verified payment to a requester's wallet.
//
// Repeating an order id returns the first deposit for that order without crediting again.
// A payment the gateway declined is recorded as FAILED and returns ErrPaymentDeclined.
func (e *Engine) Deposit(ctx context.Context, req DepositRequest) (Deposit, error) {
	if req.RequesterID == "" || req.OrderID == "" || req.SignatureID == "" {
		return Deposit{}, ErrInvalidArgument
	}
	if req.Amount <= 0 {
		return Deposit{}, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if req.Amount > MaxAmount {
		return Deposit{}, fmt.Errorf("%w: amount exceeds %d", ErrInvalidArgument, MaxAmount)
	}

	var (
		out      Deposit
		replayed bool
	)
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		replayed = false
		now := e.clock().UTC()

		if _, err := tx.LockWallet(ctx, AccountRequester, req.RequesterID); err != nil {
			return err
		}
		if existing, ok, err := tx.FindDepositByOrder(ctx, req.RequesterID, req.OrderID); err != nil {
			return err
		} else if ok {
			out = existing
			replayed = true
			return nil
		}

		d := Deposit{
			ID:          e.newID(),
			RequesterID: req.RequesterID,
			Amount:      req.Amount,
			OrderID:     req.OrderID,
			SignatureID: req.SignatureID,
			Status:      DepositFailed,
			CreatedAt:   now,
		}
		if req.Valid {
			if _, err := tx.AddToBalance(ctx, AccountRequester, req.RequesterID, req.Amount, now); err != nil {
				return err
			}
			d.Status = DepositSuccess
		}
		if err := tx.InsertDeposit(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Deposit{}, err
		}
		return Deposit{}, fmt.Errorf("ledger: deposit: %w", err)
	}

	if !replayed {
		observability.RecordDeposit(string(out.Status))
		e.invalidate(ctx, AccountRef{Kind: AccountRequester, ID: req.RequesterID})
	}
	if out.Status == DepositFailed {
		e.log.InfoContext(ctx, "deposit declined", "deposit_id", out.ID, "order_id", out.OrderID, "requester_id", out.RequesterID)
		return out, ErrPaymentDeclined
	}
	e.log.InfoContext(ctx, "deposit applied", "deposit_id", out.ID, "order_id", out.OrderID, "amount", out.Amount, "replayed", replayed)
	return out, nil
}

// Wallet returns the current balance of one account.
func (e *Engine) Wallet(ctx context.Context, kind AccountKind, accountID string) (Wallet, error) {
	if !kind.Valid() || accountID == "" {
		return Wallet{}, ErrInvalidArgument
	}
	return e.store.Wallet(ctx, kind, accountID)
}

func (e *Engine) invalidate(ctx context.Context, accounts ...AccountRef) {
	if e.invalidator == nil {
		return
	}
	e.invalidator.Invalidate(ctx, accounts...)
}
