package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"connect-platform/internal/calls"
	"connect-platform/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvalidator struct {
	mu   sync.Mutex
	seen []AccountRef
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, accounts ...AccountRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, accounts...)
}

func newTestEngine(t *testing.T) (*Engine, *MemoryStore, *recordingInvalidator) {
	t.Helper()
	store := NewMemoryStore()
	inv := &recordingInvalidator{}
	e := NewEngine(store, inv, logger.Discard())
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	e.clock = func() time.Time { return now }
	var seq atomic.Int64
	e.newID = func() string { return fmt.Sprintf("tx-%d", seq.Add(1)) }
	return e, store, inv
}

func balance(t *testing.T, s *MemoryStore, kind AccountKind, id string) int64 {
	t.Helper()
	w, err := s.Wallet(context.Background(), kind, id)
	require.NoError(t, err)
	return w.Balance
}

func TestTransfer_SplitsAndRecordsSuccess(t *testing.T) {
	e, store, inv := newTestEngine(t)
	store.OpenWallet(AccountRequester, "R", 100)
	store.OpenWallet(AccountCounterpart, "C", 7)

	tx, err := e.Transfer(context.Background(), TransferRequest{
		RequesterID: "R", CounterpartID: "C", Amount: 40, Mode: calls.ModeVoiceCall, DurationSeconds: 60,
	})
	require.NoError(t, err)

	assert.Equal(t, TransactionSuccess, tx.Status)
	assert.EqualValues(t, 40, tx.Amount)
	assert.EqualValues(t, 20, tx.CounterpartShare)
	assert.EqualValues(t, 20, tx.PlatformShare)
	assert.EqualValues(t, 60, tx.DurationSeconds)

	assert.EqualValues(t, 60, balance(t, store, AccountRequester, "R"))
	assert.EqualValues(t, 27, balance(t, store, AccountCounterpart, "C"))

	list, err := store.ListTransactions(context.Background(), "R", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tx, list[0])

	assert.ElementsMatch(t, []AccountRef{
		{Kind: AccountRequester, ID: "R"},
		{Kind: AccountCounterpart, ID: "C"},
	}, inv.seen)
}

func TestTransfer_InsufficientFundsRecordsFailure(t *testing.T) {
	e, store, _ := newTestEngine(t)
	store.OpenWallet(AccountRequester, "R", 10)
	store.OpenWallet(AccountCounterpart, "C", 0)

	tx, err := e.Transfer(context.Background(), TransferRequest{
		RequesterID: "R", CounterpartID: "C", Amount: 40, Mode: calls.ModeVoiceCall, DurationSeconds: 60,
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, TransactionFailed, tx.Status)

	assert.EqualValues(t, 10, balance(t, store, AccountRequester, "R"))
	assert.EqualValues(t, 0, balance(t, store, AccountCounterpart, "C"))

	list, err := store.ListTransactions(context.Background(), "C", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, TransactionFailed, list[0].Status)
	assert.EqualValues(t, 40, list[0].Amount)
}

func TestTransfer_UnknownAccountsWriteNothing(t *testing.T) {
	e, store, inv := newTestEngine(t)
	store.OpenWallet(AccountRequester, "R", 100)
	store.OpenWallet(AccountCounterpart, "C", 0)
	ctx := context.Background()

	_, err := e.Transfer(ctx, TransferRequest{RequesterID: "R", CounterpartID: "ghost", Amount: 10, Mode: calls.ModeChat})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Transfer(ctx, TransferRequest{RequesterID: "ghost", CounterpartID: "C", Amount: 10, Mode: calls.ModeChat})
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := store.ListTransactions(ctx, "ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.EqualValues(t, 100, balance(t, store, AccountRequester, "R"))
	assert.Empty(t, inv.seen)
}

func TestTransfer_Validation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	for name, req := range map[string]TransferRequest{
		"zero amount":      {RequesterID: "R", CounterpartID: "C", Amount: 0, Mode: calls.ModeChat},
		"negative amount":  {RequesterID: "R", CounterpartID: "C", Amount: -5, Mode: calls.ModeChat},
		"missing ids":      {Amount: 5, Mode: calls.ModeChat},
		"bad mode":         {RequesterID: "R", CounterpartID: "C", Amount: 5, Mode: "SMOKE_SIGNAL"},
		"negative seconds": {RequesterID: "R", CounterpartID: "C", Amount: 5, Mode: calls.ModeChat, DurationSeconds: -1},
		"above ceiling":    {RequesterID: "R", CounterpartID: "C", Amount: MaxAmount + 1, Mode: calls.ModeChat},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := e.Transfer(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestSplit_SharesAlwaysSumToAmount(t *testing.T) {
	for _, amount := range []int64{1, 2, 3, 39, 40, 41, 99, 1_000_001, 9_223_372_036} {
		cp, plat := Split(amount)
		assert.Equal(t, amount, cp+plat, "amount %d", amount)
		assert.GreaterOrEqual(t, plat, cp)
	}
}

func TestSplit_LargeAmountsDoNotOverflow(t *testing.T) {
	for _, amount := range []int64{MaxAmount, 2_000_000_000_000_000, math.MaxInt64} {
		cp, plat := Split(amount)
		assert.Equal(t, amount/2, cp, "amount %d", amount)
		assert.Equal(t, amount, cp+plat, "amount %d", amount)
		assert.GreaterOrEqual(t, cp, int64(0))
		assert.GreaterOrEqual(t, plat, int64(0))
	}
}

func TestTransfer_MaxAmountCreditsCounterpart(t *testing.T) {
	e, store, _ := newTestEngine(t)
	store.OpenWallet(AccountRequester, "R", MaxAmount)
	store.OpenWallet(AccountCounterpart, "C", MaxAmount)

	tx, err := e.Transfer(context.Background(), TransferRequest{
		RequesterID: "R", CounterpartID: "C", Amount: MaxAmount, Mode: calls.ModeChat,
	})
	require.NoError(t, err)
	assert.Equal(t, TransactionSuccess, tx.Status)
	assert.Equal(t, MaxAmount/2, tx.CounterpartShare)
	assert.Equal(t, MaxAmount-MaxAmount/2, tx.PlatformShare)
	assert.EqualValues(t, 0, balance(t, store, AccountRequester, "R"))
	assert.Equal(t, MaxAmount+MaxAmount/2, balance(t, store, AccountCounterpart, "C"))
}

// Many concurrent debits of one wallet must land as if applied one at a time.
func TestTransfer_ConcurrentDebitsDoNotLoseUpdates(t *testing.T) {
	e, store, _ := newTestEngine(t)
	store.OpenWallet(AccountRequester, "R", 1000)
	store.OpenWallet(AccountCounterpart, "C1", 0)
	store.OpenWallet(AccountCounterpart, "C2", 0)
	ctx := context.Background()

	const workers = 60
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		declined  atomic.Int64
	)
	for i := 0; i < workers; i++ {
		cp := "C1"
		if i%2 == 1 {
			cp = "C2"
		}
		wg.Add(1)
		go func(cp string) {
			defer wg.Done()
			_, err := e.Transfer(ctx, TransferRequest{RequesterID: "R", CounterpartID: cp, Amount: 30, Mode: calls.ModeChat})
			switch {
			case err == nil:
				succeeded.Add(1)
			case assert.ErrorIs(t, err, ErrInsufficientFunds):
				declined.Add(1)
			}
		}(cp)
	}
	wg.Wait()

	// 1000 / 30 = 33 transfers fit.
	assert.EqualValues(t, 33, succeeded.Load())
	assert.EqualValues(t, workers-33, declined.Load())
	assert.EqualValues(t, 1000-33*30, balance(t, store, AccountRequester, "R"))
	assert.EqualValues(t, 33*15, balance(t, store, AccountCounterpart, "C1")+balance(t, store, AccountCounterpart, "C2"))

	list, err := store.ListTransactions(ctx, "R", 0)
	require.NoError(t, err)
	assert.Len(t, list, workers)
}

func TestDeposit_CreditsAndIsIdempotentPerOrder(t *testing.T) {
	e, store, inv := newTestEngine(t)
	store.OpenWallet(AccountRequester, "R", 5)
	ctx := context.Background()

	req := DepositRequest{RequesterID: "R", Amount: 50, OrderID: "order-1", SignatureID: "sig", Valid: true}
	d, err := e.Deposit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, DepositSuccess, d.Status)
	assert.EqualValues(t, 55, balance(t, store, AccountRequester, "R"))

	again, err := e.Deposit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, d.ID, again.ID)
	assert.EqualValues(t, 55, balance(t, store, AccountRequester, "R"))

	list, err := store.ListDeposits(ctx, "R", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Len(t, inv.seen, 1)
}

func TestDeposit_DeclinedPaymentRecordsFailure(t *testing.T) {
	e, store, _ := newTestEngine(t)
	store.OpenWallet(AccountRequester, "R", 5)
	ctx := context.Background()

	d, err := e.Deposit(ctx, DepositRequest{RequesterID: "R", Amount: 50, OrderID: "order-2", SignatureID: "sig", Valid: false})
	require.ErrorIs(t, err, ErrPaymentDeclined)
	assert.Equal(t, DepositFailed, d.Status)
	assert.EqualValues(t, 5, balance(t, store, AccountRequester, "R"))

	list, err := store.ListDeposits(ctx, "R", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, DepositFailed, list[0].Status)
}

func TestDeposit_ValidationAndUnknownRequester(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Deposit(ctx, DepositRequest{RequesterID: "R", Amount: 0, OrderID: "o", SignatureID: "s", Valid: true})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.Deposit(ctx, DepositRequest{RequesterID: "R", Amount: 10, SignatureID: "s", Valid: true})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.Deposit(ctx, DepositRequest{RequesterID: "R", Amount: MaxAmount + 1, OrderID: "o", SignatureID: "s", Valid: true})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.Deposit(ctx, DepositRequest{RequesterID: "nobody", Amount: 10, OrderID: "o", SignatureID: "s", Valid: true})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_RollbackDiscardsWrites(t *testing.T) {
	store := NewMemoryStore()
	store.OpenWallet(AccountRequester, "R", 100)
	ctx := context.Background()

	err := store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockWallet(ctx, AccountRequester, "R"); err != nil {
			return err
		}
		if _, err := tx.AddToBalance(ctx, AccountRequester, "R", -60, time.Now()); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, Transaction{ID: "t1", RequesterID: "R"}); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)
	assert.EqualValues(t, 100, balance(t, store, AccountRequester, "R"))
	list, _ := store.ListTransactions(ctx, "R", 0)
	assert.Empty(t, list)

	err = store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.AddToBalance(ctx, AccountRequester, "R", 1, time.Now())
		return err
	})
	assert.Error(t, err, "writing an unlocked wallet must fail")

	err = store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockWallet(ctx, AccountRequester, "R"); err != nil {
			return err
		}
		_, err := tx.AddToBalance(ctx, AccountRequester, "R", -101, time.Now())
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}
