package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"connect-platform/internal/calls"
	"connect-platform/internal/ledger"
	"connect-platform/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedReader pauses the first Wallet load after reading the store until release is closed.
type gatedReader struct {
	*ledger.MemoryStore
	loaded  chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedReader) Wallet(ctx context.Context, kind ledger.AccountKind, accountID string) (ledger.Wallet, error) {
	w, err := g.MemoryStore.Wallet(ctx, kind, accountID)
	g.once.Do(func() {
		close(g.loaded)
		<-g.release
	})
	return w, err
}

type fakeMissed struct {
	rows []calls.MissedCall
}

func (f *fakeMissed) ListMissedCalls(ctx context.Context, participantID string, limit int) ([]calls.MissedCall, error) {
	return f.rows, nil
}

func setup(t *testing.T) (*Service, *ledger.MemoryStore, *ledger.Engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := ledger.NewMemoryStore()
	store.OpenWallet(ledger.AccountRequester, "R", 100)
	store.OpenWallet(ledger.AccountCounterpart, "C", 0)

	svc := NewService(store, &fakeMissed{}, rdb, time.Hour, logger.Discard())
	engine := ledger.NewEngine(store, svc, logger.Discard())
	return svc, store, engine, mr
}

func TestWallet_CachedAndInvalidatedByTransfer(t *testing.T) {
	svc, _, engine, mr := setup(t)
	ctx := context.Background()

	w, err := svc.Wallet(ctx, ledger.AccountRequester, "R")
	require.NoError(t, err)
	assert.EqualValues(t, 100, w.Balance)
	assert.True(t, mr.Exists("walletBalance:requester:R"))
	assert.Equal(t, time.Hour, mr.TTL("walletBalance:requester:R"))

	_, err = engine.Transfer(ctx, ledger.TransferRequest{RequesterID: "R", CounterpartID: "C", Amount: 40, Mode: calls.ModeChat})
	require.NoError(t, err)
	assert.False(t, mr.Exists("walletBalance:requester:R"))

	w, err = svc.Wallet(ctx, ledger.AccountRequester, "R")
	require.NoError(t, err)
	assert.EqualValues(t, 60, w.Balance)

	cp, err := svc.Wallet(ctx, ledger.AccountCounterpart, "C")
	require.NoError(t, err)
	assert.EqualValues(t, 20, cp.Balance)
}

func TestWallet_ServesFromCache(t *testing.T) {
	svc, _, _, mr := setup(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("walletBalance:requester:R", `{"account_id":"R","kind":"requester","balance":7}`))
	w, err := svc.Wallet(ctx, ledger.AccountRequester, "R")
	require.NoError(t, err)
	assert.EqualValues(t, 7, w.Balance)
}

func TestWallet_FallsBackWhenCacheIsDown(t *testing.T) {
	svc, _, _, mr := setup(t)
	mr.Close()

	w, err := svc.Wallet(context.Background(), ledger.AccountRequester, "R")
	require.NoError(t, err)
	assert.EqualValues(t, 100, w.Balance)
}

func TestWallet_UnknownAccount(t *testing.T) {
	svc, _, _, _ := setup(t)
	_, err := svc.Wallet(context.Background(), ledger.AccountRequester, "ghost")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = svc.Wallet(context.Background(), "admin", "R")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestListings_InvalidatedOnDeposit(t *testing.T) {
	svc, _, engine, mr := setup(t)
	ctx := context.Background()

	deps, err := svc.Deposits(ctx, "R", 0)
	require.NoError(t, err)
	assert.Empty(t, deps)
	assert.True(t, mr.Exists("deposits:R"))

	_, err = engine.Deposit(ctx, ledger.DepositRequest{RequesterID: "R", Amount: 25, OrderID: "o1", SignatureID: "s1", Valid: true})
	require.NoError(t, err)
	assert.False(t, mr.Exists("deposits:R"))

	deps, err = svc.Deposits(ctx, "R", 0)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "o1", deps[0].OrderID)
}

func TestTransactions_NonDefaultLimitBypassesCache(t *testing.T) {
	svc, _, engine, mr := setup(t)
	ctx := context.Background()

	_, err := engine.Transfer(ctx, ledger.TransferRequest{RequesterID: "R", CounterpartID: "C", Amount: 10, Mode: calls.ModeChat})
	require.NoError(t, err)

	txs, err := svc.Transactions(ctx, "C", 5)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.False(t, mr.Exists("transactions:C"))

	txs, err = svc.Transactions(ctx, "C", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.True(t, mr.Exists("transactions:C"))
}

func TestMissedCalls_ReadThrough(t *testing.T) {
	missed := &fakeMissed{rows: []calls.MissedCall{{ID: "m1", RequesterID: "R", CounterpartID: "C", Mode: calls.ModeChat}}}
	svc := NewService(ledger.NewMemoryStore(), missed, nil, 0, nil)

	out, err := svc.MissedCalls(context.Background(), "C", 0)
	require.NoError(t, err)
	assert.Len(t, out, 1)

	_, err = svc.MissedCalls(context.Background(), "", 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestWallet_LoadRacingTransferDoesNotCacheStaleBalance(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := ledger.NewMemoryStore()
	store.OpenWallet(ledger.AccountRequester, "R", 100)
	store.OpenWallet(ledger.AccountCounterpart, "C", 0)
	reader := &gatedReader{MemoryStore: store, loaded: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(reader, &fakeMissed{}, rdb, 24*time.Hour, logger.Discard())
	engine := ledger.NewEngine(store, svc, logger.Discard())
	ctx := context.Background()

	done := make(chan ledger.Wallet)
	go func() {
		w, err := svc.Wallet(ctx, ledger.AccountRequester, "R")
		assert.NoError(t, err)
		done <- w
	}()

	<-reader.loaded
	_, err := engine.Transfer(ctx, ledger.TransferRequest{RequesterID: "R", CounterpartID: "C", Amount: 40, Mode: calls.ModeChat})
	require.NoError(t, err)
	close(reader.release)

	stale := <-done
	assert.EqualValues(t, 100, stale.Balance)
	assert.False(t, mr.Exists("walletBalance:requester:R"))

	w, err := svc.Wallet(ctx, ledger.AccountRequester, "R")
	require.NoError(t, err)
	assert.EqualValues(t, 60, w.Balance)
	assert.True(t, mr.Exists("walletBalance:requester:R"))
}

func TestInvalidate_SurvivesCanceledRequest(t *testing.T) {
	svc, _, _, mr := setup(t)

	_, err := svc.Wallet(context.Background(), ledger.AccountRequester, "R")
	require.NoError(t, err)
	require.True(t, mr.Exists("walletBalance:requester:R"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Invalidate(ctx, ledger.AccountRef{Kind: ledger.AccountRequester, ID: "R"})
	assert.False(t, mr.Exists("walletBalance:requester:R"))
}
