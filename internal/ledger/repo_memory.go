package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local runs.
//
// Each wallet has its own mutex, held from LockWallet until the transaction
// ends, so only transactions touching the same account contend. Writes are
// buffered per transaction and applied on commit.
type MemoryStore struct {
	mu           sync.Mutex
	wallets      map[AccountRef]Wallet
	locks        map[AccountRef]*sync.Mutex
	transactions []Transaction
	deposits     []Deposit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[AccountRef]Wallet),
		locks:   make(map[AccountRef]*sync.Mutex),
	}
}

// OpenWallet creates or overwrites an account with the given balance.
func (m *MemoryStore) OpenWallet(kind AccountKind, accountID string, balance int64) {
	ref := AccountRef{Kind: kind, ID: accountID}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[ref] = Wallet{AccountID: accountID, Kind: kind, Balance: balance, UpdatedAt: time.Now().UTC()}
	if _, ok := m.locks[ref]; !ok {
		m.locks[ref] = &sync.Mutex{}
	}
}

func (m *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memoryTx{store: m, wallets: make(map[AccountRef]Wallet)}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for ref, w := range tx.wallets {
		m.wallets[ref] = w
	}
	m.transactions = append(m.transactions, tx.transactions...)
	m.deposits = append(m.deposits, tx.deposits...)
	return nil
}

func (m *MemoryStore) Wallet(ctx context.Context, kind AccountKind, accountID string) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[AccountRef{Kind: kind, ID: accountID}]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (m *MemoryStore) ListTransactions(ctx context.Context, participantID string, limit int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		t := m.transactions[i]
		if t.RequesterID != participantID && t.CounterpartID != participantID {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ListDeposits(ctx context.Context, requesterID string, limit int) ([]Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Deposit
	for i := len(m.deposits) - 1; i >= 0; i-- {
		d := m.deposits[i]
		if d.RequesterID != requesterID {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type memoryTx struct {
	store *MemoryStore

	held         []*sync.Mutex
	wallets      map[AccountRef]Wallet
	transactions []Transaction
	deposits     []Deposit
}

func (t *memoryTx) LockWallet(ctx context.Context, kind AccountKind, accountID string) (Wallet, error) {
	ref := AccountRef{Kind: kind, ID: accountID}
	if w, ok := t.wallets[ref]; ok {
		return w, nil
	}

	t.store.mu.Lock()
	l, ok := t.store.locks[ref]
	t.store.mu.Unlock()
	if !ok {
		return Wallet{}, ErrNotFound
	}

	l.Lock()
	t.held = append(t.held, l)

	t.store.mu.Lock()
	w := t.store.wallets[ref]
	t.store.mu.Unlock()
	t.wallets[ref] = w
	return w, nil
}

func (t *memoryTx) AddToBalance(ctx context.Context, kind AccountKind, accountID string, delta int64, at time.Time) (Wallet, error) {
	ref := AccountRef{Kind: kind, ID: accountID}
	w, ok := t.wallets[ref]
	if !ok {
		return Wallet{}, fmt.Errorf("ledger: wallet %s/%s not locked", kind, accountID)
	}
	if w.Balance+delta < 0 {
		return Wallet{}, ErrInsufficientFunds
	}
	w.Balance += delta
	w.UpdatedAt = at
	t.wallets[ref] = w
	return w, nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, rec Transaction) error {
	t.transactions = append(t.transactions, rec)
	return nil
}

func (t *memoryTx) InsertDeposit(ctx context.Context, d Deposit) error {
	t.deposits = append(t.deposits, d)
	return nil
}

func (t *memoryTx) FindDepositByOrder(ctx context.Context, requesterID, orderID string) (Deposit, bool, error) {
	for _, d := range t.deposits {
		if d.RequesterID == requesterID && d.OrderID == orderID {
			return d, true, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, d := range t.store.deposits {
		if d.RequesterID == requesterID && d.OrderID == orderID {
			return d, true, nil
		}
	}
	return Deposit{}, false, nil
}

func (t *memoryTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
	t.held = nil
}
