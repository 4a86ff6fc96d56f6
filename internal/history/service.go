// Package history serves read-side listings for wallets, transfers, deposits and missed calls.
//
// Wallet balances and ledger listings are cached in Redis and dropped by the
// ledger engine after every committed change. Missed calls are written by
// expiry timers outside any request, so they are always read from the store.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"connect-platform/internal/calls"
	"connect-platform/internal/ledger"
	"connect-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

var ErrInvalidRequest = errors.New("history: invalid request")

const (
	DefaultLimit = 50
	MaxLimit     = 200

	invalidateTimeout = 2 * time.Second
)

// LedgerReader is satisfied by ledger.Store.
type LedgerReader interface {
	Wallet(ctx context.Context, kind ledger.AccountKind, accountID string) (ledger.Wallet, error)
	ListTransactions(ctx context.Context, participantID string, limit int) ([]ledger.Transaction, error)
	ListDeposits(ctx context.Context, requesterID string, limit int) ([]ledger.Deposit, error)
}

// MissedCallReader is satisfied by broker.Store.
type MissedCallReader interface {
	ListMissedCalls(ctx context.Context, participantID string, limit int) ([]calls.MissedCall, error)
}

type Service struct {
	ledger LedgerReader
	missed MissedCallReader
	// rdb is optional; nil disables caching.
	rdb redis.Cmdable
	ttl time.Duration
	log *slog.Logger
}

func NewService(l LedgerReader, missed MissedCallReader, rdb redis.Cmdable, ttl time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{ledger: l, missed: missed, rdb: rdb, ttl: ttl, log: log}
}

func walletKey(kind ledger.AccountKind, id string) string {
	return fmt.Sprintf("walletBalance:%s:%s", kind, id)
}

func transactionsKey(id string) string { return "transactions:" + id }

func depositsKey(id string) string { return "deposits:" + id }

func (s *Service) Wallet(ctx context.Context, kind ledger.AccountKind, accountID string) (ledger.Wallet, error) {
	if !kind.Valid() || accountID == "" {
		return ledger.Wallet{}, ErrInvalidRequest
	}
	return cached(ctx, s, walletKey(kind, accountID), func() (ledger.Wallet, error) {
		return s.ledger.Wallet(ctx, kind, accountID)
	})
}

// Transactions lists the most recent transfers involving participantID.
// Only the default page size is cached.
func (s *Service) Transactions(ctx context.Context, participantID string, limit int) ([]ledger.Transaction, error) {
	if participantID == "" {
		return nil, ErrInvalidRequest
	}
	limit = normalizeLimit(limit)
	load := func() ([]ledger.Transaction, error) {
		out, err := s.ledger.ListTransactions(ctx, participantID, limit)
		return nonNil(out), err
	}
	if limit != DefaultLimit {
		return load()
	}
	return cached(ctx, s, transactionsKey(participantID), load)
}

func (s *Service) Deposits(ctx context.Context, requesterID string, limit int) ([]ledger.Deposit, error) {
	if requesterID == "" {
		return nil, ErrInvalidRequest
	}
	limit = normalizeLimit(limit)
	load := func() ([]ledger.Deposit, error) {
		out, err := s.ledger.ListDeposits(ctx, requesterID, limit)
		return nonNil(out), err
	}
	if limit != DefaultLimit {
		return load()
	}
	return cached(ctx, s, depositsKey(requesterID), load)
}

func (s *Service) MissedCalls(ctx context.Context, participantID string, limit int) ([]calls.MissedCall, error) {
	if participantID == "" {
		return nil, ErrInvalidRequest
	}
	out, err := s.missed.ListMissedCalls(ctx, participantID, normalizeLimit(limit))
	return nonNil(out), err
}

// Invalidate drops cached entries for the given accounts. It implements ledger.Invalidator.
// It runs after the ledger commit, so it ignores cancellation of the caller's request.
func (s *Service) Invalidate(ctx context.Context, accounts ...ledger.AccountRef) {
	if s.rdb == nil || len(accounts) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	keys := make([]string, 0, len(accounts)*3)
	for _, a := range accounts {
		keys = append(keys, walletKey(a.Kind, a.ID), transactionsKey(a.ID))
		if a.Kind == ledger.AccountRequester {
			keys = append(keys, depositsKey(a.ID))
		}
	}
	if err := utils.InvalidateJSON(ctx, s.rdb, s.ttl, keys...); err != nil {
		s.log.WarnContext(ctx, "cache invalidation failed", "keys", keys, "err", err)
	}
}

// cached reads key from Redis, falling back to load on a miss or a cache error.
// The loaded value is stored only if key was not invalidated while loading.
// Cache failures are logged and never returned.
func cached[T any](ctx context.Context, s *Service, key string, load func() (T, error)) (T, error) {
	if s.rdb == nil {
		return load()
	}

	var hit T
	ok, err := utils.GetJSON(ctx, s.rdb, key, &hit)
	if err != nil {
		s.log.WarnContext(ctx, "cache read failed", "key", key, "err", err)
		return load()
	}
	if ok {
		return hit, nil
	}

	gen, err := utils.CacheGeneration(ctx, s.rdb, key)
	if err != nil {
		s.log.WarnContext(ctx, "cache read failed", "key", key, "err", err)
		return load()
	}
	out, err := load()
	if err != nil {
		return out, err
	}
	stored, err := utils.SetJSONIfGeneration(ctx, s.rdb, key, gen, out, s.ttl)
	if err != nil {
		s.log.WarnContext(ctx, "cache write failed", "key", key, "err", err)
	} else if !stored {
		s.log.DebugContext(ctx, "cache write skipped after invalidation", "key", key)
	}
	return out, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
