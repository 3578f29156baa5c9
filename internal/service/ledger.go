package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/glowcast/payout-engine/internal/cache"
	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/models"
	"github.com/glowcast/payout-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// LedgerService owns all coin balance mutations. Every other component moves
// coins strictly through Debit and Credit, which keeps the sum-of-entries
// invariant enforceable.
type LedgerService struct {
	store *repository.Store
	cache *cache.BalanceCache
}

func NewLedgerService(store *repository.Store, balanceCache *cache.BalanceCache) *LedgerService {
	return &LedgerService{store: store, cache: balanceCache}
}

// DebitPaidTx reserves paid coins inside the caller's transaction. The
// balance row is locked first so two concurrent submissions cannot both pass
// the availability check.
func (s *LedgerService) DebitPaidTx(ctx context.Context, q *repository.Queries, userID uuid.UUID, coins int64, reason string, requestID *uuid.UUID) (models.LedgerEntry, error) {
	if coins <= 0 {
		return models.LedgerEntry{}, domain.Validationf("coins", "debit amount must be positive")
	}
	if err := q.EnsureBalance(ctx, userID); err != nil {
		return models.LedgerEntry{}, err
	}
	bal, err := q.GetBalanceForUpdate(ctx, userID)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("lock balance: %w", err)
	}
	if bal.PaidCoins < coins {
		return models.LedgerEntry{}, fmt.Errorf("paid balance %d < %d: %w", bal.PaidCoins, coins, domain.ErrInsufficientBalance)
	}
	after, err := q.ApplyBalanceDelta(ctx, repository.ApplyBalanceDeltaParams{UserID: userID, PaidDelta: -coins})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	return q.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
		ID:           uuid.New(),
		UserID:       userID,
		Delta:        -coins,
		CoinType:     domain.CoinTypePaid,
		Reason:       reason,
		RequestID:    requestID,
		BalanceAfter: after.PaidCoins,
	})
}

// CreditTx appends a positive entry inside the caller's transaction.
func (s *LedgerService) CreditTx(ctx context.Context, q *repository.Queries, userID uuid.UUID, coins int64, coinType, reason string, requestID *uuid.UUID) (models.LedgerEntry, error) {
	if coins <= 0 {
		return models.LedgerEntry{}, domain.Validationf("coins", "credit amount must be positive")
	}
	if coinType != domain.CoinTypePaid && coinType != domain.CoinTypeFree {
		return models.LedgerEntry{}, domain.Validationf("coin_type", "unknown coin type %q", coinType)
	}
	if err := q.EnsureBalance(ctx, userID); err != nil {
		return models.LedgerEntry{}, err
	}
	if _, err := q.GetBalanceForUpdate(ctx, userID); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("lock balance: %w", err)
	}
	delta := repository.ApplyBalanceDeltaParams{UserID: userID}
	if coinType == domain.CoinTypePaid {
		delta.PaidDelta = coins
	} else {
		delta.FreeDelta = coins
	}
	after, err := q.ApplyBalanceDelta(ctx, delta)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	balanceAfter := after.PaidCoins
	if coinType == domain.CoinTypeFree {
		balanceAfter = after.FreeCoins
	}
	return q.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
		ID:           uuid.New(),
		UserID:       userID,
		Delta:        coins,
		CoinType:     coinType,
		Reason:       reason,
		RequestID:    requestID,
		BalanceAfter: balanceAfter,
	})
}

// Credit appends a positive entry in its own transaction. Used by the earned
// coin ingestion path.
func (s *LedgerService) Credit(ctx context.Context, userID uuid.UUID, coins int64, coinType, reason string) (models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		var err error
		entry, err = s.CreditTx(ctx, q, userID, coins, coinType, reason, nil)
		return err
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	s.cache.Invalidate(ctx, userID)
	return entry, nil
}

// Balance returns the paid/free balance, read through the cache.
func (s *LedgerService) Balance(ctx context.Context, userID uuid.UUID) (models.Balance, error) {
	if cached, ok := s.cache.Get(ctx, userID); ok {
		return cached, nil
	}
	bal, err := s.store.Queries().GetBalance(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		// No row yet means no coins were ever earned.
		return models.Balance{UserID: userID}, nil
	}
	if err != nil {
		return models.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	if err := s.cache.Set(ctx, bal); err != nil {
		zap.L().Warn("balance cache write failed", zap.Error(err))
	}
	return bal, nil
}

// InvalidateBalance drops the cached balance after an external commit.
func (s *LedgerService) InvalidateBalance(ctx context.Context, userID uuid.UUID) {
	s.cache.Invalidate(ctx, userID)
}

// Entries lists a user's ledger history, newest first.
func (s *LedgerService) Entries(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.Queries().GetLedgerEntries(ctx, userID, limit, offset)
}
