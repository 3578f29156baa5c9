package repository

import (
	"context"
	"fmt"

	"github.com/glowcast/payout-engine/internal/models"
	"github.com/google/uuid"
)

// EnsureBalance creates a zero balance row if the user has none yet.
func (q *Queries) EnsureBalance(ctx context.Context, userID uuid.UUID) error {
	query := `INSERT INTO balances (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`
	if _, err := q.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("ensure balance row: %w", err)
	}
	return nil
}

func (q *Queries) GetBalance(ctx context.Context, userID uuid.UUID) (models.Balance, error) {
	return q.scanBalance(ctx, userID, "")
}

// GetBalanceForUpdate row-locks the balance so concurrent debits serialize.
func (q *Queries) GetBalanceForUpdate(ctx context.Context, userID uuid.UUID) (models.Balance, error) {
	return q.scanBalance(ctx, userID, " FOR UPDATE")
}

func (q *Queries) scanBalance(ctx context.Context, userID uuid.UUID, suffix string) (models.Balance, error) {
	b := models.Balance{UserID: userID}
	if q.caps.BalanceVersion {
		query := `SELECT paid_coins, free_coins, version, updated_at FROM balances WHERE user_id = $1` + suffix
		err := q.db.QueryRow(ctx, query, userID).Scan(&b.PaidCoins, &b.FreeCoins, &b.Version, &b.UpdatedAt)
		return b, err
	}
	query := `SELECT paid_coins, free_coins, updated_at FROM balances WHERE user_id = $1` + suffix
	err := q.db.QueryRow(ctx, query, userID).Scan(&b.PaidCoins, &b.FreeCoins, &b.UpdatedAt)
	return b, err
}

type ApplyBalanceDeltaParams struct {
	UserID    uuid.UUID
	PaidDelta int64
	FreeDelta int64
}

// ApplyBalanceDelta adjusts a balance row and bumps its version. The CHECK
// constraint on paid_coins backs up the service-level balance validation.
func (q *Queries) ApplyBalanceDelta(ctx context.Context, arg ApplyBalanceDeltaParams) (models.Balance, error) {
	b := models.Balance{UserID: arg.UserID}
	if q.caps.BalanceVersion {
		query := `
			UPDATE balances
			SET paid_coins = paid_coins + $2,
			    free_coins = free_coins + $3,
			    version = version + 1,
			    updated_at = NOW()
			WHERE user_id = $1
			RETURNING paid_coins, free_coins, version, updated_at
		`
		err := q.db.QueryRow(ctx, query, arg.UserID, arg.PaidDelta, arg.FreeDelta).
			Scan(&b.PaidCoins, &b.FreeCoins, &b.Version, &b.UpdatedAt)
		if err != nil {
			return models.Balance{}, fmt.Errorf("apply balance delta: %w", err)
		}
		return b, nil
	}
	query := `
		UPDATE balances
		SET paid_coins = paid_coins + $2,
		    free_coins = free_coins + $3,
		    updated_at = NOW()
		WHERE user_id = $1
		RETURNING paid_coins, free_coins, updated_at
	`
	err := q.db.QueryRow(ctx, query, arg.UserID, arg.PaidDelta, arg.FreeDelta).
		Scan(&b.PaidCoins, &b.FreeCoins, &b.UpdatedAt)
	if err != nil {
		return models.Balance{}, fmt.Errorf("apply balance delta: %w", err)
	}
	return b, nil
}
