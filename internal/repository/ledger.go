package repository

import (
	"context"
	"fmt"

	"github.com/glowcast/payout-engine/internal/models"
	"github.com/google/uuid"
)

type InsertLedgerEntryParams struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Delta        int64
	CoinType     string
	Reason       string
	RequestID    *uuid.UUID
	BalanceAfter int64
}

func (q *Queries) InsertLedgerEntry(ctx context.Context, arg InsertLedgerEntryParams) (models.LedgerEntry, error) {
	entry := models.LedgerEntry{
		ID:           arg.ID,
		UserID:       arg.UserID,
		Delta:        arg.Delta,
		CoinType:     arg.CoinType,
		Reason:       arg.Reason,
		RequestID:    arg.RequestID,
		BalanceAfter: arg.BalanceAfter,
	}
	query := `
		INSERT INTO ledger_entries (id, user_id, delta, coin_type, reason, request_id, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`
	err := q.db.QueryRow(ctx, query,
		arg.ID, arg.UserID, arg.Delta, arg.CoinType, arg.Reason, arg.RequestID, arg.BalanceAfter,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("insert ledger entry: %w", err)
	}
	return entry, nil
}

func (q *Queries) GetLedgerEntries(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.LedgerEntry, error) {
	query := `
		SELECT id, user_id, delta, coin_type, reason, request_id, balance_after, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := q.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.CoinType, &e.Reason, &e.RequestID, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SumLedgerDeltas returns the net of all entries of one coin type for a user.
func (q *Queries) SumLedgerDeltas(ctx context.Context, userID uuid.UUID, coinType string) (int64, error) {
	var sum int64
	query := `SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE user_id = $1 AND coin_type = $2`
	if err := q.db.QueryRow(ctx, query, userID, coinType).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum ledger deltas: %w", err)
	}
	return sum, nil
}

type LedgerMismatchRow struct {
	UserID      uuid.UUID
	CoinType    string
	BalanceVal  int64
	LedgerTotal int64
}

// GetLedgerBalanceMismatches finds users whose stored balance diverges from
// the sum of their ledger entries, per coin type.
func (q *Queries) GetLedgerBalanceMismatches(ctx context.Context) ([]LedgerMismatchRow, error) {
	query := `
		WITH totals AS (
			SELECT user_id, coin_type, SUM(delta) AS total
			FROM ledger_entries
			GROUP BY user_id, coin_type
		)
		SELECT b.user_id, t.coin_type,
		       CASE t.coin_type WHEN 'paid' THEN b.paid_coins ELSE b.free_coins END AS balance_val,
		       t.total
		FROM balances b
		JOIN totals t ON t.user_id = b.user_id
		WHERE CASE t.coin_type WHEN 'paid' THEN b.paid_coins ELSE b.free_coins END <> t.total
	`
	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get ledger mismatches: %w", err)
	}
	defer rows.Close()

	var out []LedgerMismatchRow
	for rows.Next() {
		var r LedgerMismatchRow
		if err := rows.Scan(&r.UserID, &r.CoinType, &r.BalanceVal, &r.LedgerTotal); err != nil {
			return nil, fmt.Errorf("scan ledger mismatch: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
