package repository

import (
	"context"
	"fmt"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/models"
	"github.com/google/uuid"
)

type RecordThresholdSuccessParams struct {
	UserID    uuid.UUID
	Year      int32
	USDAmount int64
}

// RecordThresholdSuccess accumulates year-to-date paid USD for a user.
// requires_1099 latches on once the running total crosses the reporting
// threshold and never clears, even if later refunds reduce the total.
func (q *Queries) RecordThresholdSuccess(ctx context.Context, arg RecordThresholdSuccessParams) (models.ThresholdRecord, error) {
	rec := models.ThresholdRecord{UserID: arg.UserID, Year: arg.Year}
	query := `
		INSERT INTO threshold_records (user_id, year, total_paid_usd_micros, payout_count, requires_1099, last_payout_at)
		VALUES ($1, $2, $3, 1, $3::bigint >= $4::bigint, NOW())
		ON CONFLICT (user_id, year) DO UPDATE SET
			total_paid_usd_micros = threshold_records.total_paid_usd_micros + EXCLUDED.total_paid_usd_micros,
			payout_count = threshold_records.payout_count + 1,
			requires_1099 = threshold_records.requires_1099
				OR (threshold_records.total_paid_usd_micros + EXCLUDED.total_paid_usd_micros >= $4),
			last_payout_at = NOW()
		RETURNING total_paid_usd_micros, payout_count, requires_1099, last_payout_at
	`
	err := q.db.QueryRow(ctx, query, arg.UserID, arg.Year, arg.USDAmount, domain.ThresholdUSDMicros).
		Scan(&rec.TotalPaidUSD, &rec.PayoutCount, &rec.Requires1099, &rec.LastPayoutAt)
	if err != nil {
		return models.ThresholdRecord{}, fmt.Errorf("record threshold success: %w", err)
	}
	return rec, nil
}

func (q *Queries) GetThresholdRecord(ctx context.Context, userID uuid.UUID, year int32) (models.ThresholdRecord, error) {
	var rec models.ThresholdRecord
	query := `
		SELECT user_id, year, total_paid_usd_micros, payout_count, requires_1099, last_payout_at
		FROM threshold_records
		WHERE user_id = $1 AND year = $2
	`
	err := q.db.QueryRow(ctx, query, userID, year).
		Scan(&rec.UserID, &rec.Year, &rec.TotalPaidUSD, &rec.PayoutCount, &rec.Requires1099, &rec.LastPayoutAt)
	return rec, err
}

// GetThresholdReport lists every user with paid activity in a year, highest
// totals first. onlyRequired narrows the listing to users who crossed the
// 1099 threshold.
func (q *Queries) GetThresholdReport(ctx context.Context, year int32, onlyRequired bool) ([]models.ThresholdRecord, error) {
	query := `
		SELECT user_id, year, total_paid_usd_micros, payout_count, requires_1099, last_payout_at
		FROM threshold_records
		WHERE year = $1 AND ($2 = FALSE OR requires_1099 = TRUE)
		ORDER BY total_paid_usd_micros DESC
	`
	rows, err := q.db.Query(ctx, query, year, onlyRequired)
	if err != nil {
		return nil, fmt.Errorf("get threshold report: %w", err)
	}
	defer rows.Close()

	var out []models.ThresholdRecord
	for rows.Next() {
		var rec models.ThresholdRecord
		if err := rows.Scan(&rec.UserID, &rec.Year, &rec.TotalPaidUSD, &rec.PayoutCount, &rec.Requires1099, &rec.LastPayoutAt); err != nil {
			return nil, fmt.Errorf("scan threshold record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
