package service

import (
	"context"
	"errors"

	"github.com/glowcast/payout-engine/internal/models"
	"github.com/glowcast/payout-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ThresholdTracker accumulates year-to-date paid USD per user for 1099
// reporting. Updates are additive, never recomputed from scratch, so partial
// reprocessing cannot double count.
type ThresholdTracker struct {
	store *repository.Store
}

func NewThresholdTracker(store *repository.Store) *ThresholdTracker {
	return &ThresholdTracker{store: store}
}

// RecordSuccessTx adds one fulfilled payout to the user's yearly total inside
// the caller's settlement transaction.
func (t *ThresholdTracker) RecordSuccessTx(ctx context.Context, q *repository.Queries, userID uuid.UUID, year int32, usdMicros int64) (models.ThresholdRecord, error) {
	return q.RecordThresholdSuccess(ctx, repository.RecordThresholdSuccessParams{
		UserID:    userID,
		Year:      year,
		USDAmount: usdMicros,
	})
}

// Record returns one user's record for a year; a user with no payouts gets a
// zero record.
func (t *ThresholdTracker) Record(ctx context.Context, userID uuid.UUID, year int32) (models.ThresholdRecord, error) {
	rec, err := t.store.Queries().GetThresholdRecord(ctx, userID, year)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ThresholdRecord{UserID: userID, Year: year}, nil
	}
	return rec, err
}

// Report lists every user with paid activity in a year, for accountant
// hand-off. Sub-threshold users appear with requires_1099=false so a reader
// can confirm no filing is due; onlyRequired narrows to flagged users.
func (t *ThresholdTracker) Report(ctx context.Context, year int32, onlyRequired bool) ([]models.ThresholdRecord, error) {
	return t.store.Queries().GetThresholdReport(ctx, year, onlyRequired)
}
