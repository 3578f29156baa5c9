package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/glowcast/payout-engine/internal/models"
	"github.com/google/uuid"
)

type InsertFulfillmentParams struct {
	ID        uuid.UUID
	RequestID uuid.UUID
	ItemID    uuid.UUID
	Provider  string
	AmountUSD int64
}

func (q *Queries) InsertFulfillment(ctx context.Context, arg InsertFulfillmentParams) (models.GiftCardFulfillment, error) {
	f := models.GiftCardFulfillment{
		ID:        arg.ID,
		RequestID: arg.RequestID,
		ItemID:    arg.ItemID,
		Provider:  arg.Provider,
		AmountUSD: arg.AmountUSD,
		Status:    "pending",
	}
	query := `
		INSERT INTO gift_card_fulfillments (id, request_id, item_id, provider, amount_usd_micros, fulfillment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := q.db.QueryRow(ctx, query, arg.ID, arg.RequestID, arg.ItemID, arg.Provider, arg.AmountUSD).
		Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return models.GiftCardFulfillment{}, fmt.Errorf("insert fulfillment: %w", err)
	}
	return f, nil
}

const fulfillmentColumns = `
	id, request_id, item_id, provider, amount_usd_micros, code,
	fulfillment_status, failure_reason, created_at, updated_at
`

func scanFulfillment(row interface{ Scan(dest ...any) error }) (models.GiftCardFulfillment, error) {
	var f models.GiftCardFulfillment
	err := row.Scan(
		&f.ID, &f.RequestID, &f.ItemID, &f.Provider, &f.AmountUSD, &f.Code,
		&f.Status, &f.FailureReason, &f.CreatedAt, &f.UpdatedAt,
	)
	return f, err
}

func (q *Queries) GetFulfillment(ctx context.Context, id uuid.UUID) (models.GiftCardFulfillment, error) {
	query := `SELECT ` + fulfillmentColumns + ` FROM gift_card_fulfillments WHERE id = $1`
	return scanFulfillment(q.db.QueryRow(ctx, query, id))
}

func (q *Queries) GetFulfillmentForUpdate(ctx context.Context, id uuid.UUID) (models.GiftCardFulfillment, error) {
	query := `SELECT ` + fulfillmentColumns + ` FROM gift_card_fulfillments WHERE id = $1 FOR UPDATE`
	return scanFulfillment(q.db.QueryRow(ctx, query, id))
}

func (q *Queries) GetFulfillmentByRequestID(ctx context.Context, requestID uuid.UUID) (models.GiftCardFulfillment, error) {
	query := `
		SELECT ` + fulfillmentColumns + `
		FROM gift_card_fulfillments
		WHERE request_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanFulfillment(q.db.QueryRow(ctx, query, requestID))
}

type ResolveFulfillmentParams struct {
	ID            uuid.UUID
	Status        string
	Code          *string
	FailureReason *string
}

// ResolveFulfillment settles a pending fulfillment. Conditional on the pending
// state so a retried provider callback cannot overwrite a terminal result.
func (q *Queries) ResolveFulfillment(ctx context.Context, arg ResolveFulfillmentParams) (int64, error) {
	query := `
		UPDATE gift_card_fulfillments
		SET fulfillment_status = $2, code = $3, failure_reason = $4, updated_at = NOW()
		WHERE id = $1 AND fulfillment_status = 'pending'
	`
	tag, err := q.db.Exec(ctx, query, arg.ID, arg.Status, arg.Code, arg.FailureReason)
	if err != nil {
		return 0, fmt.Errorf("resolve fulfillment: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetStalePendingFulfillments lists fulfillments still pending past the cutoff.
func (q *Queries) GetStalePendingFulfillments(ctx context.Context, cutoff time.Time, limit int32) ([]models.GiftCardFulfillment, error) {
	query := `
		SELECT ` + fulfillmentColumns + `
		FROM gift_card_fulfillments
		WHERE fulfillment_status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := q.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending fulfillments: %w", err)
	}
	defer rows.Close()

	var out []models.GiftCardFulfillment
	for rows.Next() {
		f, err := scanFulfillment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fulfillment: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
