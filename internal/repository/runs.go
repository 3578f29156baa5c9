package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/glowcast/payout-engine/internal/models"
	"github.com/google/uuid"
)

type InsertPayoutRunParams struct {
	ID           uuid.UUID
	RunDate      time.Time
	TotalPayouts int32
	TotalCoins   int64
	TotalUSD     int64
}

func (q *Queries) InsertPayoutRun(ctx context.Context, arg InsertPayoutRunParams) (models.PayoutRun, error) {
	run := models.PayoutRun{
		ID:           arg.ID,
		RunDate:      arg.RunDate,
		Status:       "processing",
		TotalPayouts: arg.TotalPayouts,
		TotalCoins:   arg.TotalCoins,
		TotalUSD:     arg.TotalUSD,
	}
	query := `
		INSERT INTO payout_runs (id, run_date, status, total_payouts, total_coins, total_usd_micros, started_at)
		VALUES ($1, $2, 'processing', $3, $4, $5, NOW())
		RETURNING started_at
	`
	err := q.db.QueryRow(ctx, query, arg.ID, arg.RunDate, arg.TotalPayouts, arg.TotalCoins, arg.TotalUSD).
		Scan(&run.StartedAt)
	if err != nil {
		return models.PayoutRun{}, fmt.Errorf("insert payout run: %w", err)
	}
	return run, nil
}

const payoutRunColumns = `
	id, run_date, status, total_payouts, total_coins, total_usd_micros,
	provider_batch_id, started_at, completed_at
`

func scanPayoutRun(row interface{ Scan(dest ...any) error }) (models.PayoutRun, error) {
	var r models.PayoutRun
	err := row.Scan(
		&r.ID, &r.RunDate, &r.Status, &r.TotalPayouts, &r.TotalCoins, &r.TotalUSD,
		&r.ProviderBatchID, &r.StartedAt, &r.CompletedAt,
	)
	return r, err
}

func (q *Queries) GetPayoutRun(ctx context.Context, id uuid.UUID) (models.PayoutRun, error) {
	query := `SELECT ` + payoutRunColumns + ` FROM payout_runs WHERE id = $1`
	return scanPayoutRun(q.db.QueryRow(ctx, query, id))
}

func (q *Queries) GetPayoutRunByProviderBatchID(ctx context.Context, providerBatchID string) (models.PayoutRun, error) {
	query := `SELECT ` + payoutRunColumns + ` FROM payout_runs WHERE provider_batch_id = $1`
	return scanPayoutRun(q.db.QueryRow(ctx, query, providerBatchID))
}

func (q *Queries) ListPayoutRuns(ctx context.Context, limit, offset int32) ([]models.PayoutRun, error) {
	query := `SELECT ` + payoutRunColumns + ` FROM payout_runs ORDER BY started_at DESC LIMIT $1 OFFSET $2`
	rows, err := q.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list payout runs: %w", err)
	}
	defer rows.Close()

	var out []models.PayoutRun
	for rows.Next() {
		r, err := scanPayoutRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *Queries) SetRunProviderBatchID(ctx context.Context, id uuid.UUID, providerBatchID string) error {
	query := `UPDATE payout_runs SET provider_batch_id = $2 WHERE id = $1`
	if _, err := q.db.Exec(ctx, query, id, providerBatchID); err != nil {
		return fmt.Errorf("set run provider batch id: %w", err)
	}
	return nil
}

// FinalizeRun marks a processing run terminal. The status predicate makes the
// write idempotent under concurrent settlement.
func (q *Queries) FinalizeRun(ctx context.Context, id uuid.UUID, status string) (int64, error) {
	query := `
		UPDATE payout_runs
		SET status = $2, completed_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	tag, err := q.db.Exec(ctx, query, id, status)
	if err != nil {
		return 0, fmt.Errorf("finalize run: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetStuckRuns returns processing runs older than the cutoff, for the
// reconciler to flag.
func (q *Queries) GetStuckRuns(ctx context.Context, cutoff time.Time) ([]models.PayoutRun, error) {
	query := `SELECT ` + payoutRunColumns + ` FROM payout_runs WHERE status = 'processing' AND started_at < $1`
	rows, err := q.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("get stuck runs: %w", err)
	}
	defer rows.Close()

	var out []models.PayoutRun
	for rows.Next() {
		r, err := scanPayoutRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type InsertPayoutItemParams struct {
	ID          uuid.UUID
	RunID       uuid.UUID
	RequestID   uuid.UUID
	Destination string
	AmountUSD   int64
	AmountCoins int64
}

func (q *Queries) InsertPayoutItem(ctx context.Context, arg InsertPayoutItemParams) (models.PayoutItem, error) {
	item := models.PayoutItem{
		ID:          arg.ID,
		RunID:       arg.RunID,
		RequestID:   arg.RequestID,
		Destination: arg.Destination,
		AmountUSD:   arg.AmountUSD,
		AmountCoins: arg.AmountCoins,
		Status:      "queued",
	}
	query := `
		INSERT INTO payout_items (id, run_id, request_id, destination, amount_usd_micros, amount_coins, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'queued', NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := q.db.QueryRow(ctx, query,
		arg.ID, arg.RunID, arg.RequestID, arg.Destination, arg.AmountUSD, arg.AmountCoins,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return models.PayoutItem{}, fmt.Errorf("insert payout item: %w", err)
	}
	return item, nil
}

const payoutItemColumns = `
	id, run_id, request_id, destination, amount_usd_micros, amount_coins,
	status, provider_item_id, failure_reason, created_at, updated_at
`

func scanPayoutItem(row interface{ Scan(dest ...any) error }) (models.PayoutItem, error) {
	var i models.PayoutItem
	err := row.Scan(
		&i.ID, &i.RunID, &i.RequestID, &i.Destination, &i.AmountUSD, &i.AmountCoins,
		&i.Status, &i.ProviderItemID, &i.FailureReason, &i.CreatedAt, &i.UpdatedAt,
	)
	return i, err
}

func (q *Queries) GetPayoutItem(ctx context.Context, id uuid.UUID) (models.PayoutItem, error) {
	query := `SELECT ` + payoutItemColumns + ` FROM payout_items WHERE id = $1`
	return scanPayoutItem(q.db.QueryRow(ctx, query, id))
}

func (q *Queries) GetPayoutItemByProviderItemID(ctx context.Context, providerItemID string) (models.PayoutItem, error) {
	query := `SELECT ` + payoutItemColumns + ` FROM payout_items WHERE provider_item_id = $1`
	return scanPayoutItem(q.db.QueryRow(ctx, query, providerItemID))
}

func (q *Queries) GetRunItems(ctx context.Context, runID uuid.UUID) ([]models.PayoutItem, error) {
	query := `SELECT ` + payoutItemColumns + ` FROM payout_items WHERE run_id = $1 ORDER BY created_at`
	rows, err := q.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get run items: %w", err)
	}
	defer rows.Close()

	var out []models.PayoutItem
	for rows.Next() {
		i, err := scanPayoutItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout item: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (q *Queries) SetItemProviderItemID(ctx context.Context, id uuid.UUID, providerItemID string) error {
	query := `UPDATE payout_items SET provider_item_id = $2, updated_at = NOW() WHERE id = $1`
	if _, err := q.db.Exec(ctx, query, id, providerItemID); err != nil {
		return fmt.Errorf("set item provider id: %w", err)
	}
	return nil
}

type SettlePayoutItemParams struct {
	ID            uuid.UUID
	ToStatus      string
	FailureReason *string
}

// SettlePayoutItem moves a queued item terminal. Zero rows means the item was
// already settled by another path (webhook vs reconciliation).
func (q *Queries) SettlePayoutItem(ctx context.Context, arg SettlePayoutItemParams) (int64, error) {
	query := `
		UPDATE payout_items
		SET status = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'queued'
	`
	tag, err := q.db.Exec(ctx, query, arg.ID, arg.ToStatus, arg.FailureReason)
	if err != nil {
		return 0, fmt.Errorf("settle payout item: %w", err)
	}
	return tag.RowsAffected(), nil
}

type RunItemStatusCounts struct {
	Queued   int64
	Success  int64
	Failed   int64
	Returned int64
}

func (q *Queries) GetRunItemStatusCounts(ctx context.Context, runID uuid.UUID) (RunItemStatusCounts, error) {
	var c RunItemStatusCounts
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'returned')
		FROM payout_items
		WHERE run_id = $1
	`
	if err := q.db.QueryRow(ctx, query, runID).Scan(&c.Queued, &c.Success, &c.Failed, &c.Returned); err != nil {
		return RunItemStatusCounts{}, fmt.Errorf("get run item counts: %w", err)
	}
	return c, nil
}
