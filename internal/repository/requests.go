package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/glowcast/payout-engine/internal/models"
	"github.com/google/uuid"
)

const payoutRequestColumns = `
	id, user_id, coins_requested, usd_amount_micros, method, destination, status,
	is_held, COALESCE(hold_reason, ''), hold_release_at, failure_reason,
	processed_by, processed_at, created_at, updated_at
`

func scanPayoutRequest(row interface{ Scan(dest ...any) error }) (models.PayoutRequest, error) {
	var r models.PayoutRequest
	err := row.Scan(
		&r.ID, &r.UserID, &r.CoinsRequested, &r.USDAmount, &r.Method, &r.Destination, &r.Status,
		&r.Hold.IsHeld, &r.Hold.Reason, &r.Hold.ReleaseAt, &r.FailureReason,
		&r.ProcessedBy, &r.ProcessedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

type InsertPayoutRequestParams struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	CoinsRequested int64
	USDAmount      int64
	Method         string
	Destination    []byte
}

func (q *Queries) InsertPayoutRequest(ctx context.Context, arg InsertPayoutRequestParams) (models.PayoutRequest, error) {
	query := `
		INSERT INTO payout_requests (id, user_id, coins_requested, usd_amount_micros, method, destination, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', NOW(), NOW())
		RETURNING ` + payoutRequestColumns
	r, err := scanPayoutRequest(q.db.QueryRow(ctx, query,
		arg.ID, arg.UserID, arg.CoinsRequested, arg.USDAmount, arg.Method, arg.Destination))
	if err != nil {
		return models.PayoutRequest{}, fmt.Errorf("insert payout request: %w", err)
	}
	return r, nil
}

func (q *Queries) GetPayoutRequest(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error) {
	query := `SELECT ` + payoutRequestColumns + ` FROM payout_requests WHERE id = $1`
	return scanPayoutRequest(q.db.QueryRow(ctx, query, id))
}

func (q *Queries) GetPayoutRequestForUpdate(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error) {
	query := `SELECT ` + payoutRequestColumns + ` FROM payout_requests WHERE id = $1 FOR UPDATE`
	return scanPayoutRequest(q.db.QueryRow(ctx, query, id))
}

func (q *Queries) ListPayoutRequestsByUser(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.PayoutRequest, error) {
	query := `
		SELECT ` + payoutRequestColumns + `
		FROM payout_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := q.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list payout requests: %w", err)
	}
	defer rows.Close()

	var out []models.PayoutRequest
	for rows.Next() {
		r, err := scanPayoutRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type UpdateRequestStatusParams struct {
	ID            uuid.UUID
	FromStatus    string
	ToStatus      string
	FailureReason *string
	ProcessedBy   *uuid.UUID
}

// UpdateRequestStatus moves a request between lifecycle states. The write is
// conditional on the current status so concurrent operators cannot double-apply
// an action; callers must treat zero rows as a stale read.
func (q *Queries) UpdateRequestStatus(ctx context.Context, arg UpdateRequestStatusParams) (int64, error) {
	query := `
		UPDATE payout_requests
		SET status = $3,
		    failure_reason = $4,
		    processed_by = COALESCE($5, processed_by),
		    processed_at = CASE WHEN $5::uuid IS NOT NULL THEN NOW() ELSE processed_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	tag, err := q.db.Exec(ctx, query, arg.ID, arg.FromStatus, arg.ToStatus, arg.FailureReason, arg.ProcessedBy)
	if err != nil {
		return 0, fmt.Errorf("update request status: %w", err)
	}
	return tag.RowsAffected(), nil
}

type SetRequestHoldParams struct {
	ID        uuid.UUID
	IsHeld    bool
	Reason    *string
	ReleaseAt *time.Time
}

func (q *Queries) SetRequestHold(ctx context.Context, arg SetRequestHoldParams) (int64, error) {
	query := `
		UPDATE payout_requests
		SET is_held = $2, hold_reason = $3, hold_release_at = $4, updated_at = NOW()
		WHERE id = $1 AND is_held = NOT $2
	`
	tag, err := q.db.Exec(ctx, query, arg.ID, arg.IsHeld, arg.Reason, arg.ReleaseAt)
	if err != nil {
		return 0, fmt.Errorf("set request hold: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReleaseExpiredHolds clears holds whose release time has passed.
func (q *Queries) ReleaseExpiredHolds(ctx context.Context) (int64, error) {
	query := `
		UPDATE payout_requests
		SET is_held = FALSE, hold_reason = NULL, hold_release_at = NULL, updated_at = NOW()
		WHERE is_held = TRUE AND hold_release_at IS NOT NULL AND hold_release_at <= NOW()
	`
	tag, err := q.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("release expired holds: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetEligibleRequests selects, per user, the oldest approved unheld request,
// skipping users who already have a request in flight. Rows are locked with
// SKIP LOCKED so concurrent batch starts never pick the same request twice.
func (q *Queries) GetEligibleRequests(ctx context.Context, limit int32) ([]models.PayoutRequest, error) {
	query := `
		SELECT ` + payoutRequestColumns + `
		FROM payout_requests pr
		WHERE pr.status = 'approved'
		  AND pr.is_held = FALSE
		  AND pr.created_at = (
			SELECT MIN(p2.created_at) FROM payout_requests p2
			WHERE p2.user_id = pr.user_id AND p2.status = 'approved' AND p2.is_held = FALSE
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM payout_requests p3
			WHERE p3.user_id = pr.user_id AND p3.status = 'processing'
		  )
		ORDER BY pr.created_at
		LIMIT $1
		FOR UPDATE OF pr SKIP LOCKED
	`
	rows, err := q.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get eligible requests: %w", err)
	}
	defer rows.Close()

	var out []models.PayoutRequest
	for rows.Next() {
		r, err := scanPayoutRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan eligible request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type QueueDepth struct {
	Pending  int64
	Approved int64
}

func (q *Queries) GetQueueDepth(ctx context.Context) (QueueDepth, error) {
	var d QueueDepth
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'approved' AND is_held = FALSE)
		FROM payout_requests
	`
	if err := q.db.QueryRow(ctx, query).Scan(&d.Pending, &d.Approved); err != nil {
		return QueueDepth{}, fmt.Errorf("get queue depth: %w", err)
	}
	return d, nil
}
