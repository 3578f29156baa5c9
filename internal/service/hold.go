package service

import (
	"context"
	"fmt"
	"time"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/repository"
	"github.com/google/uuid"
)

// HoldEngine pauses and resumes payout requests. A hold never touches the
// status column, so a released request resumes exactly where it left off.
type HoldEngine struct {
	store *repository.Store
	depth *QueueDepthPublisher
}

func NewHoldEngine(store *repository.Store, depth *QueueDepthPublisher) *HoldEngine {
	return &HoldEngine{store: store, depth: depth}
}

// Hold flags a pending request. releaseAt, when set, lets the reconciliation
// sweep clear the hold automatically.
func (e *HoldEngine) Hold(ctx context.Context, id uuid.UUID, actor uuid.UUID, reason string, releaseAt *time.Time) error {
	if reason == "" {
		return domain.Validationf("reason", "is required")
	}
	err := e.store.RunInTx(ctx, func(q *repository.Queries) error {
		req, err := q.GetPayoutRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != domain.RequestStatusPending {
			return fmt.Errorf("hold on %s request: %w", req.Status, domain.ErrInvalidTransition)
		}
		rows, err := q.SetRequestHold(ctx, repository.SetRequestHoldParams{
			ID: id, IsHeld: true, Reason: &reason, ReleaseAt: releaseAt,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("request %s already held: %w", id, domain.ErrStaleState)
		}
		return writeAudit(ctx, q, "payout_request", id, &actor, "hold", nil, nil,
			map[string]any{"reason": reason, "release_at": releaseAt})
	})
	if err != nil {
		return err
	}
	e.depth.Publish(ctx)
	return nil
}

// Release clears the hold flag.
func (e *HoldEngine) Release(ctx context.Context, id uuid.UUID, actor uuid.UUID) error {
	err := e.store.RunInTx(ctx, func(q *repository.Queries) error {
		if _, err := q.GetPayoutRequestForUpdate(ctx, id); err != nil {
			return err
		}
		rows, err := q.SetRequestHold(ctx, repository.SetRequestHoldParams{ID: id, IsHeld: false})
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("request %s not held: %w", id, domain.ErrStaleState)
		}
		return writeAudit(ctx, q, "payout_request", id, &actor, "release", nil, nil, nil)
	})
	if err != nil {
		return err
	}
	e.depth.Publish(ctx)
	return nil
}
