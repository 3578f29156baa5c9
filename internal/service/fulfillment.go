package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/models"
	"github.com/glowcast/payout-engine/internal/observability"
	"github.com/glowcast/payout-engine/internal/outbox"
	"github.com/glowcast/payout-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// FulfillmentService resolves staged gift-card fulfillments. Resolution is
// manual and out-of-band: an operator enters the purchased code, or records
// the failure with a mandatory reason.
type FulfillmentService struct {
	store    *repository.Store
	runs     *RunService
	notifier outbox.Notifier
}

func NewFulfillmentService(store *repository.Store, runs *RunService, notifier outbox.Notifier) *FulfillmentService {
	return &FulfillmentService{store: store, runs: runs, notifier: notifier}
}

func (s *FulfillmentService) Get(ctx context.Context, id uuid.UUID) (models.GiftCardFulfillment, error) {
	f, err := s.store.Queries().GetFulfillment(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.GiftCardFulfillment{}, err
	}
	if err != nil {
		return models.GiftCardFulfillment{}, fmt.Errorf("get fulfillment: %w", err)
	}
	return f, nil
}

type ResolveFulfillmentParams struct {
	ID            uuid.UUID
	Status        string
	Code          string
	FailureReason string
	Actor         uuid.UUID
}

// Resolve completes or fails a pending fulfillment and settles the backing
// payout item in the same transaction. A failed fulfillment refunds the
// request and raises a critical alert, never silently.
func (s *FulfillmentService) Resolve(ctx context.Context, arg ResolveFulfillmentParams) (models.GiftCardFulfillment, error) {
	switch arg.Status {
	case domain.FulfillmentStatusCompleted:
		if arg.Code == "" {
			return models.GiftCardFulfillment{}, domain.Validationf("code", "is required when status is completed")
		}
	case domain.FulfillmentStatusFailed:
		if arg.FailureReason == "" {
			return models.GiftCardFulfillment{}, domain.Validationf("failure_reason", "is required when status is failed")
		}
	default:
		return models.GiftCardFulfillment{}, domain.Validationf("status", "must be %q or %q",
			domain.FulfillmentStatusCompleted, domain.FulfillmentStatusFailed)
	}

	var itemID uuid.UUID
	var replay bool
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		f, err := q.GetFulfillmentForUpdate(ctx, arg.ID)
		if err != nil {
			return err
		}
		itemID = f.ItemID

		if f.Status != domain.FulfillmentStatusPending {
			// A re-PATCH with the same verdict is a replay, not a conflict.
			// The item settlement below still runs, so a crash between the
			// resolution write and the settlement write is repaired here.
			if f.Status == arg.Status {
				replay = true
				return nil
			}
			return fmt.Errorf("fulfillment %s already resolved as %s: %w", arg.ID, f.Status, domain.ErrStaleState)
		}

		params := repository.ResolveFulfillmentParams{ID: arg.ID, Status: arg.Status}
		if arg.Status == domain.FulfillmentStatusCompleted {
			params.Code = &arg.Code
		} else {
			params.FailureReason = &arg.FailureReason
		}
		rows, err := q.ResolveFulfillment(ctx, params)
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("fulfillment %s already resolved: %w", arg.ID, domain.ErrStaleState)
		}
		if arg.Status == domain.FulfillmentStatusFailed {
			if tx := q.Tx(); tx != nil {
				if err := s.notifier.CriticalTx(ctx, tx, outbox.CriticalAlertArgs{
					AlertKind: outbox.KindFulfillmentFailed,
					Message:   "gift card fulfillment failed",
					Fields: map[string]any{
						"fulfillment_id": arg.ID.String(),
						"request_id":     f.RequestID.String(),
						"reason":         arg.FailureReason,
					},
				}); err != nil {
					return err
				}
			}
		}
		return writeAudit(ctx, q, "gift_card_fulfillment", arg.ID, &arg.Actor, "resolve",
			strPtr(domain.FulfillmentStatusPending), strPtr(arg.Status),
			map[string]any{"failure_reason": arg.FailureReason})
	})
	if err != nil {
		return models.GiftCardFulfillment{}, err
	}

	// Settle the backing item outside the resolution transaction. The
	// settlement is a status CAS, so it no-ops when already applied and runs
	// on replays to close the crash window between the two writes.
	if arg.Status == domain.FulfillmentStatusCompleted {
		err = s.runs.SettleItemSuccess(ctx, itemID)
	} else {
		err = s.runs.SettleItemFailure(ctx, itemID, domain.ItemStatusFailed, "gift_card_fulfillment_failed")
	}
	if err != nil {
		return models.GiftCardFulfillment{}, err
	}

	item, err := s.store.Queries().GetPayoutItem(ctx, itemID)
	if err == nil {
		if err := s.runs.FinalizeRunIfDone(ctx, item.RunID); err != nil {
			return models.GiftCardFulfillment{}, err
		}
	}
	if !replay {
		observability.DispatchItemsTotal.WithLabelValues("gift_card_" + arg.Status).Inc()
	}
	return s.store.Queries().GetFulfillment(ctx, arg.ID)
}
