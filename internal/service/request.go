package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/models"
	"github.com/glowcast/payout-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const cancelledByUser = "cancelled_by_user"

// PayoutService drives a payout request through its lifecycle. Submission
// reserves coins; denial and cancellation refund them in the same transaction
// as the status write.
type PayoutService struct {
	store    *repository.Store
	ledger   *LedgerService
	refunds  *RefundEngine
	depth    *QueueDepthPublisher
	minCoins int64
	rate     decimal.Decimal
}

func NewPayoutService(store *repository.Store, ledger *LedgerService, refunds *RefundEngine, depth *QueueDepthPublisher, minCoins int64, rate decimal.Decimal) *PayoutService {
	return &PayoutService{
		store:    store,
		ledger:   ledger,
		refunds:  refunds,
		depth:    depth,
		minCoins: minCoins,
		rate:     rate,
	}
}

type SubmitPayoutParams struct {
	UserID      uuid.UUID
	Coins       int64
	Method      string
	Destination json.RawMessage
}

// Submit validates the ask, reserves the coins with a ledger debit and
// inserts the pending request, all in one transaction.
func (s *PayoutService) Submit(ctx context.Context, arg SubmitPayoutParams) (models.PayoutRequest, error) {
	if arg.Coins < s.minCoins {
		return models.PayoutRequest{}, domain.Validationf("coins", "minimum payout is %d coins", s.minCoins)
	}
	if arg.Method != domain.MethodDirect && arg.Method != domain.MethodGiftCard {
		return models.PayoutRequest{}, domain.Validationf("method", "must be %q or %q", domain.MethodDirect, domain.MethodGiftCard)
	}
	if len(arg.Destination) == 0 {
		return models.PayoutRequest{}, domain.Validationf("destination", "is required")
	}

	requestID := uuid.New()
	usdAmount := domain.CoinsToUSDMicros(arg.Coins, s.rate)

	var req models.PayoutRequest
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		if _, err := s.ledger.DebitPaidTx(ctx, q, arg.UserID, arg.Coins, domain.ReasonPayoutReserve, &requestID); err != nil {
			return err
		}
		var err error
		req, err = q.InsertPayoutRequest(ctx, repository.InsertPayoutRequestParams{
			ID:             requestID,
			UserID:         arg.UserID,
			CoinsRequested: arg.Coins,
			USDAmount:      usdAmount,
			Method:         arg.Method,
			Destination:    arg.Destination,
		})
		if err != nil {
			return err
		}
		return writeAudit(ctx, q, "payout_request", requestID, &arg.UserID, "submit", nil, strPtr(domain.RequestStatusPending),
			map[string]any{"coins": arg.Coins, "usd_micros": usdAmount, "method": arg.Method})
	})
	if err != nil {
		return models.PayoutRequest{}, err
	}

	s.ledger.InvalidateBalance(ctx, arg.UserID)
	s.depth.Publish(ctx)
	zap.L().Info("payout request submitted",
		zap.String("request_id", requestID.String()),
		zap.String("user_id", arg.UserID.String()),
		zap.Int64("coins", arg.Coins))
	return req, nil
}

// Get returns a request by id.
func (s *PayoutService) Get(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error) {
	req, err := s.store.Queries().GetPayoutRequest(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PayoutRequest{}, err
	}
	if err != nil {
		return models.PayoutRequest{}, fmt.Errorf("get payout request: %w", err)
	}
	return req, nil
}

// ListByUser returns a user's requests, newest first.
func (s *PayoutService) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.PayoutRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.Queries().ListPayoutRequestsByUser(ctx, userID, limit, offset)
}

// Approve moves pending to approved. No balance change: the coins were
// reserved at submission.
func (s *PayoutService) Approve(ctx context.Context, id uuid.UUID, actor uuid.UUID) error {
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		req, err := q.GetPayoutRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Hold.IsHeld {
			return domain.Validationf("request", "is held: %s", req.Hold.Reason)
		}
		if err := transitionRequest(ctx, q, id, domain.RequestStatusPending, domain.RequestStatusApproved, nil, &actor); err != nil {
			return err
		}
		return writeAudit(ctx, q, "payout_request", id, &actor, "approve",
			strPtr(domain.RequestStatusPending), strPtr(domain.RequestStatusApproved), nil)
	})
	if err != nil {
		return err
	}
	s.depth.Publish(ctx)
	return nil
}

// Deny moves pending to denied and refunds the reservation atomically.
func (s *PayoutService) Deny(ctx context.Context, id uuid.UUID, actor uuid.UUID, reason string) error {
	if reason == "" {
		return domain.Validationf("reason", "is required")
	}
	var userID uuid.UUID
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		req, err := q.GetPayoutRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		userID = req.UserID
		if err := transitionRequest(ctx, q, id, domain.RequestStatusPending, domain.RequestStatusDenied, &reason, &actor); err != nil {
			return err
		}
		if _, err := s.refunds.RefundTx(ctx, q, req); err != nil {
			return err
		}
		return writeAudit(ctx, q, "payout_request", id, &actor, "deny",
			strPtr(domain.RequestStatusPending), strPtr(domain.RequestStatusDenied),
			map[string]any{"reason": reason, "refunded_coins": req.CoinsRequested})
	})
	if err != nil {
		return err
	}
	s.ledger.InvalidateBalance(ctx, userID)
	s.depth.Publish(ctx)
	return nil
}

// Cancel lets the requester withdraw a request that has not been batched yet.
// It lands in denied with a canonical reason and refunds like a denial.
func (s *PayoutService) Cancel(ctx context.Context, id uuid.UUID, requester uuid.UUID) error {
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		req, err := q.GetPayoutRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.UserID != requester {
			return domain.Validationf("request", "does not belong to the caller")
		}
		reason := cancelledByUser
		if err := transitionRequest(ctx, q, id, domain.RequestStatusPending, domain.RequestStatusDenied, &reason, &requester); err != nil {
			return err
		}
		if _, err := s.refunds.RefundTx(ctx, q, req); err != nil {
			return err
		}
		return writeAudit(ctx, q, "payout_request", id, &requester, "cancel",
			strPtr(domain.RequestStatusPending), strPtr(domain.RequestStatusDenied),
			map[string]any{"refunded_coins": req.CoinsRequested})
	})
	if err != nil {
		return err
	}
	s.ledger.InvalidateBalance(ctx, requester)
	s.depth.Publish(ctx)
	return nil
}

// Requeue re-enters a failed request into the queue. The failure refund has
// already restored the coins, so the reservation is taken again; a user who
// spent them in the meantime gets InsufficientBalance.
func (s *PayoutService) Requeue(ctx context.Context, id uuid.UUID, actor uuid.UUID) error {
	var userID uuid.UUID
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		req, err := q.GetPayoutRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		userID = req.UserID
		if err := transitionRequest(ctx, q, id, domain.RequestStatusFailed, domain.RequestStatusPending, nil, &actor); err != nil {
			return err
		}
		if _, err := s.ledger.DebitPaidTx(ctx, q, req.UserID, req.CoinsRequested, domain.ReasonPayoutReserve, &req.ID); err != nil {
			return err
		}
		return writeAudit(ctx, q, "payout_request", id, &actor, "requeue",
			strPtr(domain.RequestStatusFailed), strPtr(domain.RequestStatusPending),
			map[string]any{"reserved_coins": req.CoinsRequested})
	})
	if err != nil {
		return err
	}
	s.ledger.InvalidateBalance(ctx, userID)
	s.depth.Publish(ctx)
	return nil
}
