package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/gateway"
	"github.com/glowcast/payout-engine/internal/models"
	"github.com/glowcast/payout-engine/internal/observability"
	"github.com/glowcast/payout-engine/internal/outbox"
	"github.com/glowcast/payout-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const maxRunSize = 500

// RunService groups eligible requests into payout runs and settles provider
// results back onto individual requests.
type RunService struct {
	store        *repository.Store
	gateway      gateway.BatchGateway
	ledger       *LedgerService
	refunds      *RefundEngine
	thresholds   *ThresholdTracker
	notifier     outbox.Notifier
	depth        *QueueDepthPublisher
	giftProvider string
}

func NewRunService(store *repository.Store, gw gateway.BatchGateway, ledger *LedgerService, refunds *RefundEngine, thresholds *ThresholdTracker, notifier outbox.Notifier, depth *QueueDepthPublisher, giftProvider string) *RunService {
	return &RunService{
		store:        store,
		gateway:      gw,
		ledger:       ledger,
		refunds:      refunds,
		thresholds:   thresholds,
		notifier:     notifier,
		depth:        depth,
		giftProvider: giftProvider,
	}
}

func itemKey(runID, requestID uuid.UUID) string {
	return runID.String() + ":" + requestID.String()
}

// destinationString flattens the submitted destination document to the
// provider's single-line form.
func destinationString(raw []byte) string {
	var obj struct {
		Account string `json:"account"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Account != "" {
		return obj.Account
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	return string(raw)
}

// StartRun selects every approved, unheld request (one per user, oldest
// first), freezes them into a new run, commits, then dispatches. Items are
// durable before the provider call so a crash mid-dispatch leaves
// recoverable state. Returns ErrNoEligibleRequests instead of an empty run.
func (s *RunService) StartRun(ctx context.Context) (models.PayoutRun, error) {
	var run models.PayoutRun
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		eligible, err := q.GetEligibleRequests(ctx, maxRunSize)
		if err != nil {
			return err
		}
		if len(eligible) == 0 {
			return domain.ErrNoEligibleRequests
		}

		var totalCoins, totalUSD int64
		for _, req := range eligible {
			totalCoins += req.CoinsRequested
			totalUSD += req.USDAmount
		}
		run, err = q.InsertPayoutRun(ctx, repository.InsertPayoutRunParams{
			ID:           uuid.New(),
			RunDate:      time.Now().UTC(),
			TotalPayouts: int32(len(eligible)),
			TotalCoins:   totalCoins,
			TotalUSD:     totalUSD,
		})
		if err != nil {
			return err
		}

		for _, req := range eligible {
			if err := transitionRequest(ctx, q, req.ID, domain.RequestStatusApproved, domain.RequestStatusProcessing, nil, nil); err != nil {
				return err
			}
			item, err := q.InsertPayoutItem(ctx, repository.InsertPayoutItemParams{
				ID:          uuid.New(),
				RunID:       run.ID,
				RequestID:   req.ID,
				Destination: destinationString(req.Destination),
				AmountUSD:   req.USDAmount,
				AmountCoins: req.CoinsRequested,
			})
			if err != nil {
				return err
			}
			if req.Method == domain.MethodGiftCard {
				// Gift cards never hit the provider: the item waits for an
				// operator to resolve the staged fulfillment.
				if _, err := q.InsertFulfillment(ctx, repository.InsertFulfillmentParams{
					ID:        uuid.New(),
					RequestID: req.ID,
					ItemID:    item.ID,
					Provider:  s.giftProvider,
					AmountUSD: req.USDAmount,
				}); err != nil {
					return err
				}
			}
		}
		return writeAudit(ctx, q, "payout_run", run.ID, nil, "start", nil, strPtr(domain.RunStatusProcessing),
			map[string]any{"total_payouts": len(eligible), "total_usd_micros": totalUSD})
	})
	if err != nil {
		return models.PayoutRun{}, err
	}

	s.depth.Publish(ctx)
	zap.L().Info("payout run started",
		zap.String("run_id", run.ID.String()),
		zap.Int32("total_payouts", run.TotalPayouts),
		zap.Int64("total_usd_micros", run.TotalUSD))

	if err := s.Dispatch(ctx, run.ID); err != nil {
		// The run stays processing with its items queued; money may already
		// have left, so nothing is rolled back. Retry or reconciliation
		// resolves it.
		zap.L().Error("run dispatch failed", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	return s.store.Queries().GetPayoutRun(ctx, run.ID)
}

// Dispatch submits the run's queued direct items to the provider and applies
// the synchronous results. Safe to call again: the batch key is the run id,
// which the provider deduplicates on, and settled items are skipped.
func (s *RunService) Dispatch(ctx context.Context, runID uuid.UUID) error {
	q := s.store.Queries()
	run, err := q.GetPayoutRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get payout run: %w", err)
	}
	items, err := q.GetRunItems(ctx, runID)
	if err != nil {
		return err
	}

	var batch []gateway.BatchItem
	byKey := make(map[string]models.PayoutItem)
	for _, item := range items {
		if item.Status != domain.ItemStatusQueued {
			continue
		}
		req, err := q.GetPayoutRequest(ctx, item.RequestID)
		if err != nil {
			return fmt.Errorf("get request for item: %w", err)
		}
		if req.Method != domain.MethodDirect {
			continue
		}
		key := itemKey(runID, item.RequestID)
		byKey[key] = item
		batch = append(batch, gateway.BatchItem{
			ItemKey:     key,
			Destination: item.Destination,
			AmountUSD:   item.AmountUSD,
			Currency:    "USD",
		})
	}
	if len(batch) == 0 {
		return s.FinalizeRunIfDone(ctx, runID)
	}

	providerBatchID, results, err := s.gateway.SubmitBatch(ctx, runID.String(), batch)
	if err != nil {
		alertErr := s.notifier.Critical(ctx, outbox.CriticalAlertArgs{
			AlertKind: outbox.KindBatchDispatch,
			Message:   "provider batch submission failed; items left queued for retry",
			Fields:    map[string]any{"run_id": runID.String(), "error": err.Error()},
		})
		if alertErr != nil {
			zap.L().Error("alert enqueue failed", zap.Error(alertErr))
		}
		return fmt.Errorf("submit batch: %w", err)
	}
	if run.ProviderBatchID == nil {
		if err := q.SetRunProviderBatchID(ctx, runID, providerBatchID); err != nil {
			return err
		}
	}

	for _, res := range results {
		item, ok := byKey[res.ItemKey]
		if !ok {
			zap.L().Warn("provider result for unknown item key", zap.String("item_key", res.ItemKey))
			continue
		}
		if err := s.settleItem(ctx, item.ID, res); err != nil {
			return err
		}
	}
	return s.FinalizeRunIfDone(ctx, runID)
}

// settleItem applies one provider verdict. Pending verdicts leave the item
// queued for the webhook to resolve later.
func (s *RunService) settleItem(ctx context.Context, itemID uuid.UUID, res gateway.ItemResult) error {
	if res.ProviderItemID != "" {
		if err := s.store.Queries().SetItemProviderItemID(ctx, itemID, res.ProviderItemID); err != nil {
			return err
		}
	}
	switch res.Status {
	case gateway.ResultSuccess:
		return s.SettleItemSuccess(ctx, itemID)
	case gateway.ResultFailed:
		return s.SettleItemFailure(ctx, itemID, domain.ItemStatusFailed, res.FailureCode)
	case gateway.ResultReturned:
		return s.SettleItemFailure(ctx, itemID, domain.ItemStatusReturned, res.FailureCode)
	case gateway.ResultPending:
		return nil
	default:
		zap.L().Warn("unknown provider item status", zap.String("status", res.Status))
		return nil
	}
}

// SettleItemSuccess marks the item paid, fulfills the request and records the
// threshold contribution, atomically. Already-settled items are a no-op so
// webhook replays are harmless.
func (s *RunService) SettleItemSuccess(ctx context.Context, itemID uuid.UUID) error {
	settled := false
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		rows, err := q.SettlePayoutItem(ctx, repository.SettlePayoutItemParams{
			ID: itemID, ToStatus: domain.ItemStatusSuccess,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}
		settled = true

		item, err := q.GetPayoutItem(ctx, itemID)
		if err != nil {
			return err
		}
		req, err := q.GetPayoutRequestForUpdate(ctx, item.RequestID)
		if err != nil {
			return err
		}
		if err := transitionRequest(ctx, q, req.ID, domain.RequestStatusProcessing, domain.RequestStatusFulfilled, nil, nil); err != nil {
			return err
		}
		year := int32(time.Now().UTC().Year())
		if _, err := s.thresholds.RecordSuccessTx(ctx, q, req.UserID, year, item.AmountUSD); err != nil {
			return err
		}
		return writeAudit(ctx, q, "payout_request", req.ID, nil, "settle_success",
			strPtr(domain.RequestStatusProcessing), strPtr(domain.RequestStatusFulfilled),
			map[string]any{"item_id": itemID.String(), "usd_micros": item.AmountUSD})
	})
	if err != nil {
		return err
	}
	if settled {
		observability.DispatchItemsTotal.WithLabelValues(domain.ItemStatusSuccess).Inc()
	}
	return nil
}

// SettleItemFailure marks the item failed or returned, fails the request and
// refunds the reservation, atomically. The failure is surfaced to operators
// through the alert outbox, not to the user: their coins are restored.
func (s *RunService) SettleItemFailure(ctx context.Context, itemID uuid.UUID, itemStatus, failureCode string) error {
	settled := false
	var userID uuid.UUID
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		reason := failureCode
		if reason == "" {
			reason = "provider_rejected"
		}
		rows, err := q.SettlePayoutItem(ctx, repository.SettlePayoutItemParams{
			ID: itemID, ToStatus: itemStatus, FailureReason: &reason,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}
		settled = true

		item, err := q.GetPayoutItem(ctx, itemID)
		if err != nil {
			return err
		}
		req, err := q.GetPayoutRequestForUpdate(ctx, item.RequestID)
		if err != nil {
			return err
		}
		userID = req.UserID
		if err := transitionRequest(ctx, q, req.ID, domain.RequestStatusProcessing, domain.RequestStatusFailed, &reason, nil); err != nil {
			return err
		}
		if _, err := s.refunds.RefundTx(ctx, q, req); err != nil {
			return err
		}
		if tx := q.Tx(); tx != nil {
			if err := s.notifier.CriticalTx(ctx, tx, outbox.CriticalAlertArgs{
				AlertKind: outbox.KindBatchDispatch,
				Message:   "payout item failed and was refunded",
				Fields: map[string]any{
					"item_id":      itemID.String(),
					"request_id":   req.ID.String(),
					"failure_code": reason,
				},
			}); err != nil {
				return err
			}
		}
		return writeAudit(ctx, q, "payout_request", req.ID, nil, "settle_failure",
			strPtr(domain.RequestStatusProcessing), strPtr(domain.RequestStatusFailed),
			map[string]any{"item_id": itemID.String(), "failure_code": reason, "refunded_coins": req.CoinsRequested})
	})
	if err != nil {
		return err
	}
	if settled {
		observability.DispatchItemsTotal.WithLabelValues(itemStatus).Inc()
		s.ledger.InvalidateBalance(ctx, userID)
	}
	return nil
}

// FinalizeRunIfDone closes the run once no item is queued: completed iff
// every item succeeded, failed otherwise. Partial success is recorded per
// item; the run-level failed flag means "needs operator attention".
func (s *RunService) FinalizeRunIfDone(ctx context.Context, runID uuid.UUID) error {
	q := s.store.Queries()
	counts, err := q.GetRunItemStatusCounts(ctx, runID)
	if err != nil {
		return err
	}
	if counts.Queued > 0 {
		return nil
	}
	status := domain.RunStatusCompleted
	if counts.Failed > 0 || counts.Returned > 0 {
		status = domain.RunStatusFailed
	}
	rows, err := q.FinalizeRun(ctx, runID, status)
	if err != nil {
		return err
	}
	if rows > 0 {
		observability.PayoutRunsTotal.WithLabelValues(status).Inc()
		zap.L().Info("payout run finalized",
			zap.String("run_id", runID.String()),
			zap.String("status", status),
			zap.Int64("success", counts.Success),
			zap.Int64("failed", counts.Failed),
			zap.Int64("returned", counts.Returned))
	}
	return nil
}

// Retry re-dispatches whatever is still queued in a non-completed run. The
// stable batch key makes the provider replay prior results instead of paying
// twice.
func (s *RunService) Retry(ctx context.Context, runID uuid.UUID) (models.PayoutRun, error) {
	run, err := s.store.Queries().GetPayoutRun(ctx, runID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PayoutRun{}, err
	}
	if err != nil {
		return models.PayoutRun{}, fmt.Errorf("get payout run: %w", err)
	}
	if run.Status == domain.RunStatusCompleted {
		return models.PayoutRun{}, domain.Validationf("run", "already completed")
	}
	if err := s.Dispatch(ctx, runID); err != nil {
		return models.PayoutRun{}, err
	}
	return s.store.Queries().GetPayoutRun(ctx, runID)
}

// Get returns a run with its items.
func (s *RunService) Get(ctx context.Context, runID uuid.UUID) (models.PayoutRun, []models.PayoutItem, error) {
	run, err := s.store.Queries().GetPayoutRun(ctx, runID)
	if err != nil {
		return models.PayoutRun{}, nil, err
	}
	items, err := s.store.Queries().GetRunItems(ctx, runID)
	if err != nil {
		return models.PayoutRun{}, nil, err
	}
	return run, items, nil
}

// List returns recent runs, newest first.
func (s *RunService) List(ctx context.Context, limit, offset int32) ([]models.PayoutRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.Queries().ListPayoutRuns(ctx, limit, offset)
}

// ProviderItemResult is one entry of a provider callback.
type ProviderItemResult struct {
	ProviderItemID string `json:"provider_item_id"`
	Status         string `json:"status"`
	FailureCode    string `json:"failure_code,omitempty"`
}

// ApplyProviderResults settles webhook results against a run. Unknown ids and
// already-terminal items are skipped, so the callback is re-playable.
func (s *RunService) ApplyProviderResults(ctx context.Context, providerBatchID string, results []ProviderItemResult) error {
	run, err := s.store.Queries().GetPayoutRunByProviderBatchID(ctx, providerBatchID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Validationf("provider_batch_id", "unknown batch %q", providerBatchID)
	}
	if err != nil {
		return fmt.Errorf("get run by provider batch: %w", err)
	}

	for _, res := range results {
		item, err := s.store.Queries().GetPayoutItemByProviderItemID(ctx, res.ProviderItemID)
		if errors.Is(err, pgx.ErrNoRows) {
			zap.L().Warn("callback for unknown provider item",
				zap.String("provider_item_id", res.ProviderItemID),
				zap.String("provider_batch_id", providerBatchID))
			continue
		}
		if err != nil {
			return err
		}
		if err := s.settleItem(ctx, item.ID, gateway.ItemResult{
			ProviderItemID: res.ProviderItemID,
			Status:         res.Status,
			FailureCode:    res.FailureCode,
		}); err != nil {
			return err
		}
	}

	if err := s.FinalizeRunIfDone(ctx, run.ID); err != nil {
		return err
	}
	s.depth.Publish(ctx)
	return nil
}
