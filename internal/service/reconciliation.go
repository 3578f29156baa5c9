package service

import (
	"context"
	"time"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/observability"
	"github.com/glowcast/payout-engine/internal/outbox"
	"github.com/glowcast/payout-engine/internal/repository"
	"go.uber.org/zap"
)

// Reconciler runs the periodic consistency sweep. It detects, alerts and
// stops: a run stuck in processing means money may have left the system, so
// resolution is always a manual operator decision, never a guess.
type Reconciler struct {
	store          *repository.Store
	notifier       outbox.Notifier
	stuckRunWindow time.Duration
}

func NewReconciler(store *repository.Store, notifier outbox.Notifier, stuckRunWindow time.Duration) *Reconciler {
	return &Reconciler{store: store, notifier: notifier, stuckRunWindow: stuckRunWindow}
}

// Sweep checks ledger/balance equality, flags stuck runs and stale pending
// fulfillments, and releases date-expired holds.
func (r *Reconciler) Sweep(ctx context.Context) error {
	q := r.store.Queries()

	mismatches, err := q.GetLedgerBalanceMismatches(ctx)
	if err != nil {
		return err
	}
	for _, m := range mismatches {
		observability.LedgerImbalanceTotal.Inc()
		zap.L().Error("ledger imbalance detected",
			zap.String("user_id", m.UserID.String()),
			zap.String("coin_type", m.CoinType),
			zap.Int64("balance", m.BalanceVal),
			zap.Int64("ledger_total", m.LedgerTotal))
		if err := r.notifier.Critical(ctx, outbox.CriticalAlertArgs{
			AlertKind: outbox.KindLedgerImbalance,
			Message:   "balance diverged from ledger sum",
			Fields: map[string]any{
				"user_id":      m.UserID.String(),
				"coin_type":    m.CoinType,
				"balance":      m.BalanceVal,
				"ledger_total": m.LedgerTotal,
			},
		}); err != nil {
			return err
		}
	}

	stuck, err := q.GetStuckRuns(ctx, time.Now().UTC().Add(-r.stuckRunWindow))
	if err != nil {
		return err
	}
	for _, run := range stuck {
		zap.L().Warn("payout run stuck in processing",
			zap.String("run_id", run.ID.String()),
			zap.Time("started_at", run.StartedAt))
		if err := r.notifier.Critical(ctx, outbox.CriticalAlertArgs{
			AlertKind: outbox.KindStuckRun,
			Message:   "payout run has no provider acknowledgment past the window",
			Fields: map[string]any{
				"run_id":     run.ID.String(),
				"started_at": run.StartedAt.Format(time.RFC3339),
			},
		}); err != nil {
			return err
		}
	}

	stale, err := q.GetStalePendingFulfillments(ctx, time.Now().UTC().Add(-r.stuckRunWindow), 100)
	if err != nil {
		return err
	}
	for _, f := range stale {
		zap.L().Warn("gift card fulfillment pending past the window",
			zap.String("fulfillment_id", f.ID.String()),
			zap.String("amount", domain.USDString(f.AmountUSD)),
			zap.Time("created_at", f.CreatedAt))
		if err := r.notifier.Critical(ctx, outbox.CriticalAlertArgs{
			AlertKind: outbox.KindStaleFulfillment,
			Message:   "gift card fulfillment awaits operator resolution past the window",
			Fields: map[string]any{
				"fulfillment_id": f.ID.String(),
				"request_id":     f.RequestID.String(),
				"amount":         domain.USDString(f.AmountUSD),
				"created_at":     f.CreatedAt.Format(time.RFC3339),
			},
		}); err != nil {
			return err
		}
	}

	released, err := q.ReleaseExpiredHolds(ctx)
	if err != nil {
		return err
	}
	if released > 0 {
		zap.L().Info("released date-expired holds", zap.Int64("count", released))
	}
	return nil
}
