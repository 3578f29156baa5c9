package worker

import (
	"context"
	"time"

	"github.com/glowcast/payout-engine/internal/service"
	"go.uber.org/zap"
)

// ReconciliationLoop runs the consistency sweep on a fixed interval until the
// context is cancelled.
type ReconciliationLoop struct {
	reconciler *service.Reconciler
	interval   time.Duration
}

func NewReconciliationLoop(reconciler *service.Reconciler, interval time.Duration) *ReconciliationLoop {
	return &ReconciliationLoop{reconciler: reconciler, interval: interval}
}

func (l *ReconciliationLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	zap.L().Info("reconciliation loop started", zap.Duration("interval", l.interval))
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reconciliation loop stopped")
			return
		case <-ticker.C:
			if err := l.reconciler.Sweep(ctx); err != nil {
				zap.L().Error("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}
