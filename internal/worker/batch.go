// Package worker hosts the engine's background loops: the cron batch trigger
// and the reconciliation sweep.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-co-op/gocron/v2"
	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/service"
	"go.uber.org/zap"
)

// BatchScheduler fires payout runs on a cron cadence, Monday and Friday
// mornings by default. Manual POST /v1/payout-runs hits the same entry point.
type BatchScheduler struct {
	scheduler gocron.Scheduler
	runs      *service.RunService
	cronExpr  string
}

func NewBatchScheduler(runs *service.RunService, cronExpr string) (*BatchScheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	return &BatchScheduler{scheduler: scheduler, runs: runs, cronExpr: cronExpr}, nil
}

func (b *BatchScheduler) Start(ctx context.Context) error {
	_, err := b.scheduler.NewJob(
		gocron.CronJob(b.cronExpr, false),
		gocron.NewTask(func() { b.trigger(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule batch job %q: %w", b.cronExpr, err)
	}
	b.scheduler.Start()
	zap.L().Info("batch scheduler started", zap.String("cron", b.cronExpr))
	return nil
}

func (b *BatchScheduler) trigger(ctx context.Context) {
	run, err := b.runs.StartRun(ctx)
	if errors.Is(err, domain.ErrNoEligibleRequests) {
		zap.L().Info("scheduled batch trigger: nothing eligible")
		return
	}
	if err != nil {
		zap.L().Error("scheduled batch run failed", zap.Error(err))
		return
	}
	zap.L().Info("scheduled batch run finished",
		zap.String("run_id", run.ID.String()),
		zap.String("status", run.Status))
}

func (b *BatchScheduler) Stop() error {
	return b.scheduler.Shutdown()
}
