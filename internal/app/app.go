package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glowcast/payout-engine/internal/api"
	"github.com/glowcast/payout-engine/internal/api/middleware"
	"github.com/glowcast/payout-engine/internal/cache"
	"github.com/glowcast/payout-engine/internal/config"
	"github.com/glowcast/payout-engine/internal/db"
	"github.com/glowcast/payout-engine/internal/gateway"
	"github.com/glowcast/payout-engine/internal/idempotency"
	"github.com/glowcast/payout-engine/internal/observability"
	"github.com/glowcast/payout-engine/internal/outbox"
	"github.com/glowcast/payout-engine/internal/repository"
	"github.com/glowcast/payout-engine/internal/service"
	"github.com/glowcast/payout-engine/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the payout engine: database, redis, alert outbox, batch
// scheduler, reconciliation loop, and the HTTP API. Blocks until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Register()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.MigrateUp(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	store := repository.NewStore(pool)
	if err := store.DetectSchema(ctx); err != nil {
		return fmt.Errorf("verify schema: %w", err)
	}

	if err := outbox.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate alert outbox: %w", err)
	}
	riverClient, err := outbox.NewClient(pool, cfg.OpsAlertWebhookURL)
	if err != nil {
		return fmt.Errorf("init alert outbox: %w", err)
	}
	if err := riverClient.Start(ctx); err != nil {
		return fmt.Errorf("start alert outbox: %w", err)
	}
	notifier := outbox.NewRiverNotifier(riverClient)

	balanceCache := cache.NewBalanceCache(redisClient, cfg.BalanceCacheTTL)
	idemStore := idempotency.NewStore(redisClient, store, cfg.IdempotencyTTL)

	ledger := service.NewLedgerService(store, balanceCache)
	refunds := service.NewRefundEngine(ledger)
	depth := service.NewQueueDepthPublisher(store, redisClient)
	payouts := service.NewPayoutService(store, ledger, refunds, depth, cfg.MinPayoutCoins, cfg.CoinUSDRate)
	holds := service.NewHoldEngine(store, depth)
	thresholds := service.NewThresholdTracker(store)
	runs := service.NewRunService(store, gateway.NewMockGateway(), ledger, refunds, thresholds, notifier, depth, cfg.GiftCardProvider)
	fulfillments := service.NewFulfillmentService(store, runs, notifier)
	reconciler := service.NewReconciler(store, notifier, cfg.StuckRunWindow)

	scheduler, err := worker.NewBatchScheduler(runs, cfg.BatchCron)
	if err != nil {
		return fmt.Errorf("init batch scheduler: %w", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start batch scheduler: %w", err)
	}

	reconLoop := worker.NewReconciliationLoop(reconciler, cfg.ReconciliationInterval)
	go reconLoop.Run(ctx)
	logger.Info("reconciliation loop started", zap.Duration("interval", cfg.ReconciliationInterval))

	router := api.NewRouter(cfg, logger, pool, store, idemStore, redisClient, api.Services{
		Payouts:      payouts,
		Holds:        holds,
		Runs:         runs,
		Fulfillments: fulfillments,
		Thresholds:   thresholds,
		Ledger:       ledger,
		Depth:        depth,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping batch scheduler")
	if err := scheduler.Stop(); err != nil {
		logger.Error("batch scheduler shutdown failed", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		logger.Error("alert outbox shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
