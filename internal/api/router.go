package api

import (
	"net/http"

	"github.com/glowcast/payout-engine/internal/api/handler"
	"github.com/glowcast/payout-engine/internal/api/middleware"
	"github.com/glowcast/payout-engine/internal/api/spec"
	"github.com/glowcast/payout-engine/internal/config"
	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/idempotency"
	"github.com/glowcast/payout-engine/internal/repository"
	"github.com/glowcast/payout-engine/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services bundles the wired engine services the router exposes.
type Services struct {
	Payouts      *service.PayoutService
	Holds        *service.HoldEngine
	Runs         *service.RunService
	Fulfillments *service.FulfillmentService
	Thresholds   *service.ThresholdTracker
	Ledger       *service.LedgerService
	Depth        *service.QueueDepthPublisher
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	store     *repository.Store
	idemStore *idempotency.Store
	redis     *redis.Client
	services  Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, store *repository.Store, idemStore *idempotency.Store, redisClient *redis.Client, services Services) *Router {
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		store:     store,
		idemStore: idemStore,
		redis:     redisClient,
		services:  services,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	// Handlers
	authHandler := handler.NewAuthHandler(api.store)
	userHandler := handler.NewUserHandler(api.store, api.services.Ledger)
	payoutHandler := handler.NewPayoutHandler(api.services.Payouts, api.services.Holds)
	runHandler := handler.NewRunHandler(api.services.Runs)
	fulfillmentHandler := handler.NewFulfillmentHandler(api.services.Fulfillments)
	thresholdHandler := handler.NewThresholdHandler(api.services.Thresholds)
	webhookHandler := handler.NewWebhookHandler(api.services.Runs, api.cfg.WebhookHMACKey, api.cfg.WebhookSkipSignature)
	opsHandler := handler.NewOpsHandler(api.services.Depth)
	var redisCmd redis.Cmdable
	if api.redis != nil {
		redisCmd = api.redis
	}
	healthHandler := handler.NewHealthHandler(api.db, redisCmd)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/auth/login", authHandler.Login)
		r.Post("/v1/users", userHandler.Create)
		r.Post("/v1/webhooks/provider", webhookHandler.HandleProviderCallback)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		// Creator surface
		r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
			Post("/v1/payouts", payoutHandler.Submit)
		r.Get("/v1/payouts", payoutHandler.List)
		r.Get("/v1/payouts/{id}", payoutHandler.Get)
		r.Post("/v1/payouts/{id}/cancel", payoutHandler.Cancel)
		r.Get("/v1/users/{id}/balance", userHandler.Balance)
		r.Get("/v1/users/{id}/ledger", userHandler.Ledger)

		// Operator surface
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.RoleOperator))

			r.Post("/v1/users/{id}/credit", userHandler.Credit)
			r.Post("/v1/payouts/{id}/approve", payoutHandler.Approve)
			r.Post("/v1/payouts/{id}/deny", payoutHandler.Deny)
			r.Post("/v1/payouts/{id}/hold", payoutHandler.Hold)
			r.Post("/v1/payouts/{id}/release", payoutHandler.Release)
			r.Post("/v1/payouts/{id}/requeue", payoutHandler.Requeue)

			r.Post("/v1/payout-runs", runHandler.Start)
			r.Get("/v1/payout-runs", runHandler.List)
			r.Get("/v1/payout-runs/{id}", runHandler.Get)
			r.Post("/v1/payout-runs/{id}/retry", runHandler.Retry)

			r.Get("/v1/fulfillments/{id}", fulfillmentHandler.Get)
			r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
				Patch("/v1/fulfillments/{id}", fulfillmentHandler.Resolve)

			r.Get("/v1/threshold-report", thresholdHandler.Report)
			r.Get("/v1/queue-depth", opsHandler.QueueDepth)
		})
	})

	// Operational endpoints
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/openapi.yaml"),
	))

	return r
}
