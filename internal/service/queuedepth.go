package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/glowcast/payout-engine/internal/observability"
	"github.com/glowcast/payout-engine/internal/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// QueueChannel is the redis pub/sub channel carrying queue depth events.
const QueueChannel = "payout.queue"

// QueueDepthEvent is published after every request transition so operator
// dashboards can subscribe instead of polling.
type QueueDepthEvent struct {
	Pending   int64     `json:"pending"`
	Approved  int64     `json:"approved"`
	Timestamp time.Time `json:"timestamp"`
}

// QueueDepthPublisher mirrors queue counts to redis and prometheus. A nil
// redis client disables the pub/sub side; the gauges still update.
type QueueDepthPublisher struct {
	store *repository.Store
	redis *redis.Client
}

func NewQueueDepthPublisher(store *repository.Store, client *redis.Client) *QueueDepthPublisher {
	return &QueueDepthPublisher{store: store, redis: client}
}

// Depth reads the current per-stage counts.
func (p *QueueDepthPublisher) Depth(ctx context.Context) (repository.QueueDepth, error) {
	return p.store.Queries().GetQueueDepth(ctx)
}

// Publish is best-effort: a depth event that cannot be read or delivered is
// logged and dropped, never failing the transition that triggered it.
func (p *QueueDepthPublisher) Publish(ctx context.Context) {
	depth, err := p.store.Queries().GetQueueDepth(ctx)
	if err != nil {
		zap.L().Warn("queue depth read failed", zap.Error(err))
		return
	}
	observability.QueueDepth.WithLabelValues("pending").Set(float64(depth.Pending))
	observability.QueueDepth.WithLabelValues("approved").Set(float64(depth.Approved))

	if p.redis == nil {
		return
	}
	event := QueueDepthEvent{Pending: depth.Pending, Approved: depth.Approved, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := p.redis.Publish(ctx, QueueChannel, payload).Err(); err != nil {
		zap.L().Warn("queue depth publish failed", zap.Error(err))
	}
}
