package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glowcast/payout-engine/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// setIfNewer writes the cached balance only when the incoming version is not
// older than what is already cached, so a slow writer cannot clobber a fresher
// snapshot.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, decoded = pcall(cjson.decode, cur)
	if ok and decoded.version and tonumber(decoded.version) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// BalanceCache is a read-through cache of balance rows. A nil *BalanceCache is
// valid and disables caching.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if client == nil {
		return nil
	}
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(userID uuid.UUID) string {
	return "balance:" + userID.String()
}

func (c *BalanceCache) Get(ctx context.Context, userID uuid.UUID) (models.Balance, bool) {
	if c == nil {
		return models.Balance{}, false
	}
	raw, err := c.client.Get(ctx, balanceKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			zap.L().Warn("balance cache read failed", zap.Error(err))
		}
		return models.Balance{}, false
	}
	var b models.Balance
	if err := json.Unmarshal(raw, &b); err != nil {
		return models.Balance{}, false
	}
	return b, true
}

// Set caches a balance snapshot, refusing to replace a newer version.
func (c *BalanceCache) Set(ctx context.Context, b models.Balance) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal balance: %w", err)
	}
	err = setIfNewer.Run(ctx, c.client,
		[]string{balanceKey(b.UserID)},
		raw, b.Version, c.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("cache balance: %w", err)
	}
	return nil
}

func (c *BalanceCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, balanceKey(userID)).Err(); err != nil {
		zap.L().Warn("balance cache invalidate failed", zap.Error(err))
	}
}
