package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache shares quotes between engine processes. Entries expire after
// ttl; Redis errors degrade to cache misses.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, prefix: "margin:quote:", ttl: ttl, logger: logger.Named("redis_cache")}
}

func (c *RedisCache) Get(ctx context.Context, instrument string) (Quote, bool) {
	raw, err := c.client.Get(ctx, c.prefix+instrument).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("quote cache read failed", zap.String("instrument", instrument), zap.Error(err))
		}
		return Quote{}, false
	}
	var q Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		c.logger.Warn("quote cache entry corrupt", zap.String("instrument", instrument), zap.Error(err))
		return Quote{}, false
	}
	return q, true
}

func (c *RedisCache) Set(ctx context.Context, q Quote) {
	if q.Instrument == "" || !q.Price.IsPositive() {
		return
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+q.Instrument, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("quote cache write failed", zap.String("instrument", q.Instrument), zap.Error(err))
	}
}
