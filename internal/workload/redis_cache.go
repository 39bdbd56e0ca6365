package workload

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisCache shares heatmaps between api-server replicas.
type RedisCache struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisCache(client *redis.Client, logger zerolog.Logger) *RedisCache {
	return &RedisCache{client: client, log: logger.With().Str("component", "heatmap_cache").Logger()}
}

func (c *RedisCache) Get(ctx context.Context, key CacheKey) (*Heatmap, bool) {
	data, err := c.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key.String()).Msg("heatmap cache read failed")
		}
		return nil, false
	}

	var hm Heatmap
	if err := json.Unmarshal(data, &hm); err != nil {
		c.log.Warn().Err(err).Str("key", key.String()).Msg("heatmap cache entry corrupt")
		return nil, false
	}
	return &hm, true
}

func (c *RedisCache) Set(ctx context.Context, key CacheKey, hm *Heatmap, ttl time.Duration) {
	data, err := json.Marshal(hm)
	if err != nil {
		c.log.Warn().Err(err).Msg("heatmap encode failed")
		return
	}
	if err := c.client.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key.String()).Msg("heatmap cache write failed")
	}
}
