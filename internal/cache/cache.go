// Package cache provides a small Redis read-through cache for the pipeline
// dashboard reads. Only derived, recomputable payloads go here; the
// database stays authoritative. A nil cache is a valid no-op so every
// caller works without Redis configured.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/pulsecrm/pipescore/internal/metrics"
)

// KeyPipelineAggregates caches the bucketed pipeline aggregates the
// revenue summary is derived from. One key, so invalidation is a single
// DEL after every score write.
const KeyPipelineAggregates = "pipeline_aggregates"

const keyPrefix = "pipescore:"

// Cache is a JSON-over-Redis cache with a fixed TTL.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	log     zerolog.Logger
	metrics *metrics.Registry
}

// New creates a cache around client. metrics may be nil.
func New(client *redis.Client, ttl time.Duration, log zerolog.Logger, m *metrics.Registry) *Cache {
	return &Cache{client: client, ttl: ttl, log: log, metrics: m}
}

// Get loads key into dest and reports whether it was present. Redis errors
// count as misses: the caller recomputes and the log carries the cause.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	if c == nil || c.client == nil {
		return false
	}

	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		c.metrics.RecordCacheMiss(key)
		return false
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache entry malformed, treating as miss")
		c.metrics.RecordCacheMiss(key)
		return false
	}

	c.metrics.RecordCacheHit(key)
	return true
}

// Set stores value under key with the cache TTL. Failures are logged and
// swallowed; a cold cache is never an error.
func (c *Cache) Set(ctx context.Context, key string, value interface{}) {
	if c == nil || c.client == nil {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache value not serializable")
		return
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// Invalidate deletes the given keys.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || c.client == nil || len(keys) == 0 {
		return
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = keyPrefix + k
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		c.log.Warn().Err(err).Strs("keys", keys).Msg("cache invalidation failed")
	}
}

// InvalidateSummary drops the cached pipeline aggregates. Called after
// every batch run and every successful single-deal recalculation.
func (c *Cache) InvalidateSummary(ctx context.Context) {
	c.Invalidate(ctx, KeyPipelineAggregates)
}

// Health pings Redis within a short deadline.
func (c *Cache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
