package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounters implements Counters on Redis. INCR and EXPIRE run in one
// pipeline, so the window counter and its TTL are applied together.
// Re-arming the TTL on every increment is within the window's tolerance:
// the key's bucket label already pins it to a single minute or day.
type RedisCounters struct {
	client *redis.Client
}

// NewRedisCounters wraps an existing Redis client.
func NewRedisCounters(client *redis.Client) *RedisCounters {
	return &RedisCounters{client: client}
}

func (r *RedisCounters) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Ping verifies connectivity at startup.
func (r *RedisCounters) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
