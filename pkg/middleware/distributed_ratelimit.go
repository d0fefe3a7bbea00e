package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mustardtree/portal/pkg/observability"
)

// DistributedRateLimiter implements the same fixed window as RateLimiter in
// Redis so that limits are shared across instances.
type DistributedRateLimiter struct {
	redis   *redis.Client
	config  *RateLimitConfig
	prefix  string
	metrics *observability.Metrics
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter. Keys are
// "<prefix>:<id>"; trailing colons on prefix are ignored.
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string, metrics *observability.Metrics) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	prefix = strings.TrimRight(prefix, ":")
	if prefix == "" {
		prefix = "portal:ratelimit:login"
	}

	return &DistributedRateLimiter{
		redis:   redisClient,
		config:  config,
		prefix:  prefix,
		metrics: metrics,
	}
}

func (rl *DistributedRateLimiter) key(id string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, id)
}

// IsRateLimited records an attempt for id. The window key is created with
// its TTL on the first attempt only, so later attempts never extend it.
// On Redis errors the attempt is allowed and the error returned.
func (rl *DistributedRateLimiter) IsRateLimited(ctx context.Context, id string) (bool, error) {
	redisKey := rl.key(id)

	pipe := rl.redis.TxPipeline()
	pipe.SetNX(ctx, redisKey, 0, rl.config.Window)
	incr := pipe.Incr(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}

	if incr.Val() > int64(rl.config.MaxAttempts) {
		if rl.metrics != nil {
			rl.metrics.RateLimitedTotal.WithLabelValues("redis").Inc()
		}
		return true, nil
	}
	return false, nil
}

// RemainingTime returns the TTL of id's window, or zero
func (rl *DistributedRateLimiter) RemainingTime(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := rl.redis.TTL(ctx, rl.key(id)).Result()
	if err != nil {
		return 0, err
	}
	// Missing keys report negative TTLs.
	return max(0, ttl), nil
}

// Reset clears the window for id
func (rl *DistributedRateLimiter) Reset(ctx context.Context, id string) error {
	return rl.redis.Del(ctx, rl.key(id)).Err()
}

// HealthCheck verifies Redis connectivity for rate limiting
func (rl *DistributedRateLimiter) HealthCheck(ctx context.Context) error {
	return rl.redis.Ping(ctx).Err()
}
