package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Limit  int           // Maximum requests allowed
	Window time.Duration // Time window for the limit
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	// ResetAt is when the oldest request in the window expires and a slot
	// frees up.
	ResetAt time.Time
}

// RateLimiter is a sliding window limiter over Redis sorted sets, one set
// per key scored by request time.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Limit reports the configured request budget per window.
func (r *RateLimiter) Limit() int {
	return r.config.Limit
}

// Allow records a request for key and reports whether it fits the window.
// Trim, add and count run in one transaction so concurrent callers cannot
// both take the last slot. A rejected request is removed again and does not
// extend the block.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	now := r.now()
	redisKey := "ratelimit:" + key
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	cutoff := strconv.FormatInt(now.Add(-r.config.Window).UnixNano(), 10)

	var (
		count  *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := r.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", cutoff)
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
		count = pipe.ZCard(ctx, redisKey)
		oldest = pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
		pipe.Expire(ctx, redisKey, r.config.Window+time.Second)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit transaction failed: %w", err)
	}

	resetAt := now.Add(r.config.Window)
	if zs := oldest.Val(); len(zs) > 0 {
		resetAt = time.Unix(0, int64(zs[0].Score)).Add(r.config.Window)
	}

	used := int(count.Val())
	if used > r.config.Limit {
		if err := r.client.rdb.ZRem(ctx, redisKey, member).Err(); err != nil {
			r.logger.Warn("failed to drop rejected request from window",
				zap.String("key", key),
				zap.Error(err),
			)
		}
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("limit", r.config.Limit),
		)
		return &RateLimitResult{Allowed: false, ResetAt: resetAt}, nil
	}

	return &RateLimitResult{
		Allowed:   true,
		Remaining: r.config.Limit - used,
		ResetAt:   resetAt,
	}, nil
}
