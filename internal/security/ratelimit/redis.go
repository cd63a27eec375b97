package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stockpulse/sentinel/pkg/metrics"
)

// slidingWindowScript prunes, counts and records atomically in Redis so
// concurrent callers across processes cannot over-admit.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return 0
end
redis.call('ZADD', key, now, now)
redis.call('EXPIRE', key, math.ceil(window/1000000000))
return 1
`)

// RedisLimiter implements the sliding window over a Redis sorted set per
// identity. Redis errors fail closed: an unreachable backend denies requests
// rather than lifting the limit.
type RedisLimiter struct {
	client *redis.Client
	logger *zap.Logger
	max    int
	window time.Duration
	prefix string
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, logger *zap.Logger, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		logger: logger,
		max:    max,
		window: window,
		prefix: "sentinel:ratelimit:",
	}
}

func (l *RedisLimiter) Max() int              { return l.max }
func (l *RedisLimiter) Window() time.Duration { return l.window }

func (l *RedisLimiter) Allow(ctx context.Context, identity string) bool {
	now := time.Now().UnixNano()
	res, err := slidingWindowScript.Run(ctx, l.client, []string{l.key(identity)},
		now, l.window.Nanoseconds(), l.max).Result()
	if err != nil {
		l.logger.Error("Rate limit check failed, denying request", zap.Error(err))
		metrics.RateLimitRejections.Inc()
		return false
	}

	allowed, _ := res.(int64)
	if allowed != 1 {
		metrics.RateLimitRejections.Inc()
		return false
	}
	return true
}

func (l *RedisLimiter) Remaining(ctx context.Context, identity string) int {
	now := time.Now().UnixNano()
	min := fmt.Sprintf("%d", now-l.window.Nanoseconds())
	count, err := l.client.ZCount(ctx, l.key(identity), min, fmt.Sprintf("%d", now)).Result()
	if err != nil {
		l.logger.Error("Rate limit introspection failed", zap.Error(err))
		return 0
	}

	remaining := l.max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (l *RedisLimiter) Reset(ctx context.Context, identity string) {
	if err := l.client.Del(ctx, l.key(identity)).Err(); err != nil {
		l.logger.Error("Rate limit reset failed", zap.Error(err))
	}
}

func (l *RedisLimiter) key(identity string) string {
	return l.prefix + identity
}
