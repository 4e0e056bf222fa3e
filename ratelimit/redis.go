package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "blueauth:ratelimit:"

// slidingWindow keeps one sorted-set member per accepted request, scored by
// its time in milliseconds.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count >= limit then
		return {0, 0}
	end

	redis.call('ZADD', key, now, now .. ':' .. math.random())
	redis.call('PEXPIRE', key, window_ms)

	return {1, limit - count - 1}
`)

// RedisLimiter is a Limiter shared across instances through Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithPrefix sets the key prefix. Default: "blueauth:ratelimit:".
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisLimiter) { r.prefix = prefix }
}

// WithRedisClock overrides the clock used to place requests in the window.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *RedisLimiter) { r.now = now }
}

// NewRedisLimiter creates a RedisLimiter using client.
func NewRedisLimiter(client redis.UniversalClient, opts ...RedisOption) *RedisLimiter {
	r := &RedisLimiter{client: client, prefix: defaultRedisPrefix, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisLimiter) key(k string) string {
	return r.prefix + k
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	if limit <= 0 || window <= 0 {
		return true, 0, nil
	}

	now := r.now()
	result, err := slidingWindow.Run(ctx, r.client, []string{r.key(key)},
		now.UnixMilli(),
		now.Add(-window).UnixMilli(),
		limit,
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: redis allow failed: %w", err)
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected redis result %v", result)
	}

	return result[0] == 1, int(result[1]), nil
}

func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis reset failed: %w", err)
	}
	return nil
}
