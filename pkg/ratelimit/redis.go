package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wallpaperd/wallpaperd/internal/clock"
)

// incrScript performs the whole read-check-increment in one round trip so
// that concurrent increments across process instances stay atomic.
//
// KEYS[1] = counter key
// ARGV[1] = max requests per window
// ARGV[2] = window length in milliseconds
//
// Returns {allowed, count, ttl_ms}.
var incrScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[1]) then
  return {0, count, redis.call('PTTL', KEYS[1])}
end
count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, count, redis.call('PTTL', KEYS[1])}
`)

// RedisLimiter is a fixed-window limiter whose counters live in Redis,
// shared by every process instance.
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
	clock  clock.Clock
}

// NewRedis creates a limiter over the given Redis client.
func NewRedis(client *redis.Client, cfg Config, clk clock.Clock) *RedisLimiter {
	cfg.ApplyDefaults()
	if clk == nil {
		clk = clock.System()
	}
	return &RedisLimiter{client: client, cfg: cfg, clock: clk}
}

func (l *RedisLimiter) key(userID string) string {
	return "ratelimit:" + userID
}

func (l *RedisLimiter) CheckAndIncrement(ctx context.Context, userID string) (*Result, error) {
	res, err := incrScript.Run(ctx, l.client,
		[]string{l.key(userID)},
		l.cfg.Max,
		l.cfg.Window.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script failed: %w", err)
	}

	allowed, count, ttlMs, err := parseWindowReply(res)
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(ttlMs) * time.Millisecond
	if ttlMs < 0 {
		// PTTL returns a negative value for keys without expiry; treat the
		// window as starting now.
		ttl = l.cfg.Window
	}
	resetAt := l.clock.Now().Add(ttl)

	if !allowed {
		return nil, &LimitExceededError{
			RetryAfter: ttl,
			ResetAt:    resetAt,
			Max:        l.cfg.Max,
		}
	}

	remaining := l.cfg.Max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Remaining: remaining,
		ResetAt:   resetAt,
		Max:       l.cfg.Max,
	}, nil
}

// parseWindowReply validates the {allowed, count, ttl_ms} reply shape of
// incrScript. go-redis surfaces Lua integers as int64.
func parseWindowReply(res []any) (allowed bool, count, ttlMs int64, err error) {
	if len(res) != 3 {
		return false, 0, 0, fmt.Errorf("rate limit script returned %d values, want 3", len(res))
	}
	vals := make([]int64, 3)
	for i, v := range res {
		n, ok := v.(int64)
		if !ok {
			return false, 0, 0, fmt.Errorf("rate limit script value %d is %T, want int64", i, v)
		}
		vals[i] = n
	}
	return vals[0] == 1, vals[1], vals[2], nil
}

func (l *RedisLimiter) Healthcheck(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// Compile-time interface check
var _ Limiter = (*RedisLimiter)(nil)
