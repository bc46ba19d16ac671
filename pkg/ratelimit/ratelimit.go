// Package ratelimit implements fixed-window per-user rate limiting for the
// upload path.
//
// Two implementations share the Limiter interface: a Redis-backed window
// whose check-and-increment runs as a single server-side script (safe
// across process instances), and an in-process map for tests and
// single-node runs.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited marks rate-limit rejections. Use errors.Is against the
// *LimitExceededError returned by CheckAndIncrement.
var ErrRateLimited = errors.New("rate limit exceeded")

// Result reports the window state after a successful increment.
type Result struct {
	// Remaining requests in the current window, floored at 0.
	Remaining int

	// ResetAt is the absolute expiry time of the window.
	ResetAt time.Time

	// Max is the window's request ceiling.
	Max int
}

// LimitExceededError is returned when the user's counter would exceed the
// per-window maximum.
type LimitExceededError struct {
	RetryAfter time.Duration
	ResetAt    time.Time
	Max        int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit of %d requests exceeded, retry after %s", e.Max, e.RetryAfter)
}

func (e *LimitExceededError) Unwrap() error {
	return ErrRateLimited
}

// Config holds fixed-window parameters.
type Config struct {
	// Max requests per window per user (RATE_LIMIT_MAX).
	Max int `mapstructure:"max" yaml:"max"`

	// Window length (RATE_LIMIT_WINDOW_MS).
	Window time.Duration `mapstructure:"window" yaml:"window"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Max == 0 {
		c.Max = 10
	}
	if c.Window == 0 {
		c.Window = time.Minute
	}
}

// Limiter is the rate-limit port of the upload orchestrator.
type Limiter interface {
	// CheckAndIncrement atomically checks the user's counter against the
	// window maximum and increments it. Two concurrent calls never both
	// pass when their sum would exceed the limit. Fails with a
	// *LimitExceededError when over the maximum.
	CheckAndIncrement(ctx context.Context, userID string) (*Result, error)

	Healthcheck(ctx context.Context) error
	Close() error
}
