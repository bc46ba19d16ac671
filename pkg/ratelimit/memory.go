package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/wallpaperd/wallpaperd/internal/clock"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a single-process fixed-window limiter over a local map.
// It shares no state across instances; production deployments with more
// than one process use the Redis limiter instead.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	cfg     Config
	clock   clock.Clock
}

// NewMemory creates an in-process limiter.
func NewMemory(cfg Config, clk clock.Clock) *MemoryLimiter {
	cfg.ApplyDefaults()
	if clk == nil {
		clk = clock.System()
	}
	return &MemoryLimiter{
		windows: make(map[string]*window),
		cfg:     cfg,
		clock:   clk,
	}
}

func (l *MemoryLimiter) CheckAndIncrement(ctx context.Context, userID string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w, ok := l.windows[userID]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.cfg.Window)}
		l.windows[userID] = w
	}

	if w.count >= l.cfg.Max {
		return nil, &LimitExceededError{
			RetryAfter: w.resetAt.Sub(now),
			ResetAt:    w.resetAt,
			Max:        l.cfg.Max,
		}
	}

	w.count++
	return &Result{
		Remaining: l.cfg.Max - w.count,
		ResetAt:   w.resetAt,
		Max:       l.cfg.Max,
	}, nil
}

func (l *MemoryLimiter) Healthcheck(ctx context.Context) error {
	return ctx.Err()
}

func (l *MemoryLimiter) Close() error {
	return nil
}

// Compile-time interface check
var _ Limiter = (*MemoryLimiter)(nil)
