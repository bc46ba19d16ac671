package ratelimit

import (
	"context"
	"errors"
)

// Metrics is an optional hook for observing rate-limit decisions. A nil
// Metrics disables observation.
type Metrics interface {
	RecordDecision(allowed bool)
}

// Instrument wraps a limiter so every decision is observed. A nil metrics
// returns the limiter unwrapped.
func Instrument(l Limiter, m Metrics) Limiter {
	if m == nil {
		return l
	}
	return &instrumented{next: l, metrics: m}
}

type instrumented struct {
	next    Limiter
	metrics Metrics
}

func (i *instrumented) CheckAndIncrement(ctx context.Context, userID string) (*Result, error) {
	res, err := i.next.CheckAndIncrement(ctx, userID)
	if err == nil {
		i.metrics.RecordDecision(true)
	} else if errors.Is(err, ErrRateLimited) {
		i.metrics.RecordDecision(false)
	}
	return res, err
}

func (i *instrumented) Healthcheck(ctx context.Context) error {
	return i.next.Healthcheck(ctx)
}

func (i *instrumented) Close() error {
	return i.next.Close()
}
