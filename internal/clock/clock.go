// Package clock abstracts the time source so that components measuring
// record age (the state machine, the reconciler) can be tested with a
// controllable clock.
package clock

import (
	"sync"
	"time"
)

// Clock is the minimal time source used across the ingestion pipeline.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type systemClock struct{}

func (systemClock) Now() time.Time                  { return time.Now().UTC() }
func (systemClock) Since(t time.Time) time.Duration { return time.Since(t) }

// System returns the real wall clock. Times are reported in UTC.
func System() Clock {
	return systemClock{}
}

// Manual is a test clock whose current time only moves when Advance or Set
// is called. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock pinned at the given time.
func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set pins the clock at t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
