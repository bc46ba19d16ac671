// Package semaphore provides a bounded counting semaphore used to cap the
// number of concurrent uploads handled by a single process.
package semaphore

import "context"

type Semaphore chan struct{}

func New(concurrency int) Semaphore {
	return make(chan struct{}, concurrency)
}

// Acquire blocks until a slot is free or the context is cancelled.
func (s Semaphore) Acquire(ctx context.Context) error {
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire grabs a slot without blocking. Returns false when full.
func (s Semaphore) TryAcquire() bool {
	select {
	case s <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s Semaphore) Release() {
	<-s
}
