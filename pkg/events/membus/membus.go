// Package membus implements an in-process event bus used by tests.
package membus

import (
	"context"
	"fmt"
	"sync"

	"github.com/wallpaperd/wallpaperd/pkg/events"
)

// Published is one recorded publish.
type Published struct {
	Subject     string
	Event       *events.UploadedEvent
	TraceParent string
}

// Bus records every published event and optionally fans them out to
// subscribers. It shares no state across processes.
type Bus struct {
	mu        sync.Mutex
	published []Published
	subs      []chan Published

	// FailPublishes makes every Publish fail; tests use it to simulate bus
	// outages.
	FailPublishes bool
}

// New returns an empty in-memory bus.
func New() *Bus {
	return &Bus{}
}

func (b *Bus) Publish(ctx context.Context, subject string, ev *events.UploadedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailPublishes {
		return fmt.Errorf("publish %q: simulated bus failure", subject)
	}

	p := Published{
		Subject:     subject,
		Event:       ev,
		TraceParent: events.TraceParentFrom(ctx),
	}
	b.published = append(b.published, p)
	for _, ch := range b.subs {
		select {
		case ch <- p:
		default:
		}
	}
	return nil
}

// Published returns a copy of everything published so far.
func (b *Bus) PublishedEvents() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

// Subscribe returns a buffered channel receiving future publishes.
func (b *Bus) Subscribe() <-chan Published {
	ch := make(chan Published, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) Healthcheck(ctx context.Context) error {
	return ctx.Err()
}

func (b *Bus) Close() error {
	return nil
}

// Compile-time interface check
var _ events.Bus = (*Bus)(nil)
