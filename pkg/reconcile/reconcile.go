// Package reconcile implements the background repair loops that keep the
// metadata store, the object store and the event stream mutually
// consistent.
//
// Three independent loops run on their own cadences: stuck uploads,
// missing announcements and the orphan sweep. Every action is
// compare-and-act: the loop reads a record, then issues a guarded state
// transition that is a no-op if a live orchestration or another loop
// already acted. Overlapping runs are therefore safe.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/wallpaperd/wallpaperd/internal/clock"
	"github.com/wallpaperd/wallpaperd/internal/logger"
	"github.com/wallpaperd/wallpaperd/pkg/events"
	"github.com/wallpaperd/wallpaperd/pkg/probe"
	"github.com/wallpaperd/wallpaperd/pkg/store/object"
	"github.com/wallpaperd/wallpaperd/pkg/wallpaper/store"
)

// Loop names used in logs, metrics and heartbeats.
const (
	LoopStuck   = "stuck"
	LoopEvents  = "events"
	LoopOrphans = "orphans"
)

// Defaults.
const (
	DefaultStuckCadence  = time.Second
	DefaultEventsCadence = time.Second
	DefaultOrphanCadence = 2 * time.Second

	DefaultStuckUploadAge  = 10 * time.Minute
	DefaultMissingEventAge = 5 * time.Minute
	DefaultOrphanIntentAge = time.Hour

	// DefaultMaxAttempts bounds reconciliation touches per record; a record
	// touched more often is moved to failed and surfaced via metrics
	// instead of being retried forever.
	DefaultMaxAttempts = 5

	// DefaultBatchSize caps records handled per pass per loop.
	DefaultBatchSize = 100
)

// Config holds cadences, grace periods and retry bounds.
type Config struct {
	StuckCadence  time.Duration `mapstructure:"stuck_cadence" yaml:"stuck_cadence"`
	EventsCadence time.Duration `mapstructure:"events_cadence" yaml:"events_cadence"`
	OrphanCadence time.Duration `mapstructure:"orphan_cadence" yaml:"orphan_cadence"`

	// StuckUploadAge is the grace before an uploading record is considered
	// stuck (RECONCILE_STUCK_UPLOAD_AGE_MS).
	StuckUploadAge time.Duration `mapstructure:"stuck_upload_age" yaml:"stuck_upload_age"`

	// MissingEventAge is the grace before a stored record is considered
	// unannounced (RECONCILE_MISSING_EVENT_AGE_MS).
	MissingEventAge time.Duration `mapstructure:"missing_event_age" yaml:"missing_event_age"`

	// OrphanIntentAge is the grace before an initiated record is treated as
	// an aborted intent (RECONCILE_ORPHAN_INTENT_AGE_MS).
	OrphanIntentAge time.Duration `mapstructure:"orphan_intent_age" yaml:"orphan_intent_age"`

	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	BatchSize   int `mapstructure:"batch_size" yaml:"batch_size"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.StuckCadence == 0 {
		c.StuckCadence = DefaultStuckCadence
	}
	if c.EventsCadence == 0 {
		c.EventsCadence = DefaultEventsCadence
	}
	if c.OrphanCadence == 0 {
		c.OrphanCadence = DefaultOrphanCadence
	}
	if c.StuckUploadAge == 0 {
		c.StuckUploadAge = DefaultStuckUploadAge
	}
	if c.MissingEventAge == 0 {
		c.MissingEventAge = DefaultMissingEventAge
	}
	if c.OrphanIntentAge == 0 {
		c.OrphanIntentAge = DefaultOrphanIntentAge
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
}

// Metrics is an optional hook for observing reconciler activity. A nil
// Metrics disables observation.
type Metrics interface {
	RecordAction(loop, action string)
	RecordSurrender()
	ObservePass(loop string, seconds float64, err error)
}

// Reconciler runs the repair loops.
type Reconciler struct {
	store   store.Store
	objects object.Store
	bus     events.Bus
	prober  *probe.Prober
	clock   clock.Clock
	cfg     Config
	metrics Metrics

	mu         sync.Mutex
	heartbeats map[string]time.Time
}

// New creates a Reconciler.
func New(metaStore store.Store, objects object.Store, bus events.Bus, clk clock.Clock, cfg Config, metrics Metrics) *Reconciler {
	cfg.ApplyDefaults()
	if clk == nil {
		clk = clock.System()
	}
	return &Reconciler{
		store:      metaStore,
		objects:    objects,
		bus:        bus,
		prober:     probe.New(),
		clock:      clk,
		cfg:        cfg,
		metrics:    metrics,
		heartbeats: make(map[string]time.Time, 3),
	}
}

// Run starts the three loops and blocks until ctx is cancelled. An
// in-flight pass finishes before Run returns.
func (r *Reconciler) Run(ctx context.Context) {
	logger.Info("Reconciler started",
		"stuck_cadence", r.cfg.StuckCadence,
		"events_cadence", r.cfg.EventsCadence,
		"orphan_cadence", r.cfg.OrphanCadence)

	var wg sync.WaitGroup
	wg.Add(3)
	go r.loop(ctx, &wg, LoopStuck, r.cfg.StuckCadence, r.PassStuckUploads)
	go r.loop(ctx, &wg, LoopEvents, r.cfg.EventsCadence, r.PassMissingEvents)
	go r.loop(ctx, &wg, LoopOrphans, r.cfg.OrphanCadence, r.PassOrphans)
	wg.Wait()

	logger.Info("Reconciler stopped")
}

func (r *Reconciler) loop(ctx context.Context, wg *sync.WaitGroup, name string, cadence time.Duration, pass func(context.Context) error) {
	defer wg.Done()

	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := r.clock.Now()
			err := pass(ctx)
			r.beat(name)
			if r.metrics != nil {
				r.metrics.ObservePass(name, r.clock.Since(start).Seconds(), err)
			}
			if err != nil && ctx.Err() == nil {
				logger.Warn("Reconciler pass failed",
					logger.KeyLoop, name,
					logger.KeyError, err)
			}
		}
	}
}

func (r *Reconciler) beat(loop string) {
	r.mu.Lock()
	r.heartbeats[loop] = r.clock.Now()
	r.mu.Unlock()
}

// Heartbeats returns the completion time of the most recent pass per loop.
// The readiness probe alarms on stale heartbeats.
func (r *Reconciler) Heartbeats() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Time, len(r.heartbeats))
	for k, v := range r.heartbeats {
		out[k] = v
	}
	return out
}
