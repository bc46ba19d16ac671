// Package upload implements the ingestion orchestrator: the sequence that
// takes raw bytes from an authenticated user to a stored, announced
// wallpaper record.
//
// The orchestrator writes its intent to the metadata store before touching
// the object store, and records every subsequent step as a state
// transition. If the process dies mid-sequence the reconciler finds the
// stalled record and rolls it forward or back.
package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/wallpaperd/wallpaperd/internal/clock"
	"github.com/wallpaperd/wallpaperd/internal/logger"
	"github.com/wallpaperd/wallpaperd/internal/semaphore"
	"github.com/wallpaperd/wallpaperd/pkg/events"
	"github.com/wallpaperd/wallpaperd/pkg/probe"
	"github.com/wallpaperd/wallpaperd/pkg/ratelimit"
	"github.com/wallpaperd/wallpaperd/pkg/store/object"
	"github.com/wallpaperd/wallpaperd/pkg/wallpaper"
	"github.com/wallpaperd/wallpaperd/pkg/wallpaper/store"
)

// DefaultMaxConcurrent caps in-flight uploads per process.
const DefaultMaxConcurrent = 32

// Status reported to the client.
type Status string

const (
	// StatusProcessing means the bytes are stored and the variant pipeline
	// has been (or will be) notified.
	StatusProcessing Status = "processing"

	// StatusAlreadyUploaded means the user already owns an active wallpaper
	// with identical content; no new record was created.
	StatusAlreadyUploaded Status = "already_uploaded"
)

// Metrics is an optional hook for observing upload outcomes. A nil Metrics
// disables observation.
type Metrics interface {
	ObserveUpload(outcome string, seconds float64)
	RecordUploadBytes(n int64)
	RecordRejection(reason string)
	RecordPublishFailure()
}

// Request is a single upload attempt.
type Request struct {
	UserID   string
	Filename string
	Data     []byte

	// TraceParent is the W3C trace-context header from the incoming
	// request, if any. It is propagated onto the published event.
	TraceParent string
}

// Response is the successful outcome of an upload.
type Response struct {
	Wallpaper *wallpaper.Wallpaper
	Status    Status

	// RateLimit reflects the user's window after this request counted
	// against it.
	RateLimit *ratelimit.Result
}

// Config assembles the orchestrator's collaborators.
type Config struct {
	Store   store.Store
	Objects object.Store
	Bus     events.Bus
	Limiter ratelimit.Limiter
	Prober  *probe.Prober
	Policy  Policy
	Clock   clock.Clock

	// MaxConcurrent bounds in-flight uploads (default DefaultMaxConcurrent).
	MaxConcurrent int

	// Metrics is optional.
	Metrics Metrics
}

// Orchestrator drives the upload sequence.
type Orchestrator struct {
	store   store.Store
	objects object.Store
	bus     events.Bus
	limiter ratelimit.Limiter
	prober  *probe.Prober
	policy  Policy
	clock   clock.Clock
	sem     semaphore.Semaphore
	metrics Metrics
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("upload orchestrator requires a metadata store")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("upload orchestrator requires an object store")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("upload orchestrator requires an event bus")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("upload orchestrator requires a rate limiter")
	}
	if cfg.Prober == nil {
		cfg.Prober = probe.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	cfg.Policy.ApplyDefaults()

	return &Orchestrator{
		store:   cfg.Store,
		objects: cfg.Objects,
		bus:     cfg.Bus,
		limiter: cfg.Limiter,
		prober:  cfg.Prober,
		policy:  cfg.Policy,
		clock:   cfg.Clock,
		sem:     semaphore.New(cfg.MaxConcurrent),
		metrics: cfg.Metrics,
	}, nil
}

// HandleUpload runs the full ingestion sequence for one request.
//
// Ordering is deliberate: the rate-limit counter is incremented before any
// validation so that invalid uploads still consume the user's budget, and
// the intent record is inserted before the first byte reaches the object
// store so that a crash at any later point leaves a visible trail.
func (o *Orchestrator) HandleUpload(ctx context.Context, req *Request) (*Response, error) {
	start := o.clock.Now()

	if req.UserID == "" {
		o.countRejection("missing_user")
		return nil, ErrMissingUserID
	}

	lc := &logger.LogContext{TraceParent: req.TraceParent, UserID: req.UserID}
	ctx = logger.WithContext(ctx, lc)
	if req.TraceParent != "" {
		ctx = events.WithTraceParent(ctx, req.TraceParent)
	}

	limit, err := o.limiter.CheckAndIncrement(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, ratelimit.ErrRateLimited) {
			o.countRejection("rate_limited")
			logger.InfoCtx(ctx, "Upload rejected by rate limit")
			return nil, err
		}
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	if len(req.Data) == 0 {
		o.countRejection("missing_file")
		return nil, ErrMissingFile
	}

	if err := o.sem.Acquire(ctx); err != nil {
		return nil, err
	}
	defer o.sem.Release()

	// Size is checked before the format probe so an oversized blob of any
	// format gets the size error.
	size := int64(len(req.Data))
	if err := o.policy.CheckSize(size); err != nil {
		o.countRejection("too_large")
		return nil, err
	}

	probed, err := o.prober.Probe(req.Data)
	if err != nil {
		o.countRejection("invalid_format")
		return nil, classifyProbeError(err)
	}
	if err := o.policy.Check(probed, size); err != nil {
		o.countRejection("policy")
		return nil, err
	}

	sum := sha256.Sum256(req.Data)
	hash := hex.EncodeToString(sum[:])

	// Fast-path dedup. The partial unique index still backstops the race
	// where two identical uploads pass this check concurrently.
	if existing, err := o.store.FindActiveByContentHash(ctx, req.UserID, hash); err == nil {
		logger.InfoCtx(ctx, "Duplicate upload detected",
			logger.KeyWallpaperID, existing.ID,
			logger.KeyContentHash, hash)
		o.observe("already_uploaded", start)
		return &Response{Wallpaper: existing, Status: StatusAlreadyUploaded, RateLimit: limit}, nil
	} else if !errors.Is(err, wallpaper.ErrNotFound) {
		return nil, fmt.Errorf("duplicate lookup failed: %w", err)
	}

	// The hash rides on the intent row so a failed upload still records
	// what content it was for.
	w := &wallpaper.Wallpaper{
		ID:             wallpaper.NewID(),
		UserID:         req.UserID,
		ContentHash:    &hash,
		UploadState:    wallpaper.StateInitiated,
		StateChangedAt: o.clock.Now(),
	}
	if err := o.store.Insert(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to record upload intent: %w", err)
	}
	lc.WallpaperID = w.ID
	logger.DebugCtx(ctx, "Upload intent recorded")

	if _, err := o.store.Transition(ctx, w.ID, wallpaper.StateInitiated, wallpaper.StateUploading, nil); err != nil {
		return nil, fmt.Errorf("failed to start upload: %w", err)
	}

	ext := wallpaper.ExtensionForMIME(probed.MIME)
	key := wallpaper.StorageKeyFor(w.ID, ext)

	if err := o.putObject(ctx, key, probed.MIME, req.Data); err != nil {
		o.failUpload(ctx, w.ID, fmt.Sprintf("object store write failed: %v", err))
		o.observe("store_failed", start)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if o.metrics != nil {
		o.metrics.RecordUploadBytes(size)
	}

	stored, err := o.markStored(ctx, w.ID, req, probed, hash, key, size)
	if err != nil {
		if errors.Is(err, wallpaper.ErrDuplicateContent) {
			return o.resolveDuplicateRace(ctx, w.ID, req.UserID, hash, key, limit, start)
		}
		o.observe("transition_failed", start)
		return nil, err
	}
	logger.InfoCtx(ctx, "Upload stored",
		logger.KeyStorageKey, key,
		logger.KeyContentHash, hash,
		logger.KeySize, size)

	result := stored
	if published := o.announce(ctx, stored); published {
		if next, err := o.store.Transition(ctx, stored.ID, wallpaper.StateStored, wallpaper.StateProcessing, nil); err != nil {
			// The reconciler will retry the stored -> processing step; the
			// upload itself succeeded.
			logger.WarnCtx(ctx, "Failed to advance stored upload to processing",
				logger.KeyError, err)
		} else {
			result = next
		}
	}

	o.observe("success", start)
	return &Response{Wallpaper: result, Status: StatusProcessing, RateLimit: limit}, nil
}

// putObject writes the original bytes under the content-derived key.
func (o *Orchestrator) putObject(ctx context.Context, key, contentType string, data []byte) error {
	return o.objects.Put(ctx, key, contentType, bytes.NewReader(data), int64(len(data)))
}

// markStored applies the full metadata patch together with the
// uploading -> stored transition. The partial unique index on
// (user_id, content_hash) fires here if a concurrent identical upload won.
func (o *Orchestrator) markStored(ctx context.Context, id string, req *Request, probed *probe.Result, hash, key string, size int64) (*wallpaper.Wallpaper, error) {
	filename := wallpaper.SanitizeFilename(req.Filename)
	bucket := o.objects.Bucket()
	patch := &store.Patch{
		ContentHash:   &hash,
		FileType:      &probed.FileType,
		MIMEType:      &probed.MIME,
		FileSizeBytes: &size,
		Width:         &probed.Width,
		Height:        &probed.Height,
		AspectRatio:   &probed.AspectRatio,
		StorageKey:    &key,
		StorageBucket: &bucket,
	}
	if filename != "" {
		patch.OriginalFilename = &filename
	}
	return o.store.Transition(ctx, id, wallpaper.StateUploading, wallpaper.StateStored, patch)
}

// resolveDuplicateRace handles the window where two identical uploads both
// passed the fast-path dedup check. The loser's object is removed, its
// record is marked failed, and the winner is returned as already uploaded.
func (o *Orchestrator) resolveDuplicateRace(ctx context.Context, loserID, userID, hash, key string, limit *ratelimit.Result, start time.Time) (*Response, error) {
	logger.InfoCtx(ctx, "Concurrent duplicate upload lost the race",
		logger.KeyContentHash, hash)

	if err := o.objects.Delete(ctx, key); err != nil {
		// Orphan sweep picks it up later.
		logger.WarnCtx(ctx, "Failed to remove duplicate object",
			logger.KeyStorageKey, key,
			logger.KeyError, err)
	}
	o.failUpload(ctx, loserID, "duplicate content")

	winner, err := o.store.FindActiveByContentHash(ctx, userID, hash)
	if err != nil {
		return nil, fmt.Errorf("duplicate winner lookup failed: %w", err)
	}
	o.observe("already_uploaded", start)
	return &Response{Wallpaper: winner, Status: StatusAlreadyUploaded, RateLimit: limit}, nil
}

// announce publishes the uploaded event. Publish failure is deliberately
// not an upload failure: the record stays at stored and the reconciler
// republishes.
func (o *Orchestrator) announce(ctx context.Context, w *wallpaper.Wallpaper) bool {
	ev, err := events.NewUploadedEvent(w, o.clock.Now())
	if err != nil {
		logger.ErrorCtx(ctx, "Failed to build uploaded event", logger.KeyError, err)
		return false
	}
	if err := o.bus.Publish(ctx, events.SubjectUploaded, ev); err != nil {
		if o.metrics != nil {
			o.metrics.RecordPublishFailure()
		}
		logger.WarnCtx(ctx, "Failed to publish uploaded event, will be retried by reconciler",
			logger.KeyEventID, ev.EventID,
			logger.KeyError, err)
		return false
	}
	logger.DebugCtx(ctx, "Uploaded event published",
		logger.KeyEventID, ev.EventID,
		logger.KeySubject, events.SubjectUploaded)
	return true
}

// failUpload transitions a mid-flight record to failed with the given
// reason. Best effort: a concurrent transition just means someone else
// already resolved the record.
func (o *Orchestrator) failUpload(ctx context.Context, id, reason string) {
	state, err := o.store.GetCurrentState(ctx, id)
	if err != nil {
		logger.WarnCtx(ctx, "Failed to load state for failure transition", logger.KeyError, err)
		return
	}
	if _, err := o.store.Transition(ctx, id, state, wallpaper.StateFailed, &store.Patch{
		ProcessingError: &reason,
	}); err != nil {
		logger.WarnCtx(ctx, "Failed to mark upload as failed",
			logger.KeyState, string(state),
			logger.KeyError, err)
	}
}

func (o *Orchestrator) observe(outcome string, start time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveUpload(outcome, o.clock.Since(start).Seconds())
}

func (o *Orchestrator) countRejection(reason string) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordRejection(reason)
}
