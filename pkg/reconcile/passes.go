package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wallpaperd/wallpaperd/internal/logger"
	"github.com/wallpaperd/wallpaperd/pkg/events"
	"github.com/wallpaperd/wallpaperd/pkg/wallpaper"
	"github.com/wallpaperd/wallpaperd/pkg/wallpaper/store"
)

// PassStuckUploads repairs records stuck in uploading past the grace
// period: if their bytes made it to the object store the record rolls
// forward to stored, otherwise it is failed.
func (r *Reconciler) PassStuckUploads(ctx context.Context) error {
	cutoff := r.clock.Now().Add(-r.cfg.StuckUploadAge)
	stuck, err := r.store.ListInStateOlderThan(ctx, wallpaper.StateUploading, cutoff, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list stuck uploads: %w", err)
	}

	for _, w := range stuck {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.surrendered(ctx, w.ID, wallpaper.StateUploading) {
			continue
		}

		keys, err := r.objects.List(ctx, w.ID+"/")
		if err != nil {
			logger.Warn("Failed to list objects for stuck upload",
				logger.KeyLoop, LoopStuck,
				logger.KeyWallpaperID, w.ID,
				logger.KeyError, err)
			continue
		}

		if len(keys) == 0 {
			reason := "upload never completed"
			if _, err := r.store.Transition(ctx, w.ID, wallpaper.StateUploading, wallpaper.StateFailed, &store.Patch{
				ProcessingError: &reason,
			}); err != nil && !errors.Is(err, wallpaper.ErrConcurrentTransition) {
				logger.Warn("Failed to fail stuck upload",
					logger.KeyLoop, LoopStuck,
					logger.KeyWallpaperID, w.ID,
					logger.KeyError, err)
				continue
			}
			logger.Info("Stuck upload failed, no bytes arrived",
				logger.KeyLoop, LoopStuck,
				logger.KeyWallpaperID, w.ID)
			r.count(LoopStuck, "failed")
			continue
		}

		if err := r.rollForward(ctx, w, originalKey(keys)); err != nil {
			logger.Warn("Failed to roll stuck upload forward",
				logger.KeyLoop, LoopStuck,
				logger.KeyWallpaperID, w.ID,
				logger.KeyError, err)
			continue
		}
		logger.Info("Stuck upload repaired",
			logger.KeyLoop, LoopStuck,
			logger.KeyWallpaperID, w.ID)
		r.count(LoopStuck, "repaired")
	}

	return nil
}

// rollForward re-derives metadata from the stored object and transitions
// the record uploading -> stored.
func (r *Reconciler) rollForward(ctx context.Context, w *wallpaper.Wallpaper, key string) error {
	rc, err := r.objects.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read stored object: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("failed to read stored object: %w", err)
	}

	probed, err := r.prober.Probe(data)
	if err != nil {
		return fmt.Errorf("stored object failed probe: %w", err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	size := int64(len(data))
	bucket := r.objects.Bucket()

	_, err = r.store.Transition(ctx, w.ID, wallpaper.StateUploading, wallpaper.StateStored, &store.Patch{
		ContentHash:   &hash,
		FileType:      &probed.FileType,
		MIMEType:      &probed.MIME,
		FileSizeBytes: &size,
		Width:         &probed.Width,
		Height:        &probed.Height,
		AspectRatio:   &probed.AspectRatio,
		StorageKey:    &key,
		StorageBucket: &bucket,
	})
	if errors.Is(err, wallpaper.ErrDuplicateContent) {
		// An identical active upload exists for this user; the stuck record
		// loses and its bytes are swept as an orphan later.
		reason := "duplicate content"
		if _, ferr := r.store.Transition(ctx, w.ID, wallpaper.StateUploading, wallpaper.StateFailed, &store.Patch{
			ProcessingError: &reason,
		}); ferr != nil && !errors.Is(ferr, wallpaper.ErrConcurrentTransition) {
			return ferr
		}
		return nil
	}
	if errors.Is(err, wallpaper.ErrConcurrentTransition) {
		return nil
	}
	return err
}

// PassMissingEvents republishes the uploaded event for stored records past
// the grace period and advances them to processing.
func (r *Reconciler) PassMissingEvents(ctx context.Context) error {
	cutoff := r.clock.Now().Add(-r.cfg.MissingEventAge)
	unannounced, err := r.store.ListInStateOlderThan(ctx, wallpaper.StateStored, cutoff, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list unannounced uploads: %w", err)
	}

	for _, w := range unannounced {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.surrendered(ctx, w.ID, wallpaper.StateStored) {
			continue
		}

		if !w.MetadataComplete() {
			// Stored records always carry full metadata; an incomplete one
			// can only come from outside the pipeline. Attempt counting
			// above eventually surrenders it.
			logger.Warn("Stored record has incomplete metadata, cannot announce",
				logger.KeyLoop, LoopEvents,
				logger.KeyWallpaperID, w.ID)
			continue
		}

		ev, err := events.NewUploadedEvent(w, r.clock.Now())
		if err != nil {
			logger.Warn("Failed to build uploaded event",
				logger.KeyLoop, LoopEvents,
				logger.KeyWallpaperID, w.ID,
				logger.KeyError, err)
			continue
		}
		if err := r.bus.Publish(ctx, events.SubjectUploaded, ev); err != nil {
			logger.Warn("Failed to republish uploaded event",
				logger.KeyLoop, LoopEvents,
				logger.KeyWallpaperID, w.ID,
				logger.KeyError, err)
			continue
		}

		if _, err := r.store.Transition(ctx, w.ID, wallpaper.StateStored, wallpaper.StateProcessing, nil); err != nil {
			if errors.Is(err, wallpaper.ErrConcurrentTransition) {
				continue
			}
			logger.Warn("Failed to advance announced upload",
				logger.KeyLoop, LoopEvents,
				logger.KeyWallpaperID, w.ID,
				logger.KeyError, err)
			continue
		}
		logger.Info("Missing announcement republished",
			logger.KeyLoop, LoopEvents,
			logger.KeyWallpaperID, w.ID,
			logger.KeyEventID, ev.EventID)
		r.count(LoopEvents, "republished")
	}

	return nil
}

// PassOrphans deletes aborted intents past the intent grace and object
// keys that no record references.
func (r *Reconciler) PassOrphans(ctx context.Context) error {
	if err := r.sweepIntents(ctx); err != nil {
		return err
	}
	return r.sweepObjects(ctx)
}

func (r *Reconciler) sweepIntents(ctx context.Context) error {
	cutoff := r.clock.Now().Add(-r.cfg.OrphanIntentAge)
	intents, err := r.store.ListInStateOlderThan(ctx, wallpaper.StateInitiated, cutoff, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list orphan intents: %w", err)
	}

	for _, w := range intents {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// DeleteIntent is guarded on state initiated, so a record that
		// moved on since the listing is left alone.
		if err := r.store.DeleteIntent(ctx, w.ID); err != nil {
			logger.Warn("Failed to delete orphan intent",
				logger.KeyLoop, LoopOrphans,
				logger.KeyWallpaperID, w.ID,
				logger.KeyError, err)
			continue
		}
		logger.Info("Orphan intent deleted",
			logger.KeyLoop, LoopOrphans,
			logger.KeyWallpaperID, w.ID)
		r.count(LoopOrphans, "intent_deleted")
	}

	return nil
}

func (r *Reconciler) sweepObjects(ctx context.Context) error {
	keys, err := r.objects.List(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list objects: %w", err)
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		id, ok := wallpaperIDOf(key)
		if !ok {
			// Not a key this pipeline writes; leave it alone.
			continue
		}

		exists, err := r.store.Exists(ctx, id)
		if err != nil {
			logger.Warn("Failed to check record for object",
				logger.KeyLoop, LoopOrphans,
				logger.KeyStorageKey, key,
				logger.KeyError, err)
			continue
		}
		if exists {
			continue
		}

		// A record in any state, even failed, keeps its objects. Re-check
		// by key before deleting in case the record stores this key under
		// a different id than the path implies.
		referenced, err := r.store.HasRecordForKey(ctx, key)
		if err != nil || referenced {
			continue
		}

		if err := r.objects.Delete(ctx, key); err != nil {
			logger.Warn("Failed to delete orphan object",
				logger.KeyLoop, LoopOrphans,
				logger.KeyStorageKey, key,
				logger.KeyError, err)
			continue
		}
		logger.Info("Orphan object deleted",
			logger.KeyLoop, LoopOrphans,
			logger.KeyStorageKey, key)
		r.count(LoopOrphans, "object_deleted")
	}

	return nil
}

// surrendered bumps the record's attempt counter and, past the bound,
// moves it to failed so it stops being retried. Returns true when the
// record should be skipped.
func (r *Reconciler) surrendered(ctx context.Context, id string, from wallpaper.UploadState) bool {
	attempts, err := r.store.IncrementAttempts(ctx, id)
	if err != nil {
		logger.Warn("Failed to increment reconcile attempts",
			logger.KeyWallpaperID, id,
			logger.KeyError, err)
		return true
	}
	if attempts <= r.cfg.MaxAttempts {
		return false
	}

	reason := fmt.Sprintf("reconciliation surrendered after %d attempts", attempts-1)
	if _, err := r.store.Transition(ctx, id, from, wallpaper.StateFailed, &store.Patch{
		ProcessingError: &reason,
	}); err != nil && !errors.Is(err, wallpaper.ErrConcurrentTransition) {
		logger.Warn("Failed to surrender record",
			logger.KeyWallpaperID, id,
			logger.KeyError, err)
		return true
	}
	logger.Warn("Reconciliation surrendered",
		logger.KeyWallpaperID, id,
		logger.KeyAttempts, attempts-1)
	if r.metrics != nil {
		r.metrics.RecordSurrender()
	}
	return true
}

func (r *Reconciler) count(loop, action string) {
	if r.metrics != nil {
		r.metrics.RecordAction(loop, action)
	}
}

// originalKey prefers the "<id>/original.<ext>" key among a record's
// objects; variants may already exist alongside.
func originalKey(keys []string) string {
	for _, k := range keys {
		if i := strings.IndexByte(k, '/'); i >= 0 && strings.HasPrefix(k[i+1:], "original.") {
			return k
		}
	}
	return keys[0]
}

// wallpaperIDOf extracts the wallpaper id implied by an object key. Only
// keys whose first path segment carries the id prefix qualify.
func wallpaperIDOf(key string) (string, bool) {
	i := strings.IndexByte(key, '/')
	if i <= 0 {
		return "", false
	}
	id := key[:i]
	if !strings.HasPrefix(id, wallpaper.IDPrefix) {
		return "", false
	}
	return id, true
}
