// Package store persists wallpaper records and enforces the upload state
// machine at the row level.
package store

import (
	"context"
	"time"

	"github.com/wallpaperd/wallpaperd/pkg/wallpaper"
)

// Patch carries the optional column updates applied atomically together
// with a state transition. Nil fields are left untouched.
type Patch struct {
	ContentHash      *string
	FileType         *wallpaper.FileType
	MIMEType         *string
	FileSizeBytes    *int64
	Width            *int
	Height           *int
	AspectRatio      *float64
	StorageKey       *string
	StorageBucket    *string
	OriginalFilename *string
	ProcessingError  *string
}

// Store is the metadata store port of the ingestion pipeline.
//
// The coordination between the orchestrator and the reconciler is mediated
// entirely through this interface: both observe stateChangedAt age and
// issue compare-and-act transitions.
type Store interface {
	// Insert writes a new record. Inserting a record whose (userID,
	// contentHash) collides with an active record fails with
	// wallpaper.ErrDuplicateContent.
	Insert(ctx context.Context, w *wallpaper.Wallpaper) error

	// Get loads a record by id, or wallpaper.ErrNotFound.
	Get(ctx context.Context, id string) (*wallpaper.Wallpaper, error)

	// GetCurrentState returns only the upload state of a record.
	GetCurrentState(ctx context.Context, id string) (wallpaper.UploadState, error)

	// Transition atomically moves a record from one state to another,
	// stamping stateChangedAt and applying the patch in the same update.
	// Illegal edges fail with wallpaper.ErrInvalidStateTransition; losing a
	// race against another writer fails with
	// wallpaper.ErrConcurrentTransition. Returns the updated record.
	Transition(ctx context.Context, id string, from, to wallpaper.UploadState, patch *Patch) (*wallpaper.Wallpaper, error)

	// FindActiveByContentHash looks up the record owning (userID, hash)
	// among states {stored, processing, completed}, or wallpaper.ErrNotFound.
	FindActiveByContentHash(ctx context.Context, userID, hash string) (*wallpaper.Wallpaper, error)

	// ListInStateOlderThan returns up to limit records in the given state
	// whose stateChangedAt is before cutoff, oldest first.
	ListInStateOlderThan(ctx context.Context, state wallpaper.UploadState, cutoff time.Time, limit int) ([]*wallpaper.Wallpaper, error)

	// IncrementAttempts bumps uploadAttempts and returns the new value.
	IncrementAttempts(ctx context.Context, id string) (int, error)

	// DeleteIntent removes a record only if it is still in state initiated.
	// Deleting a record that moved on is a no-op.
	DeleteIntent(ctx context.Context, id string) error

	// Exists reports whether a record with the given id exists in any state.
	Exists(ctx context.Context, id string) (bool, error)

	// HasRecordForKey reports whether any record, in any state, references
	// the given storage key. The orphan sweep never deletes referenced
	// objects.
	HasRecordForKey(ctx context.Context, storageKey string) (bool, error)

	Healthcheck(ctx context.Context) error
	Close() error
}
