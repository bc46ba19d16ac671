// Package object defines the object store port used by the upload
// orchestrator and the reconciler.
package object

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get for keys with no object.
var ErrNotFound = errors.New("object not found")

// Store is the bucket-scoped byte store for wallpaper originals and
// variants.
//
// Keys follow the layout "<wallpaperId>/original.<ext>" for originals; the
// variant worker writes "<wallpaperId>/variant_<W>x<H>.<ext>" alongside.
type Store interface {
	// Put writes an object. size must match the reader's length; the
	// content type is stored with the object.
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) error

	// Get returns a reader over the object bytes, or ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether an object is present at key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object at key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Bucket returns the bucket name objects are stored in.
	Bucket() string

	Healthcheck(ctx context.Context) error
	Close() error
}

// Metrics is an optional hook for observing object store operations.
// Implementations must be safe for concurrent use; a nil Metrics disables
// observation.
type Metrics interface {
	ObserveOperation(operation string, seconds float64, err error)
	RecordBytes(operation string, n int64)
}
