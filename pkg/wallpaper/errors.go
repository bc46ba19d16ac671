package wallpaper

import "errors"

// Common errors for wallpaper metadata operations.
var (
	ErrNotFound = errors.New("wallpaper not found")

	// ErrDuplicateContent is returned when an insert or transition would
	// violate the per-user (user_id, content_hash) uniqueness among active
	// records.
	ErrDuplicateContent = errors.New("wallpaper with this content already exists for user")

	// ErrInvalidStateTransition is returned for edges outside the state
	// machine's table.
	ErrInvalidStateTransition = errors.New("invalid upload state transition")

	// ErrConcurrentTransition is returned when another writer moved the
	// record first; callers should reload and decide anew.
	ErrConcurrentTransition = errors.New("concurrent upload state transition")
)
