package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for an upload.
type LogContext struct {
	TraceParent string // W3C traceparent header, if the caller supplied one
	UserID      string // Owner of the upload
	WallpaperID string // Set once the intent record exists
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// appendContextFields prepends LogContext fields to args so they appear
// first in output.
func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	ctxArgs := make([]any, 0, 6+len(args))

	if lc.TraceParent != "" {
		ctxArgs = append(ctxArgs, KeyTraceParent, lc.TraceParent)
	}
	if lc.UserID != "" {
		ctxArgs = append(ctxArgs, KeyUserID, lc.UserID)
	}
	if lc.WallpaperID != "" {
		ctxArgs = append(ctxArgs, KeyWallpaperID, lc.WallpaperID)
	}

	return append(ctxArgs, args...)
}
