package logger

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that log
// aggregation and querying work across components.
const (
	// Distributed tracing
	KeyTraceParent = "traceparent" // W3C trace-context header, when present

	// Upload pipeline
	KeyWallpaperID = "wallpaper_id" // Wallpaper record id (wlpr_...)
	KeyUserID      = "user_id"      // Owner of the upload
	KeyContentHash = "content_hash" // SHA-256 of the uploaded bytes
	KeyState       = "state"        // Upload state
	KeyFromState   = "from_state"   // Transition source state
	KeyToState     = "to_state"     // Transition target state
	KeyStorageKey  = "storage_key"  // Object store key
	KeyBucket      = "bucket"       // Object store bucket
	KeyMIMEType    = "mime_type"    // Detected MIME type
	KeySize        = "size"         // Byte size
	KeyAttempts    = "attempts"     // Upload/reconcile attempt count

	// Event bus
	KeyEventID   = "event_id"  // Published event id
	KeyEventType = "event_type"
	KeySubject   = "subject" // Bus subject

	// Reconciler
	KeyLoop = "loop" // Reconciler loop name: stuck, events, orphans

	// Generic
	KeyError      = "error"
	KeyDurationMs = "duration_ms"
	KeyComponent  = "component"
)
