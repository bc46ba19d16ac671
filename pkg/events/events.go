// Package events defines the wallpaper event schema and the bus port used
// to announce uploads to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wallpaperd/wallpaperd/pkg/wallpaper"
)

// Event types carried on the stream. Consumers skip unknown types.
const (
	TypeUploaded         = "wallpaper.uploaded"
	TypeVariantUploaded  = "wallpaper.variant.uploaded"
	TypeVariantAvailable = "wallpaper.variant.available"
)

// Subjects.
const (
	// SubjectUploaded announces a finished original upload.
	SubjectUploaded = "wallpaper.uploaded"

	// SubjectDeadLetter receives messages that exhausted consumer retries.
	SubjectDeadLetter = "wallpaper.dlq"

	// SubjectWildcard matches every wallpaper subject; the stream is
	// configured with it.
	SubjectWildcard = "wallpaper.>"
)

// HeaderTraceParent is the W3C trace-context header propagated alongside
// events when the originating request carried one.
const HeaderTraceParent = "traceparent"

// WallpaperPayload is the wallpaper projection embedded in events.
type WallpaperPayload struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	FileType         string    `json:"fileType"`
	MIMEType         string    `json:"mimeType"`
	FileSizeBytes    int64     `json:"fileSizeBytes"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	AspectRatio      float64   `json:"aspectRatio"`
	StorageKey       string    `json:"storageKey"`
	StorageBucket    string    `json:"storageBucket"`
	OriginalFilename string    `json:"originalFilename,omitempty"`
	UploadedAt       time.Time `json:"uploadedAt"`
}

// UploadedEvent is the versioned wire schema of wallpaper.uploaded.
// Unknown fields are ignored on decode so the schema can grow.
type UploadedEvent struct {
	EventID   string           `json:"eventId"`
	EventType string           `json:"eventType"`
	Timestamp time.Time        `json:"timestamp"`
	Wallpaper WallpaperPayload `json:"wallpaper"`
}

// NewUploadedEvent builds the announcement for a stored wallpaper record.
// The record must have complete metadata.
func NewUploadedEvent(w *wallpaper.Wallpaper, now time.Time) (*UploadedEvent, error) {
	if !w.MetadataComplete() {
		return nil, fmt.Errorf("wallpaper %s has incomplete metadata", w.ID)
	}

	filename := ""
	if w.OriginalFilename != nil {
		filename = *w.OriginalFilename
	}
	aspect := 0.0
	if w.AspectRatio != nil {
		aspect = *w.AspectRatio
	}

	return &UploadedEvent{
		EventID:   uuid.NewString(),
		EventType: TypeUploaded,
		Timestamp: now.UTC(),
		Wallpaper: WallpaperPayload{
			ID:               w.ID,
			UserID:           w.UserID,
			FileType:         string(*w.FileType),
			MIMEType:         *w.MIMEType,
			FileSizeBytes:    *w.FileSizeBytes,
			Width:            *w.Width,
			Height:           *w.Height,
			AspectRatio:      aspect,
			StorageKey:       *w.StorageKey,
			StorageBucket:    *w.StorageBucket,
			OriginalFilename: filename,
			UploadedAt:       w.UploadedAt.UTC(),
		},
	}, nil
}

// Validate checks the fields every consumer relies on.
func (e *UploadedEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event is missing eventId")
	}
	if e.EventType == "" {
		return fmt.Errorf("event is missing eventType")
	}
	if e.Wallpaper.ID == "" {
		return fmt.Errorf("event is missing wallpaper.id")
	}
	if e.Wallpaper.UserID == "" {
		return fmt.Errorf("event is missing wallpaper.userId")
	}
	return nil
}

// Encode marshals the event to its JSON wire form.
func (e *UploadedEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeUploaded unmarshals and validates a wallpaper.uploaded payload.
func DecodeUploaded(data []byte) (*UploadedEvent, error) {
	var e UploadedEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Bus is the durable at-least-once publish port.
type Bus interface {
	// Publish announces an event on the given subject. The traceparent
	// from ctx, if any, rides along as a header.
	Publish(ctx context.Context, subject string, ev *UploadedEvent) error

	Healthcheck(ctx context.Context) error
	Close() error
}
