package events

import (
	"strings"
	"testing"
	"time"

	"github.com/wallpaperd/wallpaperd/pkg/wallpaper"
)

func storedRecord() *wallpaper.Wallpaper {
	hash := strings.Repeat("a", 64)
	ft := wallpaper.FileTypeImage
	mime := "image/jpeg"
	size := int64(4096)
	width, height := 2560, 1440
	ratio := wallpaper.AspectRatioOf(width, height)
	key := "wlpr_abc/original.jpg"
	bucket := "wallpapers"
	name := "beach.jpg"

	return &wallpaper.Wallpaper{
		ID:               "wlpr_abc",
		UserID:           "user-1",
		UploadState:      wallpaper.StateStored,
		ContentHash:      &hash,
		FileType:         &ft,
		MIMEType:         &mime,
		FileSizeBytes:    &size,
		Width:            &width,
		Height:           &height,
		AspectRatio:      &ratio,
		StorageKey:       &key,
		StorageBucket:    &bucket,
		OriginalFilename: &name,
		UploadedAt:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewUploadedEvent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)

	t.Run("from complete record", func(t *testing.T) {
		w := storedRecord()
		ev, err := NewUploadedEvent(w, now)
		if err != nil {
			t.Fatalf("NewUploadedEvent: %v", err)
		}
		if ev.EventID == "" {
			t.Error("EventID should be set")
		}
		if ev.EventType != TypeUploaded {
			t.Errorf("EventType = %q", ev.EventType)
		}
		if !ev.Timestamp.Equal(now) {
			t.Errorf("Timestamp = %v", ev.Timestamp)
		}
		if ev.Wallpaper.ID != w.ID || ev.Wallpaper.UserID != w.UserID {
			t.Errorf("payload identity = %s/%s", ev.Wallpaper.ID, ev.Wallpaper.UserID)
		}
		if ev.Wallpaper.StorageKey != *w.StorageKey || ev.Wallpaper.StorageBucket != *w.StorageBucket {
			t.Errorf("payload location = %s/%s", ev.Wallpaper.StorageBucket, ev.Wallpaper.StorageKey)
		}
		if ev.Wallpaper.Width != 2560 || ev.Wallpaper.Height != 1440 {
			t.Errorf("payload dimensions = %dx%d", ev.Wallpaper.Width, ev.Wallpaper.Height)
		}
	})

	t.Run("unique event ids", func(t *testing.T) {
		w := storedRecord()
		a, _ := NewUploadedEvent(w, now)
		b, _ := NewUploadedEvent(w, now)
		if a.EventID == b.EventID {
			t.Error("two announcements should carry distinct event ids")
		}
	})

	t.Run("incomplete metadata rejected", func(t *testing.T) {
		w := storedRecord()
		w.ContentHash = nil
		if _, err := NewUploadedEvent(w, now); err == nil {
			t.Error("expected error for incomplete record")
		}
	})
}

func TestUploadedEventCodec(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)

	t.Run("round trip", func(t *testing.T) {
		ev, err := NewUploadedEvent(storedRecord(), now)
		if err != nil {
			t.Fatal(err)
		}

		data, err := ev.Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, err := DecodeUploaded(data)
		if err != nil {
			t.Fatalf("DecodeUploaded: %v", err)
		}
		if got.EventID != ev.EventID {
			t.Errorf("EventID = %q, want %q", got.EventID, ev.EventID)
		}
		if got.Wallpaper.ID != ev.Wallpaper.ID ||
			got.Wallpaper.StorageKey != ev.Wallpaper.StorageKey ||
			got.Wallpaper.FileSizeBytes != ev.Wallpaper.FileSizeBytes ||
			got.Wallpaper.AspectRatio != ev.Wallpaper.AspectRatio {
			t.Error("decoded payload differs from original")
		}
		if !got.Wallpaper.UploadedAt.Equal(ev.Wallpaper.UploadedAt) {
			t.Errorf("UploadedAt = %v, want %v", got.Wallpaper.UploadedAt, ev.Wallpaper.UploadedAt)
		}
	})

	t.Run("unknown fields ignored", func(t *testing.T) {
		payload := `{
			"eventId": "ev-1",
			"eventType": "wallpaper.uploaded",
			"schemaVersion": 7,
			"wallpaper": {"id": "wlpr_abc", "userId": "user-1", "futureField": true}
		}`
		ev, err := DecodeUploaded([]byte(payload))
		if err != nil {
			t.Fatalf("DecodeUploaded: %v", err)
		}
		if ev.Wallpaper.ID != "wlpr_abc" {
			t.Errorf("Wallpaper.ID = %q", ev.Wallpaper.ID)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		if _, err := DecodeUploaded([]byte("{not json")); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("missing required fields", func(t *testing.T) {
		tests := []struct {
			name    string
			payload string
		}{
			{"no event id", `{"eventType": "wallpaper.uploaded", "wallpaper": {"id": "w", "userId": "u"}}`},
			{"no event type", `{"eventId": "ev-1", "wallpaper": {"id": "w", "userId": "u"}}`},
			{"no wallpaper id", `{"eventId": "ev-1", "eventType": "wallpaper.uploaded", "wallpaper": {"userId": "u"}}`},
			{"no user id", `{"eventId": "ev-1", "eventType": "wallpaper.uploaded", "wallpaper": {"id": "w"}}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := DecodeUploaded([]byte(tt.payload)); err == nil {
					t.Error("expected validation error")
				}
			})
		}
	})
}
