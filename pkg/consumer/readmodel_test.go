package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wallpaperd/wallpaperd/pkg/events"
)

func newReadModel(t *testing.T) *ReadModelConsumer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	c, err := NewReadModel(db)
	if err != nil {
		t.Fatalf("NewReadModel: %v", err)
	}
	return c
}

func uploadedEvent(eventID, wallpaperID, userID string) *events.UploadedEvent {
	return &events.UploadedEvent{
		EventID:   eventID,
		EventType: events.TypeUploaded,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Wallpaper: events.WallpaperPayload{
			ID:            wallpaperID,
			UserID:        userID,
			FileType:      "image",
			MIMEType:      "image/png",
			FileSizeBytes: 2048,
			Width:         1920,
			Height:        1080,
			AspectRatio:   1.7778,
			StorageKey:    wallpaperID + "/original.png",
			StorageBucket: "wallpapers",
			UploadedAt:    time.Date(2025, 6, 1, 11, 59, 0, 0, time.UTC),
		},
	}
}

func TestReadModelHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("projects uploaded event", func(t *testing.T) {
		c := newReadModel(t)
		ev := uploadedEvent("ev-1", "wlpr_abc", "user-1")

		if err := c.Handle(ctx, ev); err != nil {
			t.Fatalf("Handle: %v", err)
		}

		row, err := c.Get(ctx, "wlpr_abc")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if row.UserID != "user-1" || row.MIMEType != "image/png" {
			t.Errorf("row = %+v", row)
		}
		if row.StorageKey != "wlpr_abc/original.png" {
			t.Errorf("StorageKey = %q", row.StorageKey)
		}
		if row.LastEventID != "ev-1" {
			t.Errorf("LastEventID = %q", row.LastEventID)
		}
	})

	t.Run("idempotent under redelivery", func(t *testing.T) {
		c := newReadModel(t)
		ev := uploadedEvent("ev-1", "wlpr_abc", "user-1")

		if err := c.Handle(ctx, ev); err != nil {
			t.Fatal(err)
		}
		if err := c.Handle(ctx, ev); err != nil {
			t.Fatalf("redelivery must not fail: %v", err)
		}

		rows, err := c.ListByUser(ctx, "user-1", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 1 {
			t.Errorf("rows = %d, want 1", len(rows))
		}
	})

	t.Run("republished event overwrites the row", func(t *testing.T) {
		c := newReadModel(t)

		if err := c.Handle(ctx, uploadedEvent("ev-1", "wlpr_abc", "user-1")); err != nil {
			t.Fatal(err)
		}
		// The reconciler republishes with a fresh event id.
		if err := c.Handle(ctx, uploadedEvent("ev-2", "wlpr_abc", "user-1")); err != nil {
			t.Fatal(err)
		}

		row, err := c.Get(ctx, "wlpr_abc")
		if err != nil {
			t.Fatal(err)
		}
		if row.LastEventID != "ev-2" {
			t.Errorf("LastEventID = %q, want ev-2", row.LastEventID)
		}
	})

	t.Run("skips other event types", func(t *testing.T) {
		c := newReadModel(t)
		ev := uploadedEvent("ev-1", "wlpr_abc", "user-1")
		ev.EventType = events.TypeVariantAvailable

		if err := c.Handle(ctx, ev); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if _, err := c.Get(ctx, "wlpr_abc"); !errors.Is(err, gorm.ErrRecordNotFound) {
			t.Errorf("expected no projection, got %v", err)
		}
	})
}

func TestReadModelListByUser(t *testing.T) {
	c := newReadModel(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ev := uploadedEvent(fmt.Sprintf("ev-%d", i), fmt.Sprintf("wlpr_%d", i), "user-1")
		ev.Wallpaper.UploadedAt = base.Add(time.Duration(i) * time.Minute)
		if err := c.Handle(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Handle(ctx, uploadedEvent("ev-x", "wlpr_x", "user-2")); err != nil {
		t.Fatal(err)
	}

	rows, err := c.ListByUser(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	// Newest first.
	if rows[0].WallpaperID != "wlpr_2" || rows[1].WallpaperID != "wlpr_1" {
		t.Errorf("order = %s, %s", rows[0].WallpaperID, rows[1].WallpaperID)
	}
}

func TestMalformedError(t *testing.T) {
	cause := fmt.Errorf("missing field")
	err := fmt.Errorf("handler: %w", &MalformedError{Err: cause})

	if !IsMalformed(err) {
		t.Error("wrapped MalformedError should be detected")
	}
	if !errors.Is(err, cause) {
		t.Error("cause should survive unwrapping")
	}
	if IsMalformed(fmt.Errorf("transient database error")) {
		t.Error("ordinary errors are not malformed")
	}
}

func TestConsumerConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := Config{Durable: "readmodel"}
		cfg.ApplyDefaults()
		if cfg.Subject != events.SubjectUploaded {
			t.Errorf("Subject = %q", cfg.Subject)
		}
		if cfg.MaxDeliver != 5 {
			t.Errorf("MaxDeliver = %d", cfg.MaxDeliver)
		}
		if cfg.NakDelay != 5*time.Second {
			t.Errorf("NakDelay = %s", cfg.NakDelay)
		}
	})

	t.Run("durable required", func(t *testing.T) {
		var cfg Config
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err == nil {
			t.Error("expected validation error without durable name")
		}
	})
}
