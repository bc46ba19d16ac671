package consumer

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wallpaperd/wallpaperd/internal/logger"
	"github.com/wallpaperd/wallpaperd/pkg/events"
)

// WallpaperReadModel is the denormalized projection of uploaded wallpapers
// that browse and search queries read from.
type WallpaperReadModel struct {
	WallpaperID      string    `gorm:"primaryKey;size:64" json:"wallpaperId"`
	UserID           string    `gorm:"index;not null;size:255" json:"userId"`
	FileType         string    `gorm:"size:10" json:"fileType"`
	MIMEType         string    `gorm:"column:mime_type;size:100" json:"mimeType"`
	FileSizeBytes    int64     `json:"fileSizeBytes"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	AspectRatio      float64   `json:"aspectRatio"`
	StorageKey       string    `gorm:"size:255" json:"storageKey"`
	StorageBucket    string    `gorm:"size:255" json:"storageBucket"`
	OriginalFilename string    `gorm:"size:255" json:"originalFilename"`
	UploadedAt       time.Time `gorm:"index" json:"uploadedAt"`
	LastEventID      string    `gorm:"size:64" json:"lastEventId"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for WallpaperReadModel.
func (WallpaperReadModel) TableName() string {
	return "wallpaper_read_models"
}

// ReadModelConsumer materializes wallpaper.uploaded events into the read
// model table.
type ReadModelConsumer struct {
	db *gorm.DB
}

// NewReadModel creates the consumer and migrates its table.
func NewReadModel(db *gorm.DB) (*ReadModelConsumer, error) {
	if err := db.AutoMigrate(&WallpaperReadModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate read model table: %w", err)
	}
	return &ReadModelConsumer{db: db}, nil
}

// Handle upserts the event's wallpaper projection keyed by wallpaper id.
// Redelivered events overwrite the same row, so the projection is
// idempotent under at-least-once delivery.
func (c *ReadModelConsumer) Handle(ctx context.Context, ev *events.UploadedEvent) error {
	if ev.EventType != events.TypeUploaded {
		// Other event types on the stream are not ours to project.
		return nil
	}

	row := &WallpaperReadModel{
		WallpaperID:      ev.Wallpaper.ID,
		UserID:           ev.Wallpaper.UserID,
		FileType:         ev.Wallpaper.FileType,
		MIMEType:         ev.Wallpaper.MIMEType,
		FileSizeBytes:    ev.Wallpaper.FileSizeBytes,
		Width:            ev.Wallpaper.Width,
		Height:           ev.Wallpaper.Height,
		AspectRatio:      ev.Wallpaper.AspectRatio,
		StorageKey:       ev.Wallpaper.StorageKey,
		StorageBucket:    ev.Wallpaper.StorageBucket,
		OriginalFilename: ev.Wallpaper.OriginalFilename,
		UploadedAt:       ev.Wallpaper.UploadedAt,
		LastEventID:      ev.EventID,
	}

	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallpaper_id"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert read model for %s: %w", ev.Wallpaper.ID, err)
	}

	logger.DebugCtx(ctx, "Read model updated",
		logger.KeyWallpaperID, ev.Wallpaper.ID,
		logger.KeyEventID, ev.EventID)
	return nil
}

// Get loads a projection by wallpaper id.
func (c *ReadModelConsumer) Get(ctx context.Context, wallpaperID string) (*WallpaperReadModel, error) {
	var row WallpaperReadModel
	err := c.db.WithContext(ctx).First(&row, "wallpaper_id = ?", wallpaperID).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListByUser returns a user's projections, newest first.
func (c *ReadModelConsumer) ListByUser(ctx context.Context, userID string, limit int) ([]*WallpaperReadModel, error) {
	var rows []*WallpaperReadModel
	err := c.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("uploaded_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
