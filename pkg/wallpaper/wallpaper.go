// Package wallpaper defines the wallpaper record, its upload lifecycle and
// the helpers shared by the orchestrator, the metadata store and the
// reconciler.
package wallpaper

import (
	"fmt"
	"math"
	"time"

	"github.com/wallpaperd/wallpaperd/internal/uid"
)

// IDPrefix is prepended to every wallpaper id.
const IDPrefix = "wlpr_"

// FileType represents the broad media category of a wallpaper.
type FileType string

const (
	FileTypeImage FileType = "image"
	// FileTypeVideo is carried by the data model for live wallpapers, but
	// the upload path rejects video payloads for now.
	FileTypeVideo FileType = "video"
)

// IsValid checks if the file type is a known FileType.
func (t FileType) IsValid() bool {
	return t == FileTypeImage || t == FileTypeVideo
}

// Wallpaper is the primary metadata record for an uploaded wallpaper.
//
// The record doubles as the write-ahead log of the ingestion pipeline: it is
// inserted in state "initiated" before any bytes reach the object store, and
// every later step is recorded as a state transition. Fields below the
// lifecycle block stay nil until the upload reaches "stored".
type Wallpaper struct {
	ID          string `gorm:"primaryKey;size:64" json:"id"`
	UserID      string `gorm:"index;not null;size:255" json:"userId"`
	ContentHash *string `gorm:"size:64" json:"contentHash,omitempty"`

	UploadState     UploadState `gorm:"index;not null;size:20" json:"uploadState"`
	StateChangedAt  time.Time   `gorm:"index;not null" json:"stateChangedAt"`
	UploadAttempts  int         `gorm:"not null;default:0" json:"uploadAttempts"`
	ProcessingError *string     `json:"processingError,omitempty"`

	FileType      *FileType `gorm:"size:10" json:"fileType,omitempty"`
	MIMEType      *string   `gorm:"column:mime_type;size:100" json:"mimeType,omitempty"`
	FileSizeBytes *int64    `json:"fileSizeBytes,omitempty"`
	Width         *int      `json:"width,omitempty"`
	Height        *int      `json:"height,omitempty"`
	AspectRatio   *float64  `json:"aspectRatio,omitempty"`

	StorageKey       *string `gorm:"size:255" json:"storageKey,omitempty"`
	StorageBucket    *string `gorm:"size:255" json:"storageBucket,omitempty"`
	OriginalFilename *string `gorm:"size:255" json:"originalFilename,omitempty"`

	UploadedAt time.Time `gorm:"index;autoCreateTime" json:"uploadedAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for Wallpaper.
func (Wallpaper) TableName() string {
	return "wallpapers"
}

// NewID generates a fresh wallpaper id. Ids are lexicographically sortable
// by creation time.
func NewID() string {
	return IDPrefix + uid.New()
}

// MetadataComplete reports whether every field required at "stored" and
// beyond is populated. The missing-announcement reconciler loop uses it as
// the precondition for republishing the uploaded event.
func (w *Wallpaper) MetadataComplete() bool {
	return w.ContentHash != nil &&
		w.FileType != nil &&
		w.MIMEType != nil &&
		w.FileSizeBytes != nil &&
		w.Width != nil &&
		w.Height != nil &&
		w.StorageKey != nil &&
		w.StorageBucket != nil
}

// StorageKeyFor derives the object key for the original bytes of a
// wallpaper. The key is deterministic in the id and extension.
func StorageKeyFor(id, ext string) string {
	return fmt.Sprintf("%s/original.%s", id, ext)
}

// AspectRatioOf returns width/height rounded to 4 decimals.
func AspectRatioOf(width, height int) float64 {
	if height == 0 {
		return 0
	}
	return math.Round(float64(width)/float64(height)*10000) / 10000
}
