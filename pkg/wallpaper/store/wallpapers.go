package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/wallpaperd/wallpaperd/pkg/wallpaper"
)

// ============================================
// WALLPAPER OPERATIONS
// ============================================

func (s *GORMStore) Insert(ctx context.Context, w *wallpaper.Wallpaper) error {
	now := s.clock.Now()
	if w.StateChangedAt.IsZero() {
		w.StateChangedAt = now
	}
	if w.UploadedAt.IsZero() {
		w.UploadedAt = now
	}
	if err := s.db.WithContext(ctx).Create(w).Error; err != nil {
		if isUniqueConstraintError(err) {
			return wallpaper.ErrDuplicateContent
		}
		return err
	}
	return nil
}

func (s *GORMStore) Get(ctx context.Context, id string) (*wallpaper.Wallpaper, error) {
	var w wallpaper.Wallpaper
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&w).Error; err != nil {
		return nil, convertNotFoundError(err, wallpaper.ErrNotFound)
	}
	return &w, nil
}

func (s *GORMStore) GetCurrentState(ctx context.Context, id string) (wallpaper.UploadState, error) {
	var w wallpaper.Wallpaper
	err := s.db.WithContext(ctx).Select("upload_state").Where("id = ?", id).First(&w).Error
	if err != nil {
		return "", convertNotFoundError(err, wallpaper.ErrNotFound)
	}
	return w.UploadState, nil
}

// Transition performs the optimistic single-row update that linearizes all
// state changes for a wallpaper id. The WHERE clause pins the expected
// current state; zero rows affected means another writer got there first.
func (s *GORMStore) Transition(ctx context.Context, id string, from, to wallpaper.UploadState, patch *Patch) (*wallpaper.Wallpaper, error) {
	if !wallpaper.CanTransition(from, to) {
		return nil, wallpaper.ErrInvalidStateTransition
	}

	updates := map[string]any{
		"upload_state":     to,
		"state_changed_at": s.clock.Now(),
	}
	applyPatch(updates, patch)

	result := s.db.WithContext(ctx).
		Model(&wallpaper.Wallpaper{}).
		Where("id = ? AND upload_state = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return nil, wallpaper.ErrDuplicateContent
		}
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		// Either the record is gone or its state moved under us. Reload to
		// tell the two apart.
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, wallpaper.ErrConcurrentTransition
	}

	return s.Get(ctx, id)
}

func applyPatch(updates map[string]any, patch *Patch) {
	if patch == nil {
		return
	}
	if patch.ContentHash != nil {
		updates["content_hash"] = *patch.ContentHash
	}
	if patch.FileType != nil {
		updates["file_type"] = *patch.FileType
	}
	if patch.MIMEType != nil {
		updates["mime_type"] = *patch.MIMEType
	}
	if patch.FileSizeBytes != nil {
		updates["file_size_bytes"] = *patch.FileSizeBytes
	}
	if patch.Width != nil {
		updates["width"] = *patch.Width
	}
	if patch.Height != nil {
		updates["height"] = *patch.Height
	}
	if patch.AspectRatio != nil {
		updates["aspect_ratio"] = *patch.AspectRatio
	}
	if patch.StorageKey != nil {
		updates["storage_key"] = *patch.StorageKey
	}
	if patch.StorageBucket != nil {
		updates["storage_bucket"] = *patch.StorageBucket
	}
	if patch.OriginalFilename != nil {
		updates["original_filename"] = *patch.OriginalFilename
	}
	if patch.ProcessingError != nil {
		updates["processing_error"] = *patch.ProcessingError
	}
}

func (s *GORMStore) FindActiveByContentHash(ctx context.Context, userID, hash string) (*wallpaper.Wallpaper, error) {
	var w wallpaper.Wallpaper
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND content_hash = ? AND upload_state IN ?", userID, hash, wallpaper.ActiveStates).
		First(&w).Error
	if err != nil {
		return nil, convertNotFoundError(err, wallpaper.ErrNotFound)
	}
	return &w, nil
}

func (s *GORMStore) ListInStateOlderThan(ctx context.Context, state wallpaper.UploadState, cutoff time.Time, limit int) ([]*wallpaper.Wallpaper, error) {
	var out []*wallpaper.Wallpaper
	q := s.db.WithContext(ctx).
		Where("upload_state = ? AND state_changed_at < ?", state, cutoff).
		Order("state_changed_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GORMStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	result := s.db.WithContext(ctx).
		Model(&wallpaper.Wallpaper{}).
		Where("id = ?", id).
		UpdateColumn("upload_attempts", gorm.Expr("upload_attempts + 1"))
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, wallpaper.ErrNotFound
	}

	w, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return w.UploadAttempts, nil
}

// DeleteIntent removes an aborted intent. The state guard makes overlapping
// reconciler runs safe: once a record left initiated it can no longer be
// deleted.
func (s *GORMStore) DeleteIntent(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Where("id = ? AND upload_state = ?", id, wallpaper.StateInitiated).
		Delete(&wallpaper.Wallpaper{}).Error
}

func (s *GORMStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&wallpaper.Wallpaper{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GORMStore) HasRecordForKey(ctx context.Context, storageKey string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&wallpaper.Wallpaper{}).
		Where("storage_key = ?", storageKey).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ============================================
// HEALTH & LIFECYCLE
// ============================================

func (s *GORMStore) Healthcheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Compile-time interface check
var _ Store = (*GORMStore)(nil)
