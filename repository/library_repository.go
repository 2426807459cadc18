package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"echofm/errs"
	"echofm/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LibraryRepository is the per-user membership store. Uniqueness on
// (user_id, external_id) is enforced by the table constraint, which makes
// Ensure idempotent under concurrent writers.
type LibraryRepository interface {
	Get(ctx context.Context, userID int64, externalID string) (*model.UserLibraryEntry, error)
	Ensure(ctx context.Context, userID int64, externalID string) (bool, error)
	ListByUser(ctx context.Context, userID int64) ([]*model.UserLibraryEntry, error)
	RecordPlay(ctx context.Context, userID int64, externalID string) error
	SetFavorite(ctx context.Context, userID int64, externalID string, favorite bool) error
}

type gormLibraryRepository struct {
	db *gorm.DB
}

// NewGormLibraryRepository creates a membership repository on the given handle.
func NewGormLibraryRepository(db *gorm.DB) LibraryRepository {
	return &gormLibraryRepository{db: db}
}

// Get returns the membership row, or nil when the user does not own the track.
func (r *gormLibraryRepository) Get(ctx context.Context, userID int64, externalID string) (*model.UserLibraryEntry, error) {
	entry := &model.UserLibraryEntry{}
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND external_id = ?", userID, externalID).
		First(entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query library entry (%d, %s): %w", userID, externalID, err)
	}
	return entry, nil
}

// Ensure creates the membership row if absent and reports whether a new row
// was written. A duplicate-key race with another writer counts as "already
// present", the same as finding the row up front.
func (r *gormLibraryRepository) Ensure(ctx context.Context, userID int64, externalID string) (bool, error) {
	entry := &model.UserLibraryEntry{UserID: userID, ExternalID: externalID}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return false, fmt.Errorf("failed to ensure library entry (%d, %s): %w", userID, externalID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListByUser returns the user's library, newest first.
func (r *gormLibraryRepository) ListByUser(ctx context.Context, userID int64) ([]*model.UserLibraryEntry, error) {
	entries := make([]*model.UserLibraryEntry, 0)
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("added_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list library for user %d: %w", userID, err)
	}
	return entries, nil
}

// RecordPlay bumps the play counter and stamps the playback time.
func (r *gormLibraryRepository) RecordPlay(ctx context.Context, userID int64, externalID string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&model.UserLibraryEntry{}).
		Where("user_id = ? AND external_id = ?", userID, externalID).
		Updates(map[string]interface{}{
			"play_count":     gorm.Expr("play_count + 1"),
			"last_played_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record play (%d, %s): %w", userID, externalID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Wrap(errs.ErrTrackNotFound, "track %s is not in user %d's library", externalID, userID)
	}
	return nil
}

// SetFavorite toggles the favorite flag on the membership row.
func (r *gormLibraryRepository) SetFavorite(ctx context.Context, userID int64, externalID string, favorite bool) error {
	res := r.db.WithContext(ctx).
		Model(&model.UserLibraryEntry{}).
		Where("user_id = ? AND external_id = ?", userID, externalID).
		Update("is_favorite", favorite)
	if res.Error != nil {
		return fmt.Errorf("failed to set favorite (%d, %s): %w", userID, externalID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Wrap(errs.ErrTrackNotFound, "track %s is not in user %d's library", externalID, userID)
	}
	return nil
}
