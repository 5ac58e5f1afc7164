// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// UserProfile model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mkourtis/go-dm-backend/internal/domain"
)

// CreateProfile inserts a new profile row. The username must be unique;
// a duplicate maps to ErrDuplicate.
func CreateProfile(ctx context.Context, db *gorm.DB, username, displayName string) (*domain.UserProfile, error) {
	p := &domain.UserProfile{
		ID:          uuid.NewString(),
		Username:    username,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return p, nil
}

// GetProfile fetches a profile by ID, or ErrNotFound.
func GetProfile(ctx context.Context, db *gorm.DB, id string) (*domain.UserProfile, error) {
	var p domain.UserProfile
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// SearchProfiles returns profiles with an exact username match, excluding
// the caller. Exact match keeps the lookup index-backed and avoids turning
// search into user enumeration.
func SearchProfiles(ctx context.Context, db *gorm.DB, callerID, username string, limit int) ([]domain.UserProfile, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []domain.UserProfile
	err := db.WithContext(ctx).
		Where("username = ? AND id <> ?", username, callerID).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SetWelcomeSent marks the welcome message as delivered for a profile.
// Returns ErrNotFound when the profile does not exist.
func SetWelcomeSent(ctx context.Context, db *gorm.DB, userID string) error {
	res := db.WithContext(ctx).
		Model(&domain.UserProfile{}).
		Where("id = ?", userID).
		Update("welcome_message_sent", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
