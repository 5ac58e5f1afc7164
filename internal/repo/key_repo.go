// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// UserEncryptionKey model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mkourtis/go-dm-backend/internal/domain"
)

// CreateKey inserts a new key epoch for a user. publicKey is the exported
// JWK JSON and salt is the base64 derivation salt; neither the password nor
// the private key ever reaches this layer.
func CreateKey(ctx context.Context, db *gorm.DB, userID, publicKey, salt, deviceID string) (*domain.UserEncryptionKey, error) {
	k := &domain.UserEncryptionKey{
		ID:             uuid.NewString(),
		UserID:         userID,
		PublicKey:      publicKey,
		EncryptionSalt: salt,
		DeviceID:       deviceID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(k).Error; err != nil {
		return nil, err
	}
	return k, nil
}

// GetActiveKey returns the user's current key row: the newest non-revoked
// one. Missing rows map to ErrNotFound (a legacy account predating key
// derivation, or a fully revoked history).
func GetActiveKey(ctx context.Context, db *gorm.DB, userID string) (*domain.UserEncryptionKey, error) {
	var k domain.UserEncryptionKey
	err := db.WithContext(ctx).
		Where("user_id = ? AND revoked = ?", userID, false).
		Order("created_at DESC").
		First(&k).Error
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// RevokeKey flags a single key row as revoked. Rows are superseded, never
// deleted, so key history stays auditable.
func RevokeKey(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.UserEncryptionKey{}).
		Where("id = ?", id).
		Update("revoked", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeKeysForUser flags every active key row for a user as revoked. Used
// on password change before the fresh epoch is inserted.
func RevokeKeysForUser(ctx context.Context, db *gorm.DB, userID string) error {
	return db.WithContext(ctx).
		Model(&domain.UserEncryptionKey{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true).Error
}
