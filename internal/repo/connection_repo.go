// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// UserConnection model.
//
// Error semantics:
//   - Missing rows return gorm.ErrRecordNotFound (exported as ErrNotFound).
//   - A second row for the same unordered pair maps to ErrDuplicate via the
//     unique index on pair_key.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mkourtis/go-dm-backend/internal/domain"
)

// CreateConnection inserts a pending request from requester to addressee.
// The canonical pair key is computed here so callers cannot get it wrong.
func CreateConnection(ctx context.Context, db *gorm.DB, requesterID, addresseeID string) (*domain.UserConnection, error) {
	c := &domain.UserConnection{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		AddresseeID: addresseeID,
		Status:      domain.StatusPending,
		PairKey:     domain.PairKey(requesterID, addresseeID),
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return c, nil
}

// GetConnection fetches a connection by ID, or ErrNotFound.
func GetConnection(ctx context.Context, db *gorm.DB, id string) (*domain.UserConnection, error) {
	var c domain.UserConnection
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConnectionBetween fetches the row for an unordered pair in any status,
// or ErrNotFound.
func GetConnectionBetween(ctx context.Context, db *gorm.DB, a, b string) (*domain.UserConnection, error) {
	var c domain.UserConnection
	err := db.WithContext(ctx).
		Where("pair_key = ?", domain.PairKey(a, b)).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateConnectionStatus persists a status transition. The legality of the
// transition is decided by the service layer via domain.ConnectionStatus.
func UpdateConnectionStatus(ctx context.Context, db *gorm.DB, id string, status domain.ConnectionStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.UserConnection{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConnection removes a row unconditionally of status (cancel,
// unfriend, or unblock).
func DeleteConnection(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.UserConnection{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConnectionsForUser returns every row the user participates in, with
// both participant profiles preloaded, newest first. Partitioning into
// pending/accepted/blocked buckets happens in the service layer.
func ListConnectionsForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.UserConnection, error) {
	var out []domain.UserConnection
	err := db.WithContext(ctx).
		Preload("Requester").
		Preload("Addressee").
		Where("requester_id = ? OR addressee_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// ConnectedUserIDs returns the set of user ids already connected to userID
// in any status. Used by search to disable duplicate-request actions.
func ConnectedUserIDs(ctx context.Context, db *gorm.DB, userID string) (map[string]bool, error) {
	var rows []domain.UserConnection
	err := db.WithContext(ctx).
		Select("requester_id", "addressee_id").
		Where("requester_id = ? OR addressee_id = ?", userID, userID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(rows))
	for _, r := range rows {
		if r.RequesterID != userID {
			ids[r.RequesterID] = true
		}
		if r.AddresseeID != userID {
			ids[r.AddresseeID] = true
		}
	}
	return ids, nil
}
