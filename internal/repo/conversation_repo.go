// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mkourtis/go-dm-backend/internal/domain"
)

// GetConversationBetween fetches the canonical conversation for a pair of
// accounts, or ErrNotFound. Argument order does not matter.
func GetConversationBetween(ctx context.Context, db *gorm.DB, a, b string) (*domain.Conversation, error) {
	p1, p2 := domain.OrderPair(a, b)
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("participant_1_id = ? AND participant_2_id = ?", p1, p2).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConversation inserts the canonical row for a pair. A concurrent
// first-message from the other side loses the race on the unique pair index
// and gets ErrDuplicate; callers retry the lookup instead of failing.
func CreateConversation(ctx context.Context, db *gorm.DB, a, b string) (*domain.Conversation, error) {
	p1, p2 := domain.OrderPair(a, b)
	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:             uuid.NewString(),
		Participant1ID: p1,
		Participant2ID: p2,
		LastMessageAt:  now,
		CreatedAt:      now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return c, nil
}

// GetConversation fetches a conversation by ID, or ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// TouchLastMessage updates the conversation's last_message_at watermark.
func TouchLastMessage(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("last_message_at", at).Error
}

// ListConversationsForUser returns the user's conversations, most recently
// active first.
func ListConversationsForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("participant_1_id = ? OR participant_2_id = ?", userID, userID).
		Order("last_message_at DESC").
		Find(&out).Error
	return out, err
}
