// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model: sequence assignment input, cursor pagination, read receipts, and
// edit/soft-delete mutations.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mkourtis/go-dm-backend/internal/domain"
)

// MaxSequence returns the highest sequence number in a conversation, or 0
// when it has no messages. The service layer inserts at max+1 and relies on
// the (conversation_id, sequence_number) unique index to detect two senders
// racing on the same stale read.
func MaxSequence(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var max int64
	err := db.WithContext(ctx).
		Raw("SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE conversation_id = ?", conversationID).
		Scan(&max).Error
	return max, err
}

// CreateMessage inserts a message at the given sequence number. A sequence
// collision maps to ErrDuplicate so the caller can recompute and retry.
func CreateMessage(ctx context.Context, db *gorm.DB, conversationID, senderID, ciphertext, iv string, seq int64) (*domain.Message, error) {
	now := time.Now().UTC()
	m := &domain.Message{
		ID:                   uuid.NewString(),
		ConversationID:       conversationID,
		SenderID:             senderID,
		EncryptedContent:     ciphertext,
		InitializationVector: iv,
		SequenceNumber:       seq,
		DeliveredAt:          &now,
		CreatedAt:            now,
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return m, nil
}

// GetMessage fetches a message by ID, or ErrNotFound.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessagesBefore returns up to limit messages with sequence number
// strictly below beforeSeq, newest first. Pass beforeSeq <= 0 to start from
// the top. Callers request one more row than the page size to compute a
// has_more flag.
func ListMessagesBefore(ctx context.Context, db *gorm.DB, conversationID string, beforeSeq int64, limit int) ([]domain.Message, error) {
	q := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sequence_number DESC")
	if beforeSeq > 0 {
		q = q.Where("sequence_number < ?", beforeSeq)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.Message
	err := q.Find(&out).Error
	return out, err
}

// MarkMessagesRead sets read_at on every unread message in the conversation
// that was not sent by the viewer. Returns the number of rows touched.
func MarkMessagesRead(ctx context.Context, db *gorm.DB, conversationID, viewerID string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversationID, viewerID).
		Update("read_at", at)
	return res.RowsAffected, res.Error
}

// UpdateMessageContent replaces ciphertext and IV and flags the row edited.
func UpdateMessageContent(ctx context.Context, db *gorm.DB, id, ciphertext, iv string) error {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"encrypted_content":     ciphertext,
			"initialization_vector": iv,
			"edited":                true,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteMessage flags a message deleted and blanks its ciphertext. The
// row (and its sequence slot) is kept so per-conversation ordering stays
// gap-free.
func SoftDeleteMessage(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"deleted":               true,
			"encrypted_content":     "",
			"initialization_vector": "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).
		Scan(&total).Error
	return total, err
}

// FirstMessageBySender returns the earliest message a sender authored in a
// conversation, or ErrNotFound. The welcome flow uses this to detect a
// delivery whose flag write was lost.
func FirstMessageBySender(ctx context.Context, db *gorm.DB, conversationID, senderID string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND sender_id = ?", conversationID, senderID).
		Order("sequence_number ASC").
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}
