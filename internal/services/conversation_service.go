// Package services – ConversationService
//
// This file implements canonical two-party conversations and their message
// timeline: resolve-or-create keyed by the ordered participant pair, gapless
// per-conversation sequence numbers, cursor pagination, read receipts, and
// sender-only edit/delete.
//
// Sequence allocation reads the current maximum and inserts at max+1; the
// unique (conversation_id, sequence_number) index turns a concurrent
// allocation into repo.ErrDuplicate, which SendMessage retries a bounded
// number of times.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mkourtis/go-dm-backend/internal/domain"
	"github.com/mkourtis/go-dm-backend/internal/realtime"
	"github.com/mkourtis/go-dm-backend/internal/repo"
	"github.com/mkourtis/go-dm-backend/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxSeqRetries bounds the insert-at-max+1 retry loop under concurrent
// sends to the same conversation.
const maxSeqRetries = 3

// readReceiptTimeout bounds the detached read-marking goroutine spawned by
// ListPage.
const readReceiptTimeout = 5 * time.Second

// ConversationService provides the message timeline for two-party
// conversations.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Hub receives change events after commits; nil disables publishing.
	Hub *realtime.Hub
	// AdminID is exempt from the connection gate so the welcome bootstrap
	// can message users who have no connections yet. Empty exempts nobody.
	AdminID string
	// QueryTimeout caps each store operation; zero means DefaultQueryTimeout.
	QueryTimeout time.Duration
}

// NewConversationService constructs a ConversationService around db and hub.
func NewConversationService(db *gorm.DB, hub *realtime.Hub) *ConversationService {
	return &ConversationService{DB: db, Hub: hub, QueryTimeout: DefaultQueryTimeout}
}

// MessagePage is one page of a conversation timeline, newest first.
type MessagePage struct {
	Messages   []domain.Message `json:"messages"`
	HasMore    bool             `json:"has_more"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// Resolve returns the single conversation between a and b, creating it on
// first contact. The pair is stored in canonical order, so either argument
// order resolves to the same row; a concurrent first-message race is
// absorbed by re-reading after a unique violation.
func (s *ConversationService) Resolve(ctx context.Context, a, b string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Resolve")
	defer span.End()

	if a == "" || b == "" {
		return nil, NewValidationError("participant", "must not be empty")
	}
	if a == b {
		return nil, NewValidationError("participant", "cannot converse with yourself")
	}

	if err := s.requireConnected(ctx, a, b); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	conv, err := repo.GetConversationBetween(ctx, s.DB, a, b)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, storeErr("lookup conversation", err)
	}

	conv, err = repo.CreateConversation(ctx, s.DB, a, b)
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost the first-contact race; the winner's row is the one.
		conv, err = repo.GetConversationBetween(ctx, s.DB, a, b)
	}
	if err != nil {
		return nil, storeErr("create conversation", err)
	}
	return conv, nil
}

// SendMessage appends ciphertext to the conversation between sender and
// recipient, allocating the next sequence number. Content arrives already
// encrypted; this service never sees plaintext.
func (s *ConversationService) SendMessage(ctx context.Context, senderID, recipientID, ciphertext, iv string) (*domain.Message, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "SendMessage",
		trace.WithAttributes(attribute.String("user.id", senderID)),
	)
	defer span.End()

	if senderID == "" {
		return nil, ErrNotAuthenticated
	}
	if ciphertext == "" || iv == "" {
		return nil, NewValidationError("content", "ciphertext and iv must not be empty")
	}

	conv, err := s.Resolve(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}
	return s.appendMessage(ctx, conv, senderID, ciphertext, iv)
}

// SendToConversation appends to an existing conversation the caller
// participates in. Used by handlers that address a conversation id directly.
func (s *ConversationService) SendToConversation(ctx context.Context, senderID, conversationID, ciphertext, iv string) (*domain.Message, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "SendToConversation",
		trace.WithAttributes(
			attribute.String("user.id", senderID),
			attribute.String("conversation.id", conversationID),
		),
	)
	defer span.End()

	if senderID == "" {
		return nil, ErrNotAuthenticated
	}
	if ciphertext == "" || iv == "" {
		return nil, NewValidationError("content", "ciphertext and iv must not be empty")
	}

	conv, err := s.participantConversation(ctx, senderID, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.requireConnected(ctx, conv.Participant1ID, conv.Participant2ID); err != nil {
		return nil, err
	}
	return s.appendMessage(ctx, conv, senderID, ciphertext, iv)
}

// requireConnected enforces the friend gate: a conversation may exist (and
// accept messages) only between accounts whose connection is accepted.
// Conversations involving the admin account are exempt.
func (s *ConversationService) requireConnected(ctx context.Context, a, b string) error {
	if s.AdminID != "" && (a == s.AdminID || b == s.AdminID) {
		return nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	conn, err := repo.GetConnectionBetween(ctx, s.DB, a, b)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotConnected
	}
	if err != nil {
		return storeErr("lookup connection", err)
	}
	if conn.Status != domain.StatusAccepted {
		return ErrNotConnected
	}
	return nil
}

// appendMessage allocates the next sequence number and inserts, retrying a
// bounded number of times when a concurrent sender claims the slot first.
func (s *ConversationService) appendMessage(ctx context.Context, conv *domain.Conversation, senderID, ciphertext, iv string) (*domain.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var msg *domain.Message
	for attempt := 0; ; attempt++ {
		max, err := repo.MaxSequence(ctx, s.DB, conv.ID)
		if err != nil {
			return nil, storeErr("read max sequence", err)
		}
		msg, err = repo.CreateMessage(ctx, s.DB, conv.ID, senderID, ciphertext, iv, max+1)
		if err == nil {
			break
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			return nil, storeErr("create message", err)
		}
		if attempt+1 >= maxSeqRetries {
			return nil, storeErr("create message", err)
		}
		// Another sender took this slot; re-read and try the next one.
	}

	if err := repo.TouchLastMessage(ctx, s.DB, conv.ID, msg.CreatedAt); err != nil {
		// The message is committed; a stale last_message_at only affects
		// conversation ordering, so log and move on.
		log.Warn().Err(err).Str("conversation_id", conv.ID).
			Msg("failed to update conversation last_message_at")
	}

	s.Hub.Publish(realtime.Event{
		Table:          realtime.TableMessages,
		Action:         realtime.ActionInsert,
		RowID:          msg.ID,
		ConversationID: conv.ID,
	})
	return msg, nil
}

// ListPage returns one page of the timeline, newest first. beforeSeq <= 0
// starts from the top; otherwise only messages with a lower sequence number
// are returned. pageSize+1 rows are fetched to compute HasMore without a
// count query.
//
// As a side effect, unread messages addressed to the viewer are marked read
// on a detached goroutine; a receipt failure is logged and never delays the
// page.
func (s *ConversationService) ListPage(ctx context.Context, viewerID, conversationID string, beforeSeq int64, pageSize int) (*MessagePage, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", viewerID),
			attribute.String("conversation.id", conversationID),
		),
	)
	defer span.End()

	if viewerID == "" {
		return nil, ErrNotAuthenticated
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	qctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.participantConversation(qctx, viewerID, conversationID); err != nil {
		return nil, err
	}

	rows, err := repo.ListMessagesBefore(qctx, s.DB, conversationID, beforeSeq, pageSize+1)
	if err != nil {
		return nil, storeErr("list messages", err)
	}

	page := &MessagePage{Messages: rows}
	if len(rows) > pageSize {
		page.Messages = rows[:pageSize]
		page.HasMore = true
	}
	if n := len(page.Messages); n > 0 {
		page.NextCursor = utils.EncodeCursor(page.Messages[n-1].SequenceNumber)
	}

	go s.markRead(viewerID, conversationID)

	return page, nil
}

// markRead runs off the request path with its own context.
func (s *ConversationService) markRead(viewerID, conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), readReceiptTimeout)
	defer cancel()

	n, err := repo.MarkMessagesRead(ctx, s.DB, conversationID, viewerID, time.Now().UTC())
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).
			Msg("failed to mark messages read")
		return
	}
	if n > 0 {
		s.Hub.Publish(realtime.Event{
			Table:          realtime.TableMessages,
			Action:         realtime.ActionUpdate,
			ConversationID: conversationID,
		})
	}
}

// ListConversations returns the caller's conversations, most recently
// active first.
func (s *ConversationService) ListConversations(ctx context.Context, callerID string) ([]domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ListConversations",
		trace.WithAttributes(attribute.String("user.id", callerID)),
	)
	defer span.End()

	if callerID == "" {
		return nil, ErrNotAuthenticated
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := repo.ListConversationsForUser(ctx, s.DB, callerID)
	if err != nil {
		return nil, storeErr("list conversations", err)
	}
	return rows, nil
}

// EditMessage replaces a message's ciphertext and IV. Sender-only; the row
// keeps its sequence slot and gains the edited flag.
func (s *ConversationService) EditMessage(ctx context.Context, callerID, messageID, ciphertext, iv string) error {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "EditMessage",
		trace.WithAttributes(attribute.String("user.id", callerID)),
	)
	defer span.End()

	if callerID == "" {
		return ErrNotAuthenticated
	}
	if ciphertext == "" || iv == "" {
		return NewValidationError("content", "ciphertext and iv must not be empty")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	msg, err := s.senderMessage(ctx, callerID, messageID)
	if err != nil {
		return err
	}
	if msg.Deleted {
		return NewValidationError("message_id", "cannot edit a deleted message")
	}
	if err := repo.UpdateMessageContent(ctx, s.DB, msg.ID, ciphertext, iv); err != nil {
		return storeErr("edit message", err)
	}

	s.Hub.Publish(realtime.Event{
		Table:          realtime.TableMessages,
		Action:         realtime.ActionUpdate,
		RowID:          msg.ID,
		ConversationID: msg.ConversationID,
	})
	return nil
}

// DeleteMessage blanks a message's ciphertext and flags it deleted.
// Sender-only; the row and its sequence slot survive.
func (s *ConversationService) DeleteMessage(ctx context.Context, callerID, messageID string) error {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "DeleteMessage",
		trace.WithAttributes(attribute.String("user.id", callerID)),
	)
	defer span.End()

	if callerID == "" {
		return ErrNotAuthenticated
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	msg, err := s.senderMessage(ctx, callerID, messageID)
	if err != nil {
		return err
	}
	if err := repo.SoftDeleteMessage(ctx, s.DB, msg.ID); err != nil {
		return storeErr("delete message", err)
	}

	s.Hub.Publish(realtime.Event{
		Table:          realtime.TableMessages,
		Action:         realtime.ActionUpdate,
		RowID:          msg.ID,
		ConversationID: msg.ConversationID,
	})
	return nil
}

// participantConversation loads a conversation and checks the caller is one
// of its two participants. A missing row and a foreign row are reported
// distinctly so handlers can map 404 vs 403.
func (s *ConversationService) participantConversation(ctx context.Context, callerID, conversationID string) (*domain.Conversation, error) {
	conv, err := repo.GetConversation(ctx, s.DB, conversationID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, storeErr("lookup conversation", err)
	}
	if conv.Participant1ID != callerID && conv.Participant2ID != callerID {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// senderMessage loads a message and checks the caller sent it.
func (s *ConversationService) senderMessage(ctx context.Context, callerID, messageID string) (*domain.Message, error) {
	msg, err := repo.GetMessage(ctx, s.DB, messageID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, storeErr("lookup message", err)
	}
	if msg.SenderID != callerID {
		return nil, ErrNotParticipant
	}
	return msg, nil
}

func (s *ConversationService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.QueryTimeout
	if d <= 0 {
		d = DefaultQueryTimeout
	}
	return context.WithTimeout(ctx, d)
}
