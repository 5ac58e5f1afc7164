// Handler wiring.
//
// Handlers are transport-thin: they validate and normalize inputs, call the
// application services through narrow interfaces, and translate results into
// HTTP responses. Business rules live in the services; persistence quirks in
// the repo layer.
package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mkourtis/go-dm-backend/internal/crypto"
	"github.com/mkourtis/go-dm-backend/internal/domain"
	"github.com/mkourtis/go-dm-backend/internal/realtime"
	"github.com/mkourtis/go-dm-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// ConnectionService defines the friend-request lifecycle consumed by HTTP
// handlers. Implementations must be safe for concurrent use and honor the
// provided context.
type ConnectionService interface {
	SendFriendRequest(ctx context.Context, callerID, addresseeID string) (*domain.UserConnection, error)
	RespondToRequest(ctx context.Context, callerID, connectionID string, action domain.ResponseAction) (*domain.UserConnection, error)
	RemoveConnection(ctx context.Context, callerID, connectionID string) error
	SearchUsers(ctx context.Context, callerID, query string, limit int) (*services.SearchResult, error)
	GetConnections(ctx context.Context, callerID string) (*services.ConnectionOverview, error)
}

// ConversationService defines conversation and message timeline operations.
type ConversationService interface {
	Resolve(ctx context.Context, a, b string) (*domain.Conversation, error)
	SendToConversation(ctx context.Context, senderID, conversationID, ciphertext, iv string) (*domain.Message, error)
	ListConversations(ctx context.Context, callerID string) ([]domain.Conversation, error)
	ListPage(ctx context.Context, viewerID, conversationID string, beforeSeq int64, pageSize int) (*services.MessagePage, error)
	EditMessage(ctx context.Context, callerID, messageID, ciphertext, iv string) error
	DeleteMessage(ctx context.Context, callerID, messageID string) error
}

// KeyService defines password-derived key operations.
type KeyService interface {
	EnsureKeyPair(ctx context.Context, userID, password string) (*crypto.DerivedKeyPair, error)
	Unlock(ctx context.Context, userID, password string) (*crypto.DerivedKeyPair, error)
	RotateKeys(ctx context.Context, userID, newPassword string) (*crypto.DerivedKeyPair, error)
	PeerPublicKey(ctx context.Context, userID string) (crypto.PublicKeyJWK, error)
	Clear(userID string)
}

// WelcomeService delivers the one-time greeting after registration.
type WelcomeService interface {
	Deliver(ctx context.Context, userID string) services.WelcomeResult
}

// Handlers groups the HTTP endpoints for profiles, connections, keys, and
// conversations. DB is used directly only for idempotency bookkeeping and
// profile creation; everything else goes through the service interfaces.
type Handlers struct {
	db         *gorm.DB
	connSvc    ConnectionService
	convSvc    ConversationService
	keySvc     KeyService
	welcomeSvc WelcomeService
	hub        *realtime.Hub

	// IdempotencyTTL is how long a recorded Idempotency-Key stays valid.
	IdempotencyTTL time.Duration
}

// New constructs a Handlers instance bound to the given services.
func New(db *gorm.DB, connSvc ConnectionService, convSvc ConversationService, keySvc KeyService, welcomeSvc WelcomeService, hub *realtime.Hub) *Handlers {
	return &Handlers{
		db:             db,
		connSvc:        connSvc,
		convSvc:        convSvc,
		keySvc:         keySvc,
		welcomeSvc:     welcomeSvc,
		hub:            hub,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// userID extracts the authenticated user id from Gin context (set by
// upstream middleware). If absent, it falls back to the "X-User-ID" header
// (tests use it), and finally to "demo-user".
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}
