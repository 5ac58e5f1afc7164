// Package services – WelcomeService
//
// This file implements the welcome bootstrap: on registration the admin
// account sends the new user one encrypted greeting, exactly once. Delivery
// is best-effort and must never fail registration, so Deliver returns a
// structured result instead of an error; every failure path is logged with
// enough context to retry by hand.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mkourtis/go-dm-backend/internal/crypto"
	"github.com/mkourtis/go-dm-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Skip and failure reasons reported in WelcomeResult.Reason.
const (
	ReasonAdminNotConfigured = "admin_not_configured"
	ReasonAlreadySent        = "already_sent"
	ReasonAdminKeyFailed     = "admin_key_unavailable"
	ReasonUserKeyMissing     = "user_key_missing"
	ReasonConversationFailed = "conversation_failed"
	ReasonEncryptFailed      = "encrypt_failed"
	ReasonSendFailed         = "send_failed"
)

// WelcomeResult reports the outcome of one delivery attempt.
type WelcomeResult struct {
	Success   bool   `json:"success"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// WelcomeService delivers the one-time encrypted greeting from the admin
// account to each new user.
type WelcomeService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Keys derives and caches the admin keypair.
	Keys *KeyService
	// Conversations appends the greeting to the admin↔user conversation.
	Conversations *ConversationService

	// AdminID is the admin account's user id.
	AdminID string
	// AdminPassword derives the admin keypair; empty disables delivery.
	AdminPassword string
	// WelcomeText is the plaintext greeting.
	WelcomeText string

	// QueryTimeout caps each store operation; zero means DefaultQueryTimeout.
	QueryTimeout time.Duration
}

// NewWelcomeService constructs a WelcomeService.
func NewWelcomeService(db *gorm.DB, keys *KeyService, convs *ConversationService, adminID, adminPassword, welcomeText string) *WelcomeService {
	return &WelcomeService{
		DB:            db,
		Keys:          keys,
		Conversations: convs,
		AdminID:       adminID,
		AdminPassword: adminPassword,
		WelcomeText:   welcomeText,
		QueryTimeout:  DefaultQueryTimeout,
	}
}

// Deliver sends the welcome message to userID if it has not been sent yet.
// It never returns an error: callers fire it after registration and must
// not fail the registration on a greeting problem.
//
// The welcome_message_sent flag makes delivery idempotent across calls; a
// crash between message insert and flag write can cause one duplicate,
// which the first-message guard below narrows but does not fully close.
func (s *WelcomeService) Deliver(ctx context.Context, userID string) WelcomeResult {
	tr := otel.Tracer("services/WelcomeService")
	ctx, span := tr.Start(ctx, "Deliver",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if s.AdminPassword == "" {
		log.Info().Str("user_id", userID).Msg("welcome delivery skipped: admin password not configured")
		return WelcomeResult{Success: false, Skipped: true, Reason: ReasonAdminNotConfigured}
	}

	profile, err := repo.GetProfile(ctx, s.DB, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("welcome delivery failed: cannot load profile")
		return WelcomeResult{Reason: ReasonSendFailed}
	}
	if profile.WelcomeMessageSent {
		return WelcomeResult{Success: true, Skipped: true, Reason: ReasonAlreadySent}
	}

	adminKP, err := s.Keys.EnsureKeyPair(ctx, s.AdminID, s.AdminPassword)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("welcome delivery failed: admin keypair unavailable")
		return WelcomeResult{Reason: ReasonAdminKeyFailed}
	}

	conv, err := s.Conversations.Resolve(ctx, s.AdminID, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("welcome delivery failed: cannot resolve conversation")
		return WelcomeResult{Reason: ReasonConversationFailed}
	}

	// The flag can lag the insert (step order below), so also treat an
	// existing admin message in this conversation as already sent.
	if first, err := repo.FirstMessageBySender(ctx, s.DB, conv.ID, s.AdminID); err == nil {
		s.setFlag(ctx, userID)
		return WelcomeResult{Success: true, Skipped: true, Reason: ReasonAlreadySent, MessageID: first.ID}
	} else if !errors.Is(err, repo.ErrNotFound) {
		log.Error().Err(err).Str("user_id", userID).Msg("welcome delivery failed: first-message lookup")
		return WelcomeResult{Reason: ReasonSendFailed}
	}

	peerKey, err := s.Keys.PeerPublicKey(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("welcome delivery failed: user has no active public key")
		return WelcomeResult{Reason: ReasonUserKeyMissing}
	}

	secret, err := crypto.DeriveSharedSecret(adminKP, peerKey)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("welcome delivery failed: shared secret derivation")
		return WelcomeResult{Reason: ReasonEncryptFailed}
	}
	ciphertext, iv, err := crypto.EncryptMessage(s.WelcomeText, secret)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("welcome delivery failed: encryption")
		return WelcomeResult{Reason: ReasonEncryptFailed}
	}

	msg, err := s.Conversations.SendToConversation(ctx, s.AdminID, conv.ID, ciphertext, iv)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("welcome delivery failed: message insert")
		return WelcomeResult{Reason: ReasonSendFailed}
	}

	// Step 7: flag write failure is logged but does not undo a delivered
	// greeting, so the result still reports success.
	s.setFlag(ctx, userID)

	log.Info().Str("user_id", userID).Str("message_id", msg.ID).Msg("welcome message delivered")
	return WelcomeResult{Success: true, MessageID: msg.ID}
}

func (s *WelcomeService) setFlag(ctx context.Context, userID string) {
	if err := repo.SetWelcomeSent(ctx, s.DB, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).
			Msg("failed to set welcome_message_sent flag; next attempt will rely on the first-message guard")
	}
}

func (s *WelcomeService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.QueryTimeout
	if d <= 0 {
		d = DefaultQueryTimeout
	}
	return context.WithTimeout(ctx, d)
}
