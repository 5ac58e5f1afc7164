// Package services – KeyService
//
// This file implements password-derived key management on top of the
// user_encryption_keys relation. Keys are derived lazily: the first
// operation that needs a user's keypair triggers derivation, guarded by a
// single-flight group so concurrent callers share one expensive argon2 run.
//
// Self-healing: when a stored public key no longer matches re-derivation
// from its salt and the current password (corruption or tampering), the
// stale row is revoked and a fresh epoch is inserted without manual
// intervention.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/mkourtis/go-dm-backend/internal/crypto"
	"github.com/mkourtis/go-dm-backend/internal/repo"
)

// KeyCache holds derived keypairs for the lifetime of a session. It is an
// explicit object passed by reference to the services that need it, not
// module-level state; Clear drops a user's pair on sign-out or lock.
type KeyCache struct {
	mu    sync.RWMutex
	pairs map[string]*crypto.DerivedKeyPair
}

// NewKeyCache returns an empty session key cache.
func NewKeyCache() *KeyCache {
	return &KeyCache{pairs: make(map[string]*crypto.DerivedKeyPair)}
}

// Get returns the cached pair for userID, if any.
func (c *KeyCache) Get(userID string) (*crypto.DerivedKeyPair, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kp, ok := c.pairs[userID]
	return kp, ok
}

// Put caches a derived pair for userID.
func (c *KeyCache) Put(userID string, kp *crypto.DerivedKeyPair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairs[userID] = kp
}

// Clear drops the cached pair for userID (sign-out / lock).
func (c *KeyCache) Clear(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pairs, userID)
}

// KeyService manages key epochs: lazy derivation, verification against the
// stored public key, self-healing rotation, and unlock checks.
type KeyService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Cache is the session-scoped keypair cache, shared with WelcomeService.
	Cache *KeyCache
	// DeviceID labels key rows created by this process.
	DeviceID string
	// QueryTimeout caps each store operation; zero means DefaultQueryTimeout.
	QueryTimeout time.Duration

	group singleflight.Group
}

// NewKeyService constructs a KeyService around db and cache.
func NewKeyService(db *gorm.DB, cache *KeyCache) *KeyService {
	return &KeyService{DB: db, Cache: cache, QueryTimeout: DefaultQueryTimeout}
}

// Clear drops the user's cached keypair so the next operation requires the
// password again (sign-out / lock).
func (s *KeyService) Clear(userID string) {
	s.Cache.Clear(userID)
}

// EnsureKeyPair returns the user's derived keypair, deriving and persisting
// one as needed. Concurrent calls for the same user collapse into a single
// derivation.
//
// Paths:
//   - cached → reuse.
//   - no active row → first epoch: new salt, derive, insert.
//   - active row verifies against re-derivation → cache and return.
//   - active row does NOT verify → self-heal: revoke it, insert a fresh
//     epoch, log the rotation.
func (s *KeyService) EnsureKeyPair(ctx context.Context, userID, password string) (*crypto.DerivedKeyPair, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	if kp, ok := s.Cache.Get(userID); ok {
		return kp, nil
	}

	v, err, _ := s.group.Do(userID, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have won.
		if kp, ok := s.Cache.Get(userID); ok {
			return kp, nil
		}
		kp, err := s.loadOrCreate(ctx, userID, password)
		if err != nil {
			return nil, err
		}
		s.Cache.Put(userID, kp)
		return kp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*crypto.DerivedKeyPair), nil
}

// loadOrCreate is the un-guarded body of EnsureKeyPair.
func (s *KeyService) loadOrCreate(ctx context.Context, userID, password string) (*crypto.DerivedKeyPair, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row, err := repo.GetActiveKey(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return s.createEpoch(ctx, userID, password)
	}
	if err != nil {
		return nil, storeErr("load active key", err)
	}

	salt, err := crypto.DecodeSalt(row.EncryptionSalt)
	if err != nil {
		// A salt that no longer decodes is the same corruption case as a
		// mismatched public key: rotate.
		log.Warn().Str("user_id", userID).Str("key_id", row.ID).
			Msg("stored salt is malformed; rotating key epoch")
		return s.heal(ctx, userID, password, row.ID)
	}

	kp, err := crypto.DeriveKeyPair(password, salt)
	if err != nil {
		return nil, err
	}

	stored, err := crypto.ParseJWK(row.PublicKey)
	if err != nil || !crypto.VerifyPublicKey(kp.PublicKey, stored) {
		log.Warn().Str("user_id", userID).Str("key_id", row.ID).
			Msg("stored public key failed verification; rotating key epoch")
		return s.heal(ctx, userID, password, row.ID)
	}
	return kp, nil
}

// heal revokes a corrupt key row and derives a fresh epoch.
func (s *KeyService) heal(ctx context.Context, userID, password, staleID string) (*crypto.DerivedKeyPair, error) {
	if err := repo.RevokeKey(ctx, s.DB, staleID); err != nil {
		return nil, storeErr("revoke stale key", err)
	}
	kp, err := s.createEpoch(ctx, userID, password)
	if err != nil {
		return nil, err
	}
	log.Info().Str("user_id", userID).Msg("key epoch rotated after corruption")
	return kp, nil
}

// createEpoch generates a salt, derives a keypair, and persists the new row.
func (s *KeyService) createEpoch(ctx context.Context, userID, password string) (*crypto.DerivedKeyPair, error) {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	kp, err := crypto.DeriveKeyPair(password, salt)
	if err != nil {
		return nil, err
	}
	jwk, err := crypto.MarshalJWK(kp.PublicKey)
	if err != nil {
		return nil, err
	}
	if _, err := repo.CreateKey(ctx, s.DB, userID, jwk, crypto.EncodeSalt(salt), s.DeviceID); err != nil {
		return nil, storeErr("create key", err)
	}
	return kp, nil
}

// Unlock verifies a password against the user's stored key material without
// mutating anything.
//
// Returns ErrMigrationRequired for accounts with no key row (predating key
// derivation) and ErrCryptoMismatch when re-derivation does not reproduce
// the stored public key — which handlers surface as "incorrect password".
func (s *KeyService) Unlock(ctx context.Context, userID, password string) (*crypto.DerivedKeyPair, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row, err := repo.GetActiveKey(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMigrationRequired
	}
	if err != nil {
		return nil, storeErr("load active key", err)
	}

	salt, err := crypto.DecodeSalt(row.EncryptionSalt)
	if err != nil {
		return nil, err
	}
	kp, err := crypto.DeriveKeyPair(password, salt)
	if err != nil {
		return nil, err
	}
	stored, err := crypto.ParseJWK(row.PublicKey)
	if err != nil {
		return nil, err
	}
	if !crypto.VerifyPublicKey(kp.PublicKey, stored) {
		return nil, ErrCryptoMismatch
	}

	s.Cache.Put(userID, kp)
	return kp, nil
}

// RotateKeys revokes every active epoch for the user and derives a fresh
// one from the new password. Used on password change.
func (s *KeyService) RotateKeys(ctx context.Context, userID, newPassword string) (*crypto.DerivedKeyPair, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := repo.RevokeKeysForUser(ctx, s.DB, userID); err != nil {
		return nil, storeErr("revoke keys", err)
	}
	kp, err := s.createEpoch(ctx, userID, newPassword)
	if err != nil {
		return nil, err
	}
	s.Cache.Put(userID, kp)
	return kp, nil
}

// PeerPublicKey loads and parses the active public key of another user, for
// shared-secret derivation before sending them a message.
func (s *KeyService) PeerPublicKey(ctx context.Context, userID string) (crypto.PublicKeyJWK, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row, err := repo.GetActiveKey(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return crypto.PublicKeyJWK{}, ErrMigrationRequired
	}
	if err != nil {
		return crypto.PublicKeyJWK{}, storeErr("load peer key", err)
	}
	return crypto.ParseJWK(row.PublicKey)
}

func (s *KeyService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.QueryTimeout
	if d <= 0 {
		d = DefaultQueryTimeout
	}
	return context.WithTimeout(ctx, d)
}
