// Key HTTP handlers.
//
// This file exposes endpoints for password-derived key management:
//   - POST /keys/unlock              (verify password, warm the session cache)
//   - POST /keys/rotate              (password change → fresh key epoch)
//   - POST /keys/lock                (drop the cached keypair)
//   - GET  /users/{id}/public-key    (peer key for client-side encryption)
//
// Responses only ever contain public key material; private keys and
// passwords never leave the derivation path.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkourtis/go-dm-backend/internal/crypto"
)

// UnlockRequest carries the password to verify against stored key material.
type UnlockRequest struct {
	Password string `json:"password" binding:"required"`
}

// RotateKeysRequest carries the new password for a key rotation.
type RotateKeysRequest struct {
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

// KeyResponse returns the public half of a keypair as RFC 8037 JWK JSON.
type KeyResponse struct {
	PublicKey string `json:"public_key"`
}

// Unlock verifies the caller's password and warms the session key cache.
func (h *Handlers) Unlock(c *gin.Context) {
	var req UnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "password required")
		return
	}

	kp, err := h.keySvc.Unlock(c.Request.Context(), userID(c), req.Password)
	if err != nil {
		failService(c, err)
		return
	}
	jwk, err := crypto.MarshalJWK(kp.PublicKey)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, KeyResponse{PublicKey: jwk})
}

// RotateKeys revokes the caller's key epochs and derives a fresh one from
// the new password.
func (h *Handlers) RotateKeys(c *gin.Context) {
	var req RotateKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "new_password required (min 8 chars)")
		return
	}

	kp, err := h.keySvc.RotateKeys(c.Request.Context(), userID(c), req.NewPassword)
	if err != nil {
		failService(c, err)
		return
	}
	jwk, err := crypto.MarshalJWK(kp.PublicKey)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, KeyResponse{PublicKey: jwk})
}

// Lock drops the caller's cached keypair. Subsequent key operations require
// the password again.
func (h *Handlers) Lock(c *gin.Context) {
	h.keySvc.Clear(userID(c))
	noContent(c)
}

// PeerPublicKey returns another user's active public key so the client can
// derive the shared secret before sending them a message.
func (h *Handlers) PeerPublicKey(c *gin.Context) {
	key, err := h.keySvc.PeerPublicKey(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	jwk, err := crypto.MarshalJWK(key)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, KeyResponse{PublicKey: jwk})
}
