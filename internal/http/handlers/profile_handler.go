// Profile HTTP handlers.
//
// This file exposes REST endpoints for user profiles:
//   - POST /users          (register: profile + first key epoch + welcome)
//   - GET  /users/me       (the caller's profile)
//   - GET  /users/search   (exact-username lookup with connection flags)
//
// Registration fires welcome delivery on a detached goroutine: a greeting
// failure must never fail the registration itself.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mkourtis/go-dm-backend/internal/crypto"
	"github.com/mkourtis/go-dm-backend/internal/domain"
	"github.com/mkourtis/go-dm-backend/internal/http/middleware"
	"github.com/mkourtis/go-dm-backend/internal/repo"
	"github.com/mkourtis/go-dm-backend/internal/utils"
)

// RegisterRequest is the JSON payload for creating an account.
type RegisterRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=64"`
	DisplayName string `json:"display_name" binding:"max=255"`
	// Password derives the account's encryption keypair; it is never stored.
	Password string `json:"password" binding:"required,min=8"`
}

// RegisterResponse returns the created profile and its public key JWK.
type RegisterResponse struct {
	Profile   *domain.UserProfile `json:"profile"`
	PublicKey string              `json:"public_key"`
}

// Register creates a profile, derives the first key epoch from the supplied
// password, and kicks off welcome delivery in the background.
func (h *Handlers) Register(c *gin.Context) {
	ctx := c.Request.Context()

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username and password required")
		return
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username required")
		return
	}
	display := strings.TrimSpace(req.DisplayName)
	if display == "" {
		display = username
	}

	profile, err := repo.CreateProfile(ctx, h.db, username, display)
	if errors.Is(err, repo.ErrDuplicate) {
		fail(c, http.StatusConflict, ErrCodeConflict, "username already taken")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	kp, err := h.keySvc.EnsureKeyPair(ctx, profile.ID, req.Password)
	if err != nil {
		failService(c, err)
		return
	}
	jwk, err := crypto.MarshalJWK(kp.PublicKey)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	// Welcome delivery is best-effort and detached from the request.
	lg := middleware.LoggerFrom(c)
	go func(uid string) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		res := h.welcomeSvc.Deliver(ctx, uid)
		lg.Info().
			Bool("success", res.Success).
			Bool("skipped", res.Skipped).
			Str("reason", res.Reason).
			Str("user_id", uid).
			Msg("welcome delivery finished")
	}(profile.ID)

	ok(c, http.StatusCreated, RegisterResponse{Profile: profile, PublicKey: jwk})
}

// Me returns the caller's own profile.
func (h *Handlers) Me(c *gin.Context) {
	p, err := repo.GetProfile(c.Request.Context(), h.db, userID(c))
	if errors.Is(err, repo.ErrNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "profile not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, p)
}

// SearchUsers looks up profiles by exact username.
func (h *Handlers) SearchUsers(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 10)
	res, err := h.connSvc.SearchUsers(c.Request.Context(), userID(c), c.Query("q"), limit)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}
