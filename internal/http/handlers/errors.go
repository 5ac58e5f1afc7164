// Package handlers defines HTTP-layer error codes used across all API
// endpoints. Codes are lowercase snake_case and stable: clients branch on
// them programmatically, supplementing the HTTP status.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkourtis/go-dm-backend/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeIncorrectPassword = "incorrect_password"
	ErrCodeMigrationRequired = "migration_required"
	ErrCodeMethodNotAllowed  = "method_not_allowed"
)

// failService translates the service error taxonomy into the HTTP envelope.
// Crypto mismatches deliberately surface as "incorrect password" so raw
// cryptographic detail never reaches clients.
func failService(c *gin.Context, err error) {
	if v, okV := services.AsValidation(err); okV {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, v.Error())
		return
	}
	switch {
	case errors.Is(err, services.ErrNotAuthenticated):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	case errors.Is(err, services.ErrCryptoMismatch):
		fail(c, http.StatusUnauthorized, ErrCodeIncorrectPassword, "incorrect password")
	case errors.Is(err, services.ErrMigrationRequired):
		fail(c, http.StatusConflict, ErrCodeMigrationRequired, "account requires key migration")
	case errors.Is(err, services.ErrNotParticipant):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not a participant")
	case errors.Is(err, services.ErrNotConnected):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "accounts are not connected")
	case errors.Is(err, services.ErrConnectionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "connection not found")
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
	case errors.Is(err, services.ErrMessageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
