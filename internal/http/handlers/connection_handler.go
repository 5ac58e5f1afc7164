// Connection HTTP handlers.
//
// This file exposes REST endpoints for the friend-connection lifecycle:
//   - GET    /connections                (partitioned overview)
//   - POST   /connections                (send a friend request)
//   - POST   /connections/{id}/respond   (accept / decline / block)
//   - DELETE /connections/{id}           (cancel / unfriend / unblock)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkourtis/go-dm-backend/internal/domain"
)

// SendRequestRequest is the JSON payload for sending a friend request.
type SendRequestRequest struct {
	AddresseeID string `json:"addressee_id" binding:"required"`
}

// RespondRequest is the JSON payload for answering a pending request.
type RespondRequest struct {
	// Action must be one of: accept, decline, block.
	Action string `json:"action" binding:"required"`
}

// ListConnections returns the caller's connections partitioned by status.
func (h *Handlers) ListConnections(c *gin.Context) {
	res, err := h.connSvc.GetConnections(c.Request.Context(), userID(c))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// SendFriendRequest creates a pending connection to the addressee.
func (h *Handlers) SendFriendRequest(c *gin.Context) {
	var req SendRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "addressee_id required")
		return
	}

	conn, err := h.connSvc.SendFriendRequest(c.Request.Context(), userID(c), req.AddresseeID)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, conn)
}

// RespondToRequest applies accept/decline/block to a pending request.
func (h *Handlers) RespondToRequest(c *gin.Context) {
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "action required")
		return
	}

	conn, err := h.connSvc.RespondToRequest(c.Request.Context(), userID(c), c.Param("id"), domain.ResponseAction(req.Action))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, conn)
}

// RemoveConnection deletes a connection row in any status.
func (h *Handlers) RemoveConnection(c *gin.Context) {
	if err := h.connSvc.RemoveConnection(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}
