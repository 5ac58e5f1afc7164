// Conversation and message HTTP handlers.
//
// This file exposes REST endpoints for the message timeline:
//   - GET    /conversations                     (list, most recent first)
//   - POST   /conversations/resolve             (find-or-create with a peer)
//   - GET    /conversations/{id}/messages       (cursor pagination, newest first)
//   - POST   /conversations/{id}/messages       (append ciphertext)
//   - PUT    /messages/{id}                     (sender-only edit)
//   - DELETE /messages/{id}                     (sender-only soft delete)
//   - GET    /events                            (SSE stream of row changes)
//
// Idempotency: when the client supplies an Idempotency-Key header and a
// previous successful send exists for (user, conversation, key), the
// recorded message is returned with `Idempotency-Replayed: true` instead of
// appending a duplicate.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mkourtis/go-dm-backend/internal/domain"
	"github.com/mkourtis/go-dm-backend/internal/realtime"
	"github.com/mkourtis/go-dm-backend/internal/repo"
	"github.com/mkourtis/go-dm-backend/internal/utils"
)

// ResolveRequest is the JSON payload for find-or-create with a peer.
type ResolveRequest struct {
	PeerID string `json:"peer_id" binding:"required"`
}

// PostMessageRequest carries one encrypted message. Content is already
// ciphertext when it reaches the server; plaintext never crosses the wire.
type PostMessageRequest struct {
	Ciphertext string `json:"ciphertext" binding:"required"`
	IV         string `json:"iv" binding:"required"`
}

// PostMessageResponse is the envelope for a newly appended message.
type PostMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// ListConversations returns the caller's conversations, most recently
// active first.
func (h *Handlers) ListConversations(c *gin.Context) {
	rows, err := h.convSvc.ListConversations(c.Request.Context(), userID(c))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"conversations": rows})
}

// ResolveConversation finds or creates the conversation with a peer.
func (h *Handlers) ResolveConversation(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "peer_id required")
		return
	}

	conv, err := h.convSvc.Resolve(c.Request.Context(), userID(c), req.PeerID)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// ListMessages returns one timeline page, newest first. The cursor query
// parameter is the opaque next_cursor from the previous page.
func (h *Handlers) ListMessages(c *gin.Context) {
	const maxPageSize = 100
	pageSize := utils.AtoiDefault(c.Query("page_size"), 50)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	beforeSeq := utils.DecodeCursor(c.Query("cursor"))

	page, err := h.convSvc.ListPage(c.Request.Context(), userID(c), c.Param("id"), beforeSeq, pageSize)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, page)
}

// PostMessage appends ciphertext to a conversation, honoring the
// Idempotency-Key header for safe retries.
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Param("id")
	currentUser := userID(c)

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ciphertext and iv required")
		return
	}

	// Replay path: a recorded result for this key short-circuits the append.
	idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if idemKey != "" {
		if rec, err := repo.GetIdempotency(ctx, h.db, currentUser, convID, idemKey, time.Now().UTC()); err == nil {
			if prev, err2 := repo.GetMessage(ctx, h.db, rec.MessageID); err2 == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusCreated, PostMessageResponse{Message: prev})
				return
			}
		}
	}

	m, err := h.convSvc.SendToConversation(ctx, currentUser, convID, req.Ciphertext, req.IV)
	if err != nil {
		failService(c, err)
		return
	}

	// Store path is best effort: a failed record only costs one replay.
	// Expired records are swept opportunistically on the same path.
	if idemKey != "" {
		_, _ = repo.CreateIdempotency(ctx, h.db, currentUser, convID, idemKey, m.ID, http.StatusCreated, h.IdempotencyTTL)
		_ = repo.PurgeExpiredIdempotency(ctx, h.db, time.Now().UTC())
	}

	ok(c, http.StatusCreated, PostMessageResponse{Message: m})
}

// EditMessage replaces the ciphertext of a message the caller sent.
func (h *Handlers) EditMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ciphertext and iv required")
		return
	}

	if err := h.convSvc.EditMessage(c.Request.Context(), userID(c), c.Param("id"), req.Ciphertext, req.IV); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// DeleteMessage soft-deletes a message the caller sent.
func (h *Handlers) DeleteMessage(c *gin.Context) {
	if err := h.convSvc.DeleteMessage(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// Events streams message row changes to the client as server-sent events.
// Only events for conversations the subscriber can already read carry a
// conversation id; clients re-fetch through the authorized list endpoints.
func (h *Handlers) Events(c *gin.Context) {
	if h.hub == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "events not enabled")
		return
	}

	ch := make(chan realtime.Event, 16)
	off := h.hub.Subscribe(realtime.TableMessages, func(ev realtime.Event) {
		select {
		case ch <- ev:
		default: // drop when the client cannot keep up
		}
	})
	defer off()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := c.Writer.WriteString(": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case ev := <-ch:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := c.Writer.WriteString("data: " + string(payload) + "\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
