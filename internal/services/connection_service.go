// Package services – ConnectionService
//
// This file implements the friend-connection state machine over the
// user_connections relation. It validates caller identity and request
// legality, delegates transitions to the domain.ConnectionStatus enum so
// illegal moves cannot reach the store, and partitions connection listings
// for the UI.
//
// Service-level errors (ErrNotAuthenticated, *ValidationError,
// ErrConnectionNotFound, *StoreError) are returned for predictable cases so
// handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/mkourtis/go-dm-backend/internal/domain"
	"github.com/mkourtis/go-dm-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultQueryTimeout bounds every store round-trip so a stalled store
// yields a distinguishable timeout error instead of hanging.
const DefaultQueryTimeout = 10 * time.Second

// ConnectionService provides the friend-request lifecycle: send, respond
// (accept/decline/block), remove, search, and partitioned listing.
type ConnectionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// QueryTimeout caps each store operation; zero means DefaultQueryTimeout.
	QueryTimeout time.Duration
}

// NewConnectionService constructs a ConnectionService with the default
// query timeout.
func NewConnectionService(db *gorm.DB) *ConnectionService {
	return &ConnectionService{DB: db, QueryTimeout: DefaultQueryTimeout}
}

// ConnectionOverview is the partitioned view of a user's connections.
type ConnectionOverview struct {
	PendingSent     []domain.UserConnection `json:"pending_sent"`
	PendingReceived []domain.UserConnection `json:"pending_received"`
	Accepted        []domain.UserConnection `json:"accepted"`
	Blocked         []domain.UserConnection `json:"blocked"`
}

// SearchResult pairs matching profiles with the ids already connected to
// the caller (any status) so the UI can disable duplicate-request actions.
type SearchResult struct {
	Profiles     []domain.UserProfile `json:"profiles"`
	ConnectedIDs map[string]bool      `json:"connected_ids"`
}

// SendFriendRequest creates a pending connection from callerID to
// addresseeID.
//
// Guards: caller authenticated, addressee is not the caller, and no row
// exists for the unordered pair in any status. The existence check is
// raced-protected by the store's unique pair index.
func (s *ConnectionService) SendFriendRequest(ctx context.Context, callerID, addresseeID string) (*domain.UserConnection, error) {
	tr := otel.Tracer("services/ConnectionService")
	ctx, span := tr.Start(ctx, "SendFriendRequest",
		trace.WithAttributes(attribute.String("user.id", callerID)),
	)
	defer span.End()

	if callerID == "" {
		return nil, ErrNotAuthenticated
	}
	addresseeID = strings.TrimSpace(addresseeID)
	if addresseeID == "" {
		return nil, NewValidationError("addressee_id", "must not be empty")
	}
	if addresseeID == callerID {
		return nil, NewValidationError("addressee_id", "cannot send a friend request to yourself")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// Existence check before insert; the unique index catches the race.
	if _, err := repo.GetConnectionBetween(ctx, s.DB, callerID, addresseeID); err == nil {
		return nil, NewValidationError("addressee_id", "a connection already exists for this pair")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, storeErr("lookup connection", err)
	}

	// A duplicate here means we lost the race to a concurrent request for
	// the same pair; it surfaces as a store error like any other constraint.
	conn, err := repo.CreateConnection(ctx, s.DB, callerID, addresseeID)
	if err != nil {
		return nil, storeErr("create connection", err)
	}
	return conn, nil
}

// RespondToRequest applies accept/decline/block to a pending request.
//
// Guards: the row exists, the caller is the addressee, and the row is
// pending. The transition itself comes from the status enum, so any other
// combination fails before touching the store and leaves status unchanged.
func (s *ConnectionService) RespondToRequest(ctx context.Context, callerID, connectionID string, action domain.ResponseAction) (*domain.UserConnection, error) {
	tr := otel.Tracer("services/ConnectionService")
	ctx, span := tr.Start(ctx, "RespondToRequest",
		trace.WithAttributes(
			attribute.String("user.id", callerID),
			attribute.String("connection.id", connectionID),
			attribute.String("action", string(action)),
		),
	)
	defer span.End()

	if callerID == "" {
		return nil, ErrNotAuthenticated
	}
	if !action.Valid() {
		return nil, NewValidationError("action", "must be accept, decline, or block")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	conn, err := repo.GetConnection(ctx, s.DB, connectionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, storeErr("lookup connection", err)
	}

	if conn.AddresseeID != callerID {
		return nil, NewValidationError("connection_id", "only the addressee may respond to a request")
	}
	next, err := conn.Status.Respond(action)
	if err != nil {
		return nil, NewValidationError("status", err.Error())
	}

	if err := repo.UpdateConnectionStatus(ctx, s.DB, conn.ID, next); err != nil {
		return nil, storeErr("update connection status", err)
	}
	conn.Status = next
	return conn, nil
}

// RemoveConnection deletes a row unconditionally of status: it cancels a
// pending request, unfriends an accepted one, or unblocks. Either
// participant may call it.
func (s *ConnectionService) RemoveConnection(ctx context.Context, callerID, connectionID string) error {
	tr := otel.Tracer("services/ConnectionService")
	ctx, span := tr.Start(ctx, "RemoveConnection",
		trace.WithAttributes(
			attribute.String("user.id", callerID),
			attribute.String("connection.id", connectionID),
		),
	)
	defer span.End()

	if callerID == "" {
		return ErrNotAuthenticated
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	conn, err := repo.GetConnection(ctx, s.DB, connectionID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrConnectionNotFound
	}
	if err != nil {
		return storeErr("lookup connection", err)
	}
	if conn.RequesterID != callerID && conn.AddresseeID != callerID {
		return ErrNotParticipant
	}

	if err := repo.DeleteConnection(ctx, s.DB, conn.ID); err != nil {
		return storeErr("delete connection", err)
	}
	return nil
}

// SearchUsers looks up profiles by exact username, excluding the caller,
// and annotates the result with the caller's already-connected ids.
func (s *ConnectionService) SearchUsers(ctx context.Context, callerID, query string, limit int) (*SearchResult, error) {
	tr := otel.Tracer("services/ConnectionService")
	ctx, span := tr.Start(ctx, "SearchUsers",
		trace.WithAttributes(attribute.String("user.id", callerID)),
	)
	defer span.End()

	if callerID == "" {
		return nil, ErrNotAuthenticated
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, NewValidationError("query", "must not be empty")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	profiles, err := repo.SearchProfiles(ctx, s.DB, callerID, query, limit)
	if err != nil {
		return nil, storeErr("search profiles", err)
	}
	connected, err := repo.ConnectedUserIDs(ctx, s.DB, callerID)
	if err != nil {
		return nil, storeErr("list connected ids", err)
	}
	return &SearchResult{Profiles: profiles, ConnectedIDs: connected}, nil
}

// GetConnections loads every row the caller participates in with both
// profiles attached, then partitions client-side into pending_sent,
// pending_received, accepted, and blocked.
func (s *ConnectionService) GetConnections(ctx context.Context, callerID string) (*ConnectionOverview, error) {
	tr := otel.Tracer("services/ConnectionService")
	ctx, span := tr.Start(ctx, "GetConnections",
		trace.WithAttributes(attribute.String("user.id", callerID)),
	)
	defer span.End()

	if callerID == "" {
		return nil, ErrNotAuthenticated
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := repo.ListConnectionsForUser(ctx, s.DB, callerID)
	if err != nil {
		return nil, storeErr("list connections", err)
	}

	out := &ConnectionOverview{
		PendingSent:     []domain.UserConnection{},
		PendingReceived: []domain.UserConnection{},
		Accepted:        []domain.UserConnection{},
		Blocked:         []domain.UserConnection{},
	}
	for _, r := range rows {
		switch r.Status {
		case domain.StatusPending:
			if r.RequesterID == callerID {
				out.PendingSent = append(out.PendingSent, r)
			} else {
				out.PendingReceived = append(out.PendingReceived, r)
			}
		case domain.StatusAccepted:
			out.Accepted = append(out.Accepted, r)
		case domain.StatusBlocked:
			out.Blocked = append(out.Blocked, r)
		}
		// Declined rows are history; they are not surfaced in any bucket.
	}
	return out, nil
}

// withTimeout wraps ctx with the configured per-query timeout.
func (s *ConnectionService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.QueryTimeout
	if d <= 0 {
		d = DefaultQueryTimeout
	}
	return context.WithTimeout(ctx, d)
}
