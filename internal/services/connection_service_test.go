package services

import (
	"context"
	"errors"
	"testing"

	"github.com/mkourtis/go-dm-backend/internal/domain"
)

func TestSendFriendRequest_Guards(t *testing.T) {
	db := newTestDB(t)
	svc := NewConnectionService(db)
	ctx := context.Background()

	a := newProfile(t, db, "alice")
	b := newProfile(t, db, "bob")

	if _, err := svc.SendFriendRequest(ctx, "", b.ID); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("anonymous caller: got %v", err)
	}
	if _, err := svc.SendFriendRequest(ctx, a.ID, ""); err == nil {
		t.Fatal("empty addressee must fail")
	}
	if _, err := svc.SendFriendRequest(ctx, a.ID, a.ID); err == nil {
		t.Fatal("self request must fail")
	}

	conn, err := svc.SendFriendRequest(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("SendFriendRequest: %v", err)
	}
	if conn.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", conn.Status)
	}

	// A second request for the pair, in either direction, is rejected.
	if _, err := svc.SendFriendRequest(ctx, a.ID, b.ID); err == nil {
		t.Fatal("duplicate request must fail")
	}
	if _, err := svc.SendFriendRequest(ctx, b.ID, a.ID); err == nil {
		t.Fatal("reverse duplicate request must fail")
	}
}

func TestRespondToRequest_StateMachine(t *testing.T) {
	db := newTestDB(t)
	svc := NewConnectionService(db)
	ctx := context.Background()

	a := newProfile(t, db, "alice")
	b := newProfile(t, db, "bob")
	conn, _ := svc.SendFriendRequest(ctx, a.ID, b.ID)

	// Only the addressee may respond.
	if _, err := svc.RespondToRequest(ctx, a.ID, conn.ID, domain.ActionAccept); err == nil {
		t.Fatal("requester must not respond to their own request")
	}
	if _, err := svc.RespondToRequest(ctx, b.ID, conn.ID, "promote"); err == nil {
		t.Fatal("unknown action must fail")
	}
	if _, err := svc.RespondToRequest(ctx, b.ID, "missing", domain.ActionAccept); !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("missing row: got %v", err)
	}

	got, err := svc.RespondToRequest(ctx, b.ID, conn.ID, domain.ActionAccept)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != domain.StatusAccepted {
		t.Fatalf("status = %s, want accepted", got.Status)
	}

	// Responding again to a settled request is illegal and changes nothing.
	if _, err := svc.RespondToRequest(ctx, b.ID, conn.ID, domain.ActionDecline); err == nil {
		t.Fatal("responding to a non-pending request must fail")
	}
	overview, _ := svc.GetConnections(ctx, b.ID)
	if len(overview.Accepted) != 1 {
		t.Fatalf("accepted bucket = %+v", overview.Accepted)
	}
}

func TestRemoveConnection_ParticipantsOnly(t *testing.T) {
	db := newTestDB(t)
	svc := NewConnectionService(db)
	ctx := context.Background()

	a := newProfile(t, db, "alice")
	b := newProfile(t, db, "bob")
	c := newProfile(t, db, "carol")
	conn, _ := svc.SendFriendRequest(ctx, a.ID, b.ID)

	if err := svc.RemoveConnection(ctx, c.ID, conn.ID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("outsider removal: got %v", err)
	}
	if err := svc.RemoveConnection(ctx, a.ID, conn.ID); err != nil {
		t.Fatalf("RemoveConnection: %v", err)
	}
	if err := svc.RemoveConnection(ctx, a.ID, conn.ID); !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("second removal: got %v", err)
	}

	// After removal the pair can start over.
	if _, err := svc.SendFriendRequest(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("re-request after removal: %v", err)
	}
}

func TestGetConnections_Partitions(t *testing.T) {
	db := newTestDB(t)
	svc := NewConnectionService(db)
	ctx := context.Background()

	me := newProfile(t, db, "me")
	friend := newProfile(t, db, "friend")
	stranger := newProfile(t, db, "stranger")
	pest := newProfile(t, db, "pest")
	ghost := newProfile(t, db, "ghost")

	// accepted: me -> friend, accepted by friend
	c1, _ := svc.SendFriendRequest(ctx, me.ID, friend.ID)
	if _, err := svc.RespondToRequest(ctx, friend.ID, c1.ID, domain.ActionAccept); err != nil {
		t.Fatal(err)
	}
	// pending_sent: me -> stranger
	if _, err := svc.SendFriendRequest(ctx, me.ID, stranger.ID); err != nil {
		t.Fatal(err)
	}
	// blocked: pest -> me, blocked by me
	c3, _ := svc.SendFriendRequest(ctx, pest.ID, me.ID)
	if _, err := svc.RespondToRequest(ctx, me.ID, c3.ID, domain.ActionBlock); err != nil {
		t.Fatal(err)
	}
	// pending_received: ghost -> me
	if _, err := svc.SendFriendRequest(ctx, ghost.ID, me.ID); err != nil {
		t.Fatal(err)
	}

	got, err := svc.GetConnections(ctx, me.ID)
	if err != nil {
		t.Fatalf("GetConnections: %v", err)
	}
	if len(got.Accepted) != 1 || len(got.PendingSent) != 1 || len(got.PendingReceived) != 1 || len(got.Blocked) != 1 {
		t.Fatalf("unexpected partitions: %+v", got)
	}
	if got.Accepted[0].Requester.Username != "me" || got.Accepted[0].Addressee.Username != "friend" {
		t.Fatalf("profiles not preloaded: %+v", got.Accepted[0])
	}
}

func TestSearchUsers_AnnotatesConnected(t *testing.T) {
	db := newTestDB(t)
	svc := NewConnectionService(db)
	ctx := context.Background()

	me := newProfile(t, db, "me")
	friend := newProfile(t, db, "friend")
	if _, err := svc.SendFriendRequest(ctx, me.ID, friend.ID); err != nil {
		t.Fatal(err)
	}

	got, err := svc.SearchUsers(ctx, me.ID, "friend", 10)
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(got.Profiles) != 1 || got.Profiles[0].ID != friend.ID {
		t.Fatalf("unexpected profiles: %+v", got.Profiles)
	}
	if !got.ConnectedIDs[friend.ID] {
		t.Fatalf("friend not marked connected: %+v", got.ConnectedIDs)
	}

	if _, err := svc.SearchUsers(ctx, me.ID, "   ", 10); err == nil {
		t.Fatal("blank query must fail")
	}
}
