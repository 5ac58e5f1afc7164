package repo

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/mkourtis/go-dm-backend/internal/domain"
)

func seedProfiles(t *testing.T, db *gorm.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		p := &domain.UserProfile{ID: id, Username: "user-" + id, DisplayName: "User " + id}
		if err := db.Create(p).Error; err != nil {
			t.Fatalf("seed profile %s: %v", id, err)
		}
	}
}

func TestCreateConnection_SetsPairKeyAndPending(t *testing.T) {
	db := newTestDB(t)
	seedProfiles(t, db, "a", "b")
	ctx := context.Background()

	c, err := CreateConnection(ctx, db, "b", "a")
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	if c.Status != domain.StatusPending {
		t.Errorf("status = %q, want pending", c.Status)
	}
	if c.PairKey != "a:b" {
		t.Errorf("pair key = %q, want canonical a:b", c.PairKey)
	}
}

func TestCreateConnection_DuplicatePairEitherOrder(t *testing.T) {
	db := newTestDB(t)
	seedProfiles(t, db, "a", "b")
	ctx := context.Background()

	if _, err := CreateConnection(ctx, db, "a", "b"); err != nil {
		t.Fatalf("first CreateConnection: %v", err)
	}
	if _, err := CreateConnection(ctx, db, "b", "a"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("reversed pair: want ErrDuplicate, got %v", err)
	}

	var count int64
	db.Model(&domain.UserConnection{}).Count(&count)
	if count != 1 {
		t.Fatalf("row count = %d, want 1", count)
	}
}

func TestGetConnectionBetween_OrderIndependent(t *testing.T) {
	db := newTestDB(t)
	seedProfiles(t, db, "a", "b")
	ctx := context.Background()

	created, _ := CreateConnection(ctx, db, "a", "b")

	got1, err := GetConnectionBetween(ctx, db, "a", "b")
	if err != nil {
		t.Fatalf("GetConnectionBetween(a,b): %v", err)
	}
	got2, err := GetConnectionBetween(ctx, db, "b", "a")
	if err != nil {
		t.Fatalf("GetConnectionBetween(b,a): %v", err)
	}
	if got1.ID != created.ID || got2.ID != created.ID {
		t.Fatal("both orders must resolve to the same row")
	}
}

func TestUpdateConnectionStatus(t *testing.T) {
	db := newTestDB(t)
	seedProfiles(t, db, "a", "b")
	ctx := context.Background()

	c, _ := CreateConnection(ctx, db, "a", "b")
	if err := UpdateConnectionStatus(ctx, db, c.ID, domain.StatusAccepted); err != nil {
		t.Fatalf("UpdateConnectionStatus: %v", err)
	}
	got, _ := GetConnection(ctx, db, c.ID)
	if got.Status != domain.StatusAccepted {
		t.Fatalf("status = %q, want accepted", got.Status)
	}

	if err := UpdateConnectionStatus(ctx, db, "missing", domain.StatusAccepted); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing row: want ErrNotFound, got %v", err)
	}
}

func TestDeleteConnection(t *testing.T) {
	db := newTestDB(t)
	seedProfiles(t, db, "a", "b")
	ctx := context.Background()

	c, _ := CreateConnection(ctx, db, "a", "b")
	if err := DeleteConnection(ctx, db, c.ID); err != nil {
		t.Fatalf("DeleteConnection: %v", err)
	}
	if _, err := GetConnection(ctx, db, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete: want ErrNotFound, got %v", err)
	}
	if err := DeleteConnection(ctx, db, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: want ErrNotFound, got %v", err)
	}
}

func TestListConnectionsForUser_PreloadsProfiles(t *testing.T) {
	db := newTestDB(t)
	seedProfiles(t, db, "a", "b", "c")
	ctx := context.Background()

	if _, err := CreateConnection(ctx, db, "a", "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateConnection(ctx, db, "c", "a"); err != nil {
		t.Fatal(err)
	}

	rows, err := ListConnectionsForUser(ctx, db, "a")
	if err != nil {
		t.Fatalf("ListConnectionsForUser: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	for _, r := range rows {
		if r.Requester.Username == "" || r.Addressee.Username == "" {
			t.Errorf("profiles not preloaded on row %s", r.ID)
		}
	}

	other, err := ListConnectionsForUser(ctx, db, "b")
	if err != nil || len(other) != 1 {
		t.Fatalf("b should see 1 row, got %d (err %v)", len(other), err)
	}
}

func TestConnectedUserIDs(t *testing.T) {
	db := newTestDB(t)
	seedProfiles(t, db, "a", "b", "c", "d")
	ctx := context.Background()

	if _, err := CreateConnection(ctx, db, "a", "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateConnection(ctx, db, "c", "a"); err != nil {
		t.Fatal(err)
	}

	ids, err := ConnectedUserIDs(ctx, db, "a")
	if err != nil {
		t.Fatalf("ConnectedUserIDs: %v", err)
	}
	if !ids["b"] || !ids["c"] || ids["d"] || ids["a"] {
		t.Fatalf("unexpected set: %v", ids)
	}
}
