package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mkourtis/go-dm-backend/internal/crypto"
	"github.com/mkourtis/go-dm-backend/internal/domain"
	"github.com/mkourtis/go-dm-backend/internal/repo"
)

func TestEnsureKeyPair_FirstEpochAndReuse(t *testing.T) {
	db := newTestDB(t)
	svc := NewKeyService(db, NewKeyCache())
	ctx := context.Background()

	kp1, err := svc.EnsureKeyPair(ctx, "alice", "hunter2")
	if err != nil {
		t.Fatalf("EnsureKeyPair: %v", err)
	}

	row, err := repo.GetActiveKey(ctx, db, "alice")
	if err != nil {
		t.Fatalf("GetActiveKey: %v", err)
	}
	stored, err := crypto.ParseJWK(row.PublicKey)
	if err != nil {
		t.Fatalf("ParseJWK: %v", err)
	}
	if !crypto.VerifyPublicKey(kp1.PublicKey, stored) {
		t.Fatal("persisted public key does not match derived pair")
	}

	// Second call must reuse the same pair, not derive a new epoch.
	kp2, err := svc.EnsureKeyPair(ctx, "alice", "hunter2")
	if err != nil {
		t.Fatalf("EnsureKeyPair again: %v", err)
	}
	if kp1 != kp2 {
		t.Fatal("cached pair not reused")
	}

	var n int64
	db.Model(&domain.UserEncryptionKey{}).Where("user_id = ?", "alice").Count(&n)
	if n != 1 {
		t.Fatalf("key rows = %d, want 1", n)
	}
}

func TestEnsureKeyPair_ConcurrentCallersShareDerivation(t *testing.T) {
	db := newTestDB(t)
	svc := NewKeyService(db, NewKeyCache())

	var wg sync.WaitGroup
	pairs := make([]*crypto.DerivedKeyPair, 8)
	for i := range pairs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kp, err := svc.EnsureKeyPair(context.Background(), "alice", "hunter2")
			if err != nil {
				t.Errorf("EnsureKeyPair: %v", err)
				return
			}
			pairs[i] = kp
		}(i)
	}
	wg.Wait()

	var n int64
	db.Model(&domain.UserEncryptionKey{}).Where("user_id = ?", "alice").Count(&n)
	if n != 1 {
		t.Fatalf("key rows = %d, want 1 (single flight)", n)
	}
	for _, kp := range pairs[1:] {
		if kp.PublicKey != pairs[0].PublicKey {
			t.Fatal("callers received diverging keypairs")
		}
	}
}

func TestEnsureKeyPair_SelfHealsCorruptRow(t *testing.T) {
	db := newTestDB(t)
	cache := NewKeyCache()
	svc := NewKeyService(db, cache)
	ctx := context.Background()

	if _, err := svc.EnsureKeyPair(ctx, "alice", "hunter2"); err != nil {
		t.Fatal(err)
	}
	row, _ := repo.GetActiveKey(ctx, db, "alice")

	// Corrupt the stored public key and drop the cache, as after a restart.
	other, _ := crypto.GenerateSalt()
	badKP, _ := crypto.DeriveKeyPair("different", other)
	badJWK, _ := crypto.MarshalJWK(badKP.PublicKey)
	if err := db.Model(&domain.UserEncryptionKey{}).Where("id = ?", row.ID).
		Update("public_key", badJWK).Error; err != nil {
		t.Fatal(err)
	}
	cache.Clear("alice")

	kp, err := svc.EnsureKeyPair(ctx, "alice", "hunter2")
	if err != nil {
		t.Fatalf("EnsureKeyPair after corruption: %v", err)
	}

	// The stale row is revoked and a fresh verifying epoch exists.
	fresh, err := repo.GetActiveKey(ctx, db, "alice")
	if err != nil {
		t.Fatalf("GetActiveKey: %v", err)
	}
	if fresh.ID == row.ID {
		t.Fatal("corrupt row still active")
	}
	stored, _ := crypto.ParseJWK(fresh.PublicKey)
	if !crypto.VerifyPublicKey(kp.PublicKey, stored) {
		t.Fatal("healed epoch does not verify")
	}

	var revoked int64
	db.Model(&domain.UserEncryptionKey{}).Where("id = ? AND revoked = ?", row.ID, true).Count(&revoked)
	if revoked != 1 {
		t.Fatal("stale row not revoked")
	}
}

func TestUnlock(t *testing.T) {
	db := newTestDB(t)
	cache := NewKeyCache()
	svc := NewKeyService(db, cache)
	ctx := context.Background()

	if _, err := svc.Unlock(ctx, "alice", "hunter2"); !errors.Is(err, ErrMigrationRequired) {
		t.Fatalf("no key row: got %v", err)
	}

	if _, err := svc.EnsureKeyPair(ctx, "alice", "hunter2"); err != nil {
		t.Fatal(err)
	}
	cache.Clear("alice")

	if _, err := svc.Unlock(ctx, "alice", "wrong"); !errors.Is(err, ErrCryptoMismatch) {
		t.Fatalf("wrong password: got %v", err)
	}
	if _, ok := cache.Get("alice"); ok {
		t.Fatal("failed unlock must not populate the cache")
	}

	kp, err := svc.Unlock(ctx, "alice", "hunter2")
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if cached, ok := cache.Get("alice"); !ok || cached != kp {
		t.Fatal("successful unlock must populate the cache")
	}
}

func TestRotateKeys(t *testing.T) {
	db := newTestDB(t)
	svc := NewKeyService(db, NewKeyCache())
	ctx := context.Background()

	old, err := svc.EnsureKeyPair(ctx, "alice", "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	fresh, err := svc.RotateKeys(ctx, "alice", "new-password")
	if err != nil {
		t.Fatalf("RotateKeys: %v", err)
	}
	if fresh.PublicKey == old.PublicKey {
		t.Fatal("rotation must produce a new keypair")
	}

	// Old password no longer unlocks; new one does.
	svc.Cache.Clear("alice")
	if _, err := svc.Unlock(ctx, "alice", "hunter2"); !errors.Is(err, ErrCryptoMismatch) {
		t.Fatalf("old password after rotation: got %v", err)
	}
	if _, err := svc.Unlock(ctx, "alice", "new-password"); err != nil {
		t.Fatalf("new password after rotation: %v", err)
	}
}
