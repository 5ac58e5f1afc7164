package services

import (
	"context"
	"testing"

	"github.com/mkourtis/go-dm-backend/internal/crypto"
	"github.com/mkourtis/go-dm-backend/internal/repo"
)

const (
	testAdminID  = "00000000-0000-0000-0000-000000000001"
	testGreeting = "Welcome! Your messages here are end-to-end encrypted."
)

func newWelcomeService(t *testing.T, adminPassword string) (*WelcomeService, *KeyService) {
	t.Helper()
	db := newTestDB(t)
	keys := NewKeyService(db, NewKeyCache())
	convs := NewConversationService(db, nil)
	convs.AdminID = testAdminID
	return NewWelcomeService(db, keys, convs, testAdminID, adminPassword, testGreeting), keys
}

func TestDeliver_AdminNotConfigured(t *testing.T) {
	svc, _ := newWelcomeService(t, "")
	newProfile(t, svc.DB, "newbie")

	res := svc.Deliver(context.Background(), "ignored")
	if res.Success || !res.Skipped || res.Reason != ReasonAdminNotConfigured {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDeliver_FullBootstrapAndDecrypt(t *testing.T) {
	svc, keys := newWelcomeService(t, "admin-pass")
	ctx := context.Background()

	user := newProfile(t, svc.DB, "newbie")
	// The user unlocked at least once, so they have an active key.
	userKP, err := keys.EnsureKeyPair(ctx, user.ID, "user-pass")
	if err != nil {
		t.Fatal(err)
	}

	res := svc.Deliver(ctx, user.ID)
	if !res.Success || res.Skipped || res.MessageID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	// The greeting decrypts on the user's side with the admin's public key.
	msg, err := repo.GetMessage(ctx, svc.DB, res.MessageID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg.SenderID != testAdminID || msg.SequenceNumber != 1 {
		t.Fatalf("unexpected message: %+v", msg)
	}
	adminKey, err := keys.PeerPublicKey(ctx, testAdminID)
	if err != nil {
		t.Fatalf("PeerPublicKey: %v", err)
	}
	secret, err := crypto.DeriveSharedSecret(userKP, adminKey)
	if err != nil {
		t.Fatalf("DeriveSharedSecret: %v", err)
	}
	plain, err := crypto.DecryptMessage(msg.EncryptedContent, msg.InitializationVector, secret)
	if err != nil {
		t.Fatalf("DecryptMessage: %v", err)
	}
	if plain != testGreeting {
		t.Fatalf("plaintext = %q", plain)
	}

	got, _ := repo.GetProfile(ctx, svc.DB, user.ID)
	if !got.WelcomeMessageSent {
		t.Fatal("welcome_message_sent not set")
	}
}

func TestDeliver_IsIdempotent(t *testing.T) {
	svc, keys := newWelcomeService(t, "admin-pass")
	ctx := context.Background()

	user := newProfile(t, svc.DB, "newbie")
	if _, err := keys.EnsureKeyPair(ctx, user.ID, "user-pass"); err != nil {
		t.Fatal(err)
	}

	first := svc.Deliver(ctx, user.ID)
	if !first.Success || first.Skipped {
		t.Fatalf("first delivery: %+v", first)
	}
	second := svc.Deliver(ctx, user.ID)
	if !second.Success || !second.Skipped || second.Reason != ReasonAlreadySent {
		t.Fatalf("second delivery: %+v", second)
	}

	conv, _ := repo.GetConversationBetween(ctx, svc.DB, testAdminID, user.ID)
	n, _ := repo.CountMessages(ctx, svc.DB, conv.ID)
	if n != 1 {
		t.Fatalf("messages = %d, want exactly 1", n)
	}
}

func TestDeliver_FirstMessageGuardWhenFlagLost(t *testing.T) {
	svc, keys := newWelcomeService(t, "admin-pass")
	ctx := context.Background()

	user := newProfile(t, svc.DB, "newbie")
	if _, err := keys.EnsureKeyPair(ctx, user.ID, "user-pass"); err != nil {
		t.Fatal(err)
	}
	if res := svc.Deliver(ctx, user.ID); !res.Success {
		t.Fatalf("first delivery: %+v", res)
	}

	// Simulate a crash between message insert and flag write.
	if err := svc.DB.Table("user_profiles").Where("id = ?", user.ID).
		Update("welcome_message_sent", false).Error; err != nil {
		t.Fatal(err)
	}

	res := svc.Deliver(ctx, user.ID)
	if !res.Success || !res.Skipped || res.Reason != ReasonAlreadySent {
		t.Fatalf("guarded delivery: %+v", res)
	}

	conv, _ := repo.GetConversationBetween(ctx, svc.DB, testAdminID, user.ID)
	n, _ := repo.CountMessages(ctx, svc.DB, conv.ID)
	if n != 1 {
		t.Fatalf("messages = %d, want exactly 1", n)
	}
	// The guard also repairs the flag.
	got, _ := repo.GetProfile(ctx, svc.DB, user.ID)
	if !got.WelcomeMessageSent {
		t.Fatal("flag not repaired by first-message guard")
	}
}

func TestDeliver_UserWithoutKey(t *testing.T) {
	svc, _ := newWelcomeService(t, "admin-pass")
	ctx := context.Background()

	user := newProfile(t, svc.DB, "newbie")
	res := svc.Deliver(ctx, user.ID)
	if res.Success || res.Skipped || res.Reason != ReasonUserKeyMissing {
		t.Fatalf("unexpected result: %+v", res)
	}
	// Failure leaves the flag clear so a later attempt can succeed.
	got, _ := repo.GetProfile(ctx, svc.DB, user.ID)
	if got.WelcomeMessageSent {
		t.Fatal("flag must stay clear on failure")
	}
}

func TestDeliver_SelfHealsCorruptAdminKey(t *testing.T) {
	svc, keys := newWelcomeService(t, "admin-pass")
	ctx := context.Background()

	// Seed a corrupt admin key row: a valid JWK that does not match what
	// the admin password derives.
	salt, _ := crypto.GenerateSalt()
	wrongKP, _ := crypto.DeriveKeyPair("not-the-admin-password", salt)
	wrongJWK, _ := crypto.MarshalJWK(wrongKP.PublicKey)
	if _, err := repo.CreateKey(ctx, svc.DB, testAdminID, wrongJWK, crypto.EncodeSalt(salt), ""); err != nil {
		t.Fatal(err)
	}

	user := newProfile(t, svc.DB, "newbie")
	if _, err := keys.EnsureKeyPair(ctx, user.ID, "user-pass"); err != nil {
		t.Fatal(err)
	}

	res := svc.Deliver(ctx, user.ID)
	if !res.Success {
		t.Fatalf("delivery after self-heal: %+v", res)
	}

	// The corrupt row was rotated out, and the active one verifies.
	row, err := repo.GetActiveKey(ctx, svc.DB, testAdminID)
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := crypto.ParseJWK(row.PublicKey)
	derived, _ := keys.EnsureKeyPair(ctx, testAdminID, "admin-pass")
	if !crypto.VerifyPublicKey(derived.PublicKey, stored) {
		t.Fatal("active admin key does not verify after self-heal")
	}
}
