package crypto

import (
	"errors"
	"testing"
)

// twoParties derives keypairs for two users with independent salts.
func twoParties(t *testing.T) (*DerivedKeyPair, *DerivedKeyPair) {
	t.Helper()
	saltA, _ := GenerateSalt()
	saltB, _ := GenerateSalt()
	a, err := DeriveKeyPair("password-a", saltA)
	if err != nil {
		t.Fatalf("derive a: %v", err)
	}
	b, err := DeriveKeyPair("password-b", saltB)
	if err != nil {
		t.Fatalf("derive b: %v", err)
	}
	return a, b
}

func TestDeriveSharedSecret_Symmetric(t *testing.T) {
	a, b := twoParties(t)

	ab, err := DeriveSharedSecret(a, b.PublicKey)
	if err != nil {
		t.Fatalf("DeriveSharedSecret(a, pubB): %v", err)
	}
	ba, err := DeriveSharedSecret(b, a.PublicKey)
	if err != nil {
		t.Fatalf("DeriveSharedSecret(b, pubA): %v", err)
	}
	if ab != ba {
		t.Fatal("both sides must derive the same shared secret")
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	a, b := twoParties(t)
	secret, _ := DeriveSharedSecret(a, b.PublicKey)

	for _, plaintext := range []string{"", "hi", "Καλώς ήρθες 👋", "a longer message with\nnewlines and spaces"} {
		ct, iv, err := EncryptMessage(plaintext, secret)
		if err != nil {
			t.Fatalf("EncryptMessage(%q): %v", plaintext, err)
		}
		got, err := DecryptMessage(ct, iv, secret)
		if err != nil {
			t.Fatalf("DecryptMessage(%q): %v", plaintext, err)
		}
		if got != plaintext {
			t.Errorf("round trip = %q; want %q", got, plaintext)
		}
	}
}

func TestEncrypt_FreshIVPerMessage(t *testing.T) {
	a, b := twoParties(t)
	secret, _ := DeriveSharedSecret(a, b.PublicKey)

	_, iv1, _ := EncryptMessage("same plaintext", secret)
	_, iv2, _ := EncryptMessage("same plaintext", secret)
	if iv1 == iv2 {
		t.Fatal("IV must be freshly random per message")
	}
}

func TestDecrypt_WrongSecretFails(t *testing.T) {
	a, b := twoParties(t)
	secret, _ := DeriveSharedSecret(a, b.PublicKey)

	ct, iv, _ := EncryptMessage("secret text", secret)

	var wrong SharedSecret
	wrong[0] = 1
	if _, err := DecryptMessage(ct, iv, wrong); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("want ErrDecryptFailed, got %v", err)
	}
}

func TestDecrypt_TamperedInputsFail(t *testing.T) {
	a, b := twoParties(t)
	secret, _ := DeriveSharedSecret(a, b.PublicKey)
	ct, iv, _ := EncryptMessage("secret text", secret)

	if _, err := DecryptMessage("not-base64!!", iv, secret); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("bad ciphertext encoding: want ErrDecryptFailed, got %v", err)
	}
	if _, err := DecryptMessage(ct, "AAAA", secret); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("short iv: want ErrDecryptFailed, got %v", err)
	}
	// Flip a ciphertext byte via a different valid base64 payload.
	other, otherIV, _ := EncryptMessage("other text", secret)
	if _, err := DecryptMessage(other, iv, secret); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("mismatched iv: want ErrDecryptFailed, got %v", err)
	}
	_ = otherIV
}
