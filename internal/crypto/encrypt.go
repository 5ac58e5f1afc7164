package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// ivSize is the AES-GCM nonce length. A fresh random IV is generated per
// message and stored alongside the ciphertext; it is never reused.
const ivSize = 12

// hkdfInfo domain-separates the message-encryption secret from any other
// use of the raw X25519 shared point.
var hkdfInfo = []byte("dm/v1/message-key")

// ErrDecryptFailed is returned when authenticated decryption fails, either
// because the shared secret is wrong or the ciphertext/IV was tampered
// with. Callers surface this as "incorrect password", never as a raw
// crypto fault.
var ErrDecryptFailed = errors.New("decryption failed")

// SharedSecret is the symmetric key two parties independently agree on.
type SharedSecret [32]byte

// DeriveSharedSecret performs X25519 key agreement between the local private
// key and a peer's public key, then stretches the shared point through
// HKDF-SHA256. Both sides compute the same secret regardless of direction.
func DeriveSharedSecret(local *DerivedKeyPair, peer PublicKeyJWK) (SharedSecret, error) {
	var secret SharedSecret

	peerRaw, err := peer.rawBytes()
	if err != nil {
		return secret, err
	}
	point, err := curve25519.X25519(local.privateKey[:], peerRaw)
	if err != nil {
		return secret, fmt.Errorf("key agreement: %w", err)
	}

	kdf := hkdf.New(sha256.New, point, nil, hkdfInfo)
	if _, err := io.ReadFull(kdf, secret[:]); err != nil {
		return secret, fmt.Errorf("expand shared secret: %w", err)
	}
	return secret, nil
}

// EncryptMessage seals plaintext with AES-256-GCM under the shared secret
// using a fresh random IV. Returns base64 ciphertext and IV, the only forms
// that cross the persistence boundary.
func EncryptMessage(plaintext string, secret SharedSecret) (ciphertext, iv string, err error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return "", "", err
	}

	nonce := make([]byte, ivSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", "", fmt.Errorf("generate iv: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed),
		base64.StdEncoding.EncodeToString(nonce),
		nil
}

// DecryptMessage opens a sealed message. Any authentication failure maps to
// ErrDecryptFailed; this is how an incorrect password is distinguished from
// a correct one at unlock time.
func DecryptMessage(ciphertext, iv string, secret SharedSecret) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryptFailed
	}
	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil || len(nonce) != ivSize {
		return "", ErrDecryptFailed
	}

	aead, err := newAEAD(secret)
	if err != nil {
		return "", err
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plain), nil
}

func newAEAD(secret SharedSecret) (cipher.AEAD, error) {
	block, err := aes.NewCipher(secret[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}
