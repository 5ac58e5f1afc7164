// Package crypto implements password-derived key management and end-to-end
// message encryption for direct messages.
//
// Key material is derived deterministically: argon2id stretches the password
// and a per-epoch random salt into an X25519 scalar, so the same
// (password, salt) input always yields the same public key. This enables
// password-based recovery without ever persisting the password or the
// private key; only the salt and the exported public key cross the
// persistence boundary.
package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/curve25519"
)

// SaltSize is the length in bytes of a derivation salt. One salt is
// generated per key epoch and reused only for re-derivation.
const SaltSize = 16

// argon2id parameters for the password → scalar derivation. These must not
// change between derivations of the same epoch, or stored public keys stop
// verifying.
const (
	argonTime    = 2
	argonMemory  = 64 * 1024
	argonThreads = 1
)

// ErrMalformedSalt is returned when a stored salt does not decode to
// SaltSize bytes. Derivation input is deterministic, so there is no retry.
var ErrMalformedSalt = errors.New("malformed encryption salt")

// PublicKeyJWK is the exchangeable form of an X25519 public key, per the
// OKP key type of RFC 8037. It is what gets persisted and sent to peers.
type PublicKeyJWK struct {
	Kty string `json:"kty"` // always "OKP"
	Crv string `json:"crv"` // always "X25519"
	X   string `json:"x"`   // base64url raw public key bytes
}

// DerivedKeyPair holds the in-memory result of a derivation. It is owned by
// the session that derived it and is never persisted; the session cache
// drops it on sign-out or lock.
type DerivedKeyPair struct {
	privateKey [32]byte
	PublicKey  PublicKeyJWK
	Salt       []byte
}

// GenerateSalt returns SaltSize cryptographically random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKeyPair deterministically derives an X25519 keypair from a password
// and salt. The argon2id output is clamped into a valid curve scalar; the
// public key is the scalar's product with the curve basepoint.
func DeriveKeyPair(password string, salt []byte) (*DerivedKeyPair, error) {
	if len(salt) != SaltSize {
		return nil, ErrMalformedSalt
	}

	seed := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, 32)

	var priv [32]byte
	copy(priv[:], seed)
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}

	kp := &DerivedKeyPair{
		PublicKey: PublicKeyJWK{
			Kty: "OKP",
			Crv: "X25519",
			X:   base64.RawURLEncoding.EncodeToString(pub),
		},
		Salt: append([]byte(nil), salt...),
	}
	kp.privateKey = priv
	return kp, nil
}

// VerifyPublicKey reports whether two exported public keys carry the same
// raw key material. Used to detect whether a freshly re-derived key matches
// a stored one (corruption / tamper detection). Comparison is on decoded
// bytes, so an encoding difference alone never triggers a rotation.
func VerifyPublicKey(a, b PublicKeyJWK) bool {
	return a.Kty == b.Kty && a.Crv == b.Crv && a.Equal(b)
}

// MarshalJWK serializes a public key for storage or exchange.
func MarshalJWK(k PublicKeyJWK) (string, error) {
	b, err := json.Marshal(k)
	if err != nil {
		return "", fmt.Errorf("marshal jwk: %w", err)
	}
	return string(b), nil
}

// ParseJWK parses a stored JWK and validates it is an X25519 OKP key with a
// 32-byte coordinate.
func ParseJWK(raw string) (PublicKeyJWK, error) {
	var k PublicKeyJWK
	if err := json.Unmarshal([]byte(raw), &k); err != nil {
		return PublicKeyJWK{}, fmt.Errorf("parse jwk: %w", err)
	}
	if k.Kty != "OKP" || k.Crv != "X25519" {
		return PublicKeyJWK{}, fmt.Errorf("unsupported jwk key type %q/%q", k.Kty, k.Crv)
	}
	raw32, err := k.rawBytes()
	if err != nil {
		return PublicKeyJWK{}, err
	}
	if len(raw32) != 32 {
		return PublicKeyJWK{}, fmt.Errorf("jwk x coordinate is %d bytes, want 32", len(raw32))
	}
	return k, nil
}

// DecodeSalt decodes a persisted base64 salt and validates its length.
func DecodeSalt(encoded string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(salt) != SaltSize {
		return nil, ErrMalformedSalt
	}
	return salt, nil
}

// EncodeSalt encodes a salt for persistence.
func EncodeSalt(salt []byte) string {
	return base64.StdEncoding.EncodeToString(salt)
}

// rawBytes decodes the base64url x coordinate.
func (k PublicKeyJWK) rawBytes() ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("decode jwk x coordinate: %w", err)
	}
	return b, nil
}

// Equal reports byte equality of two raw public keys, tolerating encoding
// differences. Either side failing to decode compares unequal.
func (k PublicKeyJWK) Equal(other PublicKeyJWK) bool {
	a, err1 := k.rawBytes()
	b, err2 := other.rawBytes()
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(a, b)
}
