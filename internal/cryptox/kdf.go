package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KDFIterations is the PBKDF2-SHA256 iteration count. It is part of the
	// stored data format: changing it makes every existing vault undecryptable.
	KDFIterations = 100_000

	// SaltSize is the length of the per-user derivation salt.
	SaltSize = 16

	// KeySize is the length of the derived AES-256 key.
	KeySize = 32
)

// DerivedKey is an AES-256 key derived from a master password. It is never
// mutated after construction and carries no exported accessor for the raw
// bytes, so it cannot be accidentally serialized or logged.
type DerivedKey struct {
	raw [KeySize]byte
}

// DeriveKey turns a master secret and a 16-byte salt into a DerivedKey with
// PBKDF2-HMAC-SHA256 (100,000 iterations). The result is deterministic for
// identical inputs.
func DeriveKey(secret string, salt []byte) (*DerivedKey, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSalt, len(salt), SaltSize)
	}
	if secret == "" {
		return nil, ErrEmptySecret
	}

	password := []byte(secret)
	material := pbkdf2.Key(password, salt, KDFIterations, KeySize, sha256.New)
	wipe(password)

	k := &DerivedKey{}
	copy(k.raw[:], material)
	wipe(material)
	return k, nil
}

// NewDerivedKey wraps existing key material, e.g. a key produced by a
// different derivation path in tests. The input slice is copied.
func NewDerivedKey(raw []byte) (*DerivedKey, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(raw), KeySize)
	}
	k := &DerivedKey{}
	copy(k.raw[:], raw)
	return k, nil
}

// Equal reports whether both keys hold the same material, in constant time.
func (k *DerivedKey) Equal(other *DerivedKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return subtle.ConstantTimeCompare(k.raw[:], other.raw[:]) == 1
}

// String keeps key material out of fmt output.
func (k *DerivedKey) String() string {
	return "DerivedKey(redacted)"
}

// NewSalt returns SaltSize fresh random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("salt generation: %w", err)
	}
	return salt, nil
}

// NewSaltBase64 returns a fresh salt in its persisted (base64) form.
func NewSaltBase64() (string, error) {
	salt, err := NewSalt()
	if err != nil {
		return "", err
	}
	return EncodeBase64(salt), nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
