package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// NonceSize is the AES-GCM nonce length used for every field.
	NonceSize = 12

	// TagSize is the GCM authentication tag length appended to each ciphertext.
	TagSize = 16
)

// randReader is a test seam for the nonce source.
var randReader io.Reader = rand.Reader

// EncryptedField is a single AES-256-GCM ciphertext (tag appended) together
// with the nonce it was sealed under.
type EncryptedField struct {
	Ciphertext []byte
	Nonce      []byte
}

// EncryptField seals plaintext under key with a fresh random 12-byte nonce.
// Associated data is empty.
func EncryptField(plaintext string, key *DerivedKey) (EncryptedField, error) {
	aead, err := newGCM(key)
	if err != nil {
		return EncryptedField{}, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return EncryptedField{}, fmt.Errorf("nonce generation: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), nil)
	return EncryptedField{Ciphertext: ciphertext, Nonce: nonce}, nil
}

// DecryptField opens f with key. A wrong key, a flipped bit anywhere in the
// ciphertext or tag, and truncated input all yield ErrIntegrity; partial
// plaintext is never returned.
func DecryptField(f EncryptedField, key *DerivedKey) (string, error) {
	if len(f.Nonce) != NonceSize || len(f.Ciphertext) < TagSize {
		return "", ErrIntegrity
	}

	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, f.Nonce, f.Ciphertext, nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}

func newGCM(key *DerivedKey) (cipher.AEAD, error) {
	if key == nil {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key.raw[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return cipher.NewGCM(block)
}
