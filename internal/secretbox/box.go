// Package secretbox seals auxiliary secrets the server itself must be able to
// read back, such as two-factor seeds. It is keyed from a server-held secret
// and shares no derivation path with the user vault in package cryptox.
//
// A sealed blob is a single base64 string over the fixed layout
//
//	[salt:16][nonce:12][tag:16][ciphertext:n]
//
// so that every blob carries its own key salt and can be opened as long as the
// server secret is known.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	SaltSize  = 16
	NonceSize = 12
	TagSize   = 16
	KeySize   = 32

	// HeaderSize is the fixed prefix preceding the ciphertext.
	HeaderSize = SaltSize + NonceSize + TagSize

	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

var (
	ErrNoSecret  = errors.New("secretbox: server secret is empty")
	ErrFraming   = errors.New("secretbox: malformed blob")
	ErrDecode    = errors.New("secretbox: malformed base64")
	ErrIntegrity = errors.New("secretbox: blob failed authentication")
)

var randReader io.Reader = rand.Reader

// Box seals and opens blobs under one server secret.
type Box struct {
	secret []byte
}

// New returns a Box keyed from secret.
func New(secret string) (*Box, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Box{secret: []byte(secret)}, nil
}

// Seal encrypts plaintext under a key derived from the server secret and a
// fresh random salt, and returns the framed blob as base64.
func (b *Box) Seal(plaintext []byte) (string, error) {
	header := make([]byte, SaltSize+NonceSize)
	if _, err := io.ReadFull(randReader, header); err != nil {
		return "", fmt.Errorf("secretbox: random source: %w", err)
	}
	salt, nonce := header[:SaltSize], header[SaltSize:]

	aead, err := b.aead(salt)
	if err != nil {
		return "", err
	}

	// Seal yields ciphertext||tag; the blob stores the tag first.
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	blob := make([]byte, 0, HeaderSize+len(ct))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Open reverses Seal. A blob that is not base64 or is shorter than HeaderSize
// fails with ErrFraming; a blob that parses but does not authenticate fails
// with ErrIntegrity.
func (b *Box) Open(encoded string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFraming, ErrDecode)
	}
	if len(blob) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrFraming, len(blob), HeaderSize)
	}

	salt := blob[:SaltSize]
	nonce := blob[SaltSize : SaltSize+NonceSize]
	tag := blob[SaltSize+NonceSize : HeaderSize]
	ct := blob[HeaderSize:]

	aead, err := b.aead(salt)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

func (b *Box) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(b.secret, salt, scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return nil, fmt.Errorf("secretbox: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
