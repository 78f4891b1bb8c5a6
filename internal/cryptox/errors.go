// Package cryptox implements the client-side vault cryptography: base64
// codec helpers, PBKDF2 key derivation from the master password, AES-256-GCM
// field encryption and the two-field variable codec built on top of it.
//
// Every failure is classified into one of the sentinel errors below; raw
// errors from crypto/cipher never escape this package.
package cryptox

import "errors"

var (
	// ErrDecode is returned when a base64 string cannot be decoded.
	ErrDecode = errors.New("cryptox: malformed base64")

	// ErrInvalidSalt is returned when the derivation salt is not SaltSize bytes.
	ErrInvalidSalt = errors.New("cryptox: invalid salt length")

	// ErrEmptySecret is returned when an empty master secret is passed to DeriveKey.
	ErrEmptySecret = errors.New("cryptox: empty master secret")

	// ErrInvalidKey is returned when raw key material is not KeySize bytes.
	ErrInvalidKey = errors.New("cryptox: invalid key length")

	// ErrIntegrity is returned when authenticated decryption fails. It covers
	// both a wrong key and tampered or truncated ciphertext; the two causes
	// are deliberately indistinguishable.
	ErrIntegrity = errors.New("cryptox: ciphertext failed authentication")
)
