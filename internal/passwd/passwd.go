// Package passwd produces and checks master password verifiers.
//
// A verifier only answers "is this the master password"; it never stands in
// for the derived encryption key, which is computed separately from the same
// raw input. The password is pre-hashed with SHA-256 so that bcrypt's 72 byte
// input limit does not silently truncate long passphrases.
package passwd

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost used when none is configured.
const DefaultCost = bcrypt.DefaultCost

// ErrMismatch is returned by Compare when the password does not match.
var ErrMismatch = errors.New("passwd: password does not match verifier")

func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

// Hash returns a bcrypt verifier for password. A cost outside bcrypt's
// accepted range falls back to DefaultCost.
func Hash(password string, cost int) ([]byte, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword(prehash(password), cost)
	if err != nil {
		return nil, fmt.Errorf("passwd: hash: %w", err)
	}
	return h, nil
}

// Compare checks password against verifier.
func Compare(verifier []byte, password string) error {
	err := bcrypt.CompareHashAndPassword(verifier, prehash(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrMismatch
	default:
		return fmt.Errorf("passwd: compare: %w", err)
	}
}
