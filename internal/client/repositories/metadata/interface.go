// Package metadata stores small named values of the local vault, such as the
// encryption salt and the master password verifier.
package metadata

import (
	"context"
)

// Well-known keys.
const (
	KeySalt     = "salt"
	KeyVerifier = "verifier"
)

type Repository interface {
	// Get returns (nil, nil) when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}
