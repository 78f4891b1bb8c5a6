package cryptox

import (
	"encoding/base64"
	"fmt"
)

// EncodeBase64 returns the standard (padded) base64 encoding of b.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 decodes a standard base64 string. Malformed input yields an
// error wrapping ErrDecode.
func DecodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return b, nil
}
