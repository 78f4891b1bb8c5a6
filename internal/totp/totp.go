// Package totp implements RFC 6238 time-based one-time codes with the
// parameters authenticator apps assume: HMAC-SHA1, 6 digits, 30 second steps.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/envvault/internal/common"
)

const (
	Step       = 30 * time.Second
	Digits     = 6
	SecretSize = 20
)

// ErrInvalidCode is returned when a code does not match the seed.
var ErrInvalidCode = errors.New("totp: invalid code")

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh base32 seed of SecretSize random bytes.
func GenerateSecret() string {
	raw := common.GenerateRandByteArray(SecretSize)
	defer common.WipeByteArray(raw)
	return encoding.EncodeToString(raw)
}

// Code computes the code for secret at t.
func Code(secret string, t time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(key)
	return compute(key, uint64(t.Unix()/int64(Step/time.Second))), nil
}

// Verify accepts code for the step containing when and one step either side.
func Verify(code, secret string, when time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != Digits {
		return false
	}
	key, err := decodeSecret(secret)
	if err != nil {
		return false
	}
	defer common.WipeByteArray(key)

	counter := when.Unix() / int64(Step/time.Second)
	for i := int64(-1); i <= 1; i++ {
		cur := counter + i
		if cur < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(compute(key, uint64(cur))), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// URI builds the otpauth:// provisioning link scanned by authenticator apps.
func URI(issuer, account, secret string) string {
	u := url.URL{
		Scheme: "otpauth",
		Host:   "totp",
		Path:   "/" + issuer + ":" + account,
	}
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprint(Digits))
	q.Set("period", fmt.Sprint(int(Step/time.Second)))
	u.RawQuery = q.Encode()
	return u.String()
}

func compute(key []byte, counter uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	trunc := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF
	return fmt.Sprintf("%0*d", Digits, trunc%1000000)
}

func decodeSecret(secret string) ([]byte, error) {
	key, err := encoding.DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil {
		return nil, fmt.Errorf("totp: malformed secret: %w", err)
	}
	return key, nil
}
