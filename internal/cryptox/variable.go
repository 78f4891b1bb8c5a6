package cryptox

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pair is a decrypted variable: its name and its value.
type Pair struct {
	Name  string
	Value string
}

// EncryptedPair holds the two independently sealed fields of a variable.
type EncryptedPair struct {
	Name  EncryptedField
	Value EncryptedField
}

// EncryptVariable seals name and value concurrently, each under its own
// fresh nonce.
func EncryptVariable(name, value string, key *DerivedKey) (EncryptedPair, error) {
	var (
		g   errgroup.Group
		out EncryptedPair
	)

	g.Go(func() (err error) {
		out.Name, err = EncryptField(name, key)
		return err
	})
	g.Go(func() (err error) {
		out.Value, err = EncryptField(value, key)
		return err
	})

	if err := g.Wait(); err != nil {
		return EncryptedPair{}, err
	}
	return out, nil
}

// DecryptVariable opens both fields concurrently. If either field fails
// authentication the whole variable fails; a half-decrypted pair is never
// returned.
func DecryptVariable(ev EncryptedPair, key *DerivedKey) (Pair, error) {
	var (
		g   errgroup.Group
		out Pair
	)

	g.Go(func() (err error) {
		out.Name, err = DecryptField(ev.Name, key)
		return err
	})
	g.Go(func() (err error) {
		out.Value, err = DecryptField(ev.Value, key)
		return err
	})

	if err := g.Wait(); err != nil {
		return Pair{}, err
	}
	return out, nil
}

// KeySource yields the key for each cryptographic call. Batch helpers call it
// once per item so a key that is revoked mid-batch stops the remaining work.
type KeySource func() (*DerivedKey, error)

// StaticKey returns a KeySource that always yields key.
func StaticKey(key *DerivedKey) KeySource {
	return func() (*DerivedKey, error) { return key, nil }
}

// DecryptAll decrypts every pair in parallel. Results keep input order. The
// first failure cancels the remaining items and is returned.
func DecryptAll(ctx context.Context, items []EncryptedPair, keys KeySource) ([]Pair, error) {
	out := make([]Pair, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			key, err := keys()
			if err != nil {
				return err
			}
			p, err := DecryptVariable(items[i], key)
			if err != nil {
				return err
			}
			out[i] = p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EncryptAll encrypts every pair in parallel. Results keep input order.
func EncryptAll(ctx context.Context, items []Pair, keys KeySource) ([]EncryptedPair, error) {
	out := make([]EncryptedPair, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			key, err := keys()
			if err != nil {
				return err
			}
			ep, err := EncryptVariable(items[i].Name, items[i].Value, key)
			if err != nil {
				return err
			}
			out[i] = ep
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
