package vault

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/envvault/internal/cryptox"
	"github.com/dmitrijs2005/envvault/internal/logging"
	"github.com/dmitrijs2005/envvault/internal/models"
)

// Snapshot is everything a rotation reads: the current salt and every
// variable encrypted under the key it derives.
type Snapshot struct {
	Salt      []byte
	Variables []models.EncryptedVariable
}

// Credentials carries the raw master passwords to stores that keep their
// own verifier. A store must only hash or compare them, never persist them.
type Credentials struct {
	Current string
	New     string
}

// RotationCommit is the complete bundle a Store must persist in one atomic
// write: the new salt together with every re-encrypted variable.
type RotationCommit struct {
	Credentials Credentials
	PrevSalt    []byte
	NewSalt     []byte
	Variables   []models.EncryptedVariable
}

// Store is the persistence collaborator of the rotation protocol.
//
// CommitRotation must be all-or-nothing: either the salt and every variable
// row are replaced, or nothing is. It must fail if Variables does not cover
// every variable currently stored.
type Store interface {
	LoadVault(ctx context.Context) (Snapshot, error)
	CommitRotation(ctx context.Context, c RotationCommit) error
}

// RotationResult is the output of Rotate.
type RotationResult struct {
	NewSalt     []byte
	Reencrypted []models.EncryptedVariable
}

// Rotate re-encrypts snap under a key derived from next and a fresh salt.
// It is purely in-memory and has no external effect.
//
// The key derived from current and snap.Salt must open every variable,
// otherwise the error wraps ErrAuthentication. When expect is non-nil (the
// live session key) the derived key must also equal it.
func Rotate(ctx context.Context, current, next string, snap Snapshot, expect *cryptox.DerivedKey, now time.Time) (RotationResult, error) {
	oldKey, err := cryptox.DeriveKey(current, snap.Salt)
	if err != nil {
		if errors.Is(err, cryptox.ErrEmptySecret) {
			return RotationResult{}, fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		return RotationResult{}, err
	}
	if expect != nil && !oldKey.Equal(expect) {
		return RotationResult{}, ErrAuthentication
	}

	sealed := make([]cryptox.EncryptedPair, len(snap.Variables))
	for i, v := range snap.Variables {
		p, err := v.Pair()
		if err != nil {
			return RotationResult{}, fmt.Errorf("variable %s: %w", v.ID, err)
		}
		sealed[i] = p
	}

	plain, err := cryptox.DecryptAll(ctx, sealed, cryptox.StaticKey(oldKey))
	if err != nil {
		if errors.Is(err, cryptox.ErrIntegrity) {
			return RotationResult{}, fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		return RotationResult{}, err
	}

	newSalt, err := cryptox.NewSalt()
	if err != nil {
		return RotationResult{}, err
	}
	newKey, err := cryptox.DeriveKey(next, newSalt)
	if err != nil {
		return RotationResult{}, err
	}

	resealed, err := cryptox.EncryptAll(ctx, plain, cryptox.StaticKey(newKey))
	if err != nil {
		return RotationResult{}, err
	}

	out := make([]models.EncryptedVariable, len(resealed))
	for i, p := range resealed {
		out[i] = snap.Variables[i].WithPair(p, now)
	}
	return RotationResult{NewSalt: newSalt, Reencrypted: out}, nil
}

// Rotator runs the full master password change against a Store and forces
// the session to Locked once the new key is committed.
type Rotator struct {
	store   Store
	session *Session
	log     logging.Logger
	running atomic.Bool
}

func NewRotator(store Store, session *Session, log logging.Logger) *Rotator {
	if log == nil {
		log = logging.Nop{}
	}
	return &Rotator{store: store, session: session, log: log.With("component", "rotation")}
}

// RotateMasterPassword changes the master password from current to next.
// Any failure before the commit leaves the stored salt and every ciphertext
// untouched. After a successful commit the session is locked and must be
// unlocked again with next.
func (r *Rotator) RotateMasterPassword(ctx context.Context, current, next string) (RotationResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		return RotationResult{}, ErrRotationInProgress
	}
	defer r.running.Store(false)

	snap, err := r.store.LoadVault(ctx)
	if err != nil {
		return RotationResult{}, fmt.Errorf("load vault: %w", err)
	}

	var expect *cryptox.DerivedKey
	if k, err := r.session.Key(); err == nil {
		expect = k
	}

	environments, globals := countOwners(snap.Variables)
	r.log.Info(ctx, "master password rotation started",
		"variables", environments, "global_variables", globals)

	res, err := Rotate(ctx, current, next, snap, expect, r.session.clock.Now())
	if err != nil {
		r.log.Warn(ctx, "master password rotation aborted", "error", err)
		return RotationResult{}, err
	}

	err = r.store.CommitRotation(ctx, RotationCommit{
		Credentials: Credentials{Current: current, New: next},
		PrevSalt:    snap.Salt,
		NewSalt:     res.NewSalt,
		Variables:   res.Reencrypted,
	})
	if err != nil {
		r.log.Error(ctx, "master password rotation commit failed", "error", err)
		return RotationResult{}, fmt.Errorf("commit rotation: %w", err)
	}

	r.session.lock(ReasonRotation)
	r.log.Info(ctx, "master password rotation committed",
		"variables", environments, "global_variables", globals)
	return res, nil
}

func countOwners(vs []models.EncryptedVariable) (environments, globals int) {
	for _, v := range vs {
		if v.OwnerKind == models.OwnerGlobal {
			globals++
		} else {
			environments++
		}
	}
	return environments, globals
}
