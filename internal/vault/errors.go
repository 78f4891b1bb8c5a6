// Package vault owns the lifecycle of the derived key: the VaultSession state
// machine that decides when the key may exist in memory, and the master
// password rotation protocol that re-encrypts a whole vault under a new key.
package vault

import "errors"

var (
	// ErrSessionLocked is returned by any key-dependent call made while the
	// session is not Unlocked.
	ErrSessionLocked = errors.New("vault: session is locked")

	// ErrSuperseded is returned to unlock callers whose attempt was replaced
	// by a newer unlock or cancelled by an explicit lock.
	ErrSuperseded = errors.New("vault: unlock attempt superseded")

	// ErrAuthentication is returned when the current master password does not
	// open the existing vault during rotation. Nothing is written.
	ErrAuthentication = errors.New("vault: current master password rejected")

	// ErrRotationInProgress is returned when a rotation is requested while
	// another one is still running.
	ErrRotationInProgress = errors.New("vault: rotation already in progress")

	// ErrIncompleteRotation is returned by a Store when a rotation commit does
	// not cover every stored variable.
	ErrIncompleteRotation = errors.New("vault: rotation does not cover every stored variable")

	// ErrStaleSnapshot is returned by a Store when the salt changed between
	// LoadVault and CommitRotation.
	ErrStaleSnapshot = errors.New("vault: vault changed during rotation")

	ErrInvalidAutoLock = errors.New("vault: auto-lock must be between 1 and 60 minutes")
)
