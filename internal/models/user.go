package models

import "time"

// User is the server-side account record consumed by the vault. The salt is
// public; MasterPasswordHash is a bcrypt verifier and never a derived key.
type User struct {
	ID                 string
	Email              string
	EncryptionSalt     []byte
	MasterPasswordHash []byte
	TwoFactorSecret    string
	TwoFactorEnabled   bool
	CreatedAt          time.Time
}
