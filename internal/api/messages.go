package api

import "github.com/dmitrijs2005/envvault/internal/models"

// Salts are base64 strings on the wire.

type GetSaltRequest struct{}

type GetSaltResponse struct {
	Salt string `json:"salt"`
}

type SetupRequest struct {
	Salt           string `json:"salt"`
	MasterPassword string `json:"masterPassword"`
}

type SetupResponse struct{}

// UnlockRequest asks the server to check the master password against its
// verifier. The server never derives a key from it.
type UnlockRequest struct {
	MasterPassword string `json:"masterPassword"`
}

type UnlockResponse struct {
	Salt string `json:"salt"`
}

type ListVariablesRequest struct{}

type ListVariablesResponse struct {
	Variables []models.EncryptedVariable `json:"variables"`
}

type PutVariablesRequest struct {
	Variables []models.EncryptedVariable `json:"variables"`
}

type PutVariablesResponse struct {
	Stored int `json:"stored"`
}

type DeleteVariableRequest struct {
	ID string `json:"id"`
}

type DeleteVariableResponse struct{}

// ChangeMasterPasswordRequest carries the complete re-encrypted vault. The
// server applies it in one transaction or not at all.
type ChangeMasterPasswordRequest struct {
	CurrentPassword string                     `json:"currentPassword"`
	NewPassword     string                     `json:"newPassword"`
	PrevSalt        string                     `json:"prevSalt"`
	NewSalt         string                     `json:"newSalt"`
	Variables       []models.EncryptedVariable `json:"variables"`
}

type ChangeMasterPasswordResponse struct {
	Reencrypted int `json:"reencrypted"`
}

type EnrollTwoFactorRequest struct{}

type EnrollTwoFactorResponse struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

type VerifyTwoFactorRequest struct {
	Code string `json:"code"`
}

type VerifyTwoFactorResponse struct{}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}
