package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/envvault/internal/cryptox"
)

// OwnerKind names the container a variable belongs to.
type OwnerKind string

const (
	OwnerEnvironment OwnerKind = "environment"
	OwnerGlobal      OwnerKind = "global"
)

// RecordVersion is the only record schema version understood by this build.
const RecordVersion = 1

// MaxBulkVariables caps a single bulk upload.
const MaxBulkVariables = 500

var (
	ErrInvalidRecord    = errors.New("models: invalid variable record")
	ErrUnknownVersion   = errors.New("models: unsupported record version")
	ErrTooManyVariables = errors.New("models: too many variables in one request")
)

// EncryptedVariable is the persisted ciphertext record. The four crypto
// fields are base64 strings and are stored and transported verbatim.
type EncryptedVariable struct {
	ID             string    `json:"id"`
	OwnerKind      OwnerKind `json:"ownerKind"`
	OwnerID        string    `json:"ownerId,omitempty"`
	KeyEncrypted   string    `json:"keyEncrypted"`
	ValueEncrypted string    `json:"valueEncrypted"`
	IVKey          string    `json:"ivKey"`
	IVValue        string    `json:"ivValue"`
	IsSecret       bool      `json:"isSecret"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NewEncryptedVariable builds a record from a freshly sealed pair.
func NewEncryptedVariable(id string, kind OwnerKind, ownerID string, p cryptox.EncryptedPair, isSecret bool, now time.Time) EncryptedVariable {
	v := EncryptedVariable{
		ID:        id,
		OwnerKind: kind,
		OwnerID:   ownerID,
		IsSecret:  isSecret,
		CreatedAt: now,
	}
	return v.WithPair(p, now)
}

// WithPair returns a copy of v carrying the ciphertexts and nonces of p.
// Identity, owner, isSecret and createdAt are preserved; updatedAt is set to now.
func (v EncryptedVariable) WithPair(p cryptox.EncryptedPair, now time.Time) EncryptedVariable {
	v.KeyEncrypted = cryptox.EncodeBase64(p.Name.Ciphertext)
	v.IVKey = cryptox.EncodeBase64(p.Name.Nonce)
	v.ValueEncrypted = cryptox.EncodeBase64(p.Value.Ciphertext)
	v.IVValue = cryptox.EncodeBase64(p.Value.Nonce)
	v.UpdatedAt = now
	return v
}

// Pair decodes the base64 fields into an EncryptedPair ready for decryption.
func (v EncryptedVariable) Pair() (cryptox.EncryptedPair, error) {
	name, err := decodeField("keyEncrypted", v.KeyEncrypted, "ivKey", v.IVKey)
	if err != nil {
		return cryptox.EncryptedPair{}, err
	}
	value, err := decodeField("valueEncrypted", v.ValueEncrypted, "ivValue", v.IVValue)
	if err != nil {
		return cryptox.EncryptedPair{}, err
	}
	return cryptox.EncryptedPair{Name: name, Value: value}, nil
}

// Validate checks the record shape without decrypting anything.
func (v EncryptedVariable) Validate() error {
	if v.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	switch v.OwnerKind {
	case OwnerGlobal:
	case OwnerEnvironment:
		if v.OwnerID == "" {
			return fmt.Errorf("%w: environment variable without ownerId", ErrInvalidRecord)
		}
	default:
		return fmt.Errorf("%w: unknown ownerKind %q", ErrInvalidRecord, v.OwnerKind)
	}
	_, err := v.Pair()
	return err
}

func decodeField(ctName, ct, ivName, iv string) (cryptox.EncryptedField, error) {
	if ct == "" || iv == "" {
		return cryptox.EncryptedField{}, fmt.Errorf("%w: %s and %s are required", ErrInvalidRecord, ctName, ivName)
	}
	c, err := cryptox.DecodeBase64(ct)
	if err != nil {
		return cryptox.EncryptedField{}, fmt.Errorf("%w: %s: %w", ErrInvalidRecord, ctName, err)
	}
	n, err := cryptox.DecodeBase64(iv)
	if err != nil {
		return cryptox.EncryptedField{}, fmt.Errorf("%w: %s: %w", ErrInvalidRecord, ivName, err)
	}
	if len(n) != cryptox.NonceSize {
		return cryptox.EncryptedField{}, fmt.Errorf("%w: %s must be %d bytes, got %d", ErrInvalidRecord, ivName, cryptox.NonceSize, len(n))
	}
	if len(c) < cryptox.TagSize {
		return cryptox.EncryptedField{}, fmt.Errorf("%w: %s shorter than the authentication tag", ErrInvalidRecord, ctName)
	}
	return cryptox.EncryptedField{Ciphertext: c, Nonce: n}, nil
}

// wireVariable mirrors EncryptedVariable with pointers so that absent
// fields can be told apart from zero values.
type wireVariable struct {
	Version        *int       `json:"version"`
	ID             *string    `json:"id"`
	OwnerKind      *OwnerKind `json:"ownerKind"`
	OwnerID        string     `json:"ownerId"`
	KeyEncrypted   *string    `json:"keyEncrypted"`
	ValueEncrypted *string    `json:"valueEncrypted"`
	IVKey          *string    `json:"ivKey"`
	IVValue        *string    `json:"ivValue"`
	IsSecret       *bool      `json:"isSecret"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (w wireVariable) toModel() (EncryptedVariable, error) {
	if w.Version != nil && *w.Version != RecordVersion {
		return EncryptedVariable{}, fmt.Errorf("%w: %d", ErrUnknownVersion, *w.Version)
	}

	required := []struct {
		name    string
		present bool
	}{
		{"id", w.ID != nil},
		{"ownerKind", w.OwnerKind != nil},
		{"keyEncrypted", w.KeyEncrypted != nil},
		{"valueEncrypted", w.ValueEncrypted != nil},
		{"ivKey", w.IVKey != nil},
		{"ivValue", w.IVValue != nil},
		{"isSecret", w.IsSecret != nil},
	}
	for _, r := range required {
		if !r.present {
			return EncryptedVariable{}, fmt.Errorf("%w: missing field %q", ErrInvalidRecord, r.name)
		}
	}

	v := EncryptedVariable{
		ID:             *w.ID,
		OwnerKind:      *w.OwnerKind,
		OwnerID:        w.OwnerID,
		KeyEncrypted:   *w.KeyEncrypted,
		ValueEncrypted: *w.ValueEncrypted,
		IVKey:          *w.IVKey,
		IVValue:        *w.IVValue,
		IsSecret:       *w.IsSecret,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
	if err := v.Validate(); err != nil {
		return EncryptedVariable{}, err
	}
	return v, nil
}

// UnmarshalJSON decodes a record strictly: unknown fields, missing fields,
// an unsupported version, malformed base64 and nonces of the wrong length
// are all rejected with ErrInvalidRecord or ErrUnknownVersion. Every decode
// of a record, including gRPC message bodies, passes through here.
func (v *EncryptedVariable) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireVariable
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	m, err := w.toModel()
	if err != nil {
		return err
	}
	*v = m
	return nil
}

// ValidateBatch validates every record of an already decoded batch and
// enforces MaxBulkVariables.
func ValidateBatch(vs []EncryptedVariable) error {
	if len(vs) > MaxBulkVariables {
		return fmt.Errorf("%w: %d > %d", ErrTooManyVariables, len(vs), MaxBulkVariables)
	}
	seen := make(map[string]struct{}, len(vs))
	for i, v := range vs {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("variable %d: %w", i, err)
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidRecord, v.ID)
		}
		seen[v.ID] = struct{}{}
	}
	return nil
}
