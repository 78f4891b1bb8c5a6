// Package variables persists encrypted variable records in the local SQLite
// vault. Rows hold ciphertext only.
package variables

import (
	"context"

	"github.com/dmitrijs2005/envvault/internal/models"
)

type Repository interface {
	// Upsert inserts v or replaces the row with the same id.
	Upsert(ctx context.Context, v models.EncryptedVariable) error
	Get(ctx context.Context, id string) (models.EncryptedVariable, error)
	List(ctx context.Context) ([]models.EncryptedVariable, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	// Reseal overwrites the ciphertext, nonces and updated_at of an existing
	// row and fails with dbx.ErrRowCount when the row does not exist.
	Reseal(ctx context.Context, v models.EncryptedVariable) error
}
