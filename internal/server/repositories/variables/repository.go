package variables

import (
	"context"

	"github.com/dmitrijs2005/envvault/internal/models"
)

// Repository stores ciphertext variable records scoped by user ID.
type Repository interface {
	Upsert(ctx context.Context, userID string, v models.EncryptedVariable) error
	List(ctx context.Context, userID string) ([]models.EncryptedVariable, error)
	ListIDs(ctx context.Context, userID string) ([]string, error)
	Delete(ctx context.Context, userID, id string) error
	Reseal(ctx context.Context, userID string, v models.EncryptedVariable) error
}
