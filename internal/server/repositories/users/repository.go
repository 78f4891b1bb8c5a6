package users

import (
	"context"

	"github.com/dmitrijs2005/envvault/internal/models"
)

// Repository persists vault owners. Implementations map missing rows to
// common.ErrorNotFound.
type Repository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.User, error)
	UpdateCredentials(ctx context.Context, id string, salt, hash []byte) error
	SetTwoFactorSecret(ctx context.Context, id, sealed string) error
	EnableTwoFactor(ctx context.Context, id, sealed string) error
}
