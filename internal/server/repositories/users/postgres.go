package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/envvault/internal/common"
	"github.com/dmitrijs2005/envvault/internal/dbx"
	"github.com/dmitrijs2005/envvault/internal/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectUser = `SELECT id, email, encryption_salt, master_password_hash, two_factor_secret, two_factor_enabled, created_at
		 FROM users
		 WHERE id = $1`

// Create inserts a user. An existing row with the same ID yields
// common.ErrorAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, user *models.User) error {
	query :=
		`INSERT INTO users (id, email, encryption_salt, master_password_hash)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING
		 RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		user.ID, user.Email, user.EncryptionSalt, user.MasterPasswordHash).Scan(&user.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) get(ctx context.Context, query, id string) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Email, &user.EncryptionSalt,
		&user.MasterPasswordHash, &user.TwoFactorSecret, &user.TwoFactorEnabled, &user.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.get(ctx, selectUser, id)
}

// GetByIDForUpdate locks the user row until the surrounding transaction ends.
// Concurrent rotations for the same user are serialized on this lock.
func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.User, error) {
	return r.get(ctx, selectUser+` FOR UPDATE`, id)
}

func (r *PostgresRepository) UpdateCredentials(ctx context.Context, id string, salt, hash []byte) error {
	query :=
		`UPDATE users SET encryption_salt = $2, master_password_hash = $3
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, salt, hash)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if err := dbx.ExpectRows(res, 1); err != nil {
		if errors.Is(err, dbx.ErrRowCount) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SetTwoFactorSecret stores a pending seed. Two-factor stays disabled until
// EnableTwoFactor confirms it.
func (r *PostgresRepository) SetTwoFactorSecret(ctx context.Context, id, sealed string) error {
	query :=
		`UPDATE users SET two_factor_secret = $2, two_factor_enabled = FALSE
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, sealed)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if err := dbx.ExpectRows(res, 1); err != nil {
		if errors.Is(err, dbx.ErrRowCount) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// EnableTwoFactor switches two-factor on only while the stored seed is still
// sealed. A seed replaced by a newer enrollment yields common.ErrorNotFound.
func (r *PostgresRepository) EnableTwoFactor(ctx context.Context, id, sealed string) error {
	query :=
		`UPDATE users SET two_factor_enabled = TRUE
		 WHERE id = $1 AND two_factor_secret = $2`

	res, err := r.db.ExecContext(ctx, query, id, sealed)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if err := dbx.ExpectRows(res, 1); err != nil {
		if errors.Is(err, dbx.ErrRowCount) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
