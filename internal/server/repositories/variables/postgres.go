// Package variables provides the PostgreSQL repository for encrypted
// variable records. It never sees plaintext.
package variables

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/envvault/internal/common"
	"github.com/dmitrijs2005/envvault/internal/dbx"
	"github.com/dmitrijs2005/envvault/internal/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert inserts v or replaces the ciphertexts of the row with the same ID.
// created_at of an existing row is preserved.
func (r *PostgresRepository) Upsert(ctx context.Context, userID string, v models.EncryptedVariable) error {
	query := `
		INSERT INTO variables (id, user_id, owner_kind, owner_id, key_encrypted, value_encrypted, iv_key, iv_value, is_secret, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, id)
		DO UPDATE SET
			owner_kind = EXCLUDED.owner_kind,
			owner_id = EXCLUDED.owner_id,
			key_encrypted = EXCLUDED.key_encrypted,
			value_encrypted = EXCLUDED.value_encrypted,
			iv_key = EXCLUDED.iv_key,
			iv_value = EXCLUDED.iv_value,
			is_secret = EXCLUDED.is_secret,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		v.ID, userID, string(v.OwnerKind), v.OwnerID,
		v.KeyEncrypted, v.ValueEncrypted, v.IVKey, v.IVValue,
		v.IsSecret, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// List returns every variable of userID ordered by creation time.
func (r *PostgresRepository) List(ctx context.Context, userID string) ([]models.EncryptedVariable, error) {
	query := `
		SELECT id, owner_kind, owner_id, key_encrypted, value_encrypted, iv_key, iv_value, is_secret, created_at, updated_at
		FROM variables
		WHERE user_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := []models.EncryptedVariable{}
	for rows.Next() {
		var (
			v    models.EncryptedVariable
			kind string
		)
		if err := rows.Scan(&v.ID, &kind, &v.OwnerID, &v.KeyEncrypted, &v.ValueEncrypted,
			&v.IVKey, &v.IVValue, &v.IsSecret, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		v.OwnerKind = models.OwnerKind(kind)
		result = append(result, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

// ListIDs returns the IDs of every variable of userID.
func (r *PostgresRepository) ListIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM variables WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return ids, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM variables WHERE user_id = $1 AND id = $2`, userID, id)
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

// Reseal replaces the ciphertexts and nonces of an existing row. A missing
// row fails with dbx.ErrRowCount so a rotation transaction can abort.
func (r *PostgresRepository) Reseal(ctx context.Context, userID string, v models.EncryptedVariable) error {
	query := `
		UPDATE variables
		SET key_encrypted = $3, value_encrypted = $4, iv_key = $5, iv_value = $6, updated_at = $7
		WHERE user_id = $1 AND id = $2
	`
	res, err := r.db.ExecContext(ctx, query,
		userID, v.ID, v.KeyEncrypted, v.ValueEncrypted, v.IVKey, v.IVValue, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if err := dbx.ExpectRows(res, 1); err != nil {
		return fmt.Errorf("variable %s: %w", v.ID, err)
	}
	return nil
}
