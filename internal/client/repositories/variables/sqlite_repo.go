package variables

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/envvault/internal/common"
	"github.com/dmitrijs2005/envvault/internal/dbx"
	"github.com/dmitrijs2005/envvault/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const columns = `id, owner_kind, owner_id, key_encrypted, value_encrypted, iv_key, iv_value, is_secret, created_at, updated_at`

// timeLayout has a fixed-width fraction so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func (r *SQLiteRepository) Upsert(ctx context.Context, v models.EncryptedVariable) error {
	query := `INSERT INTO variables (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_kind = excluded.owner_kind,
			owner_id = excluded.owner_id,
			key_encrypted = excluded.key_encrypted,
			value_encrypted = excluded.value_encrypted,
			iv_key = excluded.iv_key,
			iv_value = excluded.iv_value,
			is_secret = excluded.is_secret,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		v.ID, string(v.OwnerKind), v.OwnerID,
		v.KeyEncrypted, v.ValueEncrypted, v.IVKey, v.IVValue,
		v.IsSecret, formatTime(v.CreatedAt), formatTime(v.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert variable: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVariable(s scanner) (models.EncryptedVariable, error) {
	var (
		v                models.EncryptedVariable
		kind             string
		created, updated string
	)
	if err := s.Scan(&v.ID, &kind, &v.OwnerID, &v.KeyEncrypted, &v.ValueEncrypted,
		&v.IVKey, &v.IVValue, &v.IsSecret, &created, &updated); err != nil {
		return models.EncryptedVariable{}, err
	}
	v.OwnerKind = models.OwnerKind(kind)

	var err error
	if v.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return models.EncryptedVariable{}, fmt.Errorf("created_at: %w", err)
	}
	if v.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return models.EncryptedVariable{}, fmt.Errorf("updated_at: %w", err)
	}
	return v, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (models.EncryptedVariable, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM variables WHERE id = ?`, id)

	v, err := scanVariable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EncryptedVariable{}, common.ErrorNotFound
	}
	if err != nil {
		return models.EncryptedVariable{}, fmt.Errorf("failed to get variable: %w", err)
	}
	return v, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.EncryptedVariable, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM variables ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select variables: %w", err)
	}
	defer rows.Close()

	result := []models.EncryptedVariable{}
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variable: %w", err)
		}
		result = append(result, v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM variables WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete variable: %w", err)
	}
	if err := dbx.ExpectRows(res, 1); err != nil {
		if errors.Is(err, dbx.ErrRowCount) {
			return common.ErrorNotFound
		}
		return err
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM variables`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count variables: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Reseal(ctx context.Context, v models.EncryptedVariable) error {
	res, err := r.db.ExecContext(ctx, `UPDATE variables
		SET key_encrypted = ?, value_encrypted = ?, iv_key = ?, iv_value = ?, updated_at = ?
		WHERE id = ?`,
		v.KeyEncrypted, v.ValueEncrypted, v.IVKey, v.IVValue, formatTime(v.UpdatedAt), v.ID)
	if err != nil {
		return fmt.Errorf("failed to reseal variable %s: %w", v.ID, err)
	}
	if err := dbx.ExpectRows(res, 1); err != nil {
		return fmt.Errorf("variable %s: %w", v.ID, err)
	}
	return nil
}
