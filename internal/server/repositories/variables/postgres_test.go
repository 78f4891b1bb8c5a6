package variables

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/envvault/internal/common"
	"github.com/dmitrijs2005/envvault/internal/dbx"
	"github.com/dmitrijs2005/envvault/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

func sampleVariable(id string) models.EncryptedVariable {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return models.EncryptedVariable{
		ID:             id,
		OwnerKind:      models.OwnerEnvironment,
		OwnerID:        "env-1",
		KeyEncrypted:   "a2V5",
		ValueEncrypted: "dmFs",
		IVKey:          "AAAAAAAAAAAAAAAA",
		IVValue:        "AQEBAQEBAQEBAQEB",
		IsSecret:       true,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
}

func TestUpsert(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	v := sampleVariable("v1")
	mock.ExpectExec(`(?s)INSERT\s+INTO\s+variables.*ON\s+CONFLICT\s+\(user_id,\s*id\)`).
		WithArgs("v1", "u1", "environment", "env-1", v.KeyEncrypted, v.ValueEncrypted, v.IVKey, v.IVValue, true, v.CreatedAt, v.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), "u1", v))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+variables`).WillReturnError(errors.New("boom"))

	err := repo.Upsert(context.Background(), "u1", sampleVariable("v1"))
	require.Error(t, err)
	assert.Regexp(t, regexp.MustCompile(`db error: .*boom`), err.Error())
}

func TestList(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	v := sampleVariable("v1")
	rows := sqlmock.NewRows([]string{"id", "owner_kind", "owner_id", "key_encrypted", "value_encrypted",
		"iv_key", "iv_value", "is_secret", "created_at", "updated_at"}).
		AddRow(v.ID, "environment", v.OwnerID, v.KeyEncrypted, v.ValueEncrypted, v.IVKey, v.IVValue, true, v.CreatedAt, v.UpdatedAt)

	mock.ExpectQuery(`(?s)SELECT\s+id,.*FROM\s+variables\s+WHERE\s+user_id\s*=\s*\$1\s+ORDER\s+BY`).
		WithArgs("u1").
		WillReturnRows(rows)

	got, err := repo.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, v, got[0])
}

func TestList_Empty(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)SELECT.*FROM\s+variables`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	got, err := repo.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestList_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)SELECT.*FROM\s+variables`).WillReturnError(errors.New("down"))

	_, err := repo.List(context.Background(), "u1")
	require.Error(t, err)
}

func TestListIDs(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+id\s+FROM\s+variables\s+WHERE\s+user_id\s*=\s*\$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))

	ids, err := repo.ListIDs(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `DELETE\s+FROM\s+variables\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+id\s*=\s*\$2`
	mock.ExpectExec(q).WithArgs("u1", "v1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "u1", "v1"))

	mock.ExpectExec(q).WithArgs("u1", "nope").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(context.Background(), "u1", "nope"), common.ErrorNotFound)
}

func TestReseal(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	v := sampleVariable("v1")
	q := `(?s)UPDATE\s+variables\s+SET\s+key_encrypted\s*=\s*\$3.*WHERE\s+user_id\s*=\s*\$1\s+AND\s+id\s*=\s*\$2`

	mock.ExpectExec(q).
		WithArgs("u1", "v1", v.KeyEncrypted, v.ValueEncrypted, v.IVKey, v.IVValue, v.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Reseal(context.Background(), "u1", v))

	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Reseal(context.Background(), "u1", v)
	assert.ErrorIs(t, err, dbx.ErrRowCount)
}
