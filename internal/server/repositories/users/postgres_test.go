package users

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/envvault/internal/common"
	"github.com/dmitrijs2005/envvault/internal/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var userColumns = []string{"id", "email", "encryption_salt", "master_password_hash",
	"two_factor_secret", "two_factor_enabled", "created_at"}

const insertQ = `(?s)^INSERT\s+INTO\s+users\s*\(id,\s*email,\s*encryption_salt,\s*master_password_hash\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\)\s*ON\s+CONFLICT\s*\(id\)\s*DO\s+NOTHING\s*RETURNING\s+created_at$`

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(insertQ).
		WithArgs("u-1", "", []byte("salt"), []byte("hash")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	u := &models.User{ID: "u-1", EncryptionSalt: []byte("salt"), MasterPasswordHash: []byte("hash")}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !u.CreatedAt.Equal(created) {
		t.Fatalf("created_at not scanned: %v", u.CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_AlreadyExists(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(insertQ).
		WithArgs("u-1", "", []byte("salt"), []byte("hash")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))

	err := repo.Create(context.Background(), &models.User{ID: "u-1", EncryptionSalt: []byte("salt"), MasterPasswordHash: []byte("hash")})
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("want common.ErrorAlreadyExists, got %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(insertQ).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &models.User{ID: "u-1"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetByID_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,.*FROM\s+users\s+WHERE\s+id\s*=\s*\$1$`
	mock.ExpectQuery(q).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow("u-1", "a@example.com", []byte("salt"), []byte("hash"), "sealed", true, time.Now()))

	got, err := repo.GetByID(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if got.ID != "u-1" || string(got.EncryptionSalt) != "salt" || !got.TwoFactorEnabled || got.TwoFactorSecret != "sealed" {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+users`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestGetByIDForUpdate_LocksRow(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT.*WHERE\s+id\s*=\s*\$1\s+FOR\s+UPDATE$`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow("u-1", "", []byte("salt"), []byte("hash"), "", false, time.Now()))

	if _, err := repo.GetByIDForUpdate(context.Background(), "u-1"); err != nil {
		t.Fatalf("GetByIDForUpdate error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateCredentials(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+users\s+SET\s+encryption_salt\s*=\s*\$2,\s*master_password_hash\s*=\s*\$3\s+WHERE\s+id\s*=\s*\$1$`

	mock.ExpectExec(q).WithArgs("u-1", []byte("s2"), []byte("h2")).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.UpdateCredentials(context.Background(), "u-1", []byte("s2"), []byte("h2")); err != nil {
		t.Fatalf("UpdateCredentials error: %v", err)
	}

	mock.ExpectExec(q).WithArgs("ghost", []byte("s2"), []byte("h2")).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.UpdateCredentials(context.Background(), "ghost", []byte("s2"), []byte("h2")); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}

	mock.ExpectExec(q).WillReturnError(errors.New("db err"))
	err := repo.UpdateCredentials(context.Background(), "u-1", []byte("s2"), []byte("h2"))
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestSetTwoFactorSecret(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+users\s+SET\s+two_factor_secret\s*=\s*\$2,\s*two_factor_enabled\s*=\s*FALSE\s+WHERE\s+id\s*=\s*\$1$`

	mock.ExpectExec(q).WithArgs("u-1", "sealed").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.SetTwoFactorSecret(context.Background(), "u-1", "sealed"); err != nil {
		t.Fatalf("SetTwoFactorSecret error: %v", err)
	}

	mock.ExpectExec(q).WithArgs("ghost", "sealed").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.SetTwoFactorSecret(context.Background(), "ghost", "sealed"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestEnableTwoFactor(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+users\s+SET\s+two_factor_enabled\s*=\s*TRUE\s+WHERE\s+id\s*=\s*\$1\s+AND\s+two_factor_secret\s*=\s*\$2$`

	mock.ExpectExec(q).WithArgs("u-1", "sealed").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.EnableTwoFactor(context.Background(), "u-1", "sealed"); err != nil {
		t.Fatalf("EnableTwoFactor error: %v", err)
	}

	// a newer enrollment replaced the seed
	mock.ExpectExec(q).WithArgs("u-1", "stale").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.EnableTwoFactor(context.Background(), "u-1", "stale"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}

	mock.ExpectExec(q).WithArgs("u-1", "sealed").WillReturnError(errors.New("boom"))
	if err := repo.EnableTwoFactor(context.Background(), "u-1", "sealed"); err == nil {
		t.Fatal("expected db error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
