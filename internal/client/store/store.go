// Package store is the local SQLite vault: the salt, the master password
// verifier and the encrypted variables of a single user. It implements
// vault.Store so the rotation protocol can commit against it atomically.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/envvault/internal/client/migrations"
	"github.com/dmitrijs2005/envvault/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/envvault/internal/client/repositories/variables"
	"github.com/dmitrijs2005/envvault/internal/common"
	"github.com/dmitrijs2005/envvault/internal/cryptox"
	"github.com/dmitrijs2005/envvault/internal/dbx"
	"github.com/dmitrijs2005/envvault/internal/models"
	"github.com/dmitrijs2005/envvault/internal/passwd"
	"github.com/dmitrijs2005/envvault/internal/vault"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Both wrap the backend-neutral sentinels so callers need not know which
// backend they talk to.
var (
	ErrNotInitialized = fmt.Errorf("%w: vault is not set up", common.ErrorNotFound)
	ErrWrongPassword  = fmt.Errorf("%w: wrong master password", vault.ErrAuthentication)
)

// gooseUpContext is a test seam.
var gooseUpContext = goose.UpContext

type Store struct {
	db         *sql.DB
	meta       metadata.Repository
	vars       variables.Repository
	bcryptCost int
}

// New wraps an already migrated database.
func New(db *sql.DB, bcryptCost int) *Store {
	return &Store{
		db:         db,
		meta:       metadata.NewSQLiteRepository(db),
		vars:       variables.NewSQLiteRepository(db),
		bcryptCost: bcryptCost,
	}
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return gooseUpContext(ctx, db, ".")
}

// Open opens (creating if needed) the SQLite database at dsn and migrates it.
func Open(ctx context.Context, dsn string, bcryptCost int) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps ":memory:" pointing at a single database
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return New(db, bcryptCost), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Initialized(ctx context.Context) (bool, error) {
	salt, err := s.meta.Get(ctx, metadata.KeySalt)
	if err != nil {
		return false, err
	}
	return salt != nil, nil
}

// Init records the salt and a verifier for password. It fails with
// common.ErrorAlreadyExists when the vault is already set up.
func (s *Store) Init(ctx context.Context, salt []byte, password string) error {
	if len(salt) != cryptox.SaltSize {
		return cryptox.ErrInvalidSalt
	}
	verifier, err := passwd.Hash(password, s.bcryptCost)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		meta := metadata.NewSQLiteRepository(tx)
		existing, err := meta.Get(ctx, metadata.KeySalt)
		if err != nil {
			return err
		}
		if existing != nil {
			return common.ErrorAlreadyExists
		}
		if err := meta.Set(ctx, metadata.KeySalt, salt); err != nil {
			return err
		}
		return meta.Set(ctx, metadata.KeyVerifier, verifier)
	})
}

func (s *Store) Salt(ctx context.Context) ([]byte, error) {
	salt, err := s.meta.Get(ctx, metadata.KeySalt)
	if err != nil {
		return nil, err
	}
	if salt == nil {
		return nil, ErrNotInitialized
	}
	return salt, nil
}

// VerifyPassword checks password against the stored verifier.
func (s *Store) VerifyPassword(ctx context.Context, password string) error {
	return verify(ctx, s.meta, password)
}

func verify(ctx context.Context, meta metadata.Repository, password string) error {
	verifier, err := meta.Get(ctx, metadata.KeyVerifier)
	if err != nil {
		return err
	}
	if verifier == nil {
		return ErrNotInitialized
	}
	if err := passwd.Compare(verifier, password); err != nil {
		if errors.Is(err, passwd.ErrMismatch) {
			return ErrWrongPassword
		}
		return err
	}
	return nil
}

func (s *Store) PutVariable(ctx context.Context, v models.EncryptedVariable) error {
	if err := v.Validate(); err != nil {
		return err
	}
	return s.vars.Upsert(ctx, v)
}

func (s *Store) GetVariable(ctx context.Context, id string) (models.EncryptedVariable, error) {
	return s.vars.Get(ctx, id)
}

func (s *Store) ListVariables(ctx context.Context) ([]models.EncryptedVariable, error) {
	return s.vars.List(ctx)
}

func (s *Store) DeleteVariable(ctx context.Context, id string) error {
	return s.vars.Delete(ctx, id)
}

// LoadVault reads the salt and every variable in one read transaction.
func (s *Store) LoadVault(ctx context.Context) (vault.Snapshot, error) {
	var snap vault.Snapshot
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		salt, err := metadata.NewSQLiteRepository(tx).Get(ctx, metadata.KeySalt)
		if err != nil {
			return err
		}
		if salt == nil {
			return ErrNotInitialized
		}
		vars, err := variables.NewSQLiteRepository(tx).List(ctx)
		if err != nil {
			return err
		}
		snap = vault.Snapshot{Salt: salt, Variables: vars}
		return nil
	})
	return snap, err
}

// CommitRotation replaces the salt, the verifier and the ciphertext of every
// variable in one transaction. The current password must match the stored
// verifier, the salt must still be c.PrevSalt and c.Variables must cover
// every stored row; otherwise nothing is written.
func (s *Store) CommitRotation(ctx context.Context, c vault.RotationCommit) error {
	if len(c.NewSalt) != cryptox.SaltSize {
		return cryptox.ErrInvalidSalt
	}
	verifier, err := passwd.Hash(c.Credentials.New, s.bcryptCost)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		meta := metadata.NewSQLiteRepository(tx)
		vars := variables.NewSQLiteRepository(tx)

		if err := verify(ctx, meta, c.Credentials.Current); err != nil {
			return err
		}

		salt, err := meta.Get(ctx, metadata.KeySalt)
		if err != nil {
			return err
		}
		if !bytes.Equal(salt, c.PrevSalt) {
			return vault.ErrStaleSnapshot
		}

		n, err := vars.Count(ctx)
		if err != nil {
			return err
		}
		if n != len(c.Variables) {
			return fmt.Errorf("%w: %d stored, %d submitted", vault.ErrIncompleteRotation, n, len(c.Variables))
		}

		seen := make(map[string]struct{}, len(c.Variables))
		for _, v := range c.Variables {
			if _, dup := seen[v.ID]; dup {
				return fmt.Errorf("%w: variable %s submitted twice", vault.ErrIncompleteRotation, v.ID)
			}
			seen[v.ID] = struct{}{}

			if err := vars.Reseal(ctx, v); err != nil {
				if errors.Is(err, dbx.ErrRowCount) {
					return fmt.Errorf("%w: %w", vault.ErrIncompleteRotation, err)
				}
				return err
			}
		}

		if err := meta.Set(ctx, metadata.KeySalt, c.NewSalt); err != nil {
			return err
		}
		return meta.Set(ctx, metadata.KeyVerifier, verifier)
	})
}

var _ vault.Store = (*Store)(nil)
