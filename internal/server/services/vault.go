// Package services contains server-side business logic. VaultService keeps
// each user's salt, master-password verifier and ciphertext variables. It
// never derives a key and never sees plaintext.
package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/envvault/internal/common"
	"github.com/dmitrijs2005/envvault/internal/cryptox"
	"github.com/dmitrijs2005/envvault/internal/dbx"
	"github.com/dmitrijs2005/envvault/internal/logging"
	"github.com/dmitrijs2005/envvault/internal/models"
	"github.com/dmitrijs2005/envvault/internal/passwd"
	"github.com/dmitrijs2005/envvault/internal/secretbox"
	"github.com/dmitrijs2005/envvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/envvault/internal/totp"
	"github.com/dmitrijs2005/envvault/internal/vault"
)

// TwoFactorIssuer labels enrolled authenticator entries.
const TwoFactorIssuer = "envvault"

// Rotation is a complete change-master-password submission.
type Rotation struct {
	CurrentPassword string
	NewPassword     string
	PrevSalt        []byte
	NewSalt         []byte
	Variables       []models.EncryptedVariable
}

// Enrollment is returned once to the user when two-factor is switched on.
type Enrollment struct {
	Secret string
	URI    string
}

type VaultService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	box         *secretbox.Box
	bcryptCost  int
	logger      logging.Logger
	now         func() time.Time
}

// NewVaultService wires the service. box may be nil, in which case two-factor
// enrollment and verification fail with secretbox.ErrNoSecret.
func NewVaultService(db *sql.DB, m repomanager.RepositoryManager, box *secretbox.Box, bcryptCost int, logger logging.Logger) *VaultService {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &VaultService{db: db, repomanager: m, box: box, bcryptCost: bcryptCost, logger: logger, now: time.Now}
}

// GetSalt returns the user's key derivation salt. An unknown user yields
// common.ErrorNotFound so the client knows to run setup.
func (s *VaultService) GetSalt(ctx context.Context, userID string) ([]byte, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.EncryptionSalt, nil
}

// Setup creates the vault of userID with the client-generated salt.
func (s *VaultService) Setup(ctx context.Context, userID string, salt []byte, password string) error {
	if len(salt) != cryptox.SaltSize {
		return fmt.Errorf("%w: %w", common.ErrorValidation, cryptox.ErrInvalidSalt)
	}
	if password == "" {
		return fmt.Errorf("%w: %w", common.ErrorValidation, cryptox.ErrEmptySecret)
	}

	hash, err := passwd.Hash(password, s.bcryptCost)
	if err != nil {
		return common.ErrorInternal
	}

	user := &models.User{ID: userID, EncryptionSalt: salt, MasterPasswordHash: hash}
	if err := s.repomanager.Users(s.db).Create(ctx, user); err != nil {
		return err
	}

	s.logger.Info(ctx, "vault created", "user_id", userID)
	return nil
}

// VerifyMasterPassword checks password against the stored verifier and
// returns the salt on success. Unknown users and wrong passwords are
// indistinguishable: both yield common.ErrorUnauthorized.
func (s *VaultService) VerifyMasterPassword(ctx context.Context, userID, password string) ([]byte, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}
	if err := passwd.Compare(user.MasterPasswordHash, password); err != nil {
		if errors.Is(err, passwd.ErrMismatch) {
			s.logger.Warn(ctx, "master password rejected", "user_id", userID)
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}
	return user.EncryptionSalt, nil
}

func (s *VaultService) ListVariables(ctx context.Context, userID string) ([]models.EncryptedVariable, error) {
	return s.repomanager.Variables(s.db).List(ctx, userID)
}

// PutVariables stores a validated batch of at most models.MaxBulkVariables
// records in one transaction.
func (s *VaultService) PutVariables(ctx context.Context, userID string, vars []models.EncryptedVariable) (int, error) {
	if err := models.ValidateBatch(vars); err != nil {
		return 0, fmt.Errorf("%w: %w", common.ErrorValidation, err)
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Users(tx).GetByID(ctx, userID); err != nil {
			return err
		}
		repo := s.repomanager.Variables(tx)
		for _, v := range vars {
			if err := repo.Upsert(ctx, userID, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(vars), nil
}

func (s *VaultService) DeleteVariable(ctx context.Context, userID, id string) error {
	if id == "" {
		return common.ErrorValidation
	}
	return s.repomanager.Variables(s.db).Delete(ctx, userID, id)
}

// ChangeMasterPassword replaces the salt, the verifier and every variable of
// userID in one transaction. The user row is locked first so concurrent
// rotations serialize. The submission must cover exactly the stored set.
func (s *VaultService) ChangeMasterPassword(ctx context.Context, userID string, r Rotation) (int, error) {
	if len(r.NewSalt) != cryptox.SaltSize {
		return 0, fmt.Errorf("%w: %w", common.ErrorValidation, cryptox.ErrInvalidSalt)
	}
	if r.NewPassword == "" {
		return 0, fmt.Errorf("%w: %w", common.ErrorValidation, cryptox.ErrEmptySecret)
	}
	for i, v := range r.Variables {
		if err := v.Validate(); err != nil {
			return 0, fmt.Errorf("%w: variable %d: %w", common.ErrorValidation, i, err)
		}
	}

	hash, err := passwd.Hash(r.NewPassword, s.bcryptCost)
	if err != nil {
		return 0, common.ErrorInternal
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repomanager.Users(tx)
		vars := s.repomanager.Variables(tx)

		user, err := users.GetByIDForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return vault.ErrAuthentication
			}
			return err
		}
		if err := passwd.Compare(user.MasterPasswordHash, r.CurrentPassword); err != nil {
			if errors.Is(err, passwd.ErrMismatch) {
				return vault.ErrAuthentication
			}
			return err
		}
		if !bytes.Equal(user.EncryptionSalt, r.PrevSalt) {
			return vault.ErrStaleSnapshot
		}

		ids, err := vars.ListIDs(ctx, userID)
		if err != nil {
			return err
		}
		if err := checkCoverage(ids, r.Variables); err != nil {
			return err
		}

		for _, v := range r.Variables {
			if err := vars.Reseal(ctx, userID, v); err != nil {
				if errors.Is(err, dbx.ErrRowCount) {
					return fmt.Errorf("%w: %w", vault.ErrIncompleteRotation, err)
				}
				return err
			}
		}

		return users.UpdateCredentials(ctx, userID, r.NewSalt, hash)
	})

	if err != nil {
		s.logger.Warn(ctx, "change master password failed", "user_id", userID, "error", err.Error())
		return 0, err
	}

	envCount, globalCount := countByOwner(r.Variables)
	s.logger.Info(ctx, "master password changed",
		"user_id", userID,
		"reencrypted_variables", envCount,
		"reencrypted_global_variables", globalCount)
	return len(r.Variables), nil
}

// checkCoverage requires submitted to name every stored ID exactly once.
func checkCoverage(stored []string, submitted []models.EncryptedVariable) error {
	if len(stored) != len(submitted) {
		return fmt.Errorf("%w: %d stored, %d submitted", vault.ErrIncompleteRotation, len(stored), len(submitted))
	}
	want := make(map[string]bool, len(stored))
	for _, id := range stored {
		want[id] = true
	}
	for _, v := range submitted {
		if !want[v.ID] {
			return fmt.Errorf("%w: variable %s unexpected or repeated", vault.ErrIncompleteRotation, v.ID)
		}
		delete(want, v.ID)
	}
	return nil
}

func countByOwner(vars []models.EncryptedVariable) (env, global int) {
	for _, v := range vars {
		if v.OwnerKind == models.OwnerGlobal {
			global++
		} else {
			env++
		}
	}
	return env, global
}

// EnrollTwoFactor generates a TOTP seed, stores it sealed under the server
// secret and returns it once in clear together with an otpauth URI. The seed
// stays pending until VerifyTwoFactor confirms a code from it. Enrolling
// again before that replaces the pending seed.
func (s *VaultService) EnrollTwoFactor(ctx context.Context, userID string) (*Enrollment, error) {
	if s.box == nil {
		return nil, secretbox.ErrNoSecret
	}
	users := s.repomanager.Users(s.db)

	user, err := users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, fmt.Errorf("%w: two-factor is already enabled", common.ErrorAlreadyExists)
	}

	secret := totp.GenerateSecret()
	sealed, err := s.box.Seal([]byte(secret))
	if err != nil {
		return nil, common.ErrorInternal
	}
	if err := users.SetTwoFactorSecret(ctx, userID, sealed); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "two-factor enrollment started", "user_id", userID)
	return &Enrollment{Secret: secret, URI: totp.URI(TwoFactorIssuer, userID, secret)}, nil
}

// VerifyTwoFactor checks code against the stored seed and enables two-factor
// on the first success. A user without a seed yields common.ErrorNotFound and
// a wrong code totp.ErrInvalidCode.
func (s *VaultService) VerifyTwoFactor(ctx context.Context, userID, code string) error {
	user, secret, err := s.openSeed(ctx, userID)
	if err != nil {
		return err
	}
	if !totp.Verify(code, secret, s.now()) {
		s.logger.Warn(ctx, "two-factor code rejected", "user_id", userID)
		return totp.ErrInvalidCode
	}
	if user.TwoFactorEnabled {
		return nil
	}

	if err := s.repomanager.Users(s.db).EnableTwoFactor(ctx, userID, user.TwoFactorSecret); err != nil {
		return err
	}
	s.logger.Info(ctx, "two-factor enabled", "user_id", userID)
	return nil
}

// openSeed loads userID and opens its stored seed, pending or enabled.
func (s *VaultService) openSeed(ctx context.Context, userID string) (*models.User, string, error) {
	if s.box == nil {
		return nil, "", secretbox.ErrNoSecret
	}
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if user.TwoFactorSecret == "" {
		return nil, "", fmt.Errorf("%w: two-factor is not set up", common.ErrorNotFound)
	}
	plain, err := s.box.Open(user.TwoFactorSecret)
	if err != nil {
		return nil, "", err
	}
	defer common.WipeByteArray(plain)
	return user, string(plain), nil
}
