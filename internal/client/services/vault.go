// Package services contains the application services of the envvault CLI.
// VaultService ties a storage Backend (local SQLite or the remote server) to
// a vault.Session: it encrypts on the way in, decrypts on the way out and
// keeps a decrypted cache that lives only while the session is unlocked.
package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/envvault/internal/common"
	"github.com/dmitrijs2005/envvault/internal/cryptox"
	"github.com/dmitrijs2005/envvault/internal/logging"
	"github.com/dmitrijs2005/envvault/internal/models"
	"github.com/dmitrijs2005/envvault/internal/vault"
	"github.com/google/uuid"
)

var (
	ErrNotSetUp             = errors.New("vault is not set up")
	ErrTwoFactorUnsupported = errors.New("two-factor enrollment needs the remote backend")
)

// Backend is the storage a VaultService runs on. Both store.Store and
// remote.Client satisfy it. VerifyPassword must return an error wrapping
// vault.ErrAuthentication on a wrong password.
type Backend interface {
	vault.Store
	Initialized(ctx context.Context) (bool, error)
	Init(ctx context.Context, salt []byte, password string) error
	Salt(ctx context.Context) ([]byte, error)
	VerifyPassword(ctx context.Context, password string) error
	PutVariable(ctx context.Context, v models.EncryptedVariable) error
	GetVariable(ctx context.Context, id string) (models.EncryptedVariable, error)
	ListVariables(ctx context.Context) ([]models.EncryptedVariable, error)
	DeleteVariable(ctx context.Context, id string) error
	Close() error
}

// TwoFactorEnroller is implemented by backends that can enroll a TOTP secret
// and confirm it with a code.
type TwoFactorEnroller interface {
	EnrollTwoFactor(ctx context.Context) (secret, uri string, err error)
	VerifyTwoFactor(ctx context.Context, code string) error
}

// Variable is a decrypted variable as shown to the user.
type Variable struct {
	ID        string
	Name      string
	Value     string
	IsSecret  bool
	OwnerKind models.OwnerKind
	UpdatedAt time.Time
}

type VaultService interface {
	Setup(ctx context.Context, password string) error
	Unlock(ctx context.Context, password string) error
	Lock()
	Status() vault.Status
	TimeRemaining() time.Duration
	AutoLock() time.Duration
	SetAutoLock(d time.Duration) error
	Touch()

	SetVariable(ctx context.Context, name, value string, isSecret bool) (Variable, error)
	GetVariable(ctx context.Context, name string) (Variable, error)
	ListVariables(ctx context.Context) ([]Variable, error)
	DeleteVariable(ctx context.Context, name string) error

	ChangeMasterPassword(ctx context.Context, current, next string) (int, error)
	EnrollTwoFactor(ctx context.Context) (secret, uri string, err error)
	VerifyTwoFactor(ctx context.Context, code string) error
	Close() error
}

type vaultService struct {
	backend     Backend
	session     *vault.Session
	rotator     *vault.Rotator
	log         logging.Logger
	now         func() time.Time
	unsubscribe func()

	mu       sync.Mutex
	cache    map[string]Variable // by name
	cacheGen uint64
}

func NewVaultService(backend Backend, session *vault.Session, log logging.Logger) VaultService {
	if log == nil {
		log = logging.Nop{}
	}
	s := &vaultService{
		backend: backend,
		session: session,
		rotator: vault.NewRotator(backend, session, log),
		log:     log.With("component", "vault_service"),
		now:     time.Now,
	}
	s.unsubscribe = session.Subscribe(s.onTransition)
	return s
}

func (s *vaultService) onTransition(ev vault.Event) {
	if ev.To != vault.Unlocked {
		s.purge()
	}
}

func (s *vaultService) purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
	s.cacheGen++
}

// Setup creates a new vault protected by password.
func (s *vaultService) Setup(ctx context.Context, password string) error {
	ok, err := s.backend.Initialized(ctx)
	if err != nil {
		return err
	}
	if ok {
		return common.ErrorAlreadyExists
	}
	if err := cryptox.ValidateMasterPassword(password); err != nil {
		return fmt.Errorf("%w: %w", common.ErrorValidation, err)
	}
	salt, err := cryptox.NewSalt()
	if err != nil {
		return err
	}
	if err := s.backend.Init(ctx, salt, password); err != nil {
		return err
	}
	s.log.Info(ctx, "vault set up")
	return nil
}

// Unlock checks password against the backend verifier and only then derives
// the key into the session.
func (s *vaultService) Unlock(ctx context.Context, password string) error {
	if s.session.IsUnlocked() {
		return nil
	}
	ok, err := s.backend.Initialized(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotSetUp
	}
	if err := s.backend.VerifyPassword(ctx, password); err != nil {
		if errors.Is(err, vault.ErrAuthentication) {
			s.log.Warn(ctx, "unlock rejected")
		}
		return err
	}
	salt, err := s.backend.Salt(ctx)
	if err != nil {
		return err
	}
	return s.session.Unlock(ctx, password, salt)
}

func (s *vaultService) Lock()                             { s.session.Lock() }
func (s *vaultService) Status() vault.Status              { return s.session.Status() }
func (s *vaultService) TimeRemaining() time.Duration      { return s.session.TimeRemaining() }
func (s *vaultService) AutoLock() time.Duration           { return s.session.AutoLock() }
func (s *vaultService) SetAutoLock(d time.Duration) error { return s.session.SetAutoLock(d) }
func (s *vaultService) Touch()                            { s.session.Touch() }

// SetVariable stores name=value. An existing variable with the same name
// keeps its identity and creation time.
func (s *vaultService) SetVariable(ctx context.Context, name, value string, isSecret bool) (Variable, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Variable{}, fmt.Errorf("%w: variable name is required", common.ErrorValidation)
	}

	current, err := s.ListVariables(ctx)
	if err != nil {
		return Variable{}, err
	}

	p, err := s.session.EncryptVariable(name, value)
	if err != nil {
		return Variable{}, err
	}

	now := s.now().UTC()
	rec := models.NewEncryptedVariable(uuid.NewString(), models.OwnerGlobal, "", p, isSecret, now)
	if i := slices.IndexFunc(current, func(v Variable) bool { return v.Name == name }); i >= 0 {
		existing, err := s.backend.GetVariable(ctx, current[i].ID)
		if err != nil {
			return Variable{}, err
		}
		rec = existing.WithPair(p, now)
		rec.IsSecret = isSecret
	}

	if err := s.backend.PutVariable(ctx, rec); err != nil {
		return Variable{}, err
	}

	v := Variable{ID: rec.ID, Name: name, Value: value, IsSecret: isSecret, OwnerKind: rec.OwnerKind, UpdatedAt: now}
	s.purge()
	return v, nil
}

func (s *vaultService) GetVariable(ctx context.Context, name string) (Variable, error) {
	if !s.session.IsUnlocked() {
		return Variable{}, vault.ErrSessionLocked
	}

	s.mu.Lock()
	v, ok := s.cache[name]
	cached := s.cache != nil
	s.mu.Unlock()
	if ok {
		return v, nil
	}
	if cached {
		return Variable{}, common.ErrorNotFound
	}

	vs, err := s.ListVariables(ctx)
	if err != nil {
		return Variable{}, err
	}
	for _, v := range vs {
		if v.Name == name {
			return v, nil
		}
	}
	return Variable{}, common.ErrorNotFound
}

// ListVariables decrypts every stored variable in parallel, sorted by name.
// The result is cached until the session leaves Unlocked.
func (s *vaultService) ListVariables(ctx context.Context) ([]Variable, error) {
	if !s.session.IsUnlocked() {
		return nil, vault.ErrSessionLocked
	}

	s.mu.Lock()
	gen := s.cacheGen
	s.mu.Unlock()

	recs, err := s.backend.ListVariables(ctx)
	if err != nil {
		return nil, err
	}

	sealed := make([]cryptox.EncryptedPair, len(recs))
	for i, r := range recs {
		p, err := r.Pair()
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", r.ID, err)
		}
		sealed[i] = p
	}

	plain, err := cryptox.DecryptAll(ctx, sealed, s.session.KeySource())
	if err != nil {
		return nil, err
	}

	out := make([]Variable, len(recs))
	for i, r := range recs {
		out[i] = Variable{
			ID:        r.ID,
			Name:      plain[i].Name,
			Value:     plain[i].Value,
			IsSecret:  r.IsSecret,
			OwnerKind: r.OwnerKind,
			UpdatedAt: r.UpdatedAt,
		}
	}
	slices.SortFunc(out, func(a, b Variable) int { return strings.Compare(a.Name, b.Name) })

	s.mu.Lock()
	// a lock in between invalidates this result for caching
	if s.cacheGen == gen && s.session.IsUnlocked() {
		s.cache = make(map[string]Variable, len(out))
		for _, v := range out {
			s.cache[v.Name] = v
		}
	}
	s.mu.Unlock()

	return out, nil
}

func (s *vaultService) DeleteVariable(ctx context.Context, name string) error {
	v, err := s.GetVariable(ctx, name)
	if err != nil {
		return err
	}
	if err := s.backend.DeleteVariable(ctx, v.ID); err != nil {
		return err
	}
	s.purge()
	return nil
}

// ChangeMasterPassword re-encrypts the whole vault under next. On success
// the session is locked and the count of re-encrypted variables returned.
func (s *vaultService) ChangeMasterPassword(ctx context.Context, current, next string) (int, error) {
	if err := cryptox.ValidateMasterPassword(next); err != nil {
		return 0, fmt.Errorf("%w: %w", common.ErrorValidation, err)
	}
	if current == next {
		return 0, fmt.Errorf("%w: new password must differ from the current one", common.ErrorValidation)
	}
	res, err := s.rotator.RotateMasterPassword(ctx, current, next)
	if err != nil {
		return 0, err
	}
	return len(res.Reencrypted), nil
}

func (s *vaultService) EnrollTwoFactor(ctx context.Context) (string, string, error) {
	if !s.session.IsUnlocked() {
		return "", "", vault.ErrSessionLocked
	}
	e, ok := s.backend.(TwoFactorEnroller)
	if !ok {
		return "", "", ErrTwoFactorUnsupported
	}
	return e.EnrollTwoFactor(ctx)
}

// VerifyTwoFactor confirms a pending enrollment. Two-factor counts as enabled
// only after this succeeds.
func (s *vaultService) VerifyTwoFactor(ctx context.Context, code string) error {
	if !s.session.IsUnlocked() {
		return vault.ErrSessionLocked
	}
	e, ok := s.backend.(TwoFactorEnroller)
	if !ok {
		return ErrTwoFactorUnsupported
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("%w: code is required", common.ErrorValidation)
	}
	return e.VerifyTwoFactor(ctx, code)
}

// Close locks the session and releases the backend.
func (s *vaultService) Close() error {
	s.session.Lock()
	s.unsubscribe()
	return s.backend.Close()
}
