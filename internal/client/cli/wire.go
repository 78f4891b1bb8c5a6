package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dmitrijs2005/envvault/internal/client/config"
	"github.com/dmitrijs2005/envvault/internal/client/remote"
	"github.com/dmitrijs2005/envvault/internal/client/services"
	"github.com/dmitrijs2005/envvault/internal/client/store"
	"github.com/dmitrijs2005/envvault/internal/filex"
	"github.com/dmitrijs2005/envvault/internal/logging"
	"github.com/dmitrijs2005/envvault/internal/vault"
)

// NewFromConfig opens the backend selected by cfg.Mode and builds the App
// around it. The caller owns the returned service and must Close it.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*App, services.VaultService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := logging.NewText(os.Stderr, level)

	var (
		backend services.Backend
		opts    = []Option{WithLogger(logger)}
	)

	switch cfg.Mode {
	case config.ModeRemote:
		c, err := remote.New(cfg.ServerEndpointAddr, cfg.AccessToken)
		if err != nil {
			return nil, nil, fmt.Errorf("connect %s: %w", cfg.ServerEndpointAddr, err)
		}
		backend = c
		opts = append(opts, WithPinger(c))

	default:
		dir, err := filex.EnsureDataDir(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		cfg.DataDir = dir
		s, err := store.Open(ctx, cfg.DSN(), cfg.BcryptCost)
		if err != nil {
			return nil, nil, fmt.Errorf("open local vault: %w", err)
		}
		backend = s
	}

	session := vault.NewSession(vault.WithAutoLock(cfg.AutoLock), vault.WithLogger(logger))
	svc := services.NewVaultService(backend, session, logger)
	return NewApp(svc, opts...), svc, nil
}
