// Package server initializes and runs the envvault server: it opens
// PostgreSQL, applies migrations, wires the vault service and serves gRPC
// until a termination signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/envvault/internal/logging"
	"github.com/dmitrijs2005/envvault/internal/secretbox"
	"github.com/dmitrijs2005/envvault/internal/server/config"
	"github.com/dmitrijs2005/envvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/envvault/internal/server/services"

	gs "github.com/dmitrijs2005/envvault/internal/server/grpc"
)

type App struct {
	config       *config.Config
	logger       logging.Logger
	db           *sql.DB
	vaultService *services.VaultService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, slog.LevelInfo)

	db, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	var box *secretbox.Box
	if c.ServerSecret != "" {
		if box, err = secretbox.New(c.ServerSecret); err != nil {
			_ = db.Close()
			return nil, err
		}
	} else {
		logger.Warn(ctx, "no server secret configured, two-factor enrollment disabled")
	}

	vs := services.NewVaultService(db, rm, box, c.BcryptCost, logger.With("module", "vault_service"))

	return &App{config: c, logger: logger, db: db, vaultService: vs}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.vaultService, app.config.SecretKey)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
	app.logger.Info(ctx, "Stopped")
}
