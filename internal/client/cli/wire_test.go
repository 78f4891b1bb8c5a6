package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/envvault/internal/client/config"
	"github.com/dmitrijs2005/envvault/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestNewFromConfig_Local(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.BcryptCost = bcrypt.MinCost

	app, svc, err := NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	assert.Equal(t, ModeLocal, app.Mode())
	assert.Equal(t, vault.Locked, svc.Status())
	assert.Equal(t, vault.DefaultAutoLock, svc.AutoLock())
	assert.FileExists(t, filepath.Join(cfg.DataDir, "vault.db"))
}

func TestNewFromConfig_Remote(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.Mode = config.ModeRemote
	cfg.AccessToken = "token"

	app, svc, err := NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	assert.Equal(t, ModeOnline, app.Mode())
}

func TestNewFromConfig_Invalid(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.Mode = config.ModeRemote

	_, _, err := NewFromConfig(context.Background(), cfg)
	assert.ErrorContains(t, err, "access token")
}
