package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/envvault/internal/passwd"
	"github.com/dmitrijs2005/envvault/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ModeLocal, c.Mode)
	assert.Equal(t, "127.0.0.1:3200", c.ServerEndpointAddr)
	assert.Equal(t, vault.DefaultAutoLock, c.AutoLock)
	assert.Equal(t, passwd.DefaultCost, c.BcryptCost)
	assert.NotEmpty(t, c.DataDir)
	assert.NoError(t, c.Validate())
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"envvault"}
	t.Setenv("ENVVAULT_TOKEN", "")

	cfg := LoadConfig()

	require.NotNil(t, cfg, "LoadConfig must not return nil")
	assert.Equal(t, ModeLocal, cfg.Mode)
	assert.Equal(t, 5*time.Minute, cfg.AutoLock)
}

func TestDSN(t *testing.T) {
	c := Config{DataDir: filepath.Join("tmp", "vault")}
	dsn := c.DSN()
	assert.True(t, strings.HasPrefix(dsn, "file:"+filepath.Join("tmp", "vault", "vault.db")))
	assert.Contains(t, dsn, "busy_timeout")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		var c Config
		c.LoadDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"local ok", func(c *Config) {}, ""},
		{"remote ok", func(c *Config) { c.Mode = ModeRemote; c.AccessToken = "tok" }, ""},
		{"remote without token", func(c *Config) { c.Mode = ModeRemote }, "access token"},
		{"remote without address", func(c *Config) { c.Mode = ModeRemote; c.AccessToken = "tok"; c.ServerEndpointAddr = "" }, "server address"},
		{"unknown mode", func(c *Config) { c.Mode = "cloud" }, "unknown mode"},
		{"autolock too short", func(c *Config) { c.AutoLock = 10 * time.Second }, "auto-lock"},
		{"autolock too long", func(c *Config) { c.AutoLock = 2 * time.Hour }, "auto-lock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
