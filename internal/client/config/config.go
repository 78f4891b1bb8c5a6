package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/envvault/internal/filex"
	"github.com/dmitrijs2005/envvault/internal/passwd"
	"github.com/dmitrijs2005/envvault/internal/vault"
)

// Storage modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Config holds runtime settings for the envvault CLI.
type Config struct {
	Mode               string
	DataDir            string
	ServerEndpointAddr string
	AccessToken        string
	AutoLock           time.Duration
	BcryptCost         int
	Verbose            bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.Mode = ModeLocal
	c.DataDir = filex.DefaultDataDir()
	c.ServerEndpointAddr = "127.0.0.1:3200"
	c.AutoLock = vault.DefaultAutoLock
	c.BcryptCost = passwd.DefaultCost
}

// DSN is the SQLite data source of the local vault.
func (c *Config) DSN() string {
	return "file:" + filepath.Join(c.DataDir, "vault.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Validate rejects settings the CLI cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeLocal:
	case ModeRemote:
		if c.ServerEndpointAddr == "" {
			errs = append(errs, errors.New("remote mode needs a server address"))
		}
		if c.AccessToken == "" {
			errs = append(errs, errors.New("remote mode needs an access token"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if c.AutoLock < vault.MinAutoLock || c.AutoLock > vault.MaxAutoLock {
		errs = append(errs, vault.ErrInvalidAutoLock)
	}
	return errors.Join(errs...)
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
