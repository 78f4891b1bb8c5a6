// Package filex resolves and creates the directory holding the local vault
// database.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDataDir makes sure dir exists with owner-only permissions and returns
// its absolute path. A relative dir is resolved against the working directory.
func EnsureDataDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}

	return abs, nil
}

// DefaultDataDir is $HOME/.envvault, or .envvault in the working directory
// when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".envvault"
	}
	return filepath.Join(home, ".envvault")
}
