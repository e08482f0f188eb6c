// Package storage provides platform-native directory resolution with XDG support.
package storage

import (
	"os"
	"path/filepath"
	"sync"
)

// Dirs provides platform-native directory resolution with XDG support.
type Dirs struct {
	Config string // User configuration (settings, credentials)
	Data   string // Persistent data (databases, audio blobs)
	State  string // Runtime state (logs, dead letters)
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
	globalDirsErr  error
)

// ResolveDirs returns platform-appropriate directories.
// Results are cached after first call.
func ResolveDirs() (*Dirs, error) {
	globalDirsOnce.Do(func() {
		globalDirs, globalDirsErr = resolveDirsImpl()
	})
	return globalDirs, globalDirsErr
}

func resolveDirsImpl() (*Dirs, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	return &Dirs{
		Config: resolveDir("XDG_CONFIG_HOME", filepath.Join(home, ".config", "usagi")),
		Data:   resolveDir("XDG_DATA_HOME", filepath.Join(home, ".local", "share", "usagi")),
		State:  resolveDir("XDG_STATE_HOME", filepath.Join(home, ".local", "state", "usagi")),
	}, nil
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, "usagi")
	}
	return fallback
}

// ConfigDir returns a path under the config directory.
func (d *Dirs) ConfigDir(parts ...string) string {
	return filepath.Join(append([]string{d.Config}, parts...)...)
}

// DataDir returns a path under the data directory.
func (d *Dirs) DataDir(parts ...string) string {
	return filepath.Join(append([]string{d.Data}, parts...)...)
}

// StateDir returns a path under the state directory.
func (d *Dirs) StateDir(parts ...string) string {
	return filepath.Join(append([]string{d.State}, parts...)...)
}

// EnsureDir creates a directory with the specified permissions if it doesn't exist.
func EnsureDir(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
