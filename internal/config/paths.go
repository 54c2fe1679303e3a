package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths is the on-disk layout: config files under ConfigDir, caches and state under DataDir
type Paths struct {
	ConfigDir string
	DataDir   string
}

// DefaultPaths resolves the layout from the environment.
//
// TOTALRECALL_BASE_DIR (container installs, e.g. /app) puts everything under
// <base>/config and <base>/data. Otherwise the user config dir and
// $XDG_DATA_HOME (or ~/.local/share) are used. TOTALRECALL_CONFIG_DIR and
// TOTALRECALL_DATA_DIR override either directory.
func DefaultPaths() (Paths, error) {
	var p Paths

	if base := os.Getenv("TOTALRECALL_BASE_DIR"); base != "" {
		abs, err := filepath.Abs(base)
		if err != nil {
			return p, fmt.Errorf("failed to get absolute path for TOTALRECALL_BASE_DIR: %w", err)
		}
		p.ConfigDir = filepath.Join(abs, "config")
		p.DataDir = filepath.Join(abs, "data")
	} else {
		configHome, err := os.UserConfigDir()
		if err != nil {
			return p, fmt.Errorf("failed to get config directory: %w", err)
		}
		p.ConfigDir = filepath.Join(configHome, "totalrecall")

		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return p, fmt.Errorf("failed to get home directory: %w", err)
			}
			dataHome = filepath.Join(homeDir, ".local", "share")
		}
		p.DataDir = filepath.Join(dataHome, "totalrecall")
	}

	if dir := os.Getenv("TOTALRECALL_CONFIG_DIR"); dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return p, fmt.Errorf("failed to get absolute path for TOTALRECALL_CONFIG_DIR: %w", err)
		}
		p.ConfigDir = abs
	}
	if dir := os.Getenv("TOTALRECALL_DATA_DIR"); dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return p, fmt.Errorf("failed to get absolute path for TOTALRECALL_DATA_DIR: %w", err)
		}
		p.DataDir = abs
	}

	return p, nil
}

// PathsAt builds a layout rooted at one directory, used by tests and --base-dir
func PathsAt(base string) Paths {
	return Paths{
		ConfigDir: filepath.Join(base, "config"),
		DataDir:   filepath.Join(base, "data"),
	}
}

func (p Paths) ConfigFile() string      { return filepath.Join(p.ConfigDir, "config.toml") }
func (p Paths) CredentialsFile() string { return filepath.Join(p.ConfigDir, "credentials.toml") }
func (p Paths) IgnoreFile() string      { return filepath.Join(p.ConfigDir, "ignore.txt") }
func (p Paths) LogDir() string          { return filepath.Join(p.DataDir, "logs") }
func (p Paths) LockFile() string        { return filepath.Join(p.DataDir, "totalrecall.lock") }
func (p Paths) CacheDir() string        { return filepath.Join(p.DataDir, "cache") }
func (p Paths) CollectDir() string      { return filepath.Join(p.CacheDir(), "collect") }
func (p Paths) DistributeDir() string   { return filepath.Join(p.CacheDir(), "distribute") }
func (p Paths) IDCacheDir() string      { return filepath.Join(p.CacheDir(), "id") }
func (p Paths) StateDB() string         { return filepath.Join(p.IDCacheDir(), "state.db") }
func (p Paths) OutboxDir() string       { return filepath.Join(p.DataDir, "outbox") }

// CSVDir holds raw exports of a source
func (p Paths) CSVDir(source string) string {
	return filepath.Join(p.CacheDir(), "csv", source)
}

// EnsureDirectories creates the config and cache tree
func (p Paths) EnsureDirectories() error {
	for _, dir := range []string{p.ConfigDir, p.DataDir, p.LogDir(), p.CollectDir(), p.DistributeDir(), p.IDCacheDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
