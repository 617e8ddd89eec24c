package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables that relocate xstash's directories.
const (
	EnvConfigDir = "XSTASH_CONFIG_DIR"
	EnvDataDir   = "XSTASH_DATA_DIR"
)

// Paths locates the config and data directories and the files in them.
type Paths struct {
	ConfigDir string
	DataDir   string
}

// ResolvePaths returns the directories xstash uses. XSTASH_CONFIG_DIR and
// XSTASH_DATA_DIR win; otherwise config lives under os.UserConfigDir and
// data under $XDG_DATA_HOME/xstash or ~/.local/share/xstash.
func ResolvePaths(getenv func(string) string) (Paths, error) {
	var p Paths

	p.ConfigDir = getenv(EnvConfigDir)
	if p.ConfigDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return Paths{}, fmt.Errorf("failed to locate config directory: %w", err)
		}
		p.ConfigDir = filepath.Join(base, "xstash")
	}

	p.DataDir = getenv(EnvDataDir)
	if p.DataDir == "" {
		if xdg := getenv("XDG_DATA_HOME"); xdg != "" {
			p.DataDir = filepath.Join(xdg, "xstash")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return Paths{}, fmt.Errorf("failed to locate home directory: %w", err)
			}
			p.DataDir = filepath.Join(home, ".local", "share", "xstash")
		}
	}

	return p, nil
}

// ConfigFile is <configDir>/config.toml.
func (p Paths) ConfigFile() string {
	return filepath.Join(p.ConfigDir, "config.toml")
}

// TokenFile is <configDir>/tokens.json.
func (p Paths) TokenFile() string {
	return filepath.Join(p.ConfigDir, "tokens.json")
}

// DBPath is <dataDir>/xstash.db.
func (p Paths) DBPath() string {
	return filepath.Join(p.DataDir, "xstash.db")
}

// MediaDir is <dataDir>/media.
func (p Paths) MediaDir() string {
	return filepath.Join(p.DataDir, "media")
}

// LogDir is <dataDir>/logs.
func (p Paths) LogDir() string {
	return filepath.Join(p.DataDir, "logs")
}

// LockFile is <dataDir>/xstash.lock.
func (p Paths) LockFile() string {
	return filepath.Join(p.DataDir, "xstash.lock")
}

// Ensure creates the config and data directories.
func (p Paths) Ensure() error {
	if err := os.MkdirAll(p.ConfigDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	for _, dir := range []string{p.DataDir, p.MediaDir(), p.LogDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
