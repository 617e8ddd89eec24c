// Package config loads and saves xstash settings.
//
// Settings live in <configDir>/config.toml. Load layers them over the
// built-in defaults and applies XSTASH_* environment overrides, so
// XSTASH_SYNC_QUOTE_RESOLVE_MAX_DEPTH=2 replaces sync.quote_resolve_max_depth.
// Save and Set write the file back as TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/xstash/xstash/internal/billing"
	"github.com/xstash/xstash/internal/boundary"
)

// Version is the config file format version.
const Version = 1

// Config holds all xstash settings.
type Config struct {
	Version   int             `toml:"version" mapstructure:"version" yaml:"version"`
	Auth      AuthConfig      `toml:"auth" mapstructure:"auth" yaml:"auth"`
	Sync      SyncConfig      `toml:"sync" mapstructure:"sync" yaml:"sync"`
	Cost      CostConfig      `toml:"cost" mapstructure:"cost" yaml:"cost"`
	Daemon    DaemonConfig    `toml:"daemon" mapstructure:"daemon" yaml:"daemon"`
	Dashboard DashboardConfig `toml:"dashboard" mapstructure:"dashboard" yaml:"dashboard"`
}

// AuthConfig identifies the X developer app used for login and refresh.
type AuthConfig struct {
	ClientID     string `toml:"client_id,omitempty" mapstructure:"client_id" yaml:"client_id,omitempty"`
	ClientSecret string `toml:"client_secret,omitempty" mapstructure:"client_secret" yaml:"client_secret,omitempty"`
	RedirectURL  string `toml:"redirect_url,omitempty" mapstructure:"redirect_url" yaml:"redirect_url,omitempty"`
}

// SyncConfig tunes sync runs. IncrementalBookmarksPageSize 0 means unset,
// in which case the page size follows KnownBoundaryThreshold.
type SyncConfig struct {
	DefaultInitialMaxNew         int    `toml:"default_initial_max_new" mapstructure:"default_initial_max_new" yaml:"default_initial_max_new"`
	DefaultIncrementalMaxNew     string `toml:"default_incremental_max_new" mapstructure:"default_incremental_max_new" yaml:"default_incremental_max_new"`
	QuoteResolveMaxDepth         int    `toml:"quote_resolve_max_depth" mapstructure:"quote_resolve_max_depth" yaml:"quote_resolve_max_depth"`
	KnownBoundaryThreshold       int    `toml:"known_boundary_threshold" mapstructure:"known_boundary_threshold" yaml:"known_boundary_threshold"`
	IncrementalBookmarksPageSize int    `toml:"incremental_bookmarks_page_size,omitempty" mapstructure:"incremental_bookmarks_page_size" yaml:"incremental_bookmarks_page_size,omitempty"`
	IncludeMedia                 bool   `toml:"include_media" mapstructure:"include_media" yaml:"include_media"`
}

// CostConfig holds the unit prices used for estimates.
type CostConfig struct {
	UnitPricePostReadUSD float64 `toml:"unit_price_post_read_usd" mapstructure:"unit_price_post_read_usd" yaml:"unit_price_post_read_usd"`
	UnitPriceUserReadUSD float64 `toml:"unit_price_user_read_usd" mapstructure:"unit_price_user_read_usd" yaml:"unit_price_user_read_usd"`
}

// DaemonConfig holds the scheduled sync settings.
type DaemonConfig struct {
	Schedule string `toml:"schedule" mapstructure:"schedule" yaml:"schedule"`
}

// DashboardConfig holds the dashboard server settings.
type DashboardConfig struct {
	Port int `toml:"port" mapstructure:"port" yaml:"port"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Version: Version,
		Sync: SyncConfig{
			DefaultInitialMaxNew:     200,
			DefaultIncrementalMaxNew: "all",
			QuoteResolveMaxDepth:     3,
			KnownBoundaryThreshold:   5,
			IncludeMedia:             true,
		},
		Cost: CostConfig{
			UnitPricePostReadUSD: 0.005,
			UnitPriceUserReadUSD: 0.01,
		},
		Daemon: DaemonConfig{
			Schedule: "@every 6h",
		},
		Dashboard: DashboardConfig{
			Port: 8080,
		},
	}
}

// Load reads path over the defaults and applies XSTASH_* environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("XSTASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	// The short names predate the sectioned config.
	_ = v.BindEnv("auth.client_id", "XSTASH_AUTH_CLIENT_ID", "XSTASH_CLIENT_ID")
	_ = v.BindEnv("auth.client_secret", "XSTASH_AUTH_CLIENT_SECRET", "XSTASH_CLIENT_SECRET")

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("auth.client_id", d.Auth.ClientID)
	v.SetDefault("auth.client_secret", d.Auth.ClientSecret)
	v.SetDefault("auth.redirect_url", d.Auth.RedirectURL)
	v.SetDefault("sync.default_initial_max_new", d.Sync.DefaultInitialMaxNew)
	v.SetDefault("sync.default_incremental_max_new", d.Sync.DefaultIncrementalMaxNew)
	v.SetDefault("sync.quote_resolve_max_depth", d.Sync.QuoteResolveMaxDepth)
	v.SetDefault("sync.known_boundary_threshold", d.Sync.KnownBoundaryThreshold)
	v.SetDefault("sync.incremental_bookmarks_page_size", d.Sync.IncrementalBookmarksPageSize)
	v.SetDefault("sync.include_media", d.Sync.IncludeMedia)
	v.SetDefault("cost.unit_price_post_read_usd", d.Cost.UnitPricePostReadUSD)
	v.SetDefault("cost.unit_price_user_read_usd", d.Cost.UnitPriceUserReadUSD)
	v.SetDefault("daemon.schedule", d.Daemon.Schedule)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	s := c.Sync
	if s.DefaultInitialMaxNew <= 0 {
		return fmt.Errorf("sync.default_initial_max_new must be positive, got %d", s.DefaultInitialMaxNew)
	}
	if _, err := boundary.ParseMaxNew(s.DefaultIncrementalMaxNew); err != nil {
		return fmt.Errorf("sync.default_incremental_max_new: %w", err)
	}
	if s.QuoteResolveMaxDepth < 1 || s.QuoteResolveMaxDepth > 3 {
		return fmt.Errorf("sync.quote_resolve_max_depth must be between 1 and 3, got %d", s.QuoteResolveMaxDepth)
	}
	if s.KnownBoundaryThreshold <= 0 {
		return fmt.Errorf("sync.known_boundary_threshold must be positive, got %d", s.KnownBoundaryThreshold)
	}
	if n := s.IncrementalBookmarksPageSize; n != 0 && (n < boundary.MinPageSize || n > boundary.MaxPageSize) {
		return fmt.Errorf("sync.incremental_bookmarks_page_size must be between %d and %d, got %d",
			boundary.MinPageSize, boundary.MaxPageSize, n)
	}
	if c.Cost.UnitPricePostReadUSD < 0 || c.Cost.UnitPriceUserReadUSD < 0 {
		return fmt.Errorf("cost unit prices cannot be negative")
	}
	if c.Daemon.Schedule == "" {
		return fmt.Errorf("daemon.schedule cannot be empty")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	return nil
}

// Prices returns the configured unit prices.
func (c *Config) Prices() billing.Prices {
	return billing.Prices{
		PostReadUSD: c.Cost.UnitPricePostReadUSD,
		UserReadUSD: c.Cost.UnitPriceUserReadUSD,
	}
}

// IncrementalPageSize returns the configured page size, or nil when unset.
func (c *Config) IncrementalPageSize() *int {
	if c.Sync.IncrementalBookmarksPageSize <= 0 {
		return nil
	}
	n := c.Sync.IncrementalBookmarksPageSize
	return &n
}

// Save writes c to path as TOML with mode 0600.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if c.Auth.ClientSecret != "" {
		out.Auth.ClientSecret = MaskSecret(c.Auth.ClientSecret)
	}
	return &out
}

// MaskSecret keeps the first and last four characters of long values and
// hides short ones entirely.
func MaskSecret(v string) string {
	if v == "" {
		return "(unset)"
	}
	if len(v) <= 8 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + "..." + v[len(v)-4:]
}
