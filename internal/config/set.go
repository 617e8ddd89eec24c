package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"

	"github.com/xstash/xstash/internal/boundary"
)

// ErrUnknownKey is returned by Set for keys that are not settings.
var ErrUnknownKey = errors.New("unknown config key")

type setter func(c *Config, raw string) error

var setters = map[string]setter{
	"auth.client_id": func(c *Config, raw string) error {
		c.Auth.ClientID = raw
		return nil
	},
	"auth.client_secret": func(c *Config, raw string) error {
		c.Auth.ClientSecret = raw
		return nil
	},
	"auth.redirect_url": func(c *Config, raw string) error {
		c.Auth.RedirectURL = raw
		return nil
	},
	"sync.default_initial_max_new": intSetter(func(c *Config) *int { return &c.Sync.DefaultInitialMaxNew }),
	"sync.default_incremental_max_new": func(c *Config, raw string) error {
		if _, err := boundary.ParseMaxNew(raw); err != nil {
			return err
		}
		c.Sync.DefaultIncrementalMaxNew = strings.ToLower(strings.TrimSpace(raw))
		return nil
	},
	"sync.quote_resolve_max_depth":  intSetter(func(c *Config) *int { return &c.Sync.QuoteResolveMaxDepth }),
	"sync.known_boundary_threshold": intSetter(func(c *Config) *int { return &c.Sync.KnownBoundaryThreshold }),
	"sync.incremental_bookmarks_page_size": func(c *Config, raw string) error {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "", "null", "unset", "none":
			c.Sync.IncrementalBookmarksPageSize = 0
			return nil
		}
		return intSetter(func(c *Config) *int { return &c.Sync.IncrementalBookmarksPageSize })(c, raw)
	},
	"sync.include_media": func(c *Config, raw string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", raw)
		}
		c.Sync.IncludeMedia = b
		return nil
	},
	"cost.unit_price_post_read_usd": floatSetter(func(c *Config) *float64 { return &c.Cost.UnitPricePostReadUSD }),
	"cost.unit_price_user_read_usd": floatSetter(func(c *Config) *float64 { return &c.Cost.UnitPriceUserReadUSD }),
	"daemon.schedule": func(c *Config, raw string) error {
		if _, err := cron.ParseStandard(raw); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", raw, err)
		}
		c.Daemon.Schedule = raw
		return nil
	},
	"dashboard.port": intSetter(func(c *Config) *int { return &c.Dashboard.Port }),
}

func intSetter(field func(*Config) *int) setter {
	return func(c *Config, raw string) error {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", raw)
		}
		*field(c) = n
		return nil
	}
}

func floatSetter(field func(*Config) *float64) setter {
	return func(c *Config, raw string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("expected a number, got %q", raw)
		}
		*field(c) = f
		return nil
	}
}

// Keys lists the settable keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set updates one key in the file at path, creating it from the defaults
// if needed. Environment overrides are not written back.
func Set(path, key, raw string) (*Config, error) {
	set, ok := setters[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if err := set(cfg, raw); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Save(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFile decodes path over the defaults without environment overrides.
func readFile(path string) (*Config, error) {
	cfg := Default()
	// #nosec G304 - path comes from config resolution
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return cfg, nil
}

// Init writes the default config to path unless a file already exists.
// It reports whether a file was written.
func Init(path string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := Default().Save(path); err != nil {
		return false, err
	}
	return true, nil
}
