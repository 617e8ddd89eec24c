package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"

	"github.com/xstash/xstash/internal/billing"
	"github.com/xstash/xstash/internal/config"
	"github.com/xstash/xstash/internal/store"
	"github.com/xstash/xstash/internal/ui"
)

func TestMain(m *testing.M) {
	ui.DisableColor()
	os.Exit(m.Run())
}

func TestShouldConfirmCost(t *testing.T) {
	tests := []struct {
		confirm, yes bool
		want         bool
	}{
		{false, false, false},
		{true, false, true},
		{true, true, false},
		{false, true, false},
	}
	for _, tt := range tests {
		if got := shouldConfirmCost(tt.confirm, tt.yes); got != tt.want {
			t.Errorf("shouldConfirmCost(%v, %v) = %v, want %v", tt.confirm, tt.yes, got, tt.want)
		}
	}
}

func TestConfirmRun_RequiresTerminal(t *testing.T) {
	err := confirmRun(false)
	if !errors.Is(err, errNeedInteractive) {
		t.Fatalf("confirmRun(false) = %v, want errNeedInteractive", err)
	}
	if !strings.Contains(err.Error(), "--yes") {
		t.Errorf("error %q does not mention --yes", err)
	}
}

func TestCostEstimateText(t *testing.T) {
	prices := billing.Prices{PostReadUSD: 0.005, UserReadUSD: 0.01}

	t.Run("capped", func(t *testing.T) {
		n := 200
		got := costEstimateText(&n, prices)
		for _, want := range []string{"max-new:", "200", "$1.0000", "$2.0000", "$0.0050"} {
			if !strings.Contains(got, want) {
				t.Errorf("estimate missing %q:\n%s", want, got)
			}
		}
	})

	t.Run("unbounded", func(t *testing.T) {
		got := costEstimateText(nil, prices)
		if !strings.Contains(got, "all") || strings.Count(got, "unbounded") != 2 {
			t.Errorf("unbounded estimate = \n%s", got)
		}
	})
}

func TestExportOptions(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	opts, err := exportOptions("2024-05-01", "2024-05-02", true, now)
	if err != nil {
		t.Fatalf("exportOptions() failed: %v", err)
	}
	if !opts.IncludeReferenced {
		t.Error("IncludeReferenced = false, want true")
	}
	if got := opts.Since.Format(time.RFC3339Nano); got != "2024-05-01T00:00:00Z" {
		t.Errorf("Since = %s", got)
	}
	if got := opts.Until.Format(time.RFC3339Nano); got != "2024-05-02T23:59:59.999Z" {
		t.Errorf("Until = %s", got)
	}

	opts, err = exportOptions("", "", false, now)
	if err != nil {
		t.Fatalf("exportOptions() failed: %v", err)
	}
	if opts.Since != nil || opts.Until != nil {
		t.Errorf("empty flags produced filters: %+v", opts)
	}

	if _, err := exportOptions("2024-05-03", "2024-05-02", false, now); err == nil {
		t.Error("since after until should fail")
	}
	if _, err := exportOptions("xyzzy", "", false, now); err == nil {
		t.Error("invalid --since should fail")
	}
}

func sampleStats() *store.Stats {
	return &store.Stats{
		Bookmarks:         2,
		FirstDiscoveredAt: "2024-05-01T10:00:00.000Z",
		LastDiscoveredAt:  "2024-05-03T10:00:00.000Z",
		Posts:             3,
		Users:             2,
		TopAuthors:        []store.AuthorCount{{Username: "alice", Count: 2}},
		MediaByType:       []store.TypeCount{{Type: "photo", Count: 1}},
		RawPostReads:      4,
		RawUserReads:      2,
		PostCostUSD:       0.015,
		UserCostUSD:       0.02,
		LastRun: &store.Run{
			ID:        1,
			StartedAt: time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC),
			Status:    store.RunCompleted,
			Mode:      "initial",
		},
	}
}

func TestWriteStats(t *testing.T) {
	s := sampleStats()

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := writeStats(&buf, s, "text"); err != nil {
			t.Fatalf("writeStats() failed: %v", err)
		}
		for _, want := range []string{"Bookmarks:", "@alice", "photo", "$0.0350", "#1 initial", "completed"} {
			if !strings.Contains(buf.String(), want) {
				t.Errorf("text output missing %q:\n%s", want, buf.String())
			}
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := writeStats(&buf, s, "json"); err != nil {
			t.Fatalf("writeStats() failed: %v", err)
		}
		var got map[string]any
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if got["bookmarks"] != float64(2) {
			t.Errorf("bookmarks = %v, want 2", got["bookmarks"])
		}
		if got["total_cost_usd"] != 0.035 {
			t.Errorf("total_cost_usd = %v, want 0.035", got["total_cost_usd"])
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := writeStats(&buf, s, "yaml"); err != nil {
			t.Fatalf("writeStats() failed: %v", err)
		}
		var got map[string]any
		if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid yaml: %v", err)
		}
		if got["bookmarks"] != 2 {
			t.Errorf("bookmarks = %v, want 2", got["bookmarks"])
		}
		if _, ok := got["total_cost_usd"]; !ok {
			t.Error("total_cost_usd missing")
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if err := writeStats(&bytes.Buffer{}, s, "xml"); err == nil {
			t.Error("writeStats(xml) should fail")
		}
	})
}

func TestWriteConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.ClientSecret = "supersecretvalue"
	cfg = cfg.Redacted()

	var buf bytes.Buffer
	if err := writeConfig(&buf, cfg, false); err != nil {
		t.Fatalf("writeConfig() failed: %v", err)
	}
	if !strings.Contains(buf.String(), "[sync]") || !strings.Contains(buf.String(), "known_boundary_threshold = 5") {
		t.Errorf("toml output = \n%s", buf.String())
	}
	if strings.Contains(buf.String(), "supersecretvalue") {
		t.Error("secret leaked in toml output")
	}

	buf.Reset()
	if err := writeConfig(&buf, cfg, true); err != nil {
		t.Fatalf("writeConfig(yaml) failed: %v", err)
	}
	if !strings.Contains(buf.String(), "known_boundary_threshold: 5") {
		t.Errorf("yaml output = \n%s", buf.String())
	}
}

func TestSyncOptions(t *testing.T) {
	a := &app{
		paths: config.Paths{ConfigDir: "/cfg", DataDir: "/data"},
		cfg:   config.Default(),
	}

	opts := a.syncOptions(syncFlags{})
	if opts.QuoteDepth != 3 || !opts.IncludeMedia || opts.IncrementalPageSize != nil {
		t.Errorf("default options = %+v", opts)
	}
	if opts.MediaRoot != a.paths.MediaDir() {
		t.Errorf("MediaRoot = %q, want %q", opts.MediaRoot, a.paths.MediaDir())
	}

	opts = a.syncOptions(syncFlags{maxNew: "all", noMedia: true, quoteDepth: 1})
	if opts.MaxNew != "all" || opts.IncludeMedia || opts.QuoteDepth != 1 {
		t.Errorf("overridden options = %+v", opts)
	}
}

func TestDescribeExpiry(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		tok  *oauth2.Token
		want string
	}{
		{"unknown", &oauth2.Token{}, "unknown"},
		{"future", &oauth2.Token{Expiry: now.Add(90 * time.Second)}, "in 1m30s"},
		{"expired with refresh", &oauth2.Token{Expiry: now.Add(-time.Minute), RefreshToken: "r"}, "will refresh"},
		{"expired", &oauth2.Token{Expiry: now.Add(-time.Minute)}, "expired 1m0s ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeExpiry(tt.tok, now); !strings.Contains(got, tt.want) {
				t.Errorf("describeExpiry() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "XSTASH_TEST_FROM_FILE=file\nXSTASH_TEST_PRESET=file\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("XSTASH_TEST_PRESET", "env")
	t.Setenv("XSTASH_TEST_FROM_FILE", "")
	os.Unsetenv("XSTASH_TEST_FROM_FILE")

	loadDotEnv(path)
	loadDotEnv(filepath.Join(t.TempDir(), "missing.env"))

	if got := os.Getenv("XSTASH_TEST_FROM_FILE"); got != "file" {
		t.Errorf("XSTASH_TEST_FROM_FILE = %q, want file", got)
	}
	if got := os.Getenv("XSTASH_TEST_PRESET"); got != "env" {
		t.Errorf("XSTASH_TEST_PRESET = %q, want env (existing values win)", got)
	}
}
