package xapi

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// TestTokenStore_RoundTrip tests saving and loading a token.
func TestTokenStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "tokens.json")
	s := NewTokenStore(path)

	if _, err := s.Load(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("Load() on missing file = %v, want ErrNoToken", err)
	}

	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := (&oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "bearer",
		Expiry:       expiry,
	}).WithExtra(map[string]any{"scope": "bookmark.read tweet.read"})

	if err := s.Save(tok); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got.AccessToken != "access" || got.RefreshToken != "refresh" {
		t.Errorf("Load() = %+v", got)
	}
	if !got.Expiry.Equal(expiry) {
		t.Errorf("Expiry = %v, want %v", got.Expiry, expiry)
	}
	if scope, _ := got.Extra("scope").(string); scope != "bookmark.read tweet.read" {
		t.Errorf("scope = %q", scope)
	}

	if err := s.Delete(); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete(); err != nil {
		t.Errorf("second Delete() failed: %v", err)
	}
}

func TestTokenStore_LoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokenStore(path).Load(); err == nil {
		t.Error("Load() on corrupt file should fail")
	}
}

func TestApplyEnv(t *testing.T) {
	stored := &oauth2.Token{AccessToken: "stored", RefreshToken: "stored-refresh"}

	tests := []struct {
		name        string
		tok         *oauth2.Token
		env         map[string]string
		wantNil     bool
		wantAccess  string
		wantRefresh string
		wantExpiry  time.Time
	}{
		{
			name:    "nothing set",
			wantNil: true,
		},
		{
			name:        "stored only",
			tok:         stored,
			wantAccess:  "stored",
			wantRefresh: "stored-refresh",
		},
		{
			name:        "env overrides access",
			tok:         stored,
			env:         map[string]string{EnvAccessToken: "env"},
			wantAccess:  "env",
			wantRefresh: "stored-refresh",
		},
		{
			name: "epoch expiry",
			env: map[string]string{
				EnvAccessToken:    "env",
				EnvTokenExpiresAt: "1700000000",
			},
			wantAccess: "env",
			wantExpiry: time.Unix(1700000000, 0).UTC(),
		},
		{
			name: "rfc3339 expiry",
			env: map[string]string{
				EnvRefreshToken:   "r",
				EnvTokenExpiresAt: "2026-01-02T03:04:05Z",
			},
			wantRefresh: "r",
			wantExpiry:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv := func(k string) string { return tt.env[k] }
			got, err := ApplyEnv(tt.tok, getenv)
			if err != nil {
				t.Fatalf("ApplyEnv() failed: %v", err)
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("ApplyEnv() = %+v, want nil", got)
				}
				return
			}
			if got.AccessToken != tt.wantAccess || got.RefreshToken != tt.wantRefresh {
				t.Errorf("ApplyEnv() = %q/%q, want %q/%q", got.AccessToken, got.RefreshToken, tt.wantAccess, tt.wantRefresh)
			}
			if !got.Expiry.Equal(tt.wantExpiry) {
				t.Errorf("Expiry = %v, want %v", got.Expiry, tt.wantExpiry)
			}
		})
	}

	if stored.AccessToken != "stored" {
		t.Error("ApplyEnv() mutated the stored token")
	}
}

func TestApplyEnv_InvalidExpiry(t *testing.T) {
	getenv := func(k string) string {
		if k == EnvTokenExpiresAt {
			return "tomorrow"
		}
		return ""
	}
	if _, err := ApplyEnv(nil, getenv); err == nil {
		t.Error("ApplyEnv() with invalid expiry should fail")
	}
}
