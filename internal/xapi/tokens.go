package xapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Environment variables that override the stored token.
const (
	EnvAccessToken    = "XSTASH_ACCESS_TOKEN"
	EnvRefreshToken   = "XSTASH_REFRESH_TOKEN"
	EnvTokenExpiresAt = "XSTASH_TOKEN_EXPIRES_AT"
)

// tokenFile is the on-disk shape of tokens.json.
type tokenFile struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenStore persists OAuth tokens to a JSON file readable only by the
// owner.
type TokenStore struct {
	path string
}

// NewTokenStore returns a store backed by path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Path returns the token file location.
func (s *TokenStore) Path() string {
	return s.path
}

// Load reads the stored token. It returns ErrNoToken when the file does
// not exist.
func (s *TokenStore) Load() (*oauth2.Token, error) {
	// #nosec G304 - path comes from config resolution
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w", s.path, err)
	}

	tok := &oauth2.Token{
		AccessToken:  tf.AccessToken,
		RefreshToken: tf.RefreshToken,
		TokenType:    tf.TokenType,
	}
	if tf.ExpiresAt != "" {
		expiry, err := parseExpiry(tf.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("invalid expires_at in %s: %w", s.path, err)
		}
		tok.Expiry = expiry
	}
	if tf.Scope != "" {
		tok = tok.WithExtra(map[string]any{"scope": tf.Scope})
	}
	return tok, nil
}

// Save writes tok atomically with mode 0600.
func (s *TokenStore) Save(tok *oauth2.Token) error {
	tf := tokenFile{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		tf.ExpiresAt = tok.Expiry.UTC().Format(time.RFC3339)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		tf.Scope = scope
	}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Delete removes the token file. A missing file is not an error.
func (s *TokenStore) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

// ApplyEnv overlays the XSTASH_* token variables on tok, which may be nil.
// It returns nil when neither tok nor the environment carries a token.
func ApplyEnv(tok *oauth2.Token, getenv func(string) string) (*oauth2.Token, error) {
	access := strings.TrimSpace(getenv(EnvAccessToken))
	refresh := strings.TrimSpace(getenv(EnvRefreshToken))
	expires := strings.TrimSpace(getenv(EnvTokenExpiresAt))

	if access == "" && refresh == "" && expires == "" {
		return tok, nil
	}

	out := &oauth2.Token{TokenType: "bearer"}
	if tok != nil {
		copied := *tok
		out = &copied
	}
	if access != "" {
		out.AccessToken = access
	}
	if refresh != "" {
		out.RefreshToken = refresh
	}
	if expires != "" {
		expiry, err := parseExpiry(expires)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvTokenExpiresAt, err)
		}
		out.Expiry = expiry
	}
	return out, nil
}

// parseExpiry accepts RFC3339 timestamps or epoch seconds.
func parseExpiry(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
