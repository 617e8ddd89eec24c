package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/xstash/xstash/internal/config"
	"github.com/xstash/xstash/internal/media"
	"github.com/xstash/xstash/internal/store"
	xsync "github.com/xstash/xstash/internal/sync"
	"github.com/xstash/xstash/internal/xapi"
)

// app bundles the resolved paths and configuration shared by commands.
type app struct {
	paths config.Paths
	cfg   *config.Config
}

func loadApp() (*app, error) {
	paths, err := config.ResolvePaths(os.Getenv)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile())
	if err != nil {
		return nil, err
	}
	return &app{paths: paths, cfg: cfg}, nil
}

// mustLoadApp is loadApp for command handlers.
func mustLoadApp() *app {
	a, err := loadApp()
	if err != nil {
		fatal("%v", err)
	}
	return a
}

func (a *app) openStore(ctx context.Context) (*store.DB, error) {
	if err := a.paths.Ensure(); err != nil {
		return nil, err
	}
	return store.OpenContext(ctx, a.paths.DBPath())
}

func (a *app) tokenStore() *xapi.TokenStore {
	return xapi.NewTokenStore(a.paths.TokenFile())
}

// apiClient builds an authenticated, retrying X API client from the
// stored token with environment overrides applied.
func (a *app) apiClient() (*xapi.Client, error) {
	ts := a.tokenStore()
	tok, err := ts.Load()
	if err != nil && !errors.Is(err, xapi.ErrNoToken) {
		return nil, err
	}
	tok, err = xapi.ApplyEnv(tok, os.Getenv)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, xapi.ErrNoToken
	}

	oauth := xapi.OAuthConfig(a.cfg.Auth.ClientID, a.cfg.Auth.ClientSecret, a.cfg.Auth.RedirectURL)
	auth := xapi.NewAuth(oauth, ts, tok)
	return xapi.New(xapi.NewHTTPClient(auth, xapi.DefaultRetryPolicy())), nil
}

// syncFlags are the per-invocation overrides of the sync settings.
type syncFlags struct {
	maxNew     string
	noMedia    bool
	quoteDepth int
}

func (a *app) syncOptions(f syncFlags) xsync.Options {
	depth := a.cfg.Sync.QuoteResolveMaxDepth
	if f.quoteDepth > 0 {
		depth = f.quoteDepth
	}
	return xsync.Options{
		MaxNew:                   f.maxNew,
		DefaultInitialMaxNew:     a.cfg.Sync.DefaultInitialMaxNew,
		DefaultIncrementalMaxNew: a.cfg.Sync.DefaultIncrementalMaxNew,
		KnownBoundaryThreshold:   a.cfg.Sync.KnownBoundaryThreshold,
		IncrementalPageSize:      a.cfg.IncrementalPageSize(),
		QuoteDepth:               depth,
		IncludeMedia:             a.cfg.Sync.IncludeMedia && !f.noMedia,
		MediaRoot:                a.paths.MediaDir(),
		Prices:                   a.cfg.Prices(),
	}
}

// newSyncer wires a Syncer over db. The caller owns db.
func (a *app) newSyncer(db *store.DB, f syncFlags, logger *log.Logger) (*xsync.Syncer, error) {
	client, err := a.apiClient()
	if err != nil {
		return nil, err
	}
	opts := a.syncOptions(f)

	var dl xsync.Downloader
	if opts.IncludeMedia {
		dl = media.NewDownloader(client.HTTPClient())
	}
	return xsync.New(db, client, dl, opts, logger)
}

// syncLogger routes sync progress to stderr with --verbose and discards it
// otherwise.
func syncLogger() *log.Logger {
	var w io.Writer = io.Discard
	if verbose {
		w = os.Stderr
	}
	return log.New(w, "[sync] ", log.LstdFlags)
}

func printAuthHint(err error) {
	if errors.Is(err, xapi.ErrNoToken) || errors.Is(err, xapi.ErrUnauthorized) {
		fmt.Fprintln(os.Stderr, "Hint: run `xstash auth login` to authorize xstash.")
	}
}
