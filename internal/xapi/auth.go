package xapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
)

// OAuth 2.0 endpoints and defaults for X.
const (
	AuthURL            = "https://x.com/i/oauth2/authorize"
	TokenURL           = "https://api.x.com/2/oauth2/token"
	DefaultRedirectURL = "http://127.0.0.1:8787/callback"
)

// refreshSkew is how long before expiry a token is refreshed.
const refreshSkew = 30 * time.Second

// DefaultScopes are the scopes a sync needs. offline.access yields a
// refresh token.
var DefaultScopes = []string{"bookmark.read", "tweet.read", "users.read", "offline.access"}

// OAuthConfig returns the PKCE client configuration. Client credentials
// are sent in the form body, which works for both public and
// confidential X apps.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	if redirectURL == "" {
		redirectURL = DefaultRedirectURL
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       DefaultScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   AuthURL,
			TokenURL:  TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Auth hands out access tokens, refreshing them shortly before expiry and
// persisting every refreshed token.
type Auth struct {
	cfg    *oauth2.Config
	store  *TokenStore
	client *http.Client

	mu  sync.Mutex
	tok *oauth2.Token
	now func() time.Time
}

// NewAuth returns an Auth starting from tok. store may be nil, in which
// case refreshed tokens live only in memory.
func NewAuth(cfg *oauth2.Config, store *TokenStore, tok *oauth2.Token) *Auth {
	return &Auth{cfg: cfg, store: store, tok: tok, now: time.Now}
}

// Token returns a valid access token, refreshing it when it expires
// within 30 seconds. A token without an expiry is used as is.
func (a *Auth) Token(ctx context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tok == nil || a.tok.AccessToken == "" {
		if a.tok != nil && a.tok.RefreshToken != "" {
			if err := a.refreshLocked(ctx); err != nil {
				return nil, err
			}
			return a.copyLocked(), nil
		}
		return nil, ErrNoToken
	}

	if !a.tok.Expiry.IsZero() && !a.tok.Expiry.After(a.now().Add(refreshSkew)) {
		if err := a.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}
	return a.copyLocked(), nil
}

// Refresh forces a token refresh.
func (a *Auth) Refresh(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshLocked(ctx)
}

func (a *Auth) refreshLocked(ctx context.Context) error {
	if a.tok == nil || a.tok.RefreshToken == "" {
		return fmt.Errorf("%w: access token expired and no refresh token is available", ErrUnauthorized)
	}
	if a.cfg == nil || a.cfg.ClientID == "" {
		return fmt.Errorf("%w: token refresh needs an OAuth client id", ErrUnauthorized)
	}

	if a.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	}

	// An empty access token forces the source to refresh.
	next, err := a.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: a.tok.RefreshToken}).Token()
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = a.tok.RefreshToken
	}
	a.tok = next

	if a.store != nil {
		if err := a.store.Save(next); err != nil {
			return err
		}
	}
	return nil
}

func (a *Auth) copyLocked() *oauth2.Token {
	copied := *a.tok
	return &copied
}

// authTransport sets the bearer header and, on a 401, refreshes the token
// and retries the request once.
type authTransport struct {
	auth *Auth
	base http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	tok, err := t.auth.Token(ctx)
	if err != nil {
		return nil, err
	}

	first := req.Clone(ctx)
	tok.SetAuthHeader(first)
	resp, err := t.base.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || tok.RefreshToken == "" {
		return resp, err
	}

	retry, err := rewind(req)
	if err != nil {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	if err := t.auth.Refresh(ctx); err != nil {
		return nil, err
	}
	tok, err = t.auth.Token(ctx)
	if err != nil {
		return nil, err
	}

	second := retry.Clone(ctx)
	tok.SetAuthHeader(second)
	return t.base.RoundTrip(second)
}

// NewHTTPClient returns a client that authenticates with auth and retries
// transient failures with policy. Token refreshes use the retrying
// transport without the auth layer.
func NewHTTPClient(auth *Auth, policy RetryPolicy) *http.Client {
	retrying := &retryablehttp.RoundTripper{Client: newRetryClient(nil, policy, time.Now)}
	auth.client = &http.Client{Transport: retrying, Timeout: 30 * time.Second}
	return &http.Client{
		Transport: &authTransport{auth: auth, base: retrying},
		Timeout:   2 * time.Minute,
	}
}

// Login runs the authorization code flow with PKCE.
//
// It listens on the host and port of cfg.RedirectURL, passes the
// authorization URL to open, waits for the callback and exchanges the code.
// Port 0 picks a free port and rewrites the redirect URL to match.
func Login(ctx context.Context, cfg *oauth2.Config, open func(authURL string) error) (*oauth2.Token, error) {
	redirect, err := url.Parse(cfg.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect url %q: %w", cfg.RedirectURL, err)
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}
	defer ln.Close()

	flow := *cfg
	redirect.Host = ln.Addr().String()
	flow.RedirectURL = redirect.String()

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	type callback struct {
		code string
		err  error
	}
	results := make(chan callback, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var cb callback
		switch {
		case q.Get("error") != "":
			cb.err = fmt.Errorf("authorization denied: %s %s", q.Get("error"), q.Get("error_description"))
		case q.Get("state") != state:
			cb.err = errors.New("authorization callback state mismatch")
		case q.Get("code") == "":
			cb.err = errors.New("authorization callback without code")
		default:
			cb.code = q.Get("code")
		}

		if cb.err != nil {
			http.Error(w, cb.err.Error(), http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "xstash is authorized. You can close this window.")
		}
		select {
		case results <- cb:
		default:
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := flow.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	if open != nil {
		if err := open(authURL); err != nil {
			return nil, fmt.Errorf("failed to open authorization url: %w", err)
		}
	}

	var cb callback
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case cb = <-results:
	}
	if cb.err != nil {
		return nil, cb.err
	}

	tok, err := flow.Exchange(ctx, cb.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok, nil
}
