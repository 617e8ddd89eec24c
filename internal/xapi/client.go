// Package xapi is a minimal X API v2 client for bookmark sync.
//
// It covers three reads (the authenticated user, a bookmarks page and a
// post lookup) plus the plumbing they need: OAuth 2.0 PKCE login, token
// persistence and refresh, and retry with backoff for rate limits and
// server errors.
package xapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/xstash/xstash/internal/schema"
)

// DefaultBaseURL is the X API host.
const DefaultBaseURL = "https://api.x.com"

// Field and expansion lists requested on every post read.
const (
	TweetFields = "created_at,author_id,lang,conversation_id,possibly_sensitive,public_metrics,referenced_tweets,attachments,entities,note_tweet"
	UserFields  = "name,username,profile_image_url,verified,verified_type"
	MediaFields = "media_key,type,url,preview_image_url,alt_text,width,height,duration_ms,variants"
	Expansions  = "author_id,attachments.media_keys,referenced_tweets.id"
)

// Page size bounds accepted by the bookmarks endpoint.
const (
	MinPageSize = 5
	MaxPageSize = 100
)

// MaxLookupIDs is the largest id list the lookup endpoint accepts.
const MaxLookupIDs = 100

// Client reads bookmarks and posts. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another host, such as a test server.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// New returns a Client. httpClient carries authentication and retry; see
// NewHTTPClient.
func New(httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{baseURL: DefaultBaseURL, http: httpClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPClient returns the underlying client, for media downloads that
// should share credentials and backoff.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*schema.User, error) {
	var resp struct {
		Data schema.User `json:"data"`
	}
	q := url.Values{"user.fields": {UserFields}}
	if err := c.getJSON(ctx, "/2/users/me", q, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("x api: /2/users/me returned no user id")
	}
	return &resp.Data, nil
}

// BookmarksPage fetches one page of userID's bookmarks. An empty token
// requests the first page. pageSize is clamped to [MinPageSize,
// MaxPageSize].
func (c *Client) BookmarksPage(ctx context.Context, userID, token string, pageSize int) (*schema.Page, error) {
	q := postQuery()
	q.Set("max_results", strconv.Itoa(clampPageSize(pageSize)))
	if token != "" {
		q.Set("pagination_token", token)
	}

	var page schema.Page
	if err := c.getJSON(ctx, "/2/users/"+url.PathEscape(userID)+"/bookmarks", q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// LookupPosts fetches up to MaxLookupIDs posts by id. Missing or hidden
// posts are reported in Page.Errors, not as an error.
func (c *Client) LookupPosts(ctx context.Context, ids []string) (*schema.Page, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	if len(unique) == 0 {
		return &schema.Page{}, nil
	}
	if len(unique) > MaxLookupIDs {
		return nil, fmt.Errorf("x api: lookup of %d ids exceeds limit of %d", len(unique), MaxLookupIDs)
	}

	q := postQuery()
	q.Set("ids", strings.Join(unique, ","))

	var page schema.Page
	if err := c.getJSON(ctx, "/2/tweets", q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("x api: failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "xstash")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("x api: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("x api: failed to decode %s response: %w", path, err)
	}
	return nil
}

func postQuery() url.Values {
	return url.Values{
		"tweet.fields": {TweetFields},
		"user.fields":  {UserFields},
		"media.fields": {MediaFields},
		"expansions":   {Expansions},
	}
}

func clampPageSize(n int) int {
	if n < MinPageSize {
		return MinPageSize
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}
