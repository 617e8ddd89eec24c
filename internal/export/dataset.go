// Package export renders the bookmark mirror as JSON, CSV or Markdown.
//
// All formats are built from one Dataset: the bookmarked posts, newest
// sync first, optionally followed by the posts they reference up to three
// hops away that are not bookmarks themselves.
package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xstash/xstash/internal/store"
)

// SchemaVersion is the version of the exported dataset layout.
const SchemaVersion = "1.1.0"

// BookmarkedAtSource explains why bookmarked_at is always null: the X API
// does not say when a post was bookmarked.
const BookmarkedAtSource = "not_provided_by_x_api"

// referenceDepth bounds how far referenced posts are followed.
const referenceDepth = 3

// Options selects what goes into a Dataset. Since and Until bound
// bookmark discovery times and are already normalized; see ParseBoundary.
type Options struct {
	Since             *time.Time
	Until             *time.Time
	IncludeReferenced bool
}

// Dataset is the full export document.
type Dataset struct {
	SchemaVersion string  `json:"schema_version"`
	ExportedAt    string  `json:"exported_at"`
	Filters       Filters `json:"filters"`
	Counts        Counts  `json:"counts"`
	Items         []Item  `json:"items"`
}

// Filters echoes the options a dataset was built with.
type Filters struct {
	Since             *string `json:"since"`
	Until             *string `json:"until"`
	IncludeReferenced bool    `json:"include_referenced"`
}

// Counts summarizes a dataset.
type Counts struct {
	Posts           int `json:"posts"`
	Bookmarks       int `json:"bookmarks"`
	ReferencedPosts int `json:"referenced_posts"`
	Media           int `json:"media"`
}

// Item is one exported post.
type Item struct {
	Post       Post        `json:"post"`
	Author     Author      `json:"author"`
	Bookmark   Bookmark    `json:"bookmark"`
	Media      []Media     `json:"media"`
	References []Reference `json:"references"`
	Raw        Raw         `json:"raw"`
}

// Post holds the stored post fields.
type Post struct {
	ID                string  `json:"id"`
	CreatedAt         string  `json:"created_at"`
	Text              string  `json:"text"`
	FullText          *string `json:"full_text"`
	Lang              *string `json:"lang"`
	PossiblySensitive bool    `json:"possibly_sensitive"`
	Metrics           Metrics `json:"metrics"`
	URL               string  `json:"url"`
}

// Body returns the long-form text when present, else the text.
func (p Post) Body() string {
	if p.FullText != nil && *p.FullText != "" {
		return *p.FullText
	}
	return p.Text
}

// Metrics holds engagement counters.
type Metrics struct {
	LikeCount    int `json:"like_count"`
	RetweetCount int `json:"retweet_count"`
	ReplyCount   int `json:"reply_count"`
	QuoteCount   int `json:"quote_count"`
}

// Author holds the stored author fields; all may be null.
type Author struct {
	ID              *string `json:"id"`
	Username        *string `json:"username"`
	Name            *string `json:"name"`
	Verified        bool    `json:"verified"`
	VerifiedType    *string `json:"verified_type"`
	ProfileImageURL *string `json:"profile_image_url"`
}

// Handle returns the username or "unknown".
func (a Author) Handle() string {
	if a.Username == nil || *a.Username == "" {
		return "unknown"
	}
	return *a.Username
}

// Bookmark holds the bookmark timestamps. Referenced posts that are not
// bookmarks carry nulls.
type Bookmark struct {
	BookmarkedAt       *string `json:"bookmarked_at"`
	BookmarkedAtSource string  `json:"bookmarked_at_source"`
	DiscoveredAt       *string `json:"discovered_at"`
	LastSyncedAt       *string `json:"last_synced_at"`
}

// Media is one attachment of a post.
type Media struct {
	MediaKey  string  `json:"media_key"`
	Type      string  `json:"type"`
	URL       *string `json:"url"`
	LocalPath *string `json:"local_path"`
	AltText   *string `json:"alt_text"`
}

// Reference is one outgoing edge of a post.
type Reference struct {
	Type   string `json:"type"`
	Depth  int    `json:"depth"`
	PostID string `json:"post_id"`
}

// Raw carries the payloads exactly as stored.
type Raw struct {
	Post   json.RawMessage   `json:"post"`
	Author json.RawMessage   `json:"author"`
	Media  []json.RawMessage `json:"media"`
}

// Build assembles a Dataset from the store.
func Build(ctx context.Context, q store.Querier, opts Options, now time.Time) (*Dataset, error) {
	bookmarked, err := loadBookmarked(ctx, q, opts)
	if err != nil {
		return nil, err
	}

	var referenced []Item
	if opts.IncludeReferenced && len(bookmarked) > 0 {
		ids := make([]string, len(bookmarked))
		for i, it := range bookmarked {
			ids[i] = it.Post.ID
		}
		referenced, err = loadReferenced(ctx, q, ids)
		if err != nil {
			return nil, err
		}
	}

	items := append(bookmarked, referenced...)
	mediaKeys := make(map[string]bool)
	for i := range items {
		if err := attachDetails(ctx, q, &items[i]); err != nil {
			return nil, err
		}
		for _, m := range items[i].Media {
			mediaKeys[m.MediaKey] = true
		}
	}

	ds := &Dataset{
		SchemaVersion: SchemaVersion,
		ExportedAt:    store.FormatTime(now),
		Filters: Filters{
			Since:             formatBoundary(opts.Since),
			Until:             formatBoundary(opts.Until),
			IncludeReferenced: opts.IncludeReferenced,
		},
		Counts: Counts{
			Posts:           len(items),
			Bookmarks:       len(bookmarked),
			ReferencedPosts: len(referenced),
			Media:           len(mediaKeys),
		},
		Items: items,
	}
	if ds.Items == nil {
		ds.Items = []Item{}
	}
	return ds, nil
}

func formatBoundary(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := store.FormatTime(*t)
	return &s
}

const itemColumns = `
	p.id, p.author_id, p.created_at, p.text, p.full_text, p.lang,
	p.possibly_sensitive, p.like_count, p.retweet_count, p.reply_count,
	p.quote_count, p.raw_json,
	u.name, u.username, u.profile_image_url, u.verified, u.verified_type, u.raw_json`

func loadBookmarked(ctx context.Context, q store.Querier, opts Options) ([]Item, error) {
	var (
		where []string
		args  []any
	)
	if opts.Since != nil {
		where = append(where, "b.discovered_at >= ?")
		args = append(args, store.FormatTime(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, "b.discovered_at <= ?")
		args = append(args, store.FormatTime(*opts.Until))
	}
	filter := ""
	if len(where) > 0 {
		filter = "WHERE " + strings.Join(where, " AND ")
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+itemColumns+`, b.discovered_at, b.last_synced_at
		FROM bookmarks b
		JOIN posts p ON p.id = b.post_id
		LEFT JOIN users u ON u.id = p.author_id
		`+filter+`
		ORDER BY b.last_synced_at DESC, p.id DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookmarks: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var discovered, synced sql.NullString
		it, err := scanItem(rows, &discovered, &synced)
		if err != nil {
			return nil, err
		}
		it.Bookmark.DiscoveredAt = nullable(discovered)
		it.Bookmark.LastSyncedAt = nullable(synced)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookmarks: %w", err)
	}
	return items, nil
}

// loadReferenced follows reference edges from ids and returns the reached
// posts that are not bookmarks, newest first.
func loadReferenced(ctx context.Context, q store.Querier, ids []string) ([]Item, error) {
	args := make([]any, 0, len(ids)+1)
	marks := make([]string, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args = append(args, id)
	}
	args = append(args, referenceDepth)

	rows, err := q.QueryContext(ctx, `
		WITH RECURSIVE ref_tree(post_id, referenced_post_id, level) AS (
			SELECT r.post_id, r.referenced_post_id, 1
			FROM post_references r
			WHERE r.post_id IN (`+strings.Join(marks, ",")+`)
			UNION
			SELECT r.post_id, r.referenced_post_id, t.level + 1
			FROM post_references r
			JOIN ref_tree t ON r.post_id = t.referenced_post_id
			WHERE t.level < ?
		)
		SELECT DISTINCT `+itemColumns+`
		FROM ref_tree t
		JOIN posts p ON p.id = t.referenced_post_id
		LEFT JOIN users u ON u.id = p.author_id
		LEFT JOIN bookmarks b ON b.post_id = p.id
		WHERE b.post_id IS NULL
		ORDER BY p.created_at DESC, p.id DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query referenced posts: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate referenced posts: %w", err)
	}
	return items, nil
}

func scanItem(rows *sql.Rows, extra ...any) (Item, error) {
	var (
		it                                   Item
		authorID, fullText, lang             sql.NullString
		name, username, avatar, verifiedType sql.NullString
		userRaw                              sql.NullString
		verified                             sql.NullInt64
		sensitive                            int
		postRaw                              string
	)
	dest := []any{
		&it.Post.ID, &authorID, &it.Post.CreatedAt, &it.Post.Text, &fullText, &lang,
		&sensitive, &it.Post.Metrics.LikeCount, &it.Post.Metrics.RetweetCount,
		&it.Post.Metrics.ReplyCount, &it.Post.Metrics.QuoteCount, &postRaw,
		&name, &username, &avatar, &verified, &verifiedType, &userRaw,
	}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return Item{}, fmt.Errorf("failed to scan export row: %w", err)
	}

	it.Post.FullText = nullable(fullText)
	it.Post.Lang = nullable(lang)
	it.Post.PossiblySensitive = sensitive == 1
	it.Author = Author{
		ID:              nullable(authorID),
		Username:        nullable(username),
		Name:            nullable(name),
		Verified:        verified.Valid && verified.Int64 == 1,
		VerifiedType:    nullable(verifiedType),
		ProfileImageURL: nullable(avatar),
	}
	it.Post.URL = fmt.Sprintf("https://x.com/%s/status/%s", it.Author.Handle(), it.Post.ID)
	it.Bookmark.BookmarkedAtSource = BookmarkedAtSource
	it.Raw.Post = json.RawMessage(postRaw)
	if userRaw.Valid {
		it.Raw.Author = json.RawMessage(userRaw.String)
	} else {
		it.Raw.Author = json.RawMessage("null")
	}
	return it, nil
}

// attachDetails loads the media and reference edges of one item.
func attachDetails(ctx context.Context, q store.Querier, it *Item) error {
	rows, err := q.QueryContext(ctx, `
		SELECT m.media_key, m.type, m.url, m.local_path, m.alt_text, m.raw_json
		FROM post_media pm
		JOIN media m ON m.media_key = pm.media_key
		WHERE pm.post_id = ?
		ORDER BY m.media_key
	`, it.Post.ID)
	if err != nil {
		return fmt.Errorf("failed to query media of %s: %w", it.Post.ID, err)
	}
	it.Media = []Media{}
	it.Raw.Media = []json.RawMessage{}
	for rows.Next() {
		var (
			m                   Media
			url, local, altText sql.NullString
			raw                 string
		)
		if err := rows.Scan(&m.MediaKey, &m.Type, &url, &local, &altText, &raw); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan media: %w", err)
		}
		m.URL, m.LocalPath, m.AltText = nullable(url), nullable(local), nullable(altText)
		it.Media = append(it.Media, m)
		it.Raw.Media = append(it.Raw.Media, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to iterate media: %w", err)
	}
	rows.Close()

	rows, err = q.QueryContext(ctx, `
		SELECT reference_type, depth, referenced_post_id
		FROM post_references
		WHERE post_id = ?
		ORDER BY depth ASC, referenced_post_id ASC
	`, it.Post.ID)
	if err != nil {
		return fmt.Errorf("failed to query references of %s: %w", it.Post.ID, err)
	}
	defer rows.Close()
	it.References = []Reference{}
	for rows.Next() {
		var r Reference
		if err := rows.Scan(&r.Type, &r.Depth, &r.PostID); err != nil {
			return fmt.Errorf("failed to scan reference: %w", err)
		}
		it.References = append(it.References, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate references: %w", err)
	}
	return nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
