package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AuthorCount is one row of the top-authors breakdown.
type AuthorCount struct {
	Username string `json:"username" yaml:"username"`
	Count    int    `json:"count" yaml:"count"`
}

// TypeCount is one row of the media-type breakdown.
type TypeCount struct {
	Type  string `json:"type" yaml:"type"`
	Count int    `json:"count" yaml:"count"`
}

// Stats summarizes the local mirror.
type Stats struct {
	Bookmarks         int           `json:"bookmarks" yaml:"bookmarks"`
	FirstDiscoveredAt string        `json:"first_discovered_at,omitempty" yaml:"first_discovered_at,omitempty"`
	LastDiscoveredAt  string        `json:"last_discovered_at,omitempty" yaml:"last_discovered_at,omitempty"`
	Posts             int           `json:"posts" yaml:"posts"`
	Users             int           `json:"users" yaml:"users"`
	TopAuthors        []AuthorCount `json:"top_authors" yaml:"top_authors"`
	MediaByType       []TypeCount   `json:"media_by_type" yaml:"media_by_type"`
	RawPostReads      int           `json:"raw_post_reads" yaml:"raw_post_reads"`
	RawUserReads      int           `json:"raw_user_reads" yaml:"raw_user_reads"`
	PostCostUSD       float64       `json:"post_cost_usd" yaml:"post_cost_usd"`
	UserCostUSD       float64       `json:"user_cost_usd" yaml:"user_cost_usd"`
	LastRun           *Run          `json:"last_run,omitempty" yaml:"last_run,omitempty"`
}

// TotalCostUSD is the deduplicated cost across both resource types.
func (s *Stats) TotalCostUSD() float64 {
	return s.PostCostUSD + s.UserCostUSD
}

// Stats computes a summary of the mirror.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	var (
		s           Stats
		first, last sql.NullString
	)

	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(discovered_at), MAX(discovered_at) FROM bookmarks
	`).Scan(&s.Bookmarks, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookmark totals: %w", err)
	}
	s.FirstDiscoveredAt, s.LastDiscoveredAt = first.String, last.String

	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&s.Posts); err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&s.Users); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT COALESCE(u.username, '(unknown)') AS username, COUNT(*) AS count
		FROM bookmarks b
		JOIN posts p ON p.id = b.post_id
		LEFT JOIN users u ON u.id = p.author_id
		GROUP BY COALESCE(u.username, '(unknown)')
		ORDER BY count DESC, username ASC
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query top authors: %w", err)
	}
	for rows.Next() {
		var a AuthorCount
		if err := rows.Scan(&a.Username, &a.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan author: %w", err)
		}
		s.TopAuthors = append(s.TopAuthors, a)
	}
	rows.Close()

	rows, err = db.conn.QueryContext(ctx, `
		SELECT m.type, COUNT(*) AS count
		FROM post_media pm
		JOIN media m ON m.media_key = pm.media_key
		JOIN bookmarks b ON b.post_id = pm.post_id
		GROUP BY m.type
		ORDER BY count DESC, m.type ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query media breakdown: %w", err)
	}
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan media type: %w", err)
		}
		s.MediaByType = append(s.MediaByType, tc)
	}
	rows.Close()

	err = db.conn.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN resource_type = 'post' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN resource_type = 'user' THEN 1 ELSE 0 END), 0)
		FROM api_requests
	`).Scan(&s.RawPostReads, &s.RawUserReads)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw reads: %w", err)
	}

	err = db.conn.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN resource_type = 'post' THEN unit_price_usd END), 0.0),
			COALESCE(SUM(CASE WHEN resource_type = 'user' THEN unit_price_usd END), 0.0)
		FROM api_billable_reads
	`).Scan(&s.PostCostUSD, &s.UserCostUSD)
	if err != nil {
		return nil, fmt.Errorf("failed to query billable cost: %w", err)
	}

	run, err := LatestRun(ctx, db.conn)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	s.LastRun = run

	return &s, nil
}
