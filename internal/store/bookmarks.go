package store

import (
	"context"
	"fmt"
	"time"
)

// Observation is the outcome of seeing a bookmark in the remote feed.
type Observation string

const (
	// ObservedNew means no bookmark row existed before this sighting.
	ObservedNew Observation = "new"
	// ObservedExisting means the bookmark was already known.
	ObservedExisting Observation = "existing"
)

// ObserveBookmark records a sighting of postID in the bookmark feed.
//
// A known bookmark only gets its last_synced_at bumped; discovered_at is
// written once, on the first sighting. The post row must already exist.
func ObserveBookmark(ctx context.Context, q Querier, postID string, now time.Time) (Observation, error) {
	ts := FormatTime(now)

	res, err := q.ExecContext(ctx, `UPDATE bookmarks SET last_synced_at = ? WHERE post_id = ?`, ts, postID)
	if err != nil {
		return "", fmt.Errorf("failed to update bookmark %s: %w", postID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return ObservedExisting, nil
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO bookmarks (post_id, discovered_at, last_synced_at)
		VALUES (?, ?, ?)
	`, postID, ts, ts)
	if err != nil {
		return "", fmt.Errorf("failed to insert bookmark %s: %w", postID, err)
	}
	return ObservedNew, nil
}

// BookmarkExists reports whether postID is bookmarked.
func BookmarkExists(ctx context.Context, q Querier, postID string) (bool, error) {
	ok, err := rowExists(ctx, q, `SELECT 1 FROM bookmarks WHERE post_id = ?`, postID)
	if err != nil {
		return false, fmt.Errorf("failed to check bookmark %s: %w", postID, err)
	}
	return ok, nil
}

// HasBookmarks reports whether any bookmark has been stored.
func HasBookmarks(ctx context.Context, q Querier) (bool, error) {
	ok, err := rowExists(ctx, q, `SELECT 1 FROM bookmarks LIMIT 1`)
	if err != nil {
		return false, fmt.Errorf("failed to check bookmarks: %w", err)
	}
	return ok, nil
}

// CountBookmarks returns the number of stored bookmarks.
func CountBookmarks(ctx context.Context, q Querier) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookmarks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bookmarks: %w", err)
	}
	return n, nil
}
