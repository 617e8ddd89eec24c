package store

import (
	"context"
	"fmt"
	"time"

	"github.com/xstash/xstash/internal/schema"
)

// UpsertUsers inserts or merges users and returns how many were new.
//
// Display fields merge with COALESCE so a stub user seen only through an
// author_id never erases a profile fetched earlier. raw_json and
// fetched_at always come from the latest sighting.
func UpsertUsers(ctx context.Context, q Querier, users []schema.User, fetchedAt time.Time) (int, error) {
	if len(users) == 0 {
		return 0, nil
	}

	fetched := FormatTime(fetchedAt)
	inserted := 0

	for i := range users {
		user := &users[i]
		if err := user.Validate(); err != nil {
			return inserted, fmt.Errorf("invalid user: %w", err)
		}

		exists, err := rowExists(ctx, q, `SELECT 1 FROM users WHERE id = ?`, user.ID)
		if err != nil {
			return inserted, fmt.Errorf("failed to check user %s: %w", user.ID, err)
		}

		raw, err := user.RawJSON()
		if err != nil {
			return inserted, err
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO users (
				id, name, username, profile_image_url, verified, verified_type, raw_json, fetched_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = COALESCE(excluded.name, users.name),
				username = COALESCE(excluded.username, users.username),
				profile_image_url = COALESCE(excluded.profile_image_url, users.profile_image_url),
				verified = COALESCE(excluded.verified, users.verified),
				verified_type = COALESCE(excluded.verified_type, users.verified_type),
				raw_json = excluded.raw_json,
				fetched_at = excluded.fetched_at
		`,
			user.ID,
			nullStringPtr(user.Name),
			nullStringPtr(user.Username),
			nullStringPtr(user.ProfileImageURL),
			nullBoolPtr(user.Verified),
			nullStringPtr(user.VerifiedType),
			raw,
			fetched,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
		}

		if !exists {
			inserted++
		}
	}

	return inserted, nil
}

// rowExists runs a "SELECT 1 ..." query and reports whether it matched.
func rowExists(ctx context.Context, q Querier, query string, args ...any) (bool, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}
