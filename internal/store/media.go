package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xstash/xstash/internal/media"
	"github.com/xstash/xstash/internal/schema"
)

// UpsertMedia inserts or merges media rows and returns how many were new.
//
// local_path is computed from mediaRoot with media.Resolve. On conflict a
// path ending in the unknown extension never replaces a stored path with
// a known one.
func UpsertMedia(ctx context.Context, q Querier, items []schema.Media, fetchedAt time.Time, mediaRoot string) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	fetched := FormatTime(fetchedAt)
	inserted := 0

	for i := range items {
		item := &items[i]
		if err := item.Validate(); err != nil {
			return inserted, fmt.Errorf("invalid media: %w", err)
		}

		exists, err := rowExists(ctx, q, `SELECT 1 FROM media WHERE media_key = ?`, item.MediaKey)
		if err != nil {
			return inserted, fmt.Errorf("failed to check media %s: %w", item.MediaKey, err)
		}

		target := media.Resolve(mediaRoot, item)

		var variants any
		if len(item.Variants) > 0 {
			data, err := json.Marshal(item.Variants)
			if err != nil {
				return inserted, fmt.Errorf("failed to encode variants for %s: %w", item.MediaKey, err)
			}
			variants = string(data)
		}

		raw, err := item.RawJSON()
		if err != nil {
			return inserted, err
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO media (
				media_key, type, url, preview_image_url, alt_text, width, height,
				duration_ms, variants_json, local_path, raw_json, fetched_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(media_key) DO UPDATE SET
				type = excluded.type,
				url = COALESCE(excluded.url, media.url),
				preview_image_url = COALESCE(excluded.preview_image_url, media.preview_image_url),
				alt_text = COALESCE(excluded.alt_text, media.alt_text),
				width = COALESCE(excluded.width, media.width),
				height = COALESCE(excluded.height, media.height),
				duration_ms = COALESCE(excluded.duration_ms, media.duration_ms),
				variants_json = COALESCE(excluded.variants_json, media.variants_json),
				local_path = CASE
					WHEN excluded.local_path IS NULL THEN media.local_path
					WHEN media.local_path IS NULL THEN excluded.local_path
					WHEN excluded.local_path LIKE '%.bin' AND media.local_path NOT LIKE '%.bin'
						THEN media.local_path
					ELSE excluded.local_path
				END,
				raw_json = excluded.raw_json,
				fetched_at = excluded.fetched_at
		`,
			item.MediaKey,
			item.Type,
			nullString(target.URL),
			nullStringPtr(item.PreviewImageURL),
			nullStringPtr(item.AltText),
			nullIntPtr(item.Width),
			nullIntPtr(item.Height),
			nullIntPtr(item.DurationMs),
			variants,
			target.LocalPath,
			raw,
			fetched,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to upsert media %s: %w", item.MediaKey, err)
		}

		if !exists {
			inserted++
		}
	}

	return inserted, nil
}

// AttachPostMedia links posts to their attached media. Keys without a
// media row are skipped.
func AttachPostMedia(ctx context.Context, q Querier, posts []schema.Post) error {
	for i := range posts {
		post := &posts[i]
		for _, key := range post.MediaKeys() {
			_, err := q.ExecContext(ctx, `
				INSERT INTO post_media (post_id, media_key)
				SELECT ?, media_key FROM media WHERE media_key = ?
				ON CONFLICT(post_id, media_key) DO NOTHING
			`, post.ID, key)
			if err != nil {
				return fmt.Errorf("failed to attach media %s to post %s: %w", key, post.ID, err)
			}
		}
	}
	return nil
}

// MediaLocalPath returns the stored local_path of a media item.
// It returns ErrNotFound when the row is missing or the path is unset.
func MediaLocalPath(ctx context.Context, q Querier, mediaKey string) (string, error) {
	var path sql.NullString
	err := q.QueryRowContext(ctx, `SELECT local_path FROM media WHERE media_key = ?`, mediaKey).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !path.Valid) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read local path for %s: %w", mediaKey, err)
	}
	return path.String, nil
}

// SetMediaLocalPath records where the bytes of a media item were written.
func SetMediaLocalPath(ctx context.Context, q Querier, mediaKey, path string) error {
	if _, err := q.ExecContext(ctx, `UPDATE media SET local_path = ? WHERE media_key = ?`, path, mediaKey); err != nil {
		return fmt.Errorf("failed to update local path for %s: %w", mediaKey, err)
	}
	return nil
}
