package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xstash/xstash/internal/schema"
)

// epochCreatedAt stands in for posts whose payload lacks created_at.
const epochCreatedAt = "1970-01-01T00:00:00.000Z"

// idBatchSize bounds the number of ids bound into one IN (...) clause.
const idBatchSize = 500

// UpsertPosts inserts or merges posts and returns how many were new.
//
// author_id is only linked when that user already exists, so a post can
// arrive before its author; a later upsert heals the link. author_id,
// full_text, conversation_id and lang merge with COALESCE. Text,
// created_at, sensitivity, engagement counters, raw_json and fetched_at
// always overwrite.
func UpsertPosts(ctx context.Context, q Querier, posts []schema.Post, fetchedAt time.Time) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	fetched := FormatTime(fetchedAt)
	inserted := 0

	for i := range posts {
		post := &posts[i]
		if err := post.Validate(); err != nil {
			return inserted, fmt.Errorf("invalid post: %w", err)
		}

		exists, err := rowExists(ctx, q, `SELECT 1 FROM posts WHERE id = ?`, post.ID)
		if err != nil {
			return inserted, fmt.Errorf("failed to check post %s: %w", post.ID, err)
		}

		var authorID any
		if post.AuthorID != "" {
			known, err := rowExists(ctx, q, `SELECT 1 FROM users WHERE id = ?`, post.AuthorID)
			if err != nil {
				return inserted, fmt.Errorf("failed to check author %s: %w", post.AuthorID, err)
			}
			if known {
				authorID = post.AuthorID
			}
		}

		createdAt := post.CreatedAt
		if createdAt == "" {
			createdAt = epochCreatedAt
		}

		raw, err := post.RawJSON()
		if err != nil {
			return inserted, err
		}

		m := post.Metrics()
		_, err = q.ExecContext(ctx, `
			INSERT INTO posts (
				id, author_id, text, full_text, created_at, conversation_id, lang,
				possibly_sensitive, like_count, retweet_count, reply_count, quote_count,
				raw_json, fetched_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				author_id = COALESCE(excluded.author_id, posts.author_id),
				text = excluded.text,
				full_text = COALESCE(excluded.full_text, posts.full_text),
				created_at = excluded.created_at,
				conversation_id = COALESCE(excluded.conversation_id, posts.conversation_id),
				lang = COALESCE(excluded.lang, posts.lang),
				possibly_sensitive = excluded.possibly_sensitive,
				like_count = excluded.like_count,
				retweet_count = excluded.retweet_count,
				reply_count = excluded.reply_count,
				quote_count = excluded.quote_count,
				raw_json = excluded.raw_json,
				fetched_at = excluded.fetched_at
		`,
			post.ID,
			authorID,
			post.Text,
			nullString(post.FullText()),
			createdAt,
			nullString(post.ConversationID),
			nullString(post.Lang),
			boolToInt(post.PossiblySensitive),
			m.LikeCount,
			m.RetweetCount,
			m.ReplyCount,
			m.QuoteCount,
			raw,
			fetched,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to upsert post %s: %w", post.ID, err)
		}

		if !exists {
			inserted++
		}
	}

	return inserted, nil
}

// PostExists reports whether a post row exists.
func PostExists(ctx context.Context, q Querier, id string) (bool, error) {
	ok, err := rowExists(ctx, q, `SELECT 1 FROM posts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to check post %s: %w", id, err)
	}
	return ok, nil
}

// ExistingPostIDs returns the subset of ids that have a post row.
func ExistingPostIDs(ctx context.Context, q Querier, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	for _, batch := range chunk(ids, idBatchSize) {
		rows, err := q.QueryContext(ctx,
			`SELECT id FROM posts WHERE id IN (`+placeholders(len(batch))+`)`,
			toArgs(batch)...)
		if err != nil {
			return nil, fmt.Errorf("failed to query posts: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan post id: %w", err)
			}
			found[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to iterate posts: %w", err)
		}
		rows.Close()
	}
	return found, nil
}

// LoadPosts decodes the stored payloads of ids, in the order given.
// Ids without a row are skipped.
func LoadPosts(ctx context.Context, q Querier, ids []string) ([]schema.Post, error) {
	byID := make(map[string]schema.Post, len(ids))
	for _, batch := range chunk(ids, idBatchSize) {
		rows, err := q.QueryContext(ctx,
			`SELECT id, raw_json FROM posts WHERE id IN (`+placeholders(len(batch))+`)`,
			toArgs(batch)...)
		if err != nil {
			return nil, fmt.Errorf("failed to load posts: %w", err)
		}
		for rows.Next() {
			var id, raw string
			if err := rows.Scan(&id, &raw); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan post: %w", err)
			}
			var post schema.Post
			if err := json.Unmarshal([]byte(raw), &post); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to decode post %s: %w", id, err)
			}
			byID[id] = post
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to iterate posts: %w", err)
		}
		rows.Close()
	}

	posts := make([]schema.Post, 0, len(byID))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if post, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			posts = append(posts, post)
		}
	}
	return posts, nil
}
