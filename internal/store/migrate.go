package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// CurrentSchemaVersion is the schema version this build reads and writes.
const CurrentSchemaVersion = 1

// ErrSchemaTooNew is returned when the database was written by a newer
// xstash. Nothing is modified in that case.
var ErrSchemaTooNew = errors.New("database schema is newer than this build")

const metaSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// migrations[v] brings a database from version v-1 to v.
var migrations = map[int]string{
	1: schemaV1,
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT,
	username TEXT,
	profile_image_url TEXT,
	verified INTEGER DEFAULT 0,
	verified_type TEXT,
	raw_json TEXT NOT NULL,
	fetched_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS posts (
	id TEXT PRIMARY KEY,
	author_id TEXT REFERENCES users(id) ON DELETE SET NULL,
	text TEXT NOT NULL DEFAULT '',
	full_text TEXT,
	created_at TEXT NOT NULL,
	conversation_id TEXT,
	lang TEXT,
	possibly_sensitive INTEGER DEFAULT 0,
	like_count INTEGER DEFAULT 0,
	retweet_count INTEGER DEFAULT 0,
	reply_count INTEGER DEFAULT 0,
	quote_count INTEGER DEFAULT 0,
	raw_json TEXT NOT NULL,
	fetched_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bookmarks (
	post_id TEXT PRIMARY KEY REFERENCES posts(id) ON DELETE CASCADE,
	discovered_at TEXT NOT NULL,
	last_synced_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS post_references (
	post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	referenced_post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	reference_type TEXT NOT NULL CHECK (reference_type IN ('quoted', 'replied_to', 'retweeted')),
	depth INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (post_id, referenced_post_id, reference_type)
);

CREATE TABLE IF NOT EXISTS media (
	media_key TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	url TEXT,
	preview_image_url TEXT,
	alt_text TEXT,
	width INTEGER,
	height INTEGER,
	duration_ms INTEGER,
	variants_json TEXT,
	local_path TEXT,
	raw_json TEXT NOT NULL,
	fetched_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS post_media (
	post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	media_key TEXT NOT NULL REFERENCES media(media_key) ON DELETE CASCADE,
	PRIMARY KEY (post_id, media_key)
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	status TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'completed', 'failed')),
	mode TEXT NOT NULL CHECK (mode IN ('initial', 'incremental')),
	requested_max_new INTEGER,
	new_bookmarks_count INTEGER NOT NULL DEFAULT 0,
	new_referenced_posts_count INTEGER NOT NULL DEFAULT 0,
	new_media_count INTEGER NOT NULL DEFAULT 0,
	api_posts_read_count INTEGER NOT NULL DEFAULT 0,
	api_users_read_count INTEGER NOT NULL DEFAULT 0,
	estimated_cost_usd REAL NOT NULL DEFAULT 0,
	error_message TEXT,
	CHECK (requested_max_new IS NULL OR requested_max_new > 0)
);

CREATE TABLE IF NOT EXISTS api_requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sync_run_id INTEGER NOT NULL REFERENCES sync_runs(id) ON DELETE CASCADE,
	requested_at TEXT NOT NULL,
	billed_day_utc TEXT NOT NULL,
	resource_type TEXT NOT NULL CHECK (resource_type IN ('post', 'user')),
	resource_id TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	unit_price_usd REAL NOT NULL
);

-- One row per billable unit: the platform bills a resource once per UTC day.
CREATE VIEW IF NOT EXISTS api_billable_reads AS
SELECT
	billed_day_utc,
	resource_type,
	resource_id,
	MIN(unit_price_usd) AS unit_price_usd,
	COUNT(*) AS request_count
FROM api_requests
GROUP BY billed_day_utc, resource_type, resource_id;

CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_id);
CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at);
CREATE INDEX IF NOT EXISTS idx_bookmarks_last_synced_at ON bookmarks(last_synced_at);
CREATE INDEX IF NOT EXISTS idx_post_references_ref ON post_references(referenced_post_id);
CREATE INDEX IF NOT EXISTS idx_api_requests_run ON api_requests(sync_run_id);
CREATE INDEX IF NOT EXISTS idx_api_requests_billable_key
	ON api_requests(billed_day_utc, resource_type, resource_id);
`

// Migrate brings the schema up to CurrentSchemaVersion.
func (db *DB) Migrate() error {
	return db.MigrateContext(context.Background())
}

// MigrateContext is Migrate with context support.
//
// A fresh database gets the current schema directly. An older one is
// migrated forward one version per transaction. A newer one is rejected
// with ErrSchemaTooNew before anything is written.
func (db *DB) MigrateContext(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, metaSchema); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}

	current, err := db.SchemaVersionContext(ctx)
	if err != nil {
		return err
	}

	if current > CurrentSchemaVersion {
		return fmt.Errorf("%w: database is at version %d, this build supports %d",
			ErrSchemaTooNew, current, CurrentSchemaVersion)
	}

	if current == 0 {
		return db.WithTx(ctx, func(q Querier) error {
			for v := 1; v <= CurrentSchemaVersion; v++ {
				if _, err := q.ExecContext(ctx, migrations[v]); err != nil {
					return fmt.Errorf("failed to create schema v%d: %w", v, err)
				}
			}
			return setSchemaVersion(ctx, q, CurrentSchemaVersion)
		})
	}

	for v := current + 1; v <= CurrentSchemaVersion; v++ {
		version := v
		err := db.WithTx(ctx, func(q Querier) error {
			if _, err := q.ExecContext(ctx, migrations[version]); err != nil {
				return fmt.Errorf("failed to apply migration v%d: %w", version, err)
			}
			return setSchemaVersion(ctx, q, version)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// SchemaVersionContext returns the stored schema version, 0 when unset.
func (db *DB) SchemaVersionContext(ctx context.Context) (int, error) {
	var raw string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid schema version %q: %w", raw, err)
	}
	return version, nil
}

func setSchemaVersion(ctx context.Context, q Querier, version int) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, strconv.Itoa(version))
	if err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}
	return nil
}
