package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xstash/xstash/internal/boundary"
)

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunCounters are the per-run totals persisted after each committed page.
type RunCounters struct {
	NewBookmarks       int `json:"new_bookmarks" yaml:"new_bookmarks"`
	NewReferencedPosts int `json:"new_referenced_posts" yaml:"new_referenced_posts"`
	NewMedia           int `json:"new_media" yaml:"new_media"`
	APIPostsRead       int `json:"api_posts_read" yaml:"api_posts_read"`
	APIUsersRead       int `json:"api_users_read" yaml:"api_users_read"`
}

// Run is one sync_runs row.
type Run struct {
	ID               int64         `json:"id" yaml:"id"`
	StartedAt        time.Time     `json:"started_at" yaml:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status           RunStatus     `json:"status" yaml:"status"`
	Mode             boundary.Mode `json:"mode" yaml:"mode"`
	RequestedMaxNew  *int          `json:"requested_max_new,omitempty" yaml:"requested_max_new,omitempty"`
	Counters         RunCounters   `json:"counters" yaml:"counters"`
	EstimatedCostUSD float64       `json:"estimated_cost_usd" yaml:"estimated_cost_usd"`
	ErrorMessage     string        `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// CreateRun opens a run in the running state and returns its id.
func CreateRun(ctx context.Context, q Querier, startedAt time.Time, mode boundary.Mode, requestedMaxNew *int) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO sync_runs (started_at, status, mode, requested_max_new)
		VALUES (?, 'running', ?, ?)
	`, FormatTime(startedAt), string(mode), nullIntPtr(requestedMaxNew))
	if err != nil {
		return 0, fmt.Errorf("failed to create sync run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read sync run id: %w", err)
	}
	return id, nil
}

// UpdateRunCounters overwrites the counters of a run.
func UpdateRunCounters(ctx context.Context, q Querier, runID int64, c RunCounters) error {
	_, err := q.ExecContext(ctx, `
		UPDATE sync_runs SET
			new_bookmarks_count = ?,
			new_referenced_posts_count = ?,
			new_media_count = ?,
			api_posts_read_count = ?,
			api_users_read_count = ?
		WHERE id = ?
	`, c.NewBookmarks, c.NewReferencedPosts, c.NewMedia, c.APIPostsRead, c.APIUsersRead, runID)
	if err != nil {
		return fmt.Errorf("failed to update sync run %d counters: %w", runID, err)
	}
	return nil
}

// CompleteRun finalizes a running run as completed.
func CompleteRun(ctx context.Context, q Querier, runID int64, completedAt time.Time, costUSD float64) error {
	return finishRun(ctx, q, runID, RunCompleted, completedAt, "", costUSD)
}

// FailRun finalizes a running run as failed with msg.
func FailRun(ctx context.Context, q Querier, runID int64, completedAt time.Time, msg string, costUSD float64) error {
	return finishRun(ctx, q, runID, RunFailed, completedAt, msg, costUSD)
}

// finishRun only touches runs still in the running state, so a run is
// finalized at most once.
func finishRun(ctx context.Context, q Querier, runID int64, status RunStatus, completedAt time.Time, msg string, costUSD float64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE sync_runs SET
			completed_at = ?,
			status = ?,
			estimated_cost_usd = ?,
			error_message = ?
		WHERE id = ? AND status = 'running'
	`, FormatTime(completedAt), string(status), costUSD, nullString(msg), runID)
	if err != nil {
		return fmt.Errorf("failed to finalize sync run %d: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finalize sync run %d: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("sync run %d is not running: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `
	id, started_at, completed_at, status, mode, requested_max_new,
	new_bookmarks_count, new_referenced_posts_count, new_media_count,
	api_posts_read_count, api_users_read_count, estimated_cost_usd, error_message`

// GetRun loads a run by id.
func GetRun(ctx context.Context, q Querier, runID int64) (*Run, error) {
	row := q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = ?`, runID)
	return scanRun(row)
}

// LatestRun returns the most recently started run, or ErrNotFound.
func LatestRun(ctx context.Context, q Querier) (*Run, error) {
	row := q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sync_runs ORDER BY id DESC LIMIT 1`)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*Run, error) {
	var (
		run         Run
		startedAt   string
		completedAt sql.NullString
		status      string
		mode        string
		maxNew      sql.NullInt64
		errMsg      sql.NullString
	)
	err := row.Scan(
		&run.ID, &startedAt, &completedAt, &status, &mode, &maxNew,
		&run.Counters.NewBookmarks, &run.Counters.NewReferencedPosts, &run.Counters.NewMedia,
		&run.Counters.APIPostsRead, &run.Counters.APIUsersRead, &run.EstimatedCostUSD, &errMsg,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync run: %w", err)
	}

	if run.StartedAt, err = ParseTime(startedAt); err != nil {
		return nil, fmt.Errorf("invalid started_at %q: %w", startedAt, err)
	}
	run.CompletedAt = nullStringToTime(completedAt)
	run.Status = RunStatus(status)
	run.Mode = boundary.Mode(mode)
	if maxNew.Valid {
		n := int(maxNew.Int64)
		run.RequestedMaxNew = &n
	}
	run.ErrorMessage = errMsg.String
	return &run, nil
}
