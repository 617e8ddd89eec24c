// Package billing keeps the ledger of remote resource reads and turns it
// into a cost estimate.
//
// Every read is appended to api_requests, so raw volume stays auditable.
// The estimate mirrors the platform rule that a resource is billed once
// per UTC day: rows are grouped by (billed_day_utc, resource_type,
// resource_id) and the lowest recorded unit price of each group is summed.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/xstash/xstash/internal/store"
)

// Resource types recorded in the ledger.
const (
	ResourcePost = "post"
	ResourceUser = "user"
)

// Endpoints recorded in the ledger.
const (
	EndpointBookmarks = "/2/users/:id/bookmarks"
	EndpointLookup    = "/2/tweets"
)

// Prices are the per-read unit prices in USD.
type Prices struct {
	PostReadUSD float64
	UserReadUSD float64
}

// DefaultPrices returns the published pay-per-use read prices.
func DefaultPrices() Prices {
	return Prices{PostReadUSD: 0.005, UserReadUSD: 0.01}
}

// Scope selects the ledger rows an estimate covers.
type Scope struct {
	// RunID restricts the estimate to one sync run; nil covers everything.
	RunID *int64
}

// RunScope returns a Scope for a single run.
func RunScope(runID int64) Scope {
	return Scope{RunID: &runID}
}

// AllRuns covers the whole ledger.
var AllRuns = Scope{}

// Reads is the number of distinct resources recorded by one call.
type Reads struct {
	Posts int
	Users int
}

// RecordReads appends one ledger row per distinct post and user id.
// Duplicates inside one call collapse; repeated calls each add rows.
func RecordReads(ctx context.Context, q store.Querier, runID int64, endpoint string, postIDs, userIDs []string, prices Prices, now time.Time) (Reads, error) {
	requestedAt := store.FormatTime(now)
	billedDay := BilledDay(requestedAt)

	posts := unique(postIDs)
	users := unique(userIDs)

	insert := func(resourceType, id string, price float64) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO api_requests (
				sync_run_id, requested_at, billed_day_utc, resource_type, resource_id, endpoint, unit_price_usd
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, runID, requestedAt, billedDay, resourceType, id, endpoint, price)
		if err != nil {
			return fmt.Errorf("failed to record %s read %s: %w", resourceType, id, err)
		}
		return nil
	}

	for _, id := range posts {
		if err := insert(ResourcePost, id, prices.PostReadUSD); err != nil {
			return Reads{}, err
		}
	}
	for _, id := range users {
		if err := insert(ResourceUser, id, prices.UserReadUSD); err != nil {
			return Reads{}, err
		}
	}

	return Reads{Posts: len(posts), Users: len(users)}, nil
}

// EstimateCost sums the minimum unit price of each billable unit in scope.
func EstimateCost(ctx context.Context, q store.Querier, scope Scope) (float64, error) {
	query := `
		SELECT COALESCE(SUM(unit_price_usd), 0.0) FROM (
			SELECT MIN(unit_price_usd) AS unit_price_usd
			FROM api_requests
			%s
			GROUP BY billed_day_utc, resource_type, resource_id
		)`

	var (
		cost float64
		err  error
	)
	if scope.RunID != nil {
		err = q.QueryRowContext(ctx, fmt.Sprintf(query, "WHERE sync_run_id = ?"), *scope.RunID).Scan(&cost)
	} else {
		err = q.QueryRowContext(ctx, fmt.Sprintf(query, "")).Scan(&cost)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to estimate cost: %w", err)
	}
	return cost, nil
}

// RawCounts is the undeduplicated number of ledger rows per type.
type RawCounts struct {
	Posts int
	Users int
}

// RawReadCounts counts ledger rows in scope without billing dedup.
func RawReadCounts(ctx context.Context, q store.Querier, scope Scope) (RawCounts, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN resource_type = 'post' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN resource_type = 'user' THEN 1 ELSE 0 END), 0)
		FROM api_requests`

	var (
		rc   RawCounts
		args []any
	)
	if scope.RunID != nil {
		query += ` WHERE sync_run_id = ?`
		args = append(args, *scope.RunID)
	}
	if err := q.QueryRowContext(ctx, query, args...).Scan(&rc.Posts, &rc.Users); err != nil {
		return RawCounts{}, fmt.Errorf("failed to count raw reads: %w", err)
	}
	return rc, nil
}

// BilledDay returns the UTC calendar day of a stored timestamp.
func BilledDay(requestedAt string) string {
	if len(requestedAt) < 10 {
		return requestedAt
	}
	return requestedAt[:10]
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Forecast is the cost ceiling shown before a run starts.
type Forecast struct {
	MaxNew    *int
	Unbounded bool
	PostUSD   float64
	UserUSD   float64
}

// ForecastRun bounds the cost of a run capped at maxNew new bookmarks,
// assuming one post and one user read per bookmark.
func ForecastRun(maxNew *int, prices Prices) Forecast {
	if maxNew == nil {
		return Forecast{Unbounded: true}
	}
	n := float64(*maxNew)
	return Forecast{
		MaxNew:  maxNew,
		PostUSD: n * prices.PostReadUSD,
		UserUSD: n * prices.UserReadUSD,
	}
}
