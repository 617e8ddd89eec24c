package billing

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/xstash/xstash/internal/boundary"
	"github.com/xstash/xstash/internal/store"
)

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createRun(t *testing.T, db *store.DB) int64 {
	t.Helper()

	id, err := store.CreateRun(context.Background(), db.RawDB(), time.Now(), boundary.Initial, nil)
	if err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}
	return id
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRecordReads_DedupesWithinCall(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	runID := createRun(t, db)

	reads, err := RecordReads(ctx, db.RawDB(), runID, EndpointBookmarks,
		[]string{"p1", "p2", "p1"}, []string{"u1", "u1"}, DefaultPrices(), time.Now())
	if err != nil {
		t.Fatalf("RecordReads() failed: %v", err)
	}
	if reads.Posts != 2 || reads.Users != 1 {
		t.Errorf("RecordReads() = %+v, want 2 posts and 1 user", reads)
	}

	raw, err := RawReadCounts(ctx, db.RawDB(), RunScope(runID))
	if err != nil {
		t.Fatalf("RawReadCounts() failed: %v", err)
	}
	if raw.Posts != 2 || raw.Users != 1 {
		t.Errorf("RawReadCounts() = %+v, want 2 posts and 1 user", raw)
	}
}

func TestRecordReads_BilledDayIsUTC(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	runID := createRun(t, db)

	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("EST", -5*60*60)
	now := time.Date(2026, 2, 10, 23, 30, 0, 0, loc)

	if _, err := RecordReads(ctx, db.RawDB(), runID, EndpointLookup, []string{"p1"}, nil, DefaultPrices(), now); err != nil {
		t.Fatalf("RecordReads() failed: %v", err)
	}

	var day, requestedAt string
	err := db.RawDB().QueryRow(`SELECT billed_day_utc, requested_at FROM api_requests`).Scan(&day, &requestedAt)
	if err != nil {
		t.Fatalf("failed to query ledger: %v", err)
	}
	if day != "2026-02-11" {
		t.Errorf("billed_day_utc = %q, want 2026-02-11", day)
	}
	if requestedAt != "2026-02-11T04:30:00.000Z" {
		t.Errorf("requested_at = %q", requestedAt)
	}
}

func TestEstimateCost_MinPricePerDay(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	runID := createRun(t, db)
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	if _, err := RecordReads(ctx, db.RawDB(), runID, EndpointBookmarks, []string{"p1"}, nil,
		Prices{PostReadUSD: 0.005, UserReadUSD: 0.01}, now); err != nil {
		t.Fatalf("RecordReads() failed: %v", err)
	}
	if _, err := RecordReads(ctx, db.RawDB(), runID, EndpointLookup, []string{"p1"}, nil,
		Prices{PostReadUSD: 0.007, UserReadUSD: 0.01}, now.Add(time.Hour)); err != nil {
		t.Fatalf("RecordReads() failed: %v", err)
	}

	cost, err := EstimateCost(ctx, db.RawDB(), RunScope(runID))
	if err != nil {
		t.Fatalf("EstimateCost() failed: %v", err)
	}
	if !almostEqual(cost, 0.005) {
		t.Errorf("EstimateCost() = %v, want 0.005", cost)
	}

	raw, err := RawReadCounts(ctx, db.RawDB(), RunScope(runID))
	if err != nil {
		t.Fatalf("RawReadCounts() failed: %v", err)
	}
	if raw.Posts != 2 {
		t.Errorf("raw post reads = %d, want 2", raw.Posts)
	}
}

func TestEstimateCost_SeparateDaysBillTwice(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	runID := createRun(t, db)
	day1 := time.Date(2026, 2, 10, 23, 59, 0, 0, time.UTC)

	for _, ts := range []time.Time{day1, day1.Add(2 * time.Minute)} {
		if _, err := RecordReads(ctx, db.RawDB(), runID, EndpointLookup, []string{"p1"}, []string{"u1"}, DefaultPrices(), ts); err != nil {
			t.Fatalf("RecordReads() failed: %v", err)
		}
	}

	cost, err := EstimateCost(ctx, db.RawDB(), AllRuns)
	if err != nil {
		t.Fatalf("EstimateCost() failed: %v", err)
	}
	if want := 2 * (0.005 + 0.01); !almostEqual(cost, want) {
		t.Errorf("EstimateCost() = %v, want %v", cost, want)
	}
}

func TestEstimateCost_ScopedToRun(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	run1 := createRun(t, db)
	run2 := createRun(t, db)
	now := time.Now()

	if _, err := RecordReads(ctx, db.RawDB(), run1, EndpointBookmarks, []string{"p1", "p2"}, nil, DefaultPrices(), now); err != nil {
		t.Fatal(err)
	}
	if _, err := RecordReads(ctx, db.RawDB(), run2, EndpointBookmarks, []string{"p2", "p3"}, nil, DefaultPrices(), now); err != nil {
		t.Fatal(err)
	}

	got1, err := EstimateCost(ctx, db.RawDB(), RunScope(run1))
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(got1, 0.010) {
		t.Errorf("run1 cost = %v, want 0.010", got1)
	}

	total, err := EstimateCost(ctx, db.RawDB(), AllRuns)
	if err != nil {
		t.Fatal(err)
	}
	// p2 is read by both runs on the same day and billed once overall.
	if !almostEqual(total, 0.015) {
		t.Errorf("total cost = %v, want 0.015", total)
	}
}

func TestEstimateCost_EmptyLedger(t *testing.T) {
	db := setupTestDB(t)

	cost, err := EstimateCost(context.Background(), db.RawDB(), AllRuns)
	if err != nil {
		t.Fatalf("EstimateCost() failed: %v", err)
	}
	if cost != 0 {
		t.Errorf("EstimateCost() = %v, want 0", cost)
	}
}

func TestForecastRun(t *testing.T) {
	n := 200
	f := ForecastRun(&n, DefaultPrices())
	if f.Unbounded || !almostEqual(f.PostUSD, 1.0) || !almostEqual(f.UserUSD, 2.0) {
		t.Errorf("ForecastRun(200) = %+v", f)
	}

	if f := ForecastRun(nil, DefaultPrices()); !f.Unbounded {
		t.Errorf("ForecastRun(nil) = %+v, want unbounded", f)
	}
}
