package sync

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/xstash/xstash/internal/billing"
	"github.com/xstash/xstash/internal/boundary"
	"github.com/xstash/xstash/internal/quotes"
	"github.com/xstash/xstash/internal/schema"
	"github.com/xstash/xstash/internal/store"
)

// Options configure a Syncer. They are copied at construction and never
// mutated afterwards.
//
// MaxNew is the raw --max-new value: empty, a positive integer or "all".
// When it is empty, an initial run is capped at DefaultInitialMaxNew and
// an incremental run at DefaultIncrementalMaxNew ("all" for unbounded).
// IncrementalPageSize, when set, overrides the incremental page size.
type Options struct {
	MaxNew                   string
	DefaultInitialMaxNew     int
	DefaultIncrementalMaxNew string

	KnownBoundaryThreshold int
	IncrementalPageSize    *int
	QuoteDepth             int

	IncludeMedia bool
	MediaRoot    string
	Prices       billing.Prices
}

// Plan is what a run will do before it touches the network.
type Plan struct {
	Mode            boundary.Mode
	RequestedMaxNew *int
	PageSize        int
	Forecast        billing.Forecast
}

// Result summarizes a finished run.
type Result struct {
	RunID                 int64
	Mode                  boundary.Mode
	RequestedMaxNew       *int
	Counters              store.RunCounters
	Pages                 int
	StoppedByBoundary     bool
	RawAPIRequestCount    int
	SkippedMediaDownloads int
	RunCostUSD            float64
	TotalCostUSD          float64
	Elapsed               time.Duration
}

// Syncer runs bookmark synchronizations against one store.
type Syncer struct {
	db       *store.DB
	client   Client
	opts     Options
	saver    *mediaSaver
	resolver *quotes.Resolver
	observer Observer
	logger   *log.Logger
	now      func() time.Time
}

// New creates a Syncer. dl may be nil when media capture is disabled. If
// logger is nil, log output is discarded.
func New(db *store.DB, client Client, dl Downloader, opts Options, logger *log.Logger) (*Syncer, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if opts.IncludeMedia && dl == nil {
		return nil, fmt.Errorf("downloader is required when media capture is enabled")
	}
	if logger == nil {
		logger = log.New(io.Discard, "[sync] ", log.LstdFlags)
	}

	s := &Syncer{
		db:     db,
		client: client,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}

	var saver quotes.MediaSaver
	if opts.IncludeMedia {
		s.saver = &mediaSaver{db: db, dl: dl, root: opts.MediaRoot, logger: logger}
		saver = s.saver
	}

	quoteLogger := log.New(logger.Writer(), "[quotes] ", logger.Flags())
	resolver, err := quotes.New(db, client, saver, quotes.Config{
		Prices:       opts.Prices,
		IncludeMedia: opts.IncludeMedia,
		MediaRoot:    opts.MediaRoot,
	}, quoteLogger)
	if err != nil {
		return nil, err
	}
	s.resolver = resolver

	return s, nil
}

// SetObserver registers an observer for progress events. It must be
// called before Run.
func (s *Syncer) SetObserver(o Observer) {
	s.observer = o
}

// Plan resolves the mode, cap and page size of the next run.
func (s *Syncer) Plan(ctx context.Context) (Plan, error) {
	has, err := store.HasBookmarks(ctx, s.db.RawDB())
	if err != nil {
		return Plan{}, err
	}

	mode := boundary.Initial
	if has {
		mode = boundary.Incremental
	}

	maxNew, err := boundary.ResolveRequestedMaxNew(mode, s.opts.MaxNew,
		s.opts.DefaultIncrementalMaxNew, s.opts.DefaultInitialMaxNew)
	if err != nil {
		return Plan{}, err
	}

	return Plan{
		Mode:            mode,
		RequestedMaxNew: maxNew,
		PageSize:        boundary.PageSize(mode, s.opts.KnownBoundaryThreshold, s.opts.IncrementalPageSize),
		Forecast:        billing.ForecastRun(maxNew, s.opts.Prices),
	}, nil
}

// Run performs one synchronization. The run record is finalized before
// Run returns, whether or not an error occurred.
func (s *Syncer) Run(ctx context.Context) (*Result, error) {
	start := s.now()

	plan, err := s.Plan(ctx)
	if err != nil {
		return nil, err
	}

	runID, err := store.CreateRun(ctx, s.db.RawDB(), start, plan.Mode, plan.RequestedMaxNew)
	if err != nil {
		return nil, err
	}

	res := &Result{RunID: runID, Mode: plan.Mode, RequestedMaxNew: plan.RequestedMaxNew}
	s.logger.Printf("Starting %s sync run %d (max new: %s, page size: %d)",
		plan.Mode, runID, formatMaxNew(plan.RequestedMaxNew), plan.PageSize)
	s.emit(Event{Kind: EventRunStarted, RunID: runID, Mode: plan.Mode})

	if err := s.run(ctx, plan, res); err != nil {
		return res, s.fail(runID, res, err)
	}

	// The run finished; finalize even if the caller's context was cancelled
	// after the last page.
	fctx := context.WithoutCancel(ctx)
	cost, err := billing.EstimateCost(fctx, s.db.RawDB(), billing.RunScope(runID))
	if err != nil {
		return res, s.fail(runID, res, err)
	}
	if err := store.CompleteRun(fctx, s.db.RawDB(), runID, s.now(), cost); err != nil {
		return res, s.fail(runID, res, err)
	}
	res.RunCostUSD = cost

	total, err := billing.EstimateCost(fctx, s.db.RawDB(), billing.AllRuns)
	if err != nil {
		return res, err
	}
	res.TotalCostUSD = total
	res.Elapsed = s.now().Sub(start)

	s.logger.Printf("Sync run %d completed: %d new bookmarks, %d pages, cost $%.4f",
		runID, res.Counters.NewBookmarks, res.Pages, cost)
	s.emit(Event{Kind: EventRunCompleted, RunID: runID, Mode: plan.Mode, Page: res.Pages, Counters: res.Counters, CostUSD: cost})
	return res, nil
}

// run is the page loop. Counters in res reflect committed pages only.
func (s *Syncer) run(ctx context.Context, plan Plan, res *Result) error {
	me, err := s.client.Me(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve authenticated user: %w", err)
	}
	res.RawAPIRequestCount++

	state := boundary.State{
		Mode:                   plan.Mode,
		KnownBoundaryThreshold: s.opts.KnownBoundaryThreshold,
		RequestedMaxNew:        plan.RequestedMaxNew,
	}

	pages := NewPages(s.client, me.ID, plan.PageSize)
	for {
		page, ok, err := pages.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		res.Pages++
		res.RawAPIRequestCount++

		var stop bool
		state, stop, err = s.applyPage(ctx, res, page, state)
		if err != nil {
			return err
		}

		s.emit(Event{Kind: EventPageStored, RunID: res.RunID, Mode: plan.Mode, Page: res.Pages, Counters: res.Counters})
		if stop {
			res.StoppedByBoundary = true
			s.logger.Printf("Boundary reached after %d pages", res.Pages)
			break
		}
	}

	return nil
}

// applyPage stores one page and everything it pulls in.
func (s *Syncer) applyPage(ctx context.Context, res *Result, page *schema.Page, state boundary.State) (boundary.State, bool, error) {
	now := s.now()
	posts := page.AllPosts()
	users := page.Users()
	items := page.Includes.Media

	var (
		processed []schema.Post
		stop      bool
		newMedia  int
	)
	next := state

	counters := res.Counters
	err := s.db.WithTx(ctx, func(q store.Querier) error {
		if _, err := store.UpsertUsers(ctx, q, users, now); err != nil {
			return err
		}
		if _, err := store.UpsertPosts(ctx, q, posts, now); err != nil {
			return err
		}
		if s.opts.IncludeMedia {
			n, err := store.UpsertMedia(ctx, q, items, now, s.opts.MediaRoot)
			if err != nil {
				return err
			}
			newMedia = n
			if err := store.AttachPostMedia(ctx, q, posts); err != nil {
				return err
			}
		}

		for _, post := range page.Data {
			obs, err := store.ObserveBookmark(ctx, q, post.ID, now)
			if err != nil {
				return err
			}
			processed = append(processed, post)

			outcome := boundary.Existing
			if obs == store.ObservedNew {
				outcome = boundary.New
			}
			next, stop = boundary.Observe(next, outcome)
			if stop {
				break
			}
		}

		reads, err := billing.RecordReads(ctx, q, res.RunID, billing.EndpointBookmarks,
			schema.PostIDs(posts), schema.UserIDs(users), s.opts.Prices, now)
		if err != nil {
			return err
		}
		counters.NewBookmarks = next.NewBookmarksCount
		counters.NewMedia += newMedia
		counters.APIPostsRead += reads.Posts
		counters.APIUsersRead += reads.Users
		return store.UpdateRunCounters(ctx, q, res.RunID, counters)
	})
	if err != nil {
		return state, false, fmt.Errorf("failed to store bookmarks page %d: %w", res.Pages, err)
	}
	res.Counters = counters

	if s.saver != nil && len(items) > 0 {
		skipped, err := s.saver.SaveMedia(ctx, items)
		res.SkippedMediaDownloads += skipped
		if err != nil {
			return next, stop, err
		}
	}

	qres, qerr := s.resolver.Resolve(ctx, res.RunID, processed, s.opts.QuoteDepth)
	res.Counters.NewReferencedPosts += qres.NewPosts
	res.Counters.NewMedia += qres.NewMedia
	res.Counters.APIPostsRead += qres.PostsRead
	res.Counters.APIUsersRead += qres.UsersRead
	res.RawAPIRequestCount += qres.Requests
	res.SkippedMediaDownloads += qres.SkippedMedia

	// Lookup batches commit on their own, so their counts are persisted
	// even when resolution stops partway.
	if qres.NewPosts > 0 || qres.NewMedia > 0 || qres.PostsRead > 0 || qres.UsersRead > 0 {
		if err := store.UpdateRunCounters(context.WithoutCancel(ctx), s.db.RawDB(), res.RunID, res.Counters); err != nil {
			if qerr == nil {
				qerr = fmt.Errorf("failed to record page %d quote counters: %w", res.Pages, err)
			} else {
				s.logger.Printf("Warning: failed to record page %d quote counters: %v", res.Pages, err)
			}
		}
	}
	if qerr != nil {
		return next, stop, qerr
	}

	s.logger.Printf("Page %d: %d posts, %d users, %d new bookmarks so far",
		res.Pages, len(posts), len(users), res.Counters.NewBookmarks)
	return next, stop, nil
}

// fail marks the run failed with a cost recomputed from the reads logged
// so far, then returns cause.
func (s *Syncer) fail(runID int64, res *Result, cause error) error {
	ctx := context.Background()

	cost, err := billing.EstimateCost(ctx, s.db.RawDB(), billing.RunScope(runID))
	if err != nil {
		s.logger.Printf("Warning: failed to estimate cost of run %d: %v", runID, err)
	}
	res.RunCostUSD = cost

	if err := store.FailRun(ctx, s.db.RawDB(), runID, s.now(), cause.Error(), cost); err != nil {
		s.logger.Printf("Warning: failed to mark run %d failed: %v", runID, err)
	}

	s.logger.Printf("Sync run %d failed: %v", runID, cause)
	s.emit(Event{Kind: EventRunFailed, RunID: runID, Mode: res.Mode, Page: res.Pages, Counters: res.Counters, CostUSD: cost, Error: cause.Error()})
	return fmt.Errorf("sync run %d failed: %w", runID, cause)
}

func (s *Syncer) emit(e Event) {
	if s.observer == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	s.observer.OnEvent(e)
}

func formatMaxNew(n *int) string {
	if n == nil {
		return "all"
	}
	return fmt.Sprint(*n)
}
