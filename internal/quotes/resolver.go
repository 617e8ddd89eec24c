// Package quotes backfills quoted posts referenced by bookmarks.
//
// The walk is breadth-first by depth layer. Layer 1 is the set of root
// posts handed in by the caller. For each layer:
//
//  1. replied_to and retweeted references are written as edges when the
//     target already exists locally. They are never fetched.
//  2. quoted targets missing locally are fetched in batches of up to 100
//     ids, upserted, and recorded in the billing ledger.
//  3. quoted edges are written for every target that now exists.
//     Targets that could not be fetched are dropped silently.
//  4. The confirmed quoted targets become the next layer.
//
// A post reachable at several depths keeps the smallest one, because the
// store merges edge depth with MIN.
package quotes

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/xstash/xstash/internal/billing"
	"github.com/xstash/xstash/internal/schema"
	"github.com/xstash/xstash/internal/store"
)

// Depth bounds for quote resolution.
const (
	MinDepth = 1
	MaxDepth = 3
)

// LookupBatchSize is the largest number of ids fetched per lookup.
const LookupBatchSize = 100

// Lookup fetches posts by id. The response may omit ids that were deleted
// or are not visible; that is not an error.
type Lookup interface {
	LookupPosts(ctx context.Context, ids []string) (*schema.Page, error)
}

// MediaSaver downloads the bytes of media items that were just stored.
// It returns how many downloads were skipped as permanently unavailable.
type MediaSaver interface {
	SaveMedia(ctx context.Context, items []schema.Media) (int, error)
}

// Config controls a Resolver. It is copied at construction. With
// IncludeMedia set, media of fetched posts is stored under MediaRoot and
// handed to the MediaSaver.
type Config struct {
	Prices       billing.Prices
	IncludeMedia bool
	MediaRoot    string
}

// Result counts what one Resolve call did.
type Result struct {
	NewPosts     int
	NewMedia     int
	PostsRead    int
	UsersRead    int
	Requests     int
	SkippedMedia int
}

// Add accumulates other into r.
func (r *Result) Add(other Result) {
	r.NewPosts += other.NewPosts
	r.NewMedia += other.NewMedia
	r.PostsRead += other.PostsRead
	r.UsersRead += other.UsersRead
	r.Requests += other.Requests
	r.SkippedMedia += other.SkippedMedia
}

// Resolver walks quote chains and backfills missing posts.
type Resolver struct {
	db     *store.DB
	lookup Lookup
	media  MediaSaver
	cfg    Config
	logger *log.Logger
	now    func() time.Time
}

// New creates a Resolver. saver may be nil when media is disabled. If
// logger is nil, log output is discarded.
func New(db *store.DB, lookup Lookup, saver MediaSaver, cfg Config, logger *log.Logger) (*Resolver, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if lookup == nil {
		return nil, fmt.Errorf("lookup cannot be nil")
	}
	if logger == nil {
		logger = log.New(io.Discard, "[quotes] ", log.LstdFlags)
	}
	return &Resolver{
		db:     db,
		lookup: lookup,
		media:  saver,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// ClampDepth clamps a configured depth to [MinDepth, MaxDepth].
func ClampDepth(depth int) int {
	if depth < MinDepth {
		return MinDepth
	}
	if depth > MaxDepth {
		return MaxDepth
	}
	return depth
}

// Resolve walks the quote graph starting at roots, at most maxDepth
// layers deep, and records reads against runID. maxDepth is clamped to
// [MinDepth, MaxDepth].
func (r *Resolver) Resolve(ctx context.Context, runID int64, roots []schema.Post, maxDepth int) (Result, error) {
	var res Result
	maxDepth = ClampDepth(maxDepth)
	layer := roots

	for depth := 1; depth <= maxDepth && len(layer) > 0; depth++ {
		var (
			direct []store.Edge
			quoted []store.Edge
		)
		for i := range layer {
			post := &layer[i]
			for _, ref := range post.ReferencedTweets {
				edge := store.Edge{PostID: post.ID, ReferencedPostID: ref.ID, Type: ref.Type, Depth: depth}
				if ref.Type == schema.RefQuoted {
					quoted = append(quoted, edge)
				} else {
					direct = append(direct, edge)
				}
			}
		}

		if len(direct) > 0 {
			if err := r.writeEdges(ctx, direct); err != nil {
				return res, err
			}
		}
		if len(quoted) == 0 {
			break
		}

		targets := uniqueTargets(quoted)
		existing, err := store.ExistingPostIDs(ctx, r.db.RawDB(), targets)
		if err != nil {
			return res, err
		}

		var missing []string
		for _, id := range targets {
			if !existing[id] {
				missing = append(missing, id)
			}
		}

		if len(missing) > 0 {
			r.logger.Printf("Depth %d: fetching %d of %d quoted posts", depth, len(missing), len(targets))
			for start := 0; start < len(missing); start += LookupBatchSize {
				end := min(start+LookupBatchSize, len(missing))
				batch, err := r.fetchBatch(ctx, runID, missing[start:end])
				res.Add(batch)
				if err != nil {
					return res, err
				}
			}

			existing, err = store.ExistingPostIDs(ctx, r.db.RawDB(), targets)
			if err != nil {
				return res, err
			}
		}

		var resolved []store.Edge
		var next []string
		for _, edge := range quoted {
			if existing[edge.ReferencedPostID] {
				resolved = append(resolved, edge)
			}
		}
		for _, id := range targets {
			if existing[id] {
				next = append(next, id)
			} else {
				r.logger.Printf("Warning: quoted post %s is unavailable, skipping", id)
			}
		}

		if len(resolved) > 0 {
			if err := r.writeEdges(ctx, resolved); err != nil {
				return res, err
			}
		}

		if depth >= maxDepth {
			break
		}

		layer, err = store.LoadPosts(ctx, r.db.RawDB(), next)
		if err != nil {
			return res, err
		}
	}

	return res, nil
}

// fetchBatch looks up ids and stores the response in one transaction,
// then downloads media outside it.
func (r *Resolver) fetchBatch(ctx context.Context, runID int64, ids []string) (Result, error) {
	var res Result

	page, err := r.lookup.LookupPosts(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("quotes: failed to look up %d posts: %w", len(ids), err)
	}
	res.Requests++

	posts := page.AllPosts()
	users := page.Users()
	items := page.Includes.Media
	now := r.now()

	err = r.db.WithTx(ctx, func(q store.Querier) error {
		if _, err := store.UpsertUsers(ctx, q, users, now); err != nil {
			return err
		}
		n, err := store.UpsertPosts(ctx, q, posts, now)
		if err != nil {
			return err
		}
		res.NewPosts += n

		if r.cfg.IncludeMedia {
			n, err := store.UpsertMedia(ctx, q, items, now, r.cfg.MediaRoot)
			if err != nil {
				return err
			}
			res.NewMedia += n
			if err := store.AttachPostMedia(ctx, q, posts); err != nil {
				return err
			}
		}

		reads, err := billing.RecordReads(ctx, q, runID, billing.EndpointLookup,
			schema.PostIDs(posts), schema.UserIDs(users), r.cfg.Prices, now)
		if err != nil {
			return err
		}
		res.PostsRead += reads.Posts
		res.UsersRead += reads.Users
		return nil
	})
	if err != nil {
		// Nothing from the batch was committed.
		return Result{Requests: res.Requests}, fmt.Errorf("quotes: failed to store lookup batch: %w", err)
	}

	if r.cfg.IncludeMedia && r.media != nil && len(items) > 0 {
		skipped, err := r.media.SaveMedia(ctx, items)
		res.SkippedMedia += skipped
		if err != nil {
			return res, fmt.Errorf("quotes: %w", err)
		}
	}

	return res, nil
}

func (r *Resolver) writeEdges(ctx context.Context, edges []store.Edge) error {
	return r.db.WithTx(ctx, func(q store.Querier) error {
		_, err := store.UpsertReferenceEdges(ctx, q, edges)
		return err
	})
}

// uniqueTargets returns the distinct referenced ids in first-seen order.
func uniqueTargets(edges []store.Edge) []string {
	seen := make(map[string]bool, len(edges))
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		if !seen[e.ReferencedPostID] {
			seen[e.ReferencedPostID] = true
			out = append(out, e.ReferencedPostID)
		}
	}
	return out
}
