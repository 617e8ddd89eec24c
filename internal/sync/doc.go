// Package sync drives one bookmark synchronization run.
//
// Overview
//
// A run mirrors the remote bookmark feed into the local store. It is
// recorded in sync_runs and moves from running to completed or failed
// exactly once.
//
// Architecture
//
//	BookmarkSource ──► Pages.Next ──► page transaction ──► boundary.Observe
//	                                   (users, posts,          │
//	                                    media, bookmarks)      ▼
//	                                                     stop / continue
//	                                          │
//	                                          ▼
//	                    media download ──► quotes.Resolve ──► billing ledger
//	                                                              │
//	                                                              ▼
//	                                                      run counters
//
// Each page is committed on its own, so an interrupted run keeps every
// page it already stored. Counters are written only after the page they
// describe has been committed.
//
// Usage
//
//	syncer, err := sync.New(database, client, downloader, sync.Options{
//	    KnownBoundaryThreshold: 5,
//	    QuoteDepth:             3,
//	    Prices:                 billing.DefaultPrices(),
//	}, nil)
//	if err != nil {
//	    return err
//	}
//	result, err := syncer.Run(ctx)
//
// Error Handling
//
// Media that is gone or forbidden upstream is counted in
// Result.SkippedMediaDownloads and skipped. Quoted posts that cannot be
// fetched are dropped. Any other error fails the run: the cost estimate
// is recomputed from the reads already logged, the run is marked failed,
// and the error is returned.
package sync
