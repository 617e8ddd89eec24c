package sync

import (
	"context"

	"github.com/xstash/xstash/internal/media"
	"github.com/xstash/xstash/internal/quotes"
	"github.com/xstash/xstash/internal/schema"
)

// BookmarkSource reads the authenticated user's bookmark feed.
//
// BookmarksPage must paginate stably: a token yields the same or a later
// frontier, never skips. An empty token requests the first page.
type BookmarkSource interface {
	Me(ctx context.Context) (*schema.User, error)
	BookmarksPage(ctx context.Context, userID, token string, pageSize int) (*schema.Page, error)
}

// Client is everything a run needs from the remote API.
type Client interface {
	BookmarkSource
	quotes.Lookup
}

// Downloader fetches media bytes to a local path.
type Downloader interface {
	Download(ctx context.Context, url, dest string) (media.Result, error)
}

// Observer receives progress events. Implementations must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}
