package sync

import (
	"context"
	"fmt"

	"github.com/xstash/xstash/internal/schema"
)

// Pages pulls bookmark pages lazily.
//
//	pages := NewPages(client, userID, 100)
//	for {
//	    page, ok, err := pages.Next(ctx)
//	    if err != nil || !ok {
//	        break
//	    }
//	    ...
//	}
type Pages struct {
	src      BookmarkSource
	userID   string
	pageSize int
	token    string
	fetched  int
	done     bool
}

// NewPages returns an iterator positioned before the first page.
func NewPages(src BookmarkSource, userID string, pageSize int) *Pages {
	return &Pages{src: src, userID: userID, pageSize: pageSize}
}

// Next fetches the following page. It returns ok=false once the feed is
// exhausted; a page without a next token is the last one.
func (p *Pages) Next(ctx context.Context) (*schema.Page, bool, error) {
	if p.done {
		return nil, false, nil
	}

	page, err := p.src.BookmarksPage(ctx, p.userID, p.token, p.pageSize)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch bookmarks page %d: %w", p.fetched+1, err)
	}
	p.fetched++

	p.token = page.Meta.NextToken
	if p.token == "" {
		p.done = true
	}
	return page, true, nil
}

// Fetched returns the number of pages fetched so far.
func (p *Pages) Fetched() int {
	return p.fetched
}
