package store

import (
	"context"
	"fmt"
)

// Edge is a post-to-post reference. Depth counts quote-chain hops from the
// bookmarked root, starting at 1.
type Edge struct {
	PostID           string
	ReferencedPostID string
	Type             string
	Depth            int
}

// UpsertReferenceEdges writes edges whose endpoints both exist and returns
// how many were written. Edges with a missing endpoint are skipped without
// error. On conflict the smaller depth wins.
func UpsertReferenceEdges(ctx context.Context, q Querier, edges []Edge) (int, error) {
	written := 0
	for _, e := range edges {
		res, err := q.ExecContext(ctx, `
			INSERT INTO post_references (post_id, referenced_post_id, reference_type, depth)
			SELECT ?, ?, ?, ?
			WHERE EXISTS (SELECT 1 FROM posts WHERE id = ?)
			  AND EXISTS (SELECT 1 FROM posts WHERE id = ?)
			ON CONFLICT(post_id, referenced_post_id, reference_type) DO UPDATE SET
				depth = MIN(post_references.depth, excluded.depth)
		`, e.PostID, e.ReferencedPostID, e.Type, e.Depth, e.PostID, e.ReferencedPostID)
		if err != nil {
			return written, fmt.Errorf("failed to upsert edge %s -> %s: %w", e.PostID, e.ReferencedPostID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			written++
		}
	}
	return written, nil
}
