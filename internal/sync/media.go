package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/xstash/xstash/internal/media"
	"github.com/xstash/xstash/internal/schema"
	"github.com/xstash/xstash/internal/store"
)

// mediaSaver downloads media bytes for rows already in the store.
type mediaSaver struct {
	db     *store.DB
	dl     Downloader
	root   string
	logger *log.Logger
}

// SaveMedia implements quotes.MediaSaver.
//
// The stored local_path wins over the computed one so a path upgraded by
// an earlier Content-Type rename is reused. Items already on disk or
// without a URL are left alone. Skippable download failures are logged
// and counted; anything else aborts.
func (m *mediaSaver) SaveMedia(ctx context.Context, items []schema.Media) (int, error) {
	skipped := 0
	for i := range items {
		item := &items[i]
		target := media.Resolve(m.root, item)

		localPath, err := store.MediaLocalPath(ctx, m.db.RawDB(), item.MediaKey)
		if errors.Is(err, store.ErrNotFound) {
			localPath = target.LocalPath
		} else if err != nil {
			return skipped, err
		}

		if info, err := os.Stat(localPath); err == nil && info.Mode().IsRegular() {
			continue
		} else if err != nil && !os.IsNotExist(err) {
			return skipped, fmt.Errorf("failed to stat %s: %w", localPath, err)
		}

		if target.URL == "" {
			continue
		}

		res, err := m.dl.Download(ctx, target.URL, localPath)
		if err != nil {
			if media.IsSkippable(err) {
				skipped++
				m.logger.Printf("Warning: skipped media download (%s) %s: %v", item.MediaKey, target.URL, err)
				continue
			}
			return skipped, fmt.Errorf("failed to download media %s: %w", item.MediaKey, err)
		}

		if res.Downloaded && res.ActualPath != localPath {
			if err := store.SetMediaLocalPath(ctx, m.db.RawDB(), item.MediaKey, res.ActualPath); err != nil {
				return skipped, err
			}
		}
	}
	return skipped, nil
}
