package usageindex

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/codeinterfacex/core/internal/logger"
)

// WatchAndSync watches the transcripts root for changes and triggers a
// debounced Sync on activity, until ctx is cancelled. Bursts of writes
// within one transcript (every assistant turn appends a line) are coalesced
// by a rate limiter rather than firing a sync per fsnotify event.
func (idx *Indexer) WatchAndSync(ctx context.Context, minInterval rate.Limit) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addRecursiveWatches(watcher, idx.transcriptsRoot); err != nil {
		logger.Warn("usage index watch setup failed, falling back to no live watch", "error", err)
		return err
	}

	limiter := rate.NewLimiter(minInterval, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !limiter.Allow() {
				continue
			}
			idx.triggerSync()
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("usage index watcher error", "error", werr)
		}
	}
}

func (idx *Indexer) triggerSync() {
	if !idx.TryStart() {
		return
	}
	go func() {
		if _, err := idx.Sync(); err != nil {
			logger.Warn("background usage index sync failed", "error", err)
		}
	}()
}

func addRecursiveWatches(watcher *fsnotify.Watcher, root string) error {
	if _, err := os.Stat(root); err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
