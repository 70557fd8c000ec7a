package library

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"gatesmith/internal/storage"
)

var ErrWatchUnsupported = errors.New("library store does not support watching")

// Watch reloads the library whenever another process rewrites the index
// file. It blocks until ctx is done. onReload, when non-nil, is called after
// each reload attempt.
func (l *Library) Watch(ctx context.Context, onReload func(error)) error {
	rooted, ok := l.store.(storage.Rooted)
	if !ok {
		return ErrWatchUnsupported
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating library watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(rooted.Root()); err != nil {
		return fmt.Errorf("watching %s: %w", rooted.Root(), err)
	}
	indexPath := filepath.Clean(rooted.IndexPath())
	l.logger.Info("watching library", "path", indexPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != indexPath {
				continue
			}
			// The index is replaced by rename, so a Create is as good as a Write.
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			err := l.Reload(ctx)
			if err != nil {
				l.logger.Warn("library reload failed", "error", err)
			}
			if onReload != nil {
				onReload(err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("library watcher error", "error", err)
		}
	}
}
