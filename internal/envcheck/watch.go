package envcheck

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch runs Check once, then again every time the .env file in dir is
// created, written, renamed or removed. It returns when ctx is done.
// The directory is watched rather than the file so that editors that
// replace the file on save are still tracked.
func Watch(ctx context.Context, dir string, fn func(Result)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	fn(Check(dir))

	const relevant = fsnotify.Create | fsnotify.Write | fsnotify.Rename | fsnotify.Remove

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != EnvFileName || !ev.Op.Has(relevant) {
				continue
			}
			fn(Check(dir))
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", dir, werr)
		}
	}
}
