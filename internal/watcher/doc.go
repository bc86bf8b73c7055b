// Package watcher reports files that have stopped changing.
//
// A source goroutine (fsnotify, or polling where fsnotify is unavailable)
// feeds raw events into a buffered channel. A single sweep goroutine owns
// the pending map: each create or modify refreshes a path's last event
// time, and every sweep interval paths that have been quiet for the
// debounce window are handed to the ready handler, provided they still
// exist. Deletions and renames are only logged.
//
// Usage:
//
//	w, err := watcher.New(func(ctx context.Context, path string) error {
//	    return coordinator.IndexFile(ctx, path, ingest.FileOptions{})
//	}, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	if err := w.Start(ctx, "/srv/documents"); err != nil {
//	    return err
//	}
//	defer w.Stop()
package watcher
