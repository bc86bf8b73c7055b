package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fsnotifySource watches every directory of the tree with fsnotify and
// adds directories created later.
type fsnotifySource struct {
	root      string
	filter    *pathFilter
	fsWatcher *fsnotify.Watcher
}

func newFsnotifySource(root string, filter *pathFilter) (*fsnotifySource, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	s := &fsnotifySource{root: root, filter: filter, fsWatcher: fsw}
	if err := s.addRecursive(root, nil); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("add directories to watcher: %w", err)
	}
	return s, nil
}

func (s *fsnotifySource) mode() string { return "fsnotify" }

func (s *fsnotifySource) run(ctx context.Context, out chan<- FileEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-s.fsWatcher.Events:
			if !ok {
				return nil
			}
			s.handle(ctx, event, out)
		case err, ok := <-s.fsWatcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("fsnotify error", slog.String("error", err.Error()))
		}
	}
}

func (s *fsnotifySource) handle(ctx context.Context, event fsnotify.Event, out chan<- FileEvent) {
	emit := func(path string, op Operation) {
		select {
		case out <- FileEvent{Path: path, Operation: op, Timestamp: time.Now()}:
		case <-ctx.Done():
		}
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		info, err := os.Lstat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if s.filter.skip(event.Name, true) {
				return
			}
			// Files may land in a new directory before it is watched.
			_ = s.addRecursive(event.Name, func(path string) { emit(path, OpCreate) })
			return
		}
		emit(event.Name, OpCreate)
	case event.Op&fsnotify.Write != 0:
		emit(event.Name, OpModify)
	case event.Op&fsnotify.Remove != 0:
		emit(event.Name, OpDelete)
	case event.Op&fsnotify.Rename != 0:
		emit(event.Name, OpRename)
	}
}

// addRecursive watches dir and its subdirectories. onFile, when set, is
// called for every file found.
func (s *fsnotifySource) addRecursive(dir string, onFile func(string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if onFile != nil && d.Type().IsRegular() {
				onFile(path)
			}
			return nil
		}
		if s.filter.skip(path, true) {
			return filepath.SkipDir
		}
		if err := s.fsWatcher.Add(path); err != nil {
			if path == s.root {
				return err
			}
			slog.Warn("cannot watch directory", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	})
}

func (s *fsnotifySource) close() error {
	return s.fsWatcher.Close()
}
