package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"
)

// pollingSource detects changes by comparing periodic snapshots of the
// tree. Used where fsnotify is unavailable (inotify limits, network mounts).
type pollingSource struct {
	root     string
	interval time.Duration
	filter   *pathFilter
	state    map[string]fileSnapshot
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// newPollingSource takes the baseline snapshot: files present when the
// source is created are not reported.
func newPollingSource(root string, interval time.Duration, filter *pathFilter) *pollingSource {
	p := &pollingSource{
		root:     root,
		interval: interval,
		filter:   filter,
	}
	p.state = p.snapshot()
	return p
}

func (p *pollingSource) mode() string { return "polling" }

func (p *pollingSource) close() error { return nil }

func (p *pollingSource) run(ctx context.Context, out chan<- FileEvent) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, ev := range p.diff(p.snapshot()) {
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (p *pollingSource) snapshot() map[string]fileSnapshot {
	current := make(map[string]fileSnapshot)
	_ = filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p.filter.skip(path, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		current[path] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	return current
}

// diff returns the events between the stored state and current, then
// stores current.
func (p *pollingSource) diff(current map[string]fileSnapshot) []FileEvent {
	now := time.Now()
	var events []FileEvent

	for path, snap := range current {
		prev, existed := p.state[path]
		switch {
		case !existed:
			events = append(events, FileEvent{Path: path, Operation: OpCreate, Timestamp: now})
		case prev != snap:
			events = append(events, FileEvent{Path: path, Operation: OpModify, Timestamp: now})
		}
	}
	for path := range p.state {
		if _, ok := current[path]; !ok {
			events = append(events, FileEvent{Path: path, Operation: OpDelete, Timestamp: now})
		}
	}

	p.state = current
	return events
}
