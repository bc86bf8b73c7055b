package watcher

import (
	"sort"
	"time"
)

// Debouncer tracks when each path last changed. It is not safe for
// concurrent use: the sweep goroutine is its only owner.
type Debouncer struct {
	window  time.Duration
	pending map[string]time.Time
}

// NewDebouncer creates a debouncer that promotes paths quiet for window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]time.Time),
	}
}

// Observe records an event for path at t, creating or refreshing its entry.
func (d *Debouncer) Observe(path string, t time.Time) {
	d.pending[path] = t
}

// Due removes and returns, sorted, every path whose last event is at least
// one window before now.
func (d *Debouncer) Due(now time.Time) []string {
	var ready []string
	for path, last := range d.pending {
		if now.Sub(last) >= d.window {
			ready = append(ready, path)
			delete(d.pending, path)
		}
	}
	sort.Strings(ready)
	return ready
}

// Len returns the number of pending paths.
func (d *Debouncer) Len() int {
	return len(d.pending)
}
