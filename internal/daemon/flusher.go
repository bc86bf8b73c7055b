package daemon

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Flushable persists buffered index state. Implemented by store.Store,
// whose Flush also compacts the vector graph.
type Flushable interface {
	Flush() error
}

// Flusher saves the store once indexing has been idle for a while, so a
// burst of file events costs one save instead of one per file. A steady
// stream of changes still flushes at least every maxDelay.
type Flusher struct {
	target   Flushable
	idle     time.Duration
	maxDelay time.Duration

	mu         sync.Mutex
	timer      *time.Timer
	firstDirty time.Time
	stopped    bool

	flushMu sync.Mutex
	wg      sync.WaitGroup
	flushes atomic.Int64
}

// NewFlusher creates a Flusher. Non-positive durations default to 5s idle
// and a 30s ceiling.
func NewFlusher(target Flushable, idle, maxDelay time.Duration) *Flusher {
	if idle <= 0 {
		idle = 5 * time.Second
	}
	if maxDelay < idle {
		maxDelay = 30 * time.Second
		if maxDelay < idle {
			maxDelay = idle
		}
	}
	return &Flusher{target: target, idle: idle, maxDelay: maxDelay}
}

// Touch records a change and restarts the idle timer.
func (f *Flusher) Touch(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}

	now := time.Now()
	if f.firstDirty.IsZero() {
		f.firstDirty = now
	}
	delay := f.idle
	if remaining := f.maxDelay - now.Sub(f.firstDirty); remaining < delay {
		delay = max(remaining, 0)
	}

	if f.timer == nil {
		f.timer = time.AfterFunc(delay, f.fire)
		return
	}
	f.timer.Stop()
	f.timer.Reset(delay)
}

func (f *Flusher) fire() {
	f.mu.Lock()
	if f.stopped || f.firstDirty.IsZero() {
		f.mu.Unlock()
		return
	}
	dirtyFor := time.Since(f.firstDirty)
	f.firstDirty = time.Time{}
	f.wg.Add(1)
	f.mu.Unlock()
	defer f.wg.Done()

	f.flush(dirtyFor)
}

func (f *Flusher) flush(dirtyFor time.Duration) {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	start := time.Now()
	if err := f.target.Flush(); err != nil {
		slog.Warn("index flush failed", slog.String("error", err.Error()))
		return
	}
	f.flushes.Add(1)
	slog.Debug("index flushed",
		slog.Duration("dirty_for", dirtyFor),
		slog.Duration("duration", time.Since(start)))
}

// Flushes returns how many flushes succeeded.
func (f *Flusher) Flushes() int64 {
	return f.flushes.Load()
}

// Stop cancels the timer, waits for a running flush and flushes pending
// changes once more. Later Touch calls are ignored.
func (f *Flusher) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	if f.timer != nil {
		f.timer.Stop()
	}
	pending := !f.firstDirty.IsZero()
	var dirtyFor time.Duration
	if pending {
		dirtyFor = time.Since(f.firstDirty)
	}
	f.firstDirty = time.Time{}
	f.mu.Unlock()

	f.wg.Wait()
	if pending {
		f.flush(dirtyFor)
	}
}
