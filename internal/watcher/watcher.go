package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/docindex/internal/ignore"
)

var (
	// ErrRootNotFound is returned by Start when the root directory is missing.
	ErrRootNotFound = errors.New("watch root not found")

	// ErrNilHandler is returned by New when no ready handler is given.
	ErrNilHandler = errors.New("ready handler is nil")
)

// DefaultExtensions are the file types watched by default.
var DefaultExtensions = []string{
	".pdf", ".png", ".jpg", ".jpeg", ".tiff", ".tif",
	".txt", ".doc", ".docx", ".xls", ".xlsx",
}

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was written.
	OpModify
	// OpDelete indicates a file was removed.
	OpDelete
	// OpRename indicates a file was moved away from Path.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a raw event produced by a source.
type FileEvent struct {
	// Path is absolute.
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Handler is called once for every file that has settled.
type Handler func(ctx context.Context, path string) error

// Options configures the watcher.
type Options struct {
	// DebounceWindow is the quiet period before a file is considered ready.
	DebounceWindow time.Duration

	// SweepInterval is how often pending files are checked.
	SweepInterval time.Duration

	// PollInterval is the scan interval of the polling fallback.
	PollInterval time.Duration

	// EventBufferSize is the capacity of the source-to-sweep channel.
	EventBufferSize int

	// Extensions lists the watched file extensions, lower case with dot.
	Extensions []string

	// ForcePolling skips fsnotify.
	ForcePolling bool

	// IgnorePatterns exclude paths in .gitignore syntax, before the
	// patterns of the root's ignore file. Nil means DefaultIgnorePatterns.
	IgnorePatterns []string
}

// DefaultIgnorePatterns skip the scratch and lock files office suites
// leave next to open documents.
var DefaultIgnorePatterns = []string{"~$*", "*.tmp", "*.bak", "Thumbs.db", ".~lock.*#"}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  2 * time.Second,
		SweepInterval:   500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 1000,
		Extensions:      DefaultExtensions,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = defaults.SweepInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if len(o.Extensions) == 0 {
		o.Extensions = defaults.Extensions
	}
	if o.IgnorePatterns == nil {
		o.IgnorePatterns = DefaultIgnorePatterns
	}
	return o
}

// source produces raw file events for a directory tree until ctx is done.
type source interface {
	run(ctx context.Context, out chan<- FileEvent) error
	close() error
	mode() string
}

// Watcher watches a directory tree and calls its Handler for settled files.
type Watcher struct {
	handler Handler
	opts    Options
	exts    map[string]bool

	mu      sync.Mutex
	running bool
	root    string
	filter  *pathFilter
	src     source
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a watcher. Start must be called to begin watching.
func New(handler Handler, opts Options) (*Watcher, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	opts = opts.WithDefaults()

	exts := make(map[string]bool, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}

	return &Watcher{handler: handler, opts: opts, exts: exts}, nil
}

// Supported reports whether path has a watched extension.
func (w *Watcher) Supported(path string) bool {
	return w.exts[strings.ToLower(filepath.Ext(path))]
}

// Start begins watching root recursively and returns immediately.
// Calling Start while already watching is a no-op.
func (w *Watcher) Start(ctx context.Context, root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		slog.Debug("watcher already running", slog.String("root", w.root))
		return nil
	}

	absRoot, err := checkRoot(root)
	if err != nil {
		slog.Error("cannot watch directory", slog.String("root", root), slog.String("error", err.Error()))
		return err
	}

	filter := w.newFilter(absRoot)
	src, err := w.newSource(absRoot, filter)
	if err != nil {
		return err
	}
	w.filter = filter

	runCtx, cancel := context.WithCancel(ctx)
	events := make(chan FileEvent, w.opts.EventBufferSize)

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		if err := src.run(runCtx, events); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("watch source stopped", slog.String("error", err.Error()))
		}
	}()
	go func() {
		defer w.wg.Done()
		w.sweepLoop(runCtx, events)
	}()

	w.running = true
	w.root = absRoot
	w.src = src
	w.cancel = cancel

	slog.Info("watching directory",
		slog.String("root", absRoot),
		slog.String("mode", src.mode()),
		slog.Duration("debounce", w.opts.DebounceWindow))
	return nil
}

func checkRoot(root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrRootNotFound, absRoot)
	}
	return absRoot, nil
}

func (w *Watcher) newSource(root string, filter *pathFilter) (source, error) {
	if !w.opts.ForcePolling {
		src, err := newFsnotifySource(root, filter)
		if err == nil {
			return src, nil
		}
		slog.Warn("fsnotify unavailable, falling back to polling",
			slog.String("root", root),
			slog.String("error", err.Error()))
	}
	return newPollingSource(root, w.opts.PollInterval, filter), nil
}

// sweepLoop is the only goroutine touching the debouncer.
func (w *Watcher) sweepLoop(ctx context.Context, events <-chan FileEvent) {
	deb := NewDebouncer(w.opts.DebounceWindow)
	ticker := time.NewTicker(w.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if n := deb.Len(); n > 0 {
				slog.Debug("watcher stopped with pending files", slog.Int("pending", n))
			}
			return
		case ev := <-events:
			w.observe(deb, ev)
		case now := <-ticker.C:
			for _, path := range deb.Due(now) {
				if ctx.Err() != nil {
					return
				}
				w.promote(ctx, path)
			}
		}
	}
}

func (w *Watcher) observe(deb *Debouncer, ev FileEvent) {
	if !w.Supported(ev.Path) || w.filter.skip(ev.Path, false) {
		return
	}

	switch ev.Operation {
	case OpCreate, OpModify:
		deb.Observe(ev.Path, ev.Timestamp)
	case OpDelete:
		slog.Info("file deleted", slog.String("path", ev.Path))
	case OpRename:
		slog.Info("file moved away", slog.String("path", ev.Path))
	}
}

// promote hands a settled path to the handler. Handler errors and panics
// are logged and never stop the sweep.
func (w *Watcher) promote(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		slog.Debug("settled file no longer exists", slog.String("path", path))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("file handler panicked",
				slog.String("path", path),
				slog.Any("panic", r))
		}
	}()

	slog.Info("file ready", slog.String("path", path))
	if err := w.handler(ctx, path); err != nil {
		slog.Error("file handler failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

// Stop stops watching and waits for the source and sweep goroutines to
// exit. Safe to call when not started.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.cancel()
	err := w.src.close()
	w.wg.Wait()

	slog.Info("stopped watching", slog.String("root", w.root))
	w.running = false
	w.src = nil
	w.cancel = nil
	return err
}

// IsWatching reports whether Start has been called without a matching Stop.
func (w *Watcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Mode returns "fsnotify", "polling", or "" when not watching.
func (w *Watcher) Mode() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.src == nil {
		return ""
	}
	return w.src.mode()
}

// Root returns the watched directory, or "" when not watching.
func (w *Watcher) Root() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return ""
	}
	return w.root
}

// ScanExisting calls the handler for every supported regular file under
// root, without debouncing, and returns how many files were handed over.
// Handler errors are logged; the walk continues.
func (w *Watcher) ScanExisting(ctx context.Context, root string) (int, error) {
	files, err := w.ListFiles(root)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		w.promote(ctx, path)
		count++
	}

	slog.Info("scanned existing files", slog.String("root", root), slog.Int("files", count))
	return count, nil
}

// ListFiles returns every supported regular file under root, sorted.
// Hidden directories, ignored paths and symlinks are skipped.
func (w *Watcher) ListFiles(root string) ([]string, error) {
	absRoot, err := checkRoot(root)
	if err != nil {
		return nil, err
	}
	filter := w.newFilter(absRoot)

	var files []string
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("skipping unreadable path", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() {
			if filter.skip(path, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && w.Supported(path) && !filter.skip(path, false) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", absRoot, err)
	}
	return files, nil
}

// pathFilter excludes hidden directories and paths matched by the ignore
// patterns. The root's ignore file is read once, when the filter is made.
type pathFilter struct {
	root    string
	matcher *ignore.Matcher
}

func (w *Watcher) newFilter(root string) *pathFilter {
	m := ignore.New(w.opts.IgnorePatterns...)
	if err := m.AddFile(filepath.Join(root, ignore.FileName)); err != nil {
		slog.Warn("ignore file not loaded", slog.String("root", root), slog.String("error", err.Error()))
	}
	return &pathFilter{root: root, matcher: m}
}

// skip reports whether path is excluded. The root itself never is.
func (f *pathFilter) skip(path string, isDir bool) bool {
	if path == f.root {
		return false
	}
	if isDir && strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	rel, err := filepath.Rel(f.root, path)
	if err != nil {
		return false
	}
	return f.matcher.Match(rel, isDir)
}
