// Package ingest drives the write path: it watches a document tree, turns
// settled files into page records and replaces their pages in the store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Aman-CERP/docindex/internal/async"
	docerrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/record"
	"github.com/Aman-CERP/docindex/internal/store"
	"github.com/Aman-CERP/docindex/internal/watcher"
)

const (
	// DefaultMaxWorkers is the default size of the indexing pool.
	DefaultMaxWorkers = 2

	// DefaultMaxFileSize is the largest file that will be indexed.
	DefaultMaxFileSize int64 = 100 << 20
)

var (
	// ErrNilDependency is returned when a required collaborator is nil.
	ErrNilDependency = errors.New("required dependency is nil")

	// ErrFileTooLarge is returned for files above the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("coordinator is closed")
)

// Builder turns a file into page records.
type Builder interface {
	Build(ctx context.Context, path string, opts record.Options) ([]store.Page, error)
}

// FileOptions carries caller metadata for one file.
type FileOptions struct {
	Division string
	UserID   string
	Language string
}

// Config configures a Coordinator.
type Config struct {
	// MaxWorkers bounds concurrent indexing. 0 runs every job synchronously
	// on the caller's goroutine.
	MaxWorkers int

	// MaxFileSize skips larger files. 0 means DefaultMaxFileSize.
	MaxFileSize int64

	// Watch configures the directory watcher.
	Watch watcher.Options

	// OnChange, if set, is called after the pages of a file were replaced
	// or removed.
	OnChange func(path string)
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  DefaultMaxWorkers,
		MaxFileSize: DefaultMaxFileSize,
		Watch:       watcher.DefaultOptions(),
	}
}

// Status is a point-in-time view of the write path.
type Status struct {
	StoreConnected bool                `json:"store_connected"`
	Store          store.Stats         `json:"collection_stats"`
	StoreError     string              `json:"store_error,omitempty"`
	WatcherActive  bool                `json:"watcher_active"`
	WatchRoot      string              `json:"watch_root,omitempty"`
	WatchMode      string              `json:"watch_mode,omitempty"`
	FilesIndexed   int64               `json:"files_indexed"`
	PagesIndexed   int64               `json:"pages_indexed"`
	Failures       int64               `json:"failures"`
	InFlight       int64               `json:"in_flight"`
	LastIndexedAt  *time.Time          `json:"last_indexed_at,omitempty"`
	ActiveJobs     int                 `json:"active_jobs"`
	Jobs           []async.JobSnapshot `json:"jobs,omitempty"`
}

// Coordinator serialises indexing per file path and runs jobs on a
// bounded worker pool.
type Coordinator struct {
	builder Builder
	store   store.PageStore
	watcher *watcher.Watcher
	pool    *ants.Pool
	locks   *pathLocks
	jobs    *async.Tracker
	cfg     Config

	// jobs outlive the request that queued them; Close cancels them.
	jobCtx    context.Context
	cancelJob context.CancelFunc
	inflight  sync.WaitGroup
	closed    atomic.Bool
	// closeMu orders inflight.Add against Close: track holds it for
	// reading, Close for writing while it marks the coordinator closed.
	closeMu sync.RWMutex

	filesIndexed atomic.Int64
	pagesIndexed atomic.Int64
	failures     atomic.Int64
	running      atomic.Int64
	lastIndexed  atomic.Int64
}

// New creates a Coordinator.
func New(builder Builder, pages store.PageStore, cfg Config) (*Coordinator, error) {
	if builder == nil || pages == nil {
		return nil, ErrNilDependency
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.MaxWorkers < 0 {
		cfg.MaxWorkers = 0
	}

	c := &Coordinator{
		builder: builder,
		store:   pages,
		locks:   newPathLocks(),
		jobs:    async.NewTracker(async.DefaultMaxFinished),
		cfg:     cfg,
	}
	c.jobCtx, c.cancelJob = context.WithCancel(context.Background())

	if cfg.MaxWorkers > 0 {
		pool, err := ants.NewPool(cfg.MaxWorkers, ants.WithPanicHandler(func(p interface{}) {
			slog.Error("indexing job panicked", slog.Any("panic", p))
		}))
		if err != nil {
			return nil, fmt.Errorf("create worker pool: %w", err)
		}
		c.pool = pool
	}

	w, err := watcher.New(c.onFileReady, cfg.Watch)
	if err != nil {
		c.release()
		return nil, err
	}
	c.watcher = w

	return c, nil
}

// onFileReady is the watcher callback for settled files.
func (c *Coordinator) onFileReady(_ context.Context, path string) error {
	return c.Enqueue(path, FileOptions{})
}

// IndexFile indexes one file now and returns the number of pages stored.
// Existing pages of the file are replaced. Symlinks are skipped with 0 pages.
func (c *Coordinator) IndexFile(ctx context.Context, path string, opts FileOptions) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}

	absPath, err := c.checkFile(path)
	if err != nil || absPath == "" {
		return 0, err
	}

	unlock := c.locks.lock(absPath)
	defer unlock()

	c.running.Add(1)
	defer c.running.Add(-1)

	start := time.Now()
	pages, err := c.builder.Build(ctx, absPath, record.Options{
		Division: opts.Division,
		UserID:   opts.UserID,
		Language: opts.Language,
	})
	if err != nil {
		c.failures.Add(1)
		return 0, docerrors.New(docerrors.ErrCodeIndexFailed, "failed to index "+absPath, err).
			WithDetail("path", absPath)
	}

	deleted, err := c.store.DeleteByFilePath(ctx, absPath)
	if err != nil {
		c.failures.Add(1)
		return 0, fmt.Errorf("delete previous pages of %s: %w", absPath, err)
	}

	inserted := 0
	if len(pages) > 0 {
		inserted, err = c.store.Insert(ctx, pages)
		if err != nil {
			c.failures.Add(1)
			return 0, fmt.Errorf("insert pages of %s: %w", absPath, err)
		}
	}

	c.filesIndexed.Add(1)
	c.pagesIndexed.Add(int64(inserted))
	c.lastIndexed.Store(time.Now().Unix())
	c.changed(absPath)

	slog.Info("indexed file",
		slog.String("path", absPath),
		slog.Int("pages", inserted),
		slog.Int("replaced", deleted),
		slog.Duration("duration", time.Since(start)))
	return inserted, nil
}

// checkFile validates path and returns its absolute form. An empty path
// with a nil error means the file is skipped.
func (c *Coordinator) checkFile(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", docerrors.New(docerrors.ErrCodeInvalidPath, "invalid path: "+path, err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", docerrors.FileNotFound(absPath)
		}
		return "", fmt.Errorf("stat %s: %w", absPath, err)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		slog.Debug("skipping symlink", slog.String("path", absPath))
		return "", nil
	case info.IsDir():
		return "", docerrors.New(docerrors.ErrCodeInvalidPath, "path is a directory: "+absPath, nil)
	case !c.watcher.Supported(absPath):
		return "", docerrors.UnsupportedFormat(absPath)
	case info.Size() > c.cfg.MaxFileSize:
		slog.Warn("skipping large file",
			slog.String("path", absPath),
			slog.Int64("size", info.Size()),
			slog.Int64("max", c.cfg.MaxFileSize))
		return "", docerrors.New(docerrors.ErrCodeFileTooLarge,
			fmt.Sprintf("file exceeds %d bytes: %s", c.cfg.MaxFileSize, absPath), ErrFileTooLarge)
	}
	return absPath, nil
}

// Enqueue schedules path for indexing on the worker pool and returns once
// it is queued. Failures are logged. With no pool the file is indexed
// before Enqueue returns.
func (c *Coordinator) Enqueue(path string, opts FileOptions) error {
	return c.enqueue(path, opts, nil)
}

// enqueue queues path and reports its outcome to job when set.
func (c *Coordinator) enqueue(path string, opts FileOptions, job *async.Job) error {
	run := func() {
		defer c.inflight.Done()
		n, err := c.IndexFile(c.jobCtx, path, opts)
		if err != nil {
			slog.Error("indexing failed", append([]any{slog.String("path", path)}, attrsOf(err)...)...)
		}
		if job != nil {
			job.FileDone(n, err)
		}
	}

	if !c.track() {
		return ErrClosed
	}
	if c.pool == nil {
		run()
		return nil
	}
	if err := c.pool.Submit(run); err != nil {
		c.inflight.Done()
		return fmt.Errorf("submit %s: %w", path, err)
	}
	return nil
}

// track registers one in-flight task unless the coordinator is closed.
// Once Close has marked it closed no new task can start, so Close's wait
// covers every task.
func (c *Coordinator) track() bool {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed.Load() {
		return false
	}
	c.inflight.Add(1)
	return true
}

func attrsOf(err error) []any {
	attrs := docerrors.LogAttrs(err)
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}

// RemoveFile deletes every page of path and returns how many were removed.
func (c *Coordinator) RemoveFile(ctx context.Context, path string) (int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, docerrors.New(docerrors.ErrCodeInvalidPath, "invalid path: "+path, err)
	}

	unlock := c.locks.lock(absPath)
	defer unlock()

	deleted, err := c.store.DeleteByFilePath(ctx, absPath)
	if err != nil {
		return 0, fmt.Errorf("remove %s: %w", absPath, err)
	}
	if deleted > 0 {
		c.changed(absPath)
	}
	slog.Info("removed file from index", slog.String("path", absPath), slog.Int("pages", deleted))
	return deleted, nil
}

func (c *Coordinator) changed(path string) {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(path)
	}
}

// IndexDirectory queues every supported file under root as one job and
// returns its initial state. Indexing continues in the background; the
// job's progress is available from Job.
func (c *Coordinator) IndexDirectory(ctx context.Context, root string, opts FileOptions) (async.JobSnapshot, error) {
	if c.closed.Load() {
		return async.JobSnapshot{}, ErrClosed
	}

	files, err := c.ListFiles(root)
	if err != nil {
		return async.JobSnapshot{}, err
	}

	if !c.track() {
		return async.JobSnapshot{}, ErrClosed
	}
	job := c.jobs.Start(root, opts.Division, len(files))
	snap := job.Snapshot()

	go func() {
		defer c.inflight.Done()
		for _, path := range files {
			if c.jobCtx.Err() != nil {
				job.Cancel("indexing stopped")
				return
			}
			if err := c.enqueue(path, opts, job); err != nil {
				job.Cancel(err.Error())
				slog.Warn("stopped queueing directory",
					slog.String("root", root),
					slog.String("job", job.ID()),
					slog.String("error", err.Error()))
				return
			}
		}
		slog.Info("queued directory",
			slog.String("root", root),
			slog.String("job", job.ID()),
			slog.Int("files", len(files)))
	}()

	return snap, nil
}

// Job returns the progress of a directory job started by IndexDirectory.
func (c *Coordinator) Job(id string) (async.JobSnapshot, bool) {
	return c.jobs.Get(id)
}

// ListFiles returns the supported files under root in lexical order.
func (c *Coordinator) ListFiles(root string) ([]string, error) {
	files, err := c.watcher.ListFiles(root)
	if err != nil {
		if errors.Is(err, watcher.ErrRootNotFound) {
			return nil, docerrors.New(docerrors.ErrCodeFileNotFound, "directory not found: "+root, err)
		}
		return nil, err
	}
	return files, nil
}

// StartWatching begins watching root. See watcher.Watcher.Start.
func (c *Coordinator) StartWatching(ctx context.Context, root string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.watcher.Start(ctx, root)
}

// StopWatching stops the watcher and waits for queued indexing to finish.
func (c *Coordinator) StopWatching() error {
	err := c.watcher.Stop()
	c.inflight.Wait()
	return err
}

// ScanExisting queues every supported file under root and returns the count.
func (c *Coordinator) ScanExisting(ctx context.Context, root string) (int, error) {
	return c.watcher.ScanExisting(ctx, root)
}

// IsWatching reports whether the watcher is running.
func (c *Coordinator) IsWatching() bool {
	return c.watcher.IsWatching()
}

// Wait blocks until every queued job has finished.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

// Status reports store and watcher state. A store error is reported in
// the result, not returned.
func (c *Coordinator) Status(ctx context.Context) Status {
	st := Status{
		WatcherActive: c.watcher.IsWatching(),
		WatchRoot:     c.watcher.Root(),
		WatchMode:     c.watcher.Mode(),
		FilesIndexed:  c.filesIndexed.Load(),
		PagesIndexed:  c.pagesIndexed.Load(),
		Failures:      c.failures.Load(),
		InFlight:      c.running.Load(),
		ActiveJobs:    c.jobs.Active(),
		Jobs:          c.jobs.List(),
	}
	if ts := c.lastIndexed.Load(); ts > 0 {
		t := time.Unix(ts, 0)
		st.LastIndexedAt = &t
	}

	stats, err := c.store.Stats(ctx)
	if err != nil {
		st.StoreError = err.Error()
		return st
	}
	st.StoreConnected = true
	st.Store = stats
	return st
}

// Close stops watching, waits for in-flight jobs and releases the pool.
// The store is not closed.
func (c *Coordinator) Close() error {
	c.closeMu.Lock()
	first := c.closed.CompareAndSwap(false, true)
	c.closeMu.Unlock()
	if !first {
		return nil
	}

	err := c.watcher.Stop()
	c.inflight.Wait()
	c.cancelJob()
	c.jobs.CancelRunning("coordinator closed")
	c.release()
	return err
}

func (c *Coordinator) release() {
	if c.pool != nil {
		c.pool.Release()
	}
}
