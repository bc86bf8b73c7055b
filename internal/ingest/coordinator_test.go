package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docerrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/record"
	"github.com/Aman-CERP/docindex/internal/store"
	"github.com/Aman-CERP/docindex/internal/watcher"
)

// fakeBuilder returns pages per file from a map, one page per entry.
type fakeBuilder struct {
	mu     sync.Mutex
	pages  map[string]int
	err    error
	delay  time.Duration
	calls  atomic.Int32
	active atomic.Int32
	peak   atomic.Int32
	opts   []record.Options
}

func (b *fakeBuilder) Build(ctx context.Context, path string, opts record.Options) ([]store.Page, error) {
	b.calls.Add(1)
	n := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	b.mu.Lock()
	b.opts = append(b.opts, opts)
	count, ok := b.pages[filepath.Base(path)]
	b.mu.Unlock()

	if b.err != nil {
		return nil, b.err
	}
	if !ok {
		count = 1
	}

	pages := make([]store.Page, count)
	for i := range pages {
		pages[i] = store.Page{
			ID:          record.PageID(path, i+1),
			Vector:      []float32{1, 0, 0, 0},
			FilePath:    path,
			FileName:    filepath.Base(path),
			PageNumber:  i + 1,
			TotalPages:  count,
			IsFirstPage: i == 0,
			IsLastPage:  i == count-1,
			Division:    opts.Division,
			TextContent: fmt.Sprintf("page %d of %s", i+1, path),
		}
	}
	return pages, nil
}

func (b *fakeBuilder) setPages(name string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[name] = n
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{Dimensions: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testConfig(workers int) Config {
	cfg := DefaultConfig()
	cfg.MaxWorkers = workers
	cfg.Watch.DebounceWindow = 150 * time.Millisecond
	cfg.Watch.SweepInterval = 20 * time.Millisecond
	return cfg
}

func newTestCoordinator(t *testing.T, b *fakeBuilder, s store.PageStore, workers int) *Coordinator {
	t.Helper()
	c, err := New(b, s, testConfig(workers))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func filePages(t *testing.T, s store.PageStore, path string) []store.Page {
	t.Helper()
	pages, err := s.Query(context.Background(), store.Filter{FilePath: path}, 100)
	require.NoError(t, err)
	return pages
}

func TestNew_RejectsNilDependencies(t *testing.T) {
	_, err := New(nil, newTestStore(t), DefaultConfig())
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = New(&fakeBuilder{}, nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestIndexFile_ReindexReplacesPages(t *testing.T) {
	// Given: a file indexed with three pages
	dir := t.TempDir()
	path := writeFile(t, dir, "report.pdf", "x")
	b := &fakeBuilder{pages: map[string]int{"report.pdf": 3}}
	s := newTestStore(t)
	c := newTestCoordinator(t, b, s, 0)

	n, err := c.IndexFile(context.Background(), path, FileOptions{Division: "DEL"})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// When: the file changes to two pages and is indexed again
	b.setPages("report.pdf", 2)
	n, err = c.IndexFile(context.Background(), path, FileOptions{Division: "DEL"})

	// Then: only the two new pages remain
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	pages := filePages(t, s, path)
	assert.Len(t, pages, 2)
	for _, p := range pages {
		assert.Equal(t, 2, p.TotalPages)
	}
}

func TestIndexFile_SameContentIsIdempotent(t *testing.T) {
	// Given: a file indexed once
	dir := t.TempDir()
	path := writeFile(t, dir, "memo.txt", "x")
	b := &fakeBuilder{pages: map[string]int{"memo.txt": 2}}
	s := newTestStore(t)
	c := newTestCoordinator(t, b, s, 0)
	_, err := c.IndexFile(context.Background(), path, FileOptions{})
	require.NoError(t, err)

	// When: it is indexed again unchanged
	_, err = c.IndexFile(context.Background(), path, FileOptions{})
	require.NoError(t, err)

	// Then: the store holds the same page count
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 1, stats.Files)
}

func TestIndexFile_BuildFailureKeepsOldPages(t *testing.T) {
	// Given: a file already in the index
	dir := t.TempDir()
	path := writeFile(t, dir, "scan.pdf", "x")
	b := &fakeBuilder{pages: map[string]int{"scan.pdf": 2}}
	s := newTestStore(t)
	c := newTestCoordinator(t, b, s, 0)
	_, err := c.IndexFile(context.Background(), path, FileOptions{})
	require.NoError(t, err)

	// When: re-indexing fails
	b.err = errors.New("corrupt")
	_, err = c.IndexFile(context.Background(), path, FileOptions{})

	// Then: the error is an index failure and the old pages survive
	require.Error(t, err)
	assert.Equal(t, docerrors.ErrCodeIndexFailed, docerrors.GetCode(err))
	assert.Len(t, filePages(t, s, path), 2)
	assert.Equal(t, int64(1), c.Status(context.Background()).Failures)
}

func TestIndexFile_ZeroPagesClearsFile(t *testing.T) {
	// Given: a file with pages in the index
	dir := t.TempDir()
	path := writeFile(t, dir, "blank.pdf", "x")
	b := &fakeBuilder{pages: map[string]int{"blank.pdf": 1}}
	s := newTestStore(t)
	c := newTestCoordinator(t, b, s, 0)
	_, err := c.IndexFile(context.Background(), path, FileOptions{})
	require.NoError(t, err)

	// When: the new version yields no pages
	b.setPages("blank.pdf", 0)
	n, err := c.IndexFile(context.Background(), path, FileOptions{})

	// Then: nothing remains for the file
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, filePages(t, s, path))
}

func TestIndexFile_RejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	b := &fakeBuilder{pages: map[string]int{}}
	c := newTestCoordinator(t, b, newTestStore(t), 0)
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		_, err := c.IndexFile(ctx, filepath.Join(dir, "nope.pdf"), FileOptions{})
		assert.Equal(t, docerrors.ErrCodeFileNotFound, docerrors.GetCode(err))
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := writeFile(t, dir, "notes.md", "x")
		_, err := c.IndexFile(ctx, path, FileOptions{})
		assert.Equal(t, docerrors.ErrCodeUnsupportedFormat, docerrors.GetCode(err))
	})

	t.Run("directory", func(t *testing.T) {
		_, err := c.IndexFile(ctx, dir, FileOptions{})
		assert.Equal(t, docerrors.ErrCodeInvalidPath, docerrors.GetCode(err))
	})

	t.Run("symlink is skipped", func(t *testing.T) {
		target := writeFile(t, dir, "real.pdf", "x")
		link := filepath.Join(dir, "link.pdf")
		require.NoError(t, os.Symlink(target, link))

		n, err := c.IndexFile(ctx, link, FileOptions{})
		assert.NoError(t, err)
		assert.Zero(t, n)
	})

	assert.Zero(t, b.calls.Load())
}

func TestIndexFile_TooLarge(t *testing.T) {
	// Given: a size limit smaller than the file
	dir := t.TempDir()
	path := writeFile(t, dir, "big.txt", "0123456789")
	cfg := testConfig(0)
	cfg.MaxFileSize = 5
	b := &fakeBuilder{pages: map[string]int{}}
	c, err := New(b, newTestStore(t), cfg)
	require.NoError(t, err)
	defer c.Close()

	// When: indexing it
	_, err = c.IndexFile(context.Background(), path, FileOptions{})

	// Then: it is rejected before the builder runs
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Equal(t, docerrors.ErrCodeFileTooLarge, docerrors.GetCode(err))
	assert.Zero(t, b.calls.Load())
}

func TestIndexFile_PassesCallerMetadata(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "x")
	b := &fakeBuilder{pages: map[string]int{}}
	c := newTestCoordinator(t, b, newTestStore(t), 0)

	_, err := c.IndexFile(context.Background(), path, FileOptions{Division: "DRH", UserID: "u1", Language: "fr"})
	require.NoError(t, err)

	require.Len(t, b.opts, 1)
	assert.Equal(t, record.Options{Division: "DRH", UserID: "u1", Language: "fr"}, b.opts[0])
}

func TestEnqueue_SamePathIsSerialised(t *testing.T) {
	// Given: a pool with several workers and a slow builder
	dir := t.TempDir()
	path := writeFile(t, dir, "contract.pdf", "x")
	b := &fakeBuilder{pages: map[string]int{"contract.pdf": 2}, delay: 30 * time.Millisecond}
	s := newTestStore(t)
	c := newTestCoordinator(t, b, s, 4)

	// When: the same file is queued repeatedly
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Enqueue(path, FileOptions{}))
	}
	c.Wait()

	// Then: builds never overlapped and exactly one copy of the pages is stored
	assert.Equal(t, int32(5), b.calls.Load())
	assert.Equal(t, int32(1), b.peak.Load())
	assert.Len(t, filePages(t, s, path), 2)
}

func TestEnqueue_DistinctPathsRunConcurrently(t *testing.T) {
	dir := t.TempDir()
	b := &fakeBuilder{pages: map[string]int{}, delay: 50 * time.Millisecond}
	c := newTestCoordinator(t, b, newTestStore(t), 2)

	require.NoError(t, c.Enqueue(writeFile(t, dir, "a.pdf", "x"), FileOptions{}))
	require.NoError(t, c.Enqueue(writeFile(t, dir, "b.pdf", "x"), FileOptions{}))
	c.Wait()

	assert.Equal(t, int32(2), b.peak.Load())
}

func TestEnqueue_AfterCloseFails(t *testing.T) {
	b := &fakeBuilder{pages: map[string]int{}}
	c, err := New(b, newTestStore(t), testConfig(1))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Enqueue("/tmp/x.pdf", FileOptions{}), ErrClosed)
	_, err = c.IndexFile(context.Background(), "/tmp/x.pdf", FileOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, c.Close())
}

func TestClose_ConcurrentWithQueueing(t *testing.T) {
	// Given: callers queueing files and directories while the coordinator closes
	dir := t.TempDir()
	for i := 0; i < 8; i++ {
		writeFile(t, dir, fmt.Sprintf("doc-%d.pdf", i), "x")
	}
	b := &fakeBuilder{pages: map[string]int{}, delay: time.Millisecond}
	c, err := New(b, newTestStore(t), testConfig(2))
	require.NoError(t, err)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 50; j++ {
				if err := c.Enqueue(filepath.Join(dir, "doc-0.pdf"), FileOptions{}); err != nil {
					assert.ErrorIs(t, err, ErrClosed)
				}
			}
		}()
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 10; j++ {
				if _, err := c.IndexDirectory(context.Background(), dir, FileOptions{}); err != nil {
					assert.ErrorIs(t, err, ErrClosed)
				}
			}
		}()
	}

	// When: Close runs in the middle of the queueing
	close(start)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.Close())
	afterClose := b.calls.Load()

	// Then: nothing was building once Close returned and nothing starts later
	assert.Zero(t, b.active.Load())
	wg.Wait()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, afterClose, b.calls.Load())
	assert.ErrorIs(t, c.Enqueue(filepath.Join(dir, "doc-1.pdf"), FileOptions{}), ErrClosed)
}

func TestRemoveFile(t *testing.T) {
	// Given: two indexed files
	dir := t.TempDir()
	keep := writeFile(t, dir, "keep.pdf", "x")
	drop := writeFile(t, dir, "drop.pdf", "x")
	b := &fakeBuilder{pages: map[string]int{"keep.pdf": 1, "drop.pdf": 3}}
	s := newTestStore(t)
	c := newTestCoordinator(t, b, s, 0)
	for _, p := range []string{keep, drop} {
		_, err := c.IndexFile(context.Background(), p, FileOptions{})
		require.NoError(t, err)
	}

	// When: one is removed
	n, err := c.RemoveFile(context.Background(), drop)

	// Then: only its pages are gone
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, filePages(t, s, drop))
	assert.Len(t, filePages(t, s, keep), 1)
}

func TestOnChange_CalledForWrites(t *testing.T) {
	// Given: a coordinator reporting changes
	dir := t.TempDir()
	path := writeFile(t, dir, "a.pdf", "x")
	var mu sync.Mutex
	var changed []string
	cfg := testConfig(0)
	cfg.OnChange = func(p string) {
		mu.Lock()
		defer mu.Unlock()
		changed = append(changed, p)
	}
	c, err := New(&fakeBuilder{pages: map[string]int{}}, newTestStore(t), cfg)
	require.NoError(t, err)
	defer c.Close()

	// When: the file is indexed, removed, then removed again
	_, err = c.IndexFile(context.Background(), path, FileOptions{})
	require.NoError(t, err)
	_, err = c.RemoveFile(context.Background(), path)
	require.NoError(t, err)
	_, err = c.RemoveFile(context.Background(), path)
	require.NoError(t, err)

	// Then: only the two real changes are reported
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{path, path}, changed)
}

func TestIndexDirectory_QueuesSupportedFiles(t *testing.T) {
	// Given: a tree with supported, unsupported and hidden files
	dir := t.TempDir()
	writeFile(t, dir, "a.pdf", "x")
	writeFile(t, dir, "sub/b.txt", "x")
	writeFile(t, dir, "c.md", "x")
	writeFile(t, dir, ".cache/d.pdf", "x")
	b := &fakeBuilder{pages: map[string]int{"a.pdf": 3}}
	s := newTestStore(t)
	c := newTestCoordinator(t, b, s, 2)

	// When: the directory is indexed
	job, err := c.IndexDirectory(context.Background(), dir, FileOptions{Division: "DSI"})
	require.NoError(t, err)
	c.Wait()

	// Then: the two supported files are indexed
	assert.Equal(t, 2, job.FilesTotal)
	assert.Equal(t, dir, job.Root)
	assert.Equal(t, "DSI", job.Division)
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)

	// And: the job reports them
	done, ok := c.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, "done", done.Status)
	assert.Equal(t, 2, done.FilesProcessed)
	assert.Equal(t, 4, done.PagesIndexed)
	assert.Zero(t, done.Failures)

	st := c.Status(context.Background())
	assert.Zero(t, st.ActiveJobs)
	require.Len(t, st.Jobs, 1)
	assert.Equal(t, job.ID, st.Jobs[0].ID)
}

func TestIndexDirectory_JobCountsFailures(t *testing.T) {
	// Given: a builder that fails every file
	dir := t.TempDir()
	writeFile(t, dir, "a.pdf", "x")
	writeFile(t, dir, "b.pdf", "x")
	b := &fakeBuilder{pages: map[string]int{}, err: errors.New("broken")}
	c := newTestCoordinator(t, b, newTestStore(t), 0)

	// When: the directory is indexed
	job, err := c.IndexDirectory(context.Background(), dir, FileOptions{})
	require.NoError(t, err)
	c.Wait()

	// Then: the job finishes with both files failed
	done, ok := c.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, "done", done.Status)
	assert.Equal(t, 2, done.Failures)
	assert.Contains(t, done.LastError, "failed to index")
}

func TestIndexDirectory_MissingRoot(t *testing.T) {
	c := newTestCoordinator(t, &fakeBuilder{pages: map[string]int{}}, newTestStore(t), 1)

	_, err := c.IndexDirectory(context.Background(), filepath.Join(t.TempDir(), "gone"), FileOptions{})

	assert.ErrorIs(t, err, watcher.ErrRootNotFound)
	assert.Equal(t, docerrors.ErrCodeFileNotFound, docerrors.GetCode(err))
}

func TestListFiles_SortedSupportedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "z.txt", "x")
	writeFile(t, dir, "a/b.pdf", "x")
	writeFile(t, dir, "notes.md", "x")
	c := newTestCoordinator(t, &fakeBuilder{pages: map[string]int{}}, newTestStore(t), 0)

	files, err := c.ListFiles(dir)

	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a", "b.pdf"), filepath.Join(dir, "z.txt")}, files)
}

func TestStartWatching_IndexesSettledFile(t *testing.T) {
	// Given: a coordinator watching an empty directory
	dir := t.TempDir()
	b := &fakeBuilder{pages: map[string]int{"new.pdf": 2}}
	s := newTestStore(t)
	c := newTestCoordinator(t, b, s, 1)
	require.NoError(t, c.StartWatching(context.Background(), dir))
	assert.True(t, c.IsWatching())

	// When: a file is written in several bursts
	path := filepath.Join(dir, "new.pdf")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("v%d", i)), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	// Then: it is indexed once after settling
	require.Eventually(t, func() bool {
		return len(filePages(t, s, path)) == 2
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, c.StopWatching())
	assert.Equal(t, int32(1), b.calls.Load())
	assert.False(t, c.IsWatching())
}

func TestScanExisting_IndexesCurrentFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.pdf", "x")
	writeFile(t, dir, "b.pdf", "x")
	b := &fakeBuilder{pages: map[string]int{}}
	s := newTestStore(t)
	c := newTestCoordinator(t, b, s, 0)

	n, err := c.ScanExisting(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(2), b.calls.Load())
}

func TestStatus(t *testing.T) {
	// Given: one indexed file and an active watcher
	dir := t.TempDir()
	path := writeFile(t, dir, "a.pdf", "x")
	b := &fakeBuilder{pages: map[string]int{"a.pdf": 4}}
	c := newTestCoordinator(t, b, newTestStore(t), 0)
	_, err := c.IndexFile(context.Background(), path, FileOptions{})
	require.NoError(t, err)
	require.NoError(t, c.StartWatching(context.Background(), dir))

	// When: status is read
	st := c.Status(context.Background())

	// Then: it reflects the store and watcher
	assert.True(t, st.StoreConnected)
	assert.Equal(t, 4, st.Store.Pages)
	assert.True(t, st.WatcherActive)
	assert.NotEmpty(t, st.WatchMode)
	assert.Equal(t, int64(1), st.FilesIndexed)
	assert.Equal(t, int64(4), st.PagesIndexed)
	assert.NotNil(t, st.LastIndexedAt)
}

type brokenStore struct{ store.PageStore }

func (brokenStore) Stats(context.Context) (store.Stats, error) {
	return store.Stats{}, errors.New("connection refused")
}

func TestStatus_StoreErrorIsReported(t *testing.T) {
	c := newTestCoordinator(t, &fakeBuilder{pages: map[string]int{}}, brokenStore{}, 0)

	st := c.Status(context.Background())

	assert.False(t, st.StoreConnected)
	assert.Equal(t, "connection refused", st.StoreError)
	assert.False(t, st.WatcherActive)
}
