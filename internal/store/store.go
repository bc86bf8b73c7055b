package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	docerrors "github.com/Aman-CERP/docindex/internal/errors"
)

// Config configures a Store.
type Config struct {
	// DataDir holds pages.db (or pages.bleve) and vectors.hnsw.
	// Empty keeps everything in memory.
	DataDir string

	// Backend is "sqlite" (default) or "bleve".
	Backend string

	// Dimensions is the embedding length. It must match a saved index.
	Dimensions int

	M        int
	EfSearch int

	// CompactRatio triggers a graph rebuild on Flush once this share of
	// graph nodes are deleted. Zero disables compaction.
	CompactRatio float64

	// ReadOnly opens the store without the directory lock. Writes fail with ErrReadOnly.
	ReadOnly bool
}

// Store is the PageStore used by the service: metadata in a MetadataStore,
// vectors in a VectorIndex.
type Store struct {
	meta    MetadataStore
	vectors *VectorIndex
	cfg     Config
	lock    *DirLock

	mu    sync.Mutex
	dirty bool
}

var _ PageStore = (*Store)(nil)

// Open opens or creates the store described by cfg.
func Open(cfg Config) (*Store, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("store dimensions must be positive, got %d", cfg.Dimensions)
	}

	var lock *DirLock
	if cfg.DataDir != "" && !cfg.ReadOnly {
		lock = NewDirLock(cfg.DataDir)
		ok, err := lock.TryLock()
		if err != nil {
			return nil, docerrors.New(docerrors.ErrCodeStoreUnavailable, "cannot lock data directory", err)
		}
		if !ok {
			return nil, docerrors.New(docerrors.ErrCodeStoreLocked,
				"data directory is in use by another process: "+cfg.DataDir, nil).
				WithSuggestion("stop the running 'docindex serve' or use its socket")
		}
	}

	s, err := open(cfg)
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, err
	}
	s.lock = lock
	return s, nil
}

func open(cfg Config) (*Store, error) {
	vectors, err := NewVectorIndex(VectorConfig{
		Dimensions: cfg.Dimensions,
		M:          cfg.M,
		EfSearch:   cfg.EfSearch,
	})
	if err != nil {
		return nil, err
	}

	if cfg.DataDir != "" {
		vpath := VectorPath(cfg.DataDir)
		saved, err := ReadVectorDimensions(vpath)
		if err != nil {
			return nil, docerrors.New(docerrors.ErrCodeStoreCorrupt, "cannot read vector index", err)
		}
		if saved != 0 && saved != cfg.Dimensions {
			return nil, docerrors.New(docerrors.ErrCodeStoreCorrupt,
				fmt.Sprintf("index was built with %d dimensions, embedder produces %d", saved, cfg.Dimensions),
				ErrDimensionMismatch{Expected: saved, Got: cfg.Dimensions}).
				WithSuggestion("run 'docindex index --rebuild' after changing the embedding model")
		}
		if saved != 0 {
			if err := vectors.Load(vpath); err != nil {
				return nil, docerrors.New(docerrors.ErrCodeStoreCorrupt, "cannot load vector index", err)
			}
		}
	}

	meta, err := NewMetadataStore(cfg.DataDir, cfg.Backend, cfg.ReadOnly)
	if err != nil {
		_ = vectors.Close()
		return nil, docerrors.New(docerrors.ErrCodeStoreUnavailable, "cannot open page metadata", err)
	}

	return &Store{meta: meta, vectors: vectors, cfg: cfg}, nil
}

// Insert stores pages and their vectors.
func (s *Store) Insert(ctx context.Context, pages []Page) (int, error) {
	if s.cfg.ReadOnly {
		return 0, ErrReadOnly
	}
	if len(pages) == 0 {
		return 0, nil
	}

	ids := make([]string, len(pages))
	vecs := make([][]float32, len(pages))
	for i := range pages {
		if len(pages[i].Vector) != s.cfg.Dimensions {
			return 0, ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(pages[i].Vector)}
		}
		ids[i] = pages[i].ID
		vecs[i] = pages[i].Vector
	}

	if err := s.meta.Put(ctx, pages); err != nil {
		return 0, fmt.Errorf("store page metadata: %w", err)
	}
	if err := s.vectors.Add(ctx, ids, vecs); err != nil {
		return 0, fmt.Errorf("store page vectors: %w", err)
	}

	s.markDirty()
	return len(pages), nil
}

// DeleteByFilePath removes every page of filePath.
func (s *Store) DeleteByFilePath(ctx context.Context, filePath string) (int, error) {
	if s.cfg.ReadOnly {
		return 0, ErrReadOnly
	}

	ids, err := s.meta.DeleteByFilePath(ctx, filePath)
	if err != nil {
		return 0, fmt.Errorf("delete page metadata: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.vectors.Delete(ctx, ids); err != nil {
		return 0, fmt.Errorf("delete page vectors: %w", err)
	}

	s.markDirty()
	return len(ids), nil
}

// Search returns the pages most similar to vector that match filter.
// Filtered searches widen the neighbourhood until limit matches are found
// or the graph is exhausted.
func (s *Store) Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]Hit, error) {
	if limit <= 0 {
		return []Hit{}, nil
	}

	total := s.vectors.Count()
	k := limit
	if filter != (Filter{}) {
		k = limit * 4
	}

	for {
		results, err := s.vectors.Search(ctx, vector, k)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}

		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.ID
		}
		pages, err := s.meta.Get(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load page metadata: %w", err)
		}

		hits := make([]Hit, 0, limit)
		for _, r := range results {
			p, ok := pages[r.ID]
			if !ok || !filter.matches(&p) {
				continue
			}
			hits = append(hits, Hit{Page: p, Score: r.Score})
			if len(hits) == limit {
				break
			}
		}

		if len(hits) == limit || len(results) < k || k >= total {
			return hits, nil
		}
		k *= 2
	}
}

// Query returns pages matching filter in insertion order.
func (s *Store) Query(ctx context.Context, filter Filter, limit int) ([]Page, error) {
	pages, err := s.meta.Query(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	return pages, nil
}

// Stats reports page, file and vector counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	pages, files, err := s.meta.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	backend := s.cfg.Backend
	if backend == "" {
		backend = string(BackendSQLite)
	}
	return Stats{
		Name:       "pages",
		Backend:    backend,
		Pages:      pages,
		Files:      files,
		Dimensions: s.cfg.Dimensions,
		Orphans:    s.vectors.Orphans(),
	}, nil
}

func (s *Store) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Flush compacts the vector graph if needed and saves it when it changed.
func (s *Store) Flush() error {
	if s.cfg.ReadOnly || s.cfg.DataDir == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	if s.cfg.CompactRatio > 0 {
		if _, err := s.vectors.Compact(s.cfg.CompactRatio); err != nil {
			return fmt.Errorf("compact vectors: %w", err)
		}
	}
	if err := s.vectors.Save(VectorPath(s.cfg.DataDir)); err != nil {
		return fmt.Errorf("save vectors: %w", err)
	}
	s.dirty = false
	return nil
}

// Close flushes pending vectors and releases every resource.
func (s *Store) Close() error {
	var firstErr error
	if err := s.Flush(); err != nil {
		firstErr = err
	}
	if err := s.meta.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.vectors.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("failed to release data directory lock", slog.String("error", err.Error()))
		}
	}
	return firstErr
}
