package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// VectorConfig configures the HNSW vector index.
type VectorConfig struct {
	Dimensions int
	M          int // max connections per node, default 16
	EfSearch   int // search breadth, default 64
}

// VectorResult is a single nearest-neighbour match.
type VectorResult struct {
	ID       string
	Distance float32
	Score    float64
}

// VectorIndex is an in-memory HNSW graph keyed by page id, persisted with
// Save/Load. Deletion is lazy: removed ids lose their mapping and the
// orphaned nodes are dropped on the next Compact.
type VectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorConfig

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

type vectorMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorConfig
}

// NewVectorIndex creates an empty vector index.
func NewVectorIndex(cfg VectorConfig) (*VectorIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	return &VectorIndex{
		graph:  newGraph(cfg),
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

func newGraph(cfg VectorConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// Dimensions returns the vector length accepted by the index.
func (v *VectorIndex) Dimensions() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.config.Dimensions
}

// Add inserts vectors under ids, replacing any existing vector for an id.
func (v *VectorIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrClosed
	}

	for _, vec := range vectors {
		if len(vec) != v.config.Dimensions {
			return ErrDimensionMismatch{Expected: v.config.Dimensions, Got: len(vec)}
		}
	}

	for i, id := range ids {
		if old, ok := v.idMap[id]; ok {
			delete(v.keyMap, old)
		}

		key := v.nextKey
		v.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		v.graph.Add(hnsw.MakeNode(key, vec))
		v.idMap[id] = key
		v.keyMap[key] = id
	}

	return nil
}

// Search returns up to k nearest live vectors to query.
func (v *VectorIndex) Search(ctx context.Context, query []float32, k int) ([]VectorResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return nil, ErrClosed
	}
	if len(query) != v.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: v.config.Dimensions, Got: len(query)}
	}
	if v.graph.Len() == 0 || k <= 0 {
		return []VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	// Orphaned nodes still occupy result slots; ask for enough to cover them.
	want := k + (v.graph.Len() - len(v.idMap))
	nodes := v.graph.Search(q, want)

	results := make([]VectorResult, 0, k)
	for _, node := range nodes {
		id, ok := v.keyMap[node.Key]
		if !ok {
			continue
		}
		d := v.graph.Distance(q, node.Value)
		results = append(results, VectorResult{
			ID:       id,
			Distance: d,
			Score:    similarity(d),
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Delete removes ids from the index.
func (v *VectorIndex) Delete(ctx context.Context, ids []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrClosed
	}

	for _, id := range ids {
		if key, ok := v.idMap[id]; ok {
			delete(v.keyMap, key)
			delete(v.idMap, id)
		}
	}
	return nil
}

// Contains reports whether id has a live vector.
func (v *VectorIndex) Contains(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.idMap[id]
	return ok && !v.closed
}

// Count returns the number of live vectors.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return 0
	}
	return len(v.idMap)
}

// Orphans returns the number of lazily deleted nodes still in the graph.
func (v *VectorIndex) Orphans() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return 0
	}
	return v.graph.Len() - len(v.idMap)
}

// Compact rebuilds the graph from live vectors when at least ratio of the
// nodes are orphans. It reports whether a rebuild happened.
func (v *VectorIndex) Compact(ratio float64) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return false, ErrClosed
	}

	total := v.graph.Len()
	orphans := total - len(v.idMap)
	if total == 0 || orphans == 0 || float64(orphans)/float64(total) < ratio {
		return false, nil
	}

	graph := newGraph(v.config)
	idMap := make(map[string]uint64, len(v.idMap))
	keyMap := make(map[uint64]string, len(v.idMap))
	var next uint64

	for id, key := range v.idMap {
		vec, ok := v.graph.Lookup(key)
		if !ok {
			continue
		}
		graph.Add(hnsw.MakeNode(next, vec))
		idMap[id] = next
		keyMap[next] = id
		next++
	}

	slog.Info("vector index compacted",
		slog.Int("nodes_before", total),
		slog.Int("nodes_after", graph.Len()))

	v.graph = graph
	v.idMap = idMap
	v.keyMap = keyMap
	v.nextKey = next
	return true, nil
}

// Save writes the graph to path and the id mapping to path+".meta".
// Both files are written to a temp file first and renamed into place.
func (v *VectorIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return ErrClosed
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	if err := writeAtomic(path, v.graph.Export); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}

	meta := vectorMetadata{IDMap: v.idMap, NextKey: v.nextKey, Config: v.config}
	err := writeAtomic(path+".meta", func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(meta)
	})
	if err != nil {
		return fmt.Errorf("save vector metadata: %w", err)
	}
	return nil
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load replaces the index contents with the files written by Save.
func (v *VectorIndex) Load(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrClosed
	}

	meta, err := readVectorMetadata(path + ".meta")
	if err != nil {
		return err
	}
	if meta.Config.Dimensions != v.config.Dimensions {
		return ErrDimensionMismatch{Expected: v.config.Dimensions, Got: meta.Config.Dimensions}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	defer f.Close()

	graph := newGraph(meta.Config)
	if err := graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	v.graph = graph
	v.config = meta.Config
	v.idMap = meta.IDMap
	v.nextKey = meta.NextKey
	v.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		v.keyMap[key] = id
	}
	return nil
}

func readVectorMetadata(path string) (vectorMetadata, error) {
	var meta vectorMetadata

	f, err := os.Open(path)
	if err != nil {
		return meta, fmt.Errorf("open vector metadata: %w", err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return meta, fmt.Errorf("decode vector metadata: %w", err)
	}
	if meta.IDMap == nil {
		meta.IDMap = make(map[string]uint64)
	}
	return meta, nil
}

// ReadVectorDimensions returns the dimensions recorded next to a saved
// index, or 0 if nothing has been saved yet.
func ReadVectorDimensions(path string) (int, error) {
	if _, err := os.Stat(path + ".meta"); os.IsNotExist(err) {
		return 0, nil
	}
	meta, err := readVectorMetadata(path + ".meta")
	if err != nil {
		return 0, err
	}
	return meta.Config.Dimensions, nil
}

// Close releases the graph.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.closed = true
	v.graph = nil
	return nil
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// similarity converts cosine distance (0..2) to cosine similarity clamped to [0, 1].
func similarity(distance float32) float64 {
	s := 1.0 - float64(distance)
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
