package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// BleveMetadata implements MetadataStore on a Bleve index. Bleve holds an
// exclusive BoltDB lock, so only one process may open it at a time.
type BleveMetadata struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	seq    atomic.Int64
	closed bool
}

var _ MetadataStore = (*BleveMetadata)(nil)

// bleveScanSize is the page size used when walking matching documents.
const bleveScanSize = 1000

// blevePage is the stored document shape. Seq preserves insertion order.
type blevePage struct {
	FilePath    string  `json:"file_path"`
	FileName    string  `json:"file_name"`
	PageNumber  float64 `json:"page_number"`
	TotalPages  float64 `json:"total_pages"`
	IsFirstPage bool    `json:"is_first_page"`
	IsLastPage  bool    `json:"is_last_page"`
	Division    string  `json:"division"`
	UserID      string  `json:"user_id"`
	TextContent string  `json:"text_content"`
	Language    string  `json:"language"`
	CreatedAt   float64 `json:"created_at"`
	FileSize    float64 `json:"file_size"`
	ContentType string  `json:"content_type"`
	Seq         float64 `json:"seq"`
}

func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// NewBleveMetadata opens or creates a Bleve page index at path.
// An empty path creates an in-memory index. A read-only index is opened
// without taking the write lock and is never created or repaired.
func NewBleveMetadata(path string, readOnly bool) (*BleveMetadata, error) {
	m := pageMapping()

	var idx bleve.Index
	var err error
	switch {
	case path == "":
		idx, err = bleve.NewMemOnly(m)
	case readOnly:
		idx, err = bleve.OpenUsing(path, map[string]interface{}{"read_only": true})
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}

		if validErr := validateBleveIntegrity(path); validErr != nil {
			slog.Warn("page index corrupted, recreating",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, fmt.Errorf("page index corrupted at %s and cannot remove: %w", path, rmErr)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open page index: %w", err)
	}

	b := &BleveMetadata{index: idx, path: path}
	b.seq.Store(time.Now().UnixNano())
	return b, nil
}

// pageMapping indexes the filter fields as exact keywords and only stores
// the remaining fields.
func pageMapping() *mapping.IndexMappingImpl {
	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name

	stored := bleve.NewTextFieldMapping()
	stored.Index = false

	storedNum := bleve.NewNumericFieldMapping()
	storedNum.Index = false

	storedBool := bleve.NewBooleanFieldMapping()
	storedBool.Index = false

	seq := bleve.NewNumericFieldMapping()

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt("file_path", exact)
	doc.AddFieldMappingsAt("division", exact)
	doc.AddFieldMappingsAt("seq", seq)
	for _, f := range []string{"file_name", "user_id", "text_content", "language", "content_type"} {
		doc.AddFieldMappingsAt(f, stored)
	}
	for _, f := range []string{"page_number", "total_pages", "created_at", "file_size"} {
		doc.AddFieldMappingsAt(f, storedNum)
	}
	for _, f := range []string{"is_first_page", "is_last_page"} {
		doc.AddFieldMappingsAt(f, storedBool)
	}

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Put indexes pages, replacing documents that share an id.
func (b *BleveMetadata) Put(ctx context.Context, pages []Page) error {
	if len(pages) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for i := range pages {
		p := &pages[i]
		doc := blevePage{
			FilePath:    p.FilePath,
			FileName:    p.FileName,
			PageNumber:  float64(p.PageNumber),
			TotalPages:  float64(p.TotalPages),
			IsFirstPage: p.IsFirstPage,
			IsLastPage:  p.IsLastPage,
			Division:    p.Division,
			UserID:      p.UserID,
			TextContent: p.TextContent,
			Language:    p.Language,
			CreatedAt:   float64(p.CreatedAt),
			FileSize:    float64(p.FileSize),
			ContentType: p.ContentType,
			Seq:         float64(b.seq.Add(1)),
		}
		if err := batch.Index(p.ID, doc); err != nil {
			return fmt.Errorf("index page %s: %w", p.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	return nil
}

// DeleteByFilePath removes every page of filePath and returns their ids.
func (b *BleveMetadata) DeleteByFilePath(ctx context.Context, filePath string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	pages, err := b.search(ctx, filterQuery(Filter{FilePath: filePath}), 0)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, nil
	}

	ids := make([]string, len(pages))
	batch := b.index.NewBatch()
	for i, p := range pages {
		ids[i] = p.ID
		batch.Delete(p.ID)
	}
	if err := b.index.Batch(batch); err != nil {
		return nil, fmt.Errorf("delete pages: %w", err)
	}
	return ids, nil
}

// Get returns the pages with the given ids.
func (b *BleveMetadata) Get(ctx context.Context, ids []string) (map[string]Page, error) {
	out := make(map[string]Page, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	pages, err := b.search(ctx, bleve.NewDocIDQuery(ids), len(ids))
	if err != nil {
		return nil, err
	}
	for _, p := range pages {
		out[p.ID] = p
	}
	return out, nil
}

// Query returns up to limit pages matching filter in insertion order.
func (b *BleveMetadata) Query(ctx context.Context, filter Filter, limit int) ([]Page, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}
	return b.search(ctx, filterQuery(filter), limit)
}

func filterQuery(filter Filter) query.Query {
	var conjuncts []query.Query
	if filter.Division != "" {
		q := bleve.NewTermQuery(filter.Division)
		q.SetField("division")
		conjuncts = append(conjuncts, q)
	}
	if filter.FilePath != "" {
		q := bleve.NewTermQuery(filter.FilePath)
		q.SetField("file_path")
		conjuncts = append(conjuncts, q)
	}
	if len(conjuncts) == 0 {
		return bleve.NewMatchAllQuery()
	}
	return bleve.NewConjunctionQuery(conjuncts...)
}

// search pages through every hit of q ordered by seq. A limit of 0 means no limit.
func (b *BleveMetadata) search(ctx context.Context, q query.Query, limit int) ([]Page, error) {
	var pages []Page
	from := 0
	for {
		size := bleveScanSize
		if limit > 0 && limit-len(pages) < size {
			size = limit - len(pages)
		}
		if size <= 0 {
			break
		}

		req := bleve.NewSearchRequestOptions(q, size, from, false)
		req.Fields = []string{"*"}
		req.SortBy([]string{"seq"})

		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("search page index: %w", err)
		}
		for _, hit := range res.Hits {
			pages = append(pages, pageFromFields(hit.ID, hit.Fields))
		}

		from += len(res.Hits)
		if len(res.Hits) < size || uint64(from) >= res.Total {
			break
		}
	}
	return pages, nil
}

func pageFromFields(id string, f map[string]any) Page {
	return Page{
		ID:          id,
		FilePath:    fieldString(f, "file_path"),
		FileName:    fieldString(f, "file_name"),
		PageNumber:  int(fieldNumber(f, "page_number")),
		TotalPages:  int(fieldNumber(f, "total_pages")),
		IsFirstPage: fieldBool(f, "is_first_page"),
		IsLastPage:  fieldBool(f, "is_last_page"),
		Division:    fieldString(f, "division"),
		UserID:      fieldString(f, "user_id"),
		TextContent: fieldString(f, "text_content"),
		Language:    fieldString(f, "language"),
		CreatedAt:   int64(fieldNumber(f, "created_at")),
		FileSize:    int64(fieldNumber(f, "file_size")),
		ContentType: fieldString(f, "content_type"),
	}
}

func fieldString(f map[string]any, name string) string {
	s, _ := f[name].(string)
	return s
}

func fieldNumber(f map[string]any, name string) float64 {
	n, _ := f[name].(float64)
	return n
}

func fieldBool(f map[string]any, name string) bool {
	switch v := f[name].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || v == "T"
	}
	return false
}

// Count returns the number of pages and distinct files.
func (b *BleveMetadata) Count(ctx context.Context) (int, int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, 0, ErrClosed
	}

	n, err := b.index.DocCount()
	if err != nil {
		return 0, 0, fmt.Errorf("count pages: %w", err)
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), 0, 0, false)
	facet := bleve.NewFacetRequest("file_path", int(n)+1)
	req.AddFacet("files", facet)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return 0, 0, fmt.Errorf("count files: %w", err)
	}

	files := 0
	if fr, ok := res.Facets["files"]; ok && fr.Terms != nil {
		files = fr.Terms.Len()
	}
	return int(n), files, nil
}

// Close closes the index.
func (b *BleveMetadata) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
