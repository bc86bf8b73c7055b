// Package store persists indexed pages: page metadata in SQLite or Bleve,
// page vectors in an HNSW graph. It is the only state shared between the
// ingestion and retrieval paths.
package store

import (
	"context"
	"errors"
	"fmt"
)

// MaxTextBytes is the largest text_content stored for a page.
const MaxTextBytes = 65000

// Page is one indexed page of a source document.
type Page struct {
	ID          string    `json:"id"`
	Vector      []float32 `json:"-"`
	FilePath    string    `json:"file_path"`
	FileName    string    `json:"file_name"`
	PageNumber  int       `json:"page_number"` // 1-indexed
	TotalPages  int       `json:"total_pages"`
	IsFirstPage bool      `json:"is_first_page"`
	IsLastPage  bool      `json:"is_last_page"`
	Division    string    `json:"division"`
	UserID      string    `json:"user_id"`
	TextContent string    `json:"text_content"`
	Language    string    `json:"language"`
	CreatedAt   int64     `json:"created_at"` // epoch seconds
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type"`
}

// Filter restricts which pages a query sees. Empty fields match everything.
type Filter struct {
	Division string
	FilePath string
}

func (f Filter) matches(p *Page) bool {
	if f.Division != "" && p.Division != f.Division {
		return false
	}
	if f.FilePath != "" && p.FilePath != f.FilePath {
		return false
	}
	return true
}

// Hit is a page returned by a similarity search.
// Score is the cosine similarity clamped to [0, 1].
type Hit struct {
	Page  Page
	Score float64
}

// Stats describes the contents of a store.
type Stats struct {
	Name       string `json:"name"`
	Backend    string `json:"backend"`
	Pages      int    `json:"num_entities"`
	Files      int    `json:"files"`
	Dimensions int    `json:"dimensions"`
	Orphans    int    `json:"orphans"`
}

// PageStore is the storage contract consumed by ingestion and retrieval.
type PageStore interface {
	// Insert stores pages and returns how many were written.
	Insert(ctx context.Context, pages []Page) (int, error)

	// DeleteByFilePath removes every page of a file and returns the count.
	DeleteByFilePath(ctx context.Context, filePath string) (int, error)

	// Search returns up to limit pages most similar to vector that match filter,
	// best first.
	Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]Hit, error)

	// Query returns up to limit pages matching filter in insertion order,
	// without similarity ranking.
	Query(ctx context.Context, filter Filter, limit int) ([]Page, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// MetadataStore persists page fields other than the vector.
type MetadataStore interface {
	Put(ctx context.Context, pages []Page) error
	// DeleteByFilePath removes the pages of a file and returns their ids.
	DeleteByFilePath(ctx context.Context, filePath string) ([]string, error)
	// Get returns the pages with the given ids, keyed by id.
	Get(ctx context.Context, ids []string) (map[string]Page, error)
	Query(ctx context.Context, filter Filter, limit int) ([]Page, error)
	// Count returns the number of pages and distinct files.
	Count(ctx context.Context) (pages int, files int, err error)
	Close() error
}

// Sentinel errors.
var (
	ErrClosed   = errors.New("store is closed")
	ErrReadOnly = errors.New("store is read-only")
)

// ErrDimensionMismatch is returned when a vector has the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
