// Package extract pulls per-page text out of source documents.
//
// Parsers return the digital text layer of each page. Pages that can be
// rendered for OCR carry an OCRInput so the caller can fall back to
// recognition when the text layer is too thin.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned when no parser handles the file extension.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrNoPages is returned when a document has no pages at all.
	ErrNoPages = errors.New("document has no pages")
)

// OCRInput is what the OCR service needs to recognise one page.
type OCRInput struct {
	// Data is the raw file content.
	Data []byte

	// Name is the file name, used for content sniffing on the service side.
	Name string

	// Page selects a 1-indexed PDF page. 0 means Data is a single image.
	Page int
}

// Page is the extracted digital text of one page.
type Page struct {
	// Number is 1-indexed.
	Number int
	Text   string

	// OCR is nil when the page cannot be rendered for recognition.
	OCR *OCRInput
}

// Document is the result of parsing one file.
type Document struct {
	Pages       []Page
	TotalPages  int
	ContentType string
}

// Parser extracts pages from a file on disk.
type Parser interface {
	Extract(ctx context.Context, path string) (*Document, error)
}

// OCR recognises the text of a page. Confidence is in [0, 1].
type OCR interface {
	Extract(ctx context.Context, in OCRInput) (text string, confidence float64, err error)
}

// PageResult is the recognition outcome of one page of a batch.
type PageResult struct {
	Page       int
	Text       string
	Confidence float64
	// Err is set when this page alone failed.
	Err error
}

// BatchOCR recognises several pages of one file with a single upload of
// in.Data; in.Page is ignored. Results follow the order of pages.
type BatchOCR interface {
	OCR
	ExtractPages(ctx context.Context, in OCRInput, pages []int) ([]PageResult, error)
}

var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// ContentType returns the MIME type for path, or application/octet-stream.
func ContentType(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Registry maps lower-cased extensions to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with every built-in parser.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register(&PDFParser{}, ".pdf")
	r.Register(&TextParser{}, ".txt")
	r.Register(&ImageParser{}, ".png", ".jpg", ".jpeg", ".tif", ".tiff")
	r.Register(&SheetParser{}, ".xlsx")
	r.Register(&DocxParser{}, ".docx")
	return r
}

// Register binds p to the given extensions, replacing earlier bindings.
func (r *Registry) Register(p Parser, exts ...string) {
	for _, ext := range exts {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// Extensions returns the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract parses path with the parser registered for its extension.
func (r *Registry) Extract(ctx context.Context, path string) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	p, ok := r.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := p.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	if doc.ContentType == "" {
		doc.ContentType = ContentType(path)
	}
	if doc.TotalPages == 0 {
		doc.TotalPages = len(doc.Pages)
	}
	if doc.TotalPages == 0 {
		return nil, ErrNoPages
	}
	return doc, nil
}

var _ Parser = (*Registry)(nil)
