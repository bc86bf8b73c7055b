// Package record turns a source file into the page records stored in the index.
package record

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Aman-CERP/docindex/internal/embed"
	"github.com/Aman-CERP/docindex/internal/extract"
	"github.com/Aman-CERP/docindex/internal/store"
)

const (
	// DefaultMinTextLength is the digital text length below which a page is sent to OCR.
	DefaultMinTextLength = 50

	// MinPageChars is the trimmed length below which a page is not indexed.
	MinPageChars = 10

	// DefaultDivision is used when neither the caller nor the path names a division.
	DefaultDivision = "GENERAL"

	// DefaultLanguage is stored when the language is not known.
	DefaultLanguage = "unknown"
)

// DefaultDivisions are the division codes recognised in file paths.
var DefaultDivisions = []string{"DG", "DEL", "DRH", "DAF", "DSI", "DCOM", "DAJ", "DCOOP", "CENADI", "UPLOADS"}

// ErrNilDependency is returned when a required collaborator is nil.
var ErrNilDependency = errors.New("required dependency is nil")

// Options carries the per-call metadata for Build.
type Options struct {
	// Division overrides path-based detection when non-empty.
	Division string
	UserID   string
	Language string
}

// Builder extracts, filters and embeds the pages of one file.
type Builder struct {
	parser          extract.Parser
	ocr             extract.OCR
	embedder        embed.Embedder
	divisions       map[string]bool
	defaultDivision string
	minTextLength   int
	now             func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithOCR enables OCR fallback for pages with little digital text.
func WithOCR(ocr extract.OCR) Option {
	return func(b *Builder) {
		b.ocr = ocr
	}
}

// WithDivisions replaces the recognised division codes and the fallback.
func WithDivisions(codes []string, fallback string) Option {
	return func(b *Builder) {
		if len(codes) > 0 {
			b.divisions = divisionSet(codes)
		}
		if fallback != "" {
			b.defaultDivision = strings.ToUpper(fallback)
		}
	}
}

// WithMinTextLength sets the OCR fallback threshold.
func WithMinTextLength(n int) Option {
	return func(b *Builder) {
		if n >= 0 {
			b.minTextLength = n
		}
	}
}

// WithClock overrides the time source for created_at.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// New creates a Builder. OCR is optional.
func New(parser extract.Parser, embedder embed.Embedder, opts ...Option) (*Builder, error) {
	if parser == nil || embedder == nil {
		return nil, ErrNilDependency
	}

	b := &Builder{
		parser:          parser,
		embedder:        embedder,
		divisions:       divisionSet(DefaultDivisions),
		defaultDivision: DefaultDivision,
		minTextLength:   DefaultMinTextLength,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func divisionSet(codes []string) map[string]bool {
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[strings.ToUpper(strings.TrimSpace(c))] = true
	}
	return set
}

// Build extracts every page of path and returns the records to store,
// with vectors. Pages with too little text are dropped, so the result may
// be empty. A parse failure returns no pages and an error.
func (b *Builder) Build(ctx context.Context, path string, opts Options) ([]store.Page, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", absPath, err)
	}

	doc, err := b.parser.Extract(ctx, absPath)
	if err != nil {
		slog.Warn("failed to extract document",
			slog.String("path", absPath),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("extract %s: %w", absPath, err)
	}

	division := b.ResolveDivision(absPath, opts.Division)
	language := opts.Language
	if language == "" {
		language = DefaultLanguage
	}
	createdAt := b.now().Unix()
	fileName := filepath.Base(absPath)

	pages := make([]store.Page, 0, len(doc.Pages))
	texts := make([]string, 0, len(doc.Pages))
	recognised := b.recogniseThin(ctx, absPath, doc.Pages)

	for _, p := range doc.Pages {
		text := strings.TrimSpace(p.Text)
		if ocrText, ok := recognised[p.Number]; ok {
			text = ocrText
		}

		if utf8.RuneCountInString(text) < MinPageChars {
			continue
		}

		text = TruncateUTF8(text, store.MaxTextBytes)
		pages = append(pages, store.Page{
			ID:          PageID(absPath, p.Number),
			FilePath:    absPath,
			FileName:    fileName,
			PageNumber:  p.Number,
			TotalPages:  doc.TotalPages,
			IsFirstPage: p.Number == 1,
			IsLastPage:  p.Number == doc.TotalPages,
			Division:    division,
			UserID:      opts.UserID,
			TextContent: text,
			Language:    language,
			CreatedAt:   createdAt,
			FileSize:    info.Size(),
			ContentType: doc.ContentType,
		})
		texts = append(texts, text)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(pages) > 0 {
		vectors, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", absPath, err)
		}
		for i := range pages {
			pages[i].Vector = vectors[i]
		}
	}

	slog.Debug("built page records",
		slog.String("path", absPath),
		slog.Int("total_pages", doc.TotalPages),
		slog.Int("kept", len(pages)),
		slog.Int("ocr_pages", len(recognised)),
		slog.String("division", division))

	return pages, nil
}

// recogniseThin runs OCR on every page with too little digital text and
// returns the recognised text by page number. A page whose OCR failed maps
// to "". Pages of one file go to a BatchOCR in a single call, so the file
// is uploaded once.
func (b *Builder) recogniseThin(ctx context.Context, path string, pages []extract.Page) map[int]string {
	if b.ocr == nil {
		return nil
	}

	var thin []extract.Page
	for _, p := range pages {
		if p.OCR != nil && nonSpaceLen(strings.TrimSpace(p.Text)) < b.minTextLength {
			thin = append(thin, p)
		}
	}
	if len(thin) == 0 {
		return nil
	}

	out := make(map[int]string, len(thin))
	batch, ok := b.ocr.(extract.BatchOCR)
	if !ok || len(thin) == 1 {
		for _, p := range thin {
			out[p.Number] = b.recognise(ctx, path, p)
		}
		return out
	}

	// Pages numbered by the parser go in one batch; whole-file inputs
	// such as images are sent on their own.
	var (
		input    *extract.OCRInput
		numbered []int
	)
	byOCRPage := make(map[int]int, len(thin))
	for _, p := range thin {
		if p.OCR.Page <= 0 {
			out[p.Number] = b.recognise(ctx, path, p)
			continue
		}
		if input == nil {
			input = p.OCR
		}
		numbered = append(numbered, p.OCR.Page)
		byOCRPage[p.OCR.Page] = p.Number
	}
	if input == nil {
		return out
	}

	results, err := batch.ExtractPages(ctx, *input, numbered)
	if err != nil {
		slog.Warn("ocr failed",
			slog.String("path", path),
			slog.Int("pages", len(numbered)),
			slog.String("error", err.Error()))
		for _, n := range byOCRPage {
			out[n] = ""
		}
		return out
	}

	for _, r := range results {
		n, known := byOCRPage[r.Page]
		if !known {
			continue
		}
		if r.Err != nil {
			slog.Warn("ocr failed",
				slog.String("path", path),
				slog.Int("page", n),
				slog.String("error", r.Err.Error()))
			out[n] = ""
			continue
		}
		slog.Debug("ocr page",
			slog.String("path", path),
			slog.Int("page", n),
			slog.Float64("confidence", r.Confidence))
		out[n] = strings.TrimSpace(r.Text)
	}
	for _, n := range byOCRPage {
		if _, done := out[n]; !done {
			out[n] = ""
		}
	}
	return out
}

// recognise returns the OCR text of a page, or "" when OCR fails.
func (b *Builder) recognise(ctx context.Context, path string, p extract.Page) string {
	text, confidence, err := b.ocr.Extract(ctx, *p.OCR)
	if err != nil {
		slog.Warn("ocr failed",
			slog.String("path", path),
			slog.Int("page", p.Number),
			slog.String("error", err.Error()))
		return ""
	}

	slog.Debug("ocr page",
		slog.String("path", path),
		slog.Int("page", p.Number),
		slog.Float64("confidence", confidence))
	return strings.TrimSpace(text)
}

// ResolveDivision returns explicit if set, else the first path segment
// that is a known division code (upper-cased), else the default division.
func (b *Builder) ResolveDivision(path, explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, part := range strings.FieldsFunc(filepath.ToSlash(path), func(r rune) bool { return r == '/' }) {
		if upper := strings.ToUpper(part); b.divisions[upper] {
			return upper
		}
	}
	return b.defaultDivision
}

// PageID is the first 32 hex characters of sha256("<path>:<page>").
func PageID(path string, page int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", path, page)))
	return hex.EncodeToString(sum[:])[:32]
}

// TruncateUTF8 cuts s to at most maxBytes without splitting a rune.
func TruncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func nonSpaceLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
