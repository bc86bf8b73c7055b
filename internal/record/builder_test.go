package record

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/embed"
	"github.com/Aman-CERP/docindex/internal/extract"
	"github.com/Aman-CERP/docindex/internal/store"
)

type fakeParser struct {
	doc *extract.Document
	err error
}

func (p *fakeParser) Extract(_ context.Context, _ string) (*extract.Document, error) {
	return p.doc, p.err
}

type fakeOCR struct {
	mu    sync.Mutex
	pages []int
	text  string
	err   error
}

func (o *fakeOCR) Extract(_ context.Context, in extract.OCRInput) (string, float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pages = append(o.pages, in.Page)
	return o.text, 0.9, o.err
}

// fakeBatchOCR records each batch it was asked for.
type fakeBatchOCR struct {
	fakeOCR
	batches [][]int
	err     error
}

func (o *fakeBatchOCR) ExtractPages(_ context.Context, _ extract.OCRInput, pages []int) ([]extract.PageResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, pages)
	if o.err != nil {
		return nil, o.err
	}
	results := make([]extract.PageResult, len(pages))
	for i, p := range pages {
		results[i] = extract.PageResult{Page: p, Text: "Texte reconnu de la page " + strconv.Itoa(p), Confidence: 0.8}
	}
	return results, nil
}

const longText = "Loi de finances portant budget de l'État pour l'exercice 2024 et dispositions diverses."

func scannedPage(n int, text string) extract.Page {
	return extract.Page{Number: n, Text: text, OCR: &extract.OCRInput{Name: "doc.pdf", Page: n}}
}

func tempFile(t *testing.T, rel string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))
	return path
}

func newBuilder(t *testing.T, doc *extract.Document, opts ...Option) *Builder {
	t.Helper()
	b, err := New(&fakeParser{doc: doc}, embed.NewStaticEmbedder(), opts...)
	require.NoError(t, err)
	return b
}

func TestBuild_OCROnlyForThinPages(t *testing.T) {
	// Given: a three page document where page 2 has no text layer
	doc := &extract.Document{
		TotalPages:  3,
		ContentType: "application/pdf",
		Pages: []extract.Page{
			scannedPage(1, longText),
			scannedPage(2, "  "),
			scannedPage(3, longText),
		},
	}
	ocr := &fakeOCR{text: "Décret portant nomination du directeur des études"}
	b := newBuilder(t, doc, WithOCR(ocr))
	path := tempFile(t, "docs/DEL/loi.pdf")

	// When: building records
	pages, err := b.Build(context.Background(), path, Options{})

	// Then: only page 2 went through OCR and all three pages are kept
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ocr.pages)
	require.Len(t, pages, 3)
	assert.Equal(t, ocr.text, pages[1].TextContent)
	assert.True(t, pages[0].IsFirstPage)
	assert.False(t, pages[1].IsFirstPage || pages[1].IsLastPage)
	assert.True(t, pages[2].IsLastPage)
	assert.Equal(t, "DEL", pages[0].Division)
	assert.Equal(t, "loi.pdf", pages[0].FileName)
	assert.Equal(t, "application/pdf", pages[0].ContentType)
	assert.Equal(t, DefaultLanguage, pages[0].Language)
	assert.Len(t, pages[0].Vector, embed.StaticDimensions)
}

func TestBuild_DropsShortPagesAndFailedOCR(t *testing.T) {
	// Given: a short text page and a scanned page whose OCR fails
	doc := &extract.Document{
		TotalPages: 3,
		Pages: []extract.Page{
			{Number: 1, Text: "p. 1"},
			scannedPage(2, ""),
			{Number: 3, Text: longText},
		},
	}
	ocr := &fakeOCR{err: errors.New("ocr down")}
	b := newBuilder(t, doc, WithOCR(ocr))

	// When: building records
	pages, err := b.Build(context.Background(), tempFile(t, "a.pdf"), Options{})

	// Then: only page 3 survives
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 3, pages[0].PageNumber)
	assert.Equal(t, 3, pages[0].TotalPages)
}

func TestBuild_BatchesThinPagesIntoOneOCRCall(t *testing.T) {
	// Given: a four page scan where only page 3 has a text layer
	doc := &extract.Document{
		TotalPages: 4,
		Pages: []extract.Page{
			scannedPage(1, ""),
			scannedPage(2, "p. 2"),
			scannedPage(3, longText),
			scannedPage(4, ""),
		},
	}
	ocr := &fakeBatchOCR{}
	b := newBuilder(t, doc, WithOCR(ocr))

	// When: building records
	pages, err := b.Build(context.Background(), tempFile(t, "scan.pdf"), Options{})

	// Then: the thin pages went out in a single batch and none page by page
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2, 4}}, ocr.batches)
	assert.Empty(t, ocr.pages)
	require.Len(t, pages, 4)
	assert.Equal(t, "Texte reconnu de la page 2", pages[1].TextContent)
	assert.Equal(t, longText, pages[2].TextContent)
}

func TestBuild_FailedBatchDropsScannedPages(t *testing.T) {
	doc := &extract.Document{
		TotalPages: 3,
		Pages: []extract.Page{
			scannedPage(1, ""),
			scannedPage(2, longText),
			scannedPage(3, "x"),
		},
	}
	ocr := &fakeBatchOCR{err: errors.New("ocr down")}
	b := newBuilder(t, doc, WithOCR(ocr))

	pages, err := b.Build(context.Background(), tempFile(t, "scan.pdf"), Options{})

	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 2, pages[0].PageNumber)
}

func TestBuild_ScannedDocumentUploadedOnce(t *testing.T) {
	// Given: a 1 MiB twenty page scan and an OCR service counting request bytes
	var calls, uploaded atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		n, _ := io.Copy(io.Discard, r.Body)
		uploaded.Add(n)
		var results []string
		for i := 1; i <= 20; i++ {
			results = append(results, `{"page":`+strconv.Itoa(i)+`,"text":"Procès-verbal de la réunion du conseil","confidence":0.9}`)
		}
		_, _ = w.Write([]byte(`{"success":true,"results":[` + strings.Join(results, ",") + `]}`))
	}))
	defer srv.Close()

	data := make([]byte, 1<<20)
	doc := &extract.Document{TotalPages: 20}
	for i := 1; i <= 20; i++ {
		doc.Pages = append(doc.Pages, extract.Page{
			Number: i,
			OCR:    &extract.OCRInput{Data: data, Name: "scan.pdf", Page: i},
		})
	}
	b := newBuilder(t, doc, WithOCR(extract.NewHTTPOCR(extract.OCRConfig{URL: srv.URL})))

	// When: building records
	pages, err := b.Build(context.Background(), tempFile(t, "scan.pdf"), Options{})

	// Then: every page is indexed from a single upload of about one file
	require.NoError(t, err)
	assert.Len(t, pages, 20)
	assert.Equal(t, int64(1), calls.Load())
	assert.Less(t, uploaded.Load(), int64(len(data))*11/10)
}

func TestBuild_WithoutOCRKeepsDigitalText(t *testing.T) {
	doc := &extract.Document{TotalPages: 1, Pages: []extract.Page{scannedPage(1, "Arrêté n° 12")}}
	b := newBuilder(t, doc)

	pages, err := b.Build(context.Background(), tempFile(t, "x.pdf"), Options{})

	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Arrêté n° 12", pages[0].TextContent)
}

func TestBuild_ExplicitMetadataWins(t *testing.T) {
	doc := &extract.Document{TotalPages: 1, Pages: []extract.Page{{Number: 1, Text: longText}}}
	b := newBuilder(t, doc, WithClock(func() time.Time { return time.Unix(1700000000, 0) }))
	path := tempFile(t, "DAF/budget.txt")

	pages, err := b.Build(context.Background(), path, Options{Division: "DRH", UserID: "u-42", Language: "fr"})

	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "DRH", pages[0].Division)
	assert.Equal(t, "u-42", pages[0].UserID)
	assert.Equal(t, "fr", pages[0].Language)
	assert.Equal(t, int64(1700000000), pages[0].CreatedAt)
	assert.Equal(t, int64(len("content")), pages[0].FileSize)
	assert.Equal(t, PageID(path, 1), pages[0].ID)
}

func TestBuild_TruncatesOnRuneBoundary(t *testing.T) {
	// Given: a page whose text exceeds the limit with a multi-byte rune at the edge
	text := strings.Repeat("a", store.MaxTextBytes-1) + "é" + "suite"
	doc := &extract.Document{TotalPages: 1, Pages: []extract.Page{{Number: 1, Text: text}}}
	b := newBuilder(t, doc)

	// When: building records
	pages, err := b.Build(context.Background(), tempFile(t, "long.txt"), Options{})

	// Then: the text is cut before the split rune and stays valid UTF-8
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Len(t, pages[0].TextContent, store.MaxTextBytes-1)
	assert.True(t, utf8.ValidString(pages[0].TextContent))
}

func TestBuild_ParseFailureReturnsNoPages(t *testing.T) {
	b, err := New(&fakeParser{err: extract.ErrUnsupportedFormat}, embed.NewStaticEmbedder())
	require.NoError(t, err)

	pages, err := b.Build(context.Background(), tempFile(t, "old.doc"), Options{})

	assert.ErrorIs(t, err, extract.ErrUnsupportedFormat)
	assert.Empty(t, pages)
}

func TestBuild_MissingFile(t *testing.T) {
	b := newBuilder(t, &extract.Document{})

	_, err := b.Build(context.Background(), filepath.Join(t.TempDir(), "gone.pdf"), Options{})

	assert.Error(t, err)
}

func TestNew_NilDependencies(t *testing.T) {
	_, err := New(nil, embed.NewStaticEmbedder())
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = New(&fakeParser{}, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestResolveDivision(t *testing.T) {
	b := newBuilder(t, nil)

	tests := []struct {
		path, explicit, want string
	}{
		{"/srv/documents/del/loi.pdf", "", "DEL"},
		{"/srv/documents/DG/DAF/note.pdf", "", "DG"},
		{"/srv/documents/archive/note.pdf", "", DefaultDivision},
		{"/srv/documents/DEL/loi.pdf", "DSI", "DSI"},
		{"/srv/cenadi/rapport.pdf", "", "CENADI"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.ResolveDivision(tt.path, tt.explicit), tt.path)
	}
}

func TestResolveDivision_CustomVocabulary(t *testing.T) {
	b := newBuilder(t, nil, WithDivisions([]string{"finance"}, "misc"))

	assert.Equal(t, "FINANCE", b.ResolveDivision("/d/Finance/a.pdf", ""))
	assert.Equal(t, "MISC", b.ResolveDivision("/d/DEL/a.pdf", ""))
}

func TestPageID(t *testing.T) {
	id := PageID("/docs/a.pdf", 3)

	assert.Len(t, id, 32)
	assert.Equal(t, id, PageID("/docs/a.pdf", 3))
	assert.NotEqual(t, id, PageID("/docs/a.pdf", 4))
	// sha256("/docs/a.pdf:3") prefix, so ids match those written by earlier indexers.
	assert.Regexp(t, "^[0-9a-f]{32}$", id)
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "abc", TruncateUTF8("abc", 10))
	assert.Equal(t, "ab", TruncateUTF8("abé", 3))
	assert.Equal(t, "abé", TruncateUTF8("abé", 4))
	assert.Equal(t, "", TruncateUTF8("é", 1))
}
