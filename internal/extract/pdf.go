package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ledongthuc/pdf"
)

// PDFParser reads the text layer of every page. Every page carries an
// OCRInput over the same file data, so the scanned pages of a document can
// be recognised in one BatchOCR upload.
type PDFParser struct{}

// Extract implements Parser.
func (p *PDFParser) Extract(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	total := reader.NumPage()
	name := filepath.Base(path)
	doc := &Document{
		Pages:       make([]Page, 0, total),
		TotalPages:  total,
		ContentType: "application/pdf",
	}

	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := pageText(reader, i)
		if err != nil {
			// An unreadable text layer still leaves OCR as an option.
			slog.Debug("pdf page text unavailable",
				slog.String("path", path),
				slog.Int("page", i),
				slog.String("error", err.Error()))
		}

		doc.Pages = append(doc.Pages, Page{
			Number: i,
			Text:   text,
			OCR:    &OCRInput{Data: data, Name: name, Page: i},
		})
	}

	return doc, nil
}

// pageText recovers from panics inside the pdf library on malformed
// content streams.
func pageText(reader *pdf.Reader, n int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf page %d: %v", n, r)
		}
	}()

	page := reader.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}
