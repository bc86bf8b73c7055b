package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SheetParser maps each worksheet of an .xlsx workbook to one page.
// Cells are tab separated and rows newline separated.
type SheetParser struct{}

// Extract implements Parser.
func (p *SheetParser) Extract(ctx context.Context, path string) (*Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Debug("failed to close workbook", slog.String("path", path), slog.String("error", err.Error()))
		}
	}()

	sheets := f.GetSheetList()
	doc := &Document{
		Pages:       make([]Page, 0, len(sheets)),
		TotalPages:  len(sheets),
		ContentType: ContentType(path),
	}

	for i, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}

		var b strings.Builder
		b.WriteString(sheet)
		b.WriteByte('\n')
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}

		doc.Pages = append(doc.Pages, Page{Number: i + 1, Text: b.String()})
	}

	return doc, nil
}
