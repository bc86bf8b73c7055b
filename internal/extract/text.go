package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TextParser treats a plain-text file as a single page.
type TextParser struct{}

// Extract implements Parser. Invalid UTF-8 is replaced rather than rejected.
func (p *TextParser) Extract(_ context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read text file: %w", err)
	}

	return &Document{
		Pages:       []Page{{Number: 1, Text: strings.ToValidUTF8(string(data), "�")}},
		TotalPages:  1,
		ContentType: "text/plain",
	}, nil
}

// ImageParser produces one empty page that must go through OCR.
type ImageParser struct{}

// Extract implements Parser.
func (p *ImageParser) Extract(_ context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	return &Document{
		Pages: []Page{{
			Number: 1,
			OCR:    &OCRInput{Data: data, Name: filepath.Base(path)},
		}},
		TotalPages:  1,
		ContentType: ContentType(path),
	}, nil
}
