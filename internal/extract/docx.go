package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// DocxParser reads the body text of a .docx file as a single page.
// Word does not store pagination, so the whole body is page 1.
type DocxParser struct{}

// Extract implements Parser.
func (p *DocxParser) Extract(_ context.Context, path string) (*Document, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if f.Name != docxBody {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", docxBody, err)
		}
		defer func() { _ = rc.Close() }()

		text, err := docxText(rc)
		if err != nil {
			return nil, err
		}
		return &Document{
			Pages:       []Page{{Number: 1, Text: text}},
			TotalPages:  1,
			ContentType: ContentType(path),
		}, nil
	}

	return nil, fmt.Errorf("docx has no %s", docxBody)
}

// docxText collects the character data of <w:t> runs, breaking lines at
// paragraph ends and turning <w:tab> into tabs.
func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse docx body: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}

	return b.String(), nil
}
