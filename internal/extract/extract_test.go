package extract

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestRegistry_TextFileIsOnePage(t *testing.T) {
	// Given: a plain text file
	path := writeFile(t, t.TempDir(), "note.txt", []byte("Note de service relative au budget"))

	// When: extracting it
	doc, err := NewRegistry().Extract(context.Background(), path)

	// Then: one page with the text and no OCR input
	require.NoError(t, err)
	require.Len(t, doc.Pages, 1)
	assert.Equal(t, 1, doc.TotalPages)
	assert.Equal(t, "Note de service relative au budget", doc.Pages[0].Text)
	assert.Nil(t, doc.Pages[0].OCR)
	assert.Equal(t, "text/plain", doc.ContentType)
}

func TestRegistry_ImageNeedsOCR(t *testing.T) {
	path := writeFile(t, t.TempDir(), "scan.PNG", []byte{0x89, 'P', 'N', 'G'})

	doc, err := NewRegistry().Extract(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, doc.Pages, 1)
	assert.Empty(t, doc.Pages[0].Text)
	require.NotNil(t, doc.Pages[0].OCR)
	assert.Equal(t, "scan.PNG", doc.Pages[0].OCR.Name)
	assert.Equal(t, 0, doc.Pages[0].OCR.Page)
	assert.Equal(t, "image/png", doc.ContentType)
}

func TestRegistry_UnsupportedExtension(t *testing.T) {
	// Given: a legacy binary Word file
	path := writeFile(t, t.TempDir(), "old.doc", []byte("binary"))

	// When: extracting it
	_, err := NewRegistry().Extract(context.Background(), path)

	// Then: the format is reported as unsupported
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRegistry_CorruptPDFFails(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.pdf", []byte("not a pdf at all"))

	_, err := NewRegistry().Extract(context.Background(), path)

	assert.Error(t, err)
}

func TestSheetParser_OnePagePerSheet(t *testing.T) {
	// Given: a workbook with two sheets
	path := filepath.Join(t.TempDir(), "budget.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Ligne"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Montant"))
	_, err := f.NewSheet("Recettes")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Recettes", "A1", "Impôts"))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	// When: extracting it
	doc, err := NewRegistry().Extract(context.Background(), path)

	// Then: each sheet becomes a page named after the sheet
	require.NoError(t, err)
	require.Len(t, doc.Pages, 2)
	assert.Equal(t, 2, doc.TotalPages)
	assert.Contains(t, doc.Pages[0].Text, "Ligne\tMontant")
	assert.Contains(t, doc.Pages[1].Text, "Recettes")
	assert.Contains(t, doc.Pages[1].Text, "Impôts")
	assert.Equal(t, 2, doc.Pages[1].Number)
}

func TestDocxParser_ReadsParagraphs(t *testing.T) {
	// Given: a minimal docx with two paragraphs
	path := filepath.Join(t.TempDir(), "arrete.docx")
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Arrêté portant</w:t></w:r><w:r><w:t xml:space="preserve"> nomination</w:t></w:r></w:p>
<w:p><w:r><w:t>Article 1</w:t><w:tab/><w:t>Objet</w:t></w:r></w:p>
</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	// When: extracting it
	doc, err := NewRegistry().Extract(context.Background(), path)

	// Then: runs are joined and paragraphs split by newlines
	require.NoError(t, err)
	require.Len(t, doc.Pages, 1)
	assert.Equal(t, "Arrêté portant nomination\nArticle 1\tObjet\n", doc.Pages[0].Text)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentType("/docs/DEL/loi.PDF"))
	assert.Equal(t, "image/tiff", ContentType("scan.tif"))
	assert.Equal(t, "application/octet-stream", ContentType("archive.zip"))
}

func TestRegistry_Extensions(t *testing.T) {
	exts := NewRegistry().Extensions()

	assert.Contains(t, exts, ".pdf")
	assert.Contains(t, exts, ".xlsx")
	assert.NotContains(t, exts, ".doc")
}
