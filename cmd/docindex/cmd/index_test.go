package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docerrors "github.com/Aman-CERP/docindex/internal/errors"
)

func TestIndexDryRun_ListsSupportedFiles(t *testing.T) {
	// Given: documents of supported and unsupported types
	dir := setupProject(t)
	writeDoc(t, dir, "docs/DRH/contrat.txt", "x")
	writeDoc(t, dir, "docs/notes.md", "x")

	// When: running a dry run
	out, err := executeCommand(t, "index", "--dry-run")

	// Then: only the text file is listed and nothing is stored
	require.NoError(t, err)
	assert.Contains(t, out, "contrat.txt")
	assert.NotContains(t, out, "notes.md")
	assert.Contains(t, out, "1 file(s) would be indexed")
}

func TestIndex_SkipsUnsupportedFile(t *testing.T) {
	dir := setupProject(t)
	path := writeDoc(t, dir, "docs/readme.md", "# not indexed")

	out, err := executeCommand(t, "index", path, "--plain")

	require.NoError(t, err)
	assert.Contains(t, out, "WARN: "+path)
	assert.Contains(t, out, "0 files")
}

func TestIndex_MissingPath(t *testing.T) {
	setupProject(t)

	_, err := executeCommand(t, "index", "nowhere", "--plain")

	assert.Equal(t, docerrors.ErrCodeFileNotFound, docerrors.GetCode(err))
}
