package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/search"
)

// Watcher integration tests: files dropped into a watched tree become
// searchable once they settle, and deleted files leave the index.

func keywordHits(t *testing.T, s *stack, query string) []string {
	t.Helper()
	resp, err := s.engine.Search(context.Background(), search.Request{Query: query, Mode: "keyword"})
	require.NoError(t, err)
	return resultFiles(resp)
}

func TestWatcher_NewFileBecomesSearchable(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a watched, empty tree
	root := t.TempDir()
	s := newStack(t, t.TempDir(), stackOptions{workers: 1, watch: fastWatch()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.coord.StartWatching(ctx, root))

	// When: a document is saved into a division folder
	writeDoc(t, root, "DCOM/communique.txt", "Communiqué de presse annonçant l'ouverture du nouveau guichet unique.")

	// Then: it is indexed once it settles
	require.Eventually(t, func() bool {
		return len(keywordHits(t, s, "guichet")) == 1
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := s.engine.Search(ctx, search.Request{Query: "guichet", Mode: "keyword"})
	require.NoError(t, err)
	assert.Equal(t, "DCOM", resp.Results[0].Division)
}

func TestWatcher_IgnoredAndUnsupportedFilesAreSkipped(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a watched tree with an ignore file
	root := t.TempDir()
	writeDoc(t, root, ".docindexignore", "brouillons/\n")
	s := newStack(t, t.TempDir(), stackOptions{workers: 1, watch: fastWatch()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.coord.StartWatching(ctx, root))

	// When: a lock file, a draft and an unsupported file appear next to a real document
	writeDoc(t, root, "DAJ/~$avis.txt", "Fichier de verrouillage du traitement de texte, sans intérêt.")
	writeDoc(t, root, "DAJ/brouillons/avis.txt", "Brouillon d'avis juridique sur la convention de partenariat.")
	writeDoc(t, root, "DAJ/avis.bin", "Avis juridique binaire qui ne doit pas être indexé du tout.")
	writeDoc(t, root, "DAJ/avis.txt", "Avis juridique définitif sur la convention de partenariat.")

	// Then: only the real document is indexed
	require.Eventually(t, func() bool {
		return len(keywordHits(t, s, "définitif")) == 1
	}, 5*time.Second, 50*time.Millisecond)

	// Allow any stray event to settle before checking nothing else arrived.
	time.Sleep(300 * time.Millisecond)
	s.coord.Wait()
	assert.Equal(t, []string{"avis.txt"}, keywordHits(t, s, "avis"))
	stats, err := s.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
}

func TestWatcher_DeletedFileKeepsPagesUntilRemoved(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a watched tree with one indexed document
	root := t.TempDir()
	path := writeDoc(t, root, "DG/decision.txt", "Décision portant nomination du secrétaire général adjoint.")
	s := newStack(t, t.TempDir(), stackOptions{workers: 1, watch: fastWatch()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := s.coord.IndexFile(ctx, path, ingestDefaults())
	require.NoError(t, err)
	require.NoError(t, s.coord.StartWatching(ctx, root))

	// When: the document is deleted from disk
	require.NoError(t, os.Remove(path))
	time.Sleep(400 * time.Millisecond)
	s.coord.Wait()

	// Then: the deletion is only logged and the pages stay searchable
	assert.Equal(t, []string{"decision.txt"}, keywordHits(t, s, "nomination"))

	// When: the file is removed from the index explicitly
	removed, err := s.coord.RemoveFile(ctx, path)
	require.NoError(t, err)

	// Then: its pages are gone
	assert.Equal(t, 1, removed)
	assert.Empty(t, keywordHits(t, s, "nomination"))
}

func TestWatcher_BurstOfWritesIndexesLatestContent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a watched tree
	root := t.TempDir()
	s := newStack(t, t.TempDir(), stackOptions{workers: 1, watch: fastWatch()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.coord.StartWatching(ctx, root))

	// When: a document is rewritten several times in quick succession
	path := filepath.Join(root, "DSI", "procedure.txt")
	for _, version := range []string{"alpha", "beta", "gamma"} {
		writeDoc(t, root, "DSI/procedure.txt", "Procédure de sauvegarde des serveurs, version "+version+" du document.")
		time.Sleep(20 * time.Millisecond)
	}

	// Then: the settled file is indexed with its final content only
	require.Eventually(t, func() bool {
		return len(keywordHits(t, s, "gamma")) == 1
	}, 5*time.Second, 50*time.Millisecond)
	s.coord.Wait()
	assert.Empty(t, keywordHits(t, s, "alpha"))

	pages, err := s.store.Query(ctx, storeFilter(path), 10)
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}
