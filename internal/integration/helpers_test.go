package integration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/embed"
	"github.com/Aman-CERP/docindex/internal/extract"
	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/record"
	"github.com/Aman-CERP/docindex/internal/search"
	"github.com/Aman-CERP/docindex/internal/store"
	"github.com/Aman-CERP/docindex/internal/watcher"
)

// stack is the write and read path over one data directory, wired the
// way the server wires it but with the static embedder.
type stack struct {
	store  *store.Store
	coord  *ingest.Coordinator
	engine *search.Engine
	closed bool
}

type stackOptions struct {
	backend string
	workers int
	watch   watcher.Options
}

func newStack(t *testing.T, dataDir string, opts stackOptions) *stack {
	t.Helper()

	embedder := embed.NewStaticEmbedder()
	st, err := store.Open(store.Config{
		DataDir:    dataDir,
		Backend:    opts.backend,
		Dimensions: embedder.Dimensions(),
	})
	require.NoError(t, err)

	builder, err := record.New(extract.NewRegistry(), embedder)
	require.NoError(t, err)

	watch := opts.watch
	if watch.DebounceWindow == 0 {
		watch = watcher.DefaultOptions()
	}
	coord, err := ingest.New(builder, st, ingest.Config{
		MaxWorkers:  opts.workers,
		MaxFileSize: ingest.DefaultMaxFileSize,
		Watch:       watch,
	})
	require.NoError(t, err)

	engine, err := search.NewEngine(st, embedder)
	require.NoError(t, err)

	s := &stack{store: st, coord: coord, engine: engine}
	t.Cleanup(func() { s.close(t) })
	return s
}

func (s *stack) close(t *testing.T) {
	t.Helper()
	if s.closed {
		return
	}
	s.closed = true
	require.NoError(t, s.coord.Close())
	require.NoError(t, s.store.Close())
}

// fastWatch settles files quickly and polls so tests do not depend on
// the platform's notification backend.
func fastWatch() watcher.Options {
	return watcher.Options{
		DebounceWindow: 100 * time.Millisecond,
		SweepInterval:  25 * time.Millisecond,
		PollInterval:   50 * time.Millisecond,
		ForcePolling:   true,
	}.WithDefaults()
}

func writeDoc(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// archive writes a small bilingual document tree split by division.
func archive(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeDoc(t, root, "DRH/conges.txt",
		"Note de service relative aux congés annuels du personnel. Les demandes sont transmises au service du personnel.")
	writeDoc(t, root, "DRH/contrats/modele.txt",
		"Modèle de contrat de travail à durée déterminée pour les agents recrutés par la direction.")
	writeDoc(t, root, "DAF/budget-2026.txt",
		"Budget prévisionnel 2026 de la direction: dépenses de fonctionnement et investissements planifiés.")
	writeDoc(t, root, "DAF/rapport.txt",
		"Annual financial report: revenue, expenditure and the audit opinion for the fiscal year.")
	writeDoc(t, root, "DAF/~$rapport.txt", "Office lock file that must never be indexed by the watcher.")
	writeDoc(t, root, "DAF/notes.xyz", "Unsupported extension, ignored by directory indexing.")
	return root
}

func resultFiles(resp *search.Response) []string {
	out := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = r.FileName
	}
	return out
}

func ingestDefaults() ingest.FileOptions {
	return ingest.FileOptions{}
}

func storeFilter(path string) store.Filter {
	return store.Filter{FilePath: path}
}
