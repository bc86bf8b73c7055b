package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/config"
)

const testProjectConfig = `version: 1
paths:
  documents_root: docs
  data_dir: data
embeddings:
  provider: static
ocr:
  enabled: false
ingest:
  max_workers: 2
`

// isolateHome points HOME and XDG_CONFIG_HOME at a temp dir so no user
// config or log file leaks in or out.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	return home
}

// setupProject creates a project directory with a config using static
// embeddings and no OCR, and makes it the working directory.
func setupProject(t *testing.T) string {
	t.Helper()
	isolateHome(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ProjectConfigName), []byte(testProjectConfig), 0o644))
	t.Chdir(dir)
	return dir
}

func writeDoc(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// syncBuffer collects output written by a command running in another
// goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeOllama serves the model list and a short streamed pull.
func fakeOllama(t *testing.T, models ...string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		names := make([]map[string]string, len(models))
		for i, m := range models {
			names[i] = map[string]string{"name": m}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": names})
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintln(w, `{"status":"pulling manifest"}`)
		_, _ = fmt.Fprintln(w, `{"status":"downloading","total":104857600,"completed":52428800}`)
		_, _ = fmt.Fprintln(w, `{"status":"downloading","total":104857600,"completed":104857600}`)
		_, _ = fmt.Fprintln(w, `{"status":"success"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}
