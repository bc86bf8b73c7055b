package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docerrors "github.com/Aman-CERP/docindex/internal/errors"
)

func TestServeCmd_Flags(t *testing.T) {
	cmd := newServeCmd()

	for _, name := range []string{"addr", "root", "no-watch", "no-scan", "no-http", "skip-checks", "wait-ollama"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "flag --%s", name)
	}
	assert.Equal(t, "30s", cmd.Flags().Lookup("wait-ollama").DefValue)
}

func TestServe_RunsUntilCancelled(t *testing.T) {
	// Given: a project served over the local socket only
	dir := setupProject(t)
	socket := filepath.Join(dir, "data", "docindex.sock")

	root := NewRootCmd()
	buf := &syncBuffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"serve", "--no-http", "--no-watch", "--no-scan", "--skip-checks"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)

	// When: the server starts
	go func() { errCh <- root.ExecuteContext(ctx) }()
	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "docindex is running")
	}, 10*time.Second, 20*time.Millisecond, "output: %s", buf.String())

	// Then: it announces the socket and other commands talk to it
	assert.Contains(t, buf.String(), "Socket: "+socket)
	assert.NotContains(t, buf.String(), "HTTP API")
	assert.FileExists(t, socket)

	out, err := executeCommand(t, "status", "--json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "daemon", info["source"])

	// When: the context is cancelled
	cancel()

	// Then: it shuts down cleanly and removes its socket and PID file
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.NoFileExists(t, socket)
	assert.NoFileExists(t, filepath.Join(dir, "data", "docindex.pid"))
}

func TestServe_OllamaUnreachable(t *testing.T) {
	// Given: an Ollama provider pointing at a closed server
	setupProject(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	t.Setenv("DOCINDEX_EMBEDDINGS_PROVIDER", "ollama")
	t.Setenv("DOCINDEX_OLLAMA_HOST", srv.URL)

	// When: serving with a short wait
	out, err := executeCommand(t, "serve", "--no-http", "--skip-checks", "--wait-ollama", "200ms")

	// Then: startup fails with a typed error before the index is opened
	require.Error(t, err)
	assert.Equal(t, docerrors.ErrCodeEmbedderUnavailable, docerrors.GetCode(err))
	assert.Contains(t, out, "Waiting up to 200ms for Ollama")
}
