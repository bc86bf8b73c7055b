package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama serves /api/tags with models and streams pullLines on /api/pull.
func fakeOllama(t *testing.T, models []string, pullLines []string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var pulls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		type model struct {
			Name string `json:"name"`
		}
		out := struct {
			Models []model `json:"models"`
		}{}
		for _, m := range models {
			out.Models = append(out.Models, model{Name: m})
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		pulls.Add(1)
		var req struct {
			Name   string `json:"name"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || !req.Stream {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		for _, line := range pullLines {
			_, _ = fmt.Fprintln(w, line)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &pulls
}

func TestNewOllamaManager_DefaultHost(t *testing.T) {
	assert.Equal(t, DefaultHost, NewOllamaManager("").Host())
	assert.Equal(t, "http://gpu01:11434", NewOllamaManager("http://gpu01:11434/").Host())
}

func TestIsRunning(t *testing.T) {
	// Given: a server that answers
	srv, _ := fakeOllama(t, nil, nil)

	// Then: it is running
	assert.True(t, NewOllamaManager(srv.URL).IsRunning(context.Background()))

	// And: a closed port is not
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	assert.False(t, NewOllamaManager(closed.URL).IsRunning(context.Background()))
}

func TestListModels(t *testing.T) {
	srv, _ := fakeOllama(t, []string{"nomic-embed-text:latest", "bge-m3:567m"}, nil)

	models, err := NewOllamaManager(srv.URL).ListModels(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"nomic-embed-text:latest", "bge-m3:567m"}, models)
}

func TestListModels_NotRunning(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	_, err := NewOllamaManager(closed.URL).ListModels(context.Background())

	var nre *NotRunningError
	require.ErrorAs(t, err, &nre)
	assert.Equal(t, closed.URL, nre.Host)
}

func TestContainsModel(t *testing.T) {
	models := []string{"nomic-embed-text:latest", "BGE-M3:567m"}

	tests := []struct {
		model string
		want  bool
	}{
		{"nomic-embed-text", true},
		{"nomic-embed-text:latest", true},
		{"bge-m3", true},
		{"bge-m3:567m", true},
		{"bge-m3:latest", false},
		{"mxbai-embed-large", false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, containsModel(models, tt.model))
		})
	}

	assert.True(t, containsModel([]string{"all-minilm"}, "all-minilm:latest"))
}

func TestStatus(t *testing.T) {
	srv, _ := fakeOllama(t, []string{"nomic-embed-text:latest"}, nil)
	m := NewOllamaManager(srv.URL)

	st := m.Status(context.Background(), "nomic-embed-text")
	assert.True(t, st.Running)
	assert.True(t, st.HasModel)
	assert.Equal(t, srv.URL, st.Host)

	st = m.Status(context.Background(), "bge-m3")
	assert.True(t, st.Running)
	assert.False(t, st.HasModel)
}

func TestPullModel_AlreadyPresent(t *testing.T) {
	// Given: the model is on the server
	srv, pulls := fakeOllama(t, []string{"nomic-embed-text:latest"}, nil)

	// When: pulling it
	err := NewOllamaManager(srv.URL).PullModel(context.Background(), "nomic-embed-text", nil)

	// Then: nothing is downloaded
	require.NoError(t, err)
	assert.Zero(t, pulls.Load())
}

func TestPullModel_StreamsProgress(t *testing.T) {
	// Given: a server that streams a pull
	srv, pulls := fakeOllama(t, nil, []string{
		`{"status":"pulling manifest"}`,
		`{"status":"downloading","digest":"sha256:abc","total":200,"completed":50}`,
		`not json`,
		``,
		`{"status":"downloading","digest":"sha256:abc","total":200,"completed":200}`,
		`{"status":"success"}`,
	})

	// When: pulling a missing model
	var got []PullProgress
	err := NewOllamaManager(srv.URL).PullModel(context.Background(), "bge-m3", func(p PullProgress) {
		got = append(got, p)
	})

	// Then: every status line is reported with its percentage
	require.NoError(t, err)
	assert.Equal(t, int32(1), pulls.Load())
	require.Len(t, got, 4)
	assert.Equal(t, "pulling manifest", got[0].Status)
	assert.InDelta(t, 25.0, got[1].Percent, 0.001)
	assert.InDelta(t, 100.0, got[2].Percent, 0.001)
	assert.Equal(t, "success", got[3].Status)
}

func TestPullModel_ServerReportsError(t *testing.T) {
	srv, _ := fakeOllama(t, nil, []string{
		`{"status":"pulling manifest"}`,
		`{"error":"pull model manifest: file does not exist"}`,
	})

	err := NewOllamaManager(srv.URL).PullModel(context.Background(), "no-such-model", nil)

	var mnf *ModelNotFoundError
	require.ErrorAs(t, err, &mnf)
	assert.Equal(t, "no-such-model", mnf.Model)
	assert.Contains(t, err.Error(), "file does not exist")
}

func TestWaitForReady(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		srv, _ := fakeOllama(t, nil, nil)
		require.NoError(t, NewOllamaManager(srv.URL).WaitForReady(context.Background(), time.Second))
	})

	t.Run("timeout", func(t *testing.T) {
		closed := httptest.NewServer(http.NotFoundHandler())
		closed.Close()

		err := NewOllamaManager(closed.URL).WaitForReady(context.Background(), 300*time.Millisecond)

		var nre *NotRunningError
		require.ErrorAs(t, err, &nre)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}
