package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()

	assert.Equal(t, LogFileName, filepath.Base(path))
	assert.Contains(t, path, ".docindex")
}

func TestLevelFromString(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, LevelFromString(in), in)
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: a file-only configuration at warn level
	path := filepath.Join(t.TempDir(), "logs", "test.log")
	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: path, MaxSizeMB: 1, MaxFiles: 2})
	require.NoError(t, err)

	// When: logging at two levels
	logger.Info("hidden")
	logger.Warn("shown", slog.String("path", "/docs/a.pdf"))
	cleanup()

	// Then: only the warning is written, as JSON
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), `"msg":"shown"`)
	assert.Contains(t, string(data), `"path":"/docs/a.pdf"`)
}

func TestSetup_NoOutputs(t *testing.T) {
	logger, cleanup, err := Setup(Config{})
	require.NoError(t, err)
	defer cleanup()

	assert.NotPanics(t, func() { logger.Info("discarded") })
}

func TestFindLogFile(t *testing.T) {
	_, err := FindLogFile(filepath.Join(t.TempDir(), "missing.log"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "present.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	got, err := FindLogFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestRotatingWriter_Rotation(t *testing.T) {
	// Given: a writer with a 1MB limit and two backups
	path := filepath.Join(t.TempDir(), "rot.log")
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	// When: writing four 600KB chunks
	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 4; i++ {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}

	// Then: the active file and two backups exist, nothing older
	assert.FileExists(t, path)
	assert.FileExists(t, path+".1")
	assert.FileExists(t, path+".2")
	assert.NoFileExists(t, path+".3")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), info.Size())
}

func TestRotatingWriter_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "append.log")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o644))

	w, err := NewRotatingWriter(path, 1, 1)
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "closed.log"), 1, 1)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.log")
	w, err := NewRotatingWriter(path, 1, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = w.Write([]byte("line\n"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 200, strings.Count(string(data), "line\n"))
}

const sampleLog = `{"time":"2026-01-02T10:00:00.000Z","level":"DEBUG","msg":"scan"}
{"time":"2026-01-02T10:00:01.000Z","level":"INFO","msg":"indexed file","path":"/docs/a.pdf","pages":3}
not json
{"time":"2026-01-02T10:00:02.000Z","level":"ERROR","msg":"indexing failed","path":"/docs/b.pdf"}
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.log")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0o644))
	return path
}

func TestViewer_Tail(t *testing.T) {
	path := writeSample(t)

	t.Run("last lines", func(t *testing.T) {
		v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})
		entries, err := v.Tail(path, 2)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.False(t, entries[0].IsValid)
		assert.Equal(t, "indexing failed", entries[1].Msg)
	})

	t.Run("level filter keeps raw lines", func(t *testing.T) {
		v := NewViewer(ViewerConfig{Level: "info", NoColor: true}, &bytes.Buffer{})
		entries, err := v.Tail(path, 10)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "indexed file", entries[0].Msg)
		assert.Equal(t, float64(3), entries[0].Attrs["pages"])
	})

	t.Run("pattern filter", func(t *testing.T) {
		v := NewViewer(ViewerConfig{Pattern: regexp.MustCompile(`b\.pdf`), NoColor: true}, &bytes.Buffer{})
		entries, err := v.Tail(path, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "ERROR", entries[0].Level)
	})

	t.Run("missing file", func(t *testing.T) {
		v := NewViewer(ViewerConfig{}, &bytes.Buffer{})
		_, err := v.Tail(filepath.Join(t.TempDir(), "none.log"), 10)
		assert.Error(t, err)
	})
}

func TestViewer_Print(t *testing.T) {
	var out bytes.Buffer
	v := NewViewer(ViewerConfig{NoColor: true}, &out)
	entries, err := v.Tail(writeSample(t), 10)
	require.NoError(t, err)

	v.Print(entries)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "10:00:01.000 INFO  indexed file pages=3 path=/docs/a.pdf", lines[1])
	assert.Equal(t, "not json", lines[2])
}

func TestViewer_Follow(t *testing.T) {
	// Given: a viewer following an existing log
	path := writeSample(t)
	v := NewViewer(ViewerConfig{Level: "warn"}, &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries := make(chan LogEntry, 4)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()
	time.Sleep(100 * time.Millisecond)

	// When: lines are appended
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"time":"2026-01-02T10:00:03Z","level":"INFO","msg":"skip"}` + "\n" +
		`{"time":"2026-01-02T10:00:04Z","level":"WARN","msg":"slow ocr"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Then: only new entries at or above the level arrive
	select {
	case e := <-entries:
		assert.Equal(t, "slow ocr", e.Msg)
	case <-time.After(3 * time.Second):
		t.Fatal("no entry received")
	}
	cancel()
	assert.NoError(t, <-done)
}
