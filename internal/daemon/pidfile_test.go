package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stalePID is above the default Linux pid_max.
const stalePID = 4194304

func writePID(t *testing.T, path string, pid int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644))
}

func TestPIDFile_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "docindex.pid")
	pf := NewPIDFile(path)

	require.NoError(t, pf.Write())

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFile_Read(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		_, err := NewPIDFile(filepath.Join(dir, "none.pid")).Read()
		assert.ErrorIs(t, err, ErrPIDFileNotFound)
	})

	t.Run("trailing newline", func(t *testing.T) {
		path := filepath.Join(dir, "nl.pid")
		require.NoError(t, os.WriteFile(path, []byte("12345\n"), 0o644))
		pid, err := NewPIDFile(path).Read()
		require.NoError(t, err)
		assert.Equal(t, 12345, pid)
	})

	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(dir, "bad.pid")
		require.NoError(t, os.WriteFile(path, []byte("not-a-number"), 0o644))
		_, err := NewPIDFile(path).Read()
		assert.Error(t, err)
	})
}

func TestPIDFile_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docindex.pid")
	writePID(t, path, 12345)
	pf := NewPIDFile(path)

	require.NoError(t, pf.Remove())
	assert.NoFileExists(t, path)
	assert.NoError(t, pf.Remove(), "removing twice is fine")
}

func TestPIDFile_IsRunning(t *testing.T) {
	dir := t.TempDir()

	live := filepath.Join(dir, "live.pid")
	writePID(t, live, os.Getpid())
	assert.True(t, NewPIDFile(live).IsRunning())

	stale := filepath.Join(dir, "stale.pid")
	writePID(t, stale, stalePID)
	assert.False(t, NewPIDFile(stale).IsRunning())

	assert.False(t, NewPIDFile(filepath.Join(dir, "none.pid")).IsRunning())
}

func TestPIDFile_Signal(t *testing.T) {
	dir := t.TempDir()

	live := filepath.Join(dir, "live.pid")
	writePID(t, live, os.Getpid())
	assert.NoError(t, NewPIDFile(live).Signal(syscall.Signal(0)))

	stale := filepath.Join(dir, "stale.pid")
	writePID(t, stale, stalePID)
	assert.Error(t, NewPIDFile(stale).Signal(syscall.Signal(0)))
}

func TestPIDFile_AcquireIsExclusive(t *testing.T) {
	// Given: one holder of the PID file
	path := filepath.Join(t.TempDir(), "docindex.pid")
	first := NewPIDFile(path)
	require.NoError(t, first.Acquire())

	// When: a second holder tries
	second := NewPIDFile(path)
	err := second.Acquire()

	// Then: it is refused until the first releases
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, first.Release())
	assert.NoFileExists(t, path)

	require.NoError(t, second.Acquire())
	require.NoError(t, second.Release())
}
