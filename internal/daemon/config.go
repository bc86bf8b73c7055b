// Package daemon serves the index over a Unix socket so CLI commands can
// search and index through the running `docindex serve` process instead of
// opening the store themselves.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds configuration for the daemon socket.
type Config struct {
	// SocketPath is the Unix domain socket path.
	// Default: <data_dir>/docindex.sock
	SocketPath string

	// PIDPath stores the serving process ID.
	// Default: next to the socket, docindex.pid
	PIDPath string

	// DialTimeout bounds connecting to the socket.
	DialTimeout time.Duration

	// Timeout bounds one request. Indexing a scanned PDF goes through OCR,
	// so the default is generous.
	Timeout time.Duration
}

// DefaultConfig returns the configuration for a socket in dataDir.
func DefaultConfig(dataDir string) Config {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		dataDir = filepath.Join(home, ".docindex", "data")
	}
	return Config{
		SocketPath:  filepath.Join(dataDir, "docindex.sock"),
		PIDPath:     filepath.Join(dataDir, "docindex.pid"),
		DialTimeout: 2 * time.Second,
		Timeout:     10 * time.Minute,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// EnsureDir creates the socket and PID directories.
func (c Config) EnsureDir() error {
	for _, dir := range []string{filepath.Dir(c.SocketPath), filepath.Dir(c.PIDPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create daemon directory: %w", err)
		}
	}
	return nil
}

func (c Config) dialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return 2 * time.Second
}
