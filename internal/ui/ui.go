// Package ui renders indexing progress and index status on the terminal.
// Interactive terminals get a bubbletea view; pipes, CI and NO_COLOR
// environments get plain lines.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a phase of a bulk indexing run.
type Stage int

const (
	// StageScanning walks the documents root.
	StageScanning Stage = iota
	// StageIndexing extracts, embeds and stores each file.
	StageIndexing
	// StageFlushing persists the store to disk.
	StageFlushing
	// StageComplete indicates the run is finished.
	StageComplete
)

var stageNames = [...]struct{ name, tag string }{
	StageScanning: {"Scanning", "SCAN"},
	StageIndexing: {"Indexing", "INDEX"},
	StageFlushing: {"Flushing", "FLUSH"},
	StageComplete: {"Complete", "DONE"},
}

// String returns the human-readable stage name.
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "Unknown"
	}
	return stageNames[s].name
}

// Icon returns the short tag used by the plain renderer.
func (s Stage) Icon() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "???"
	}
	return stageNames[s].tag
}

// ProgressEvent reports progress within a stage.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	// Pages is the running total of pages stored.
	Pages   int
	Message string
}

// ErrorEvent reports a file that failed or was skipped.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// CompletionStats summarises a finished run.
type CompletionStats struct {
	Files    int
	Pages    int
	Skipped  int
	Failed   int
	Duration time.Duration
	// Store names the backend, e.g. "sqlite (documents)".
	Store string
}

// Renderer displays the progress of a bulk indexing run.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Root is shown in the TUI header.
	Root string
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithRoot sets the directory shown in the header.
func WithRoot(dir string) ConfigOption {
	return func(c *Config) {
		c.Root = dir
	}
}

// NewConfig creates a Config for output with opts applied.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns a TUI renderer for interactive terminals and a
// plain renderer for CI, pipes, or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// DetectNoColor reports whether NO_COLOR is set, whatever its value.
func DetectNoColor() bool {
	return envSet("NO_COLOR")
}

// DetectCI reports whether a CI runner is detected.
func DetectCI() bool {
	return envSet("CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE")
}

func envSet(names ...string) bool {
	for _, n := range names {
		if _, ok := os.LookupEnv(n); ok {
			return true
		}
	}
	return false
}
