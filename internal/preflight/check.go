package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/docindex/internal/embed"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical problem.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name for JSON reports.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Target names the directories the checks look at.
type Target struct {
	DataDir       string
	DocumentsRoot string
}

// HealthChecker is implemented by the OCR client.
type HealthChecker interface {
	Healthy(ctx context.Context) (bool, error)
}

// Checker performs preflight checks.
type Checker struct {
	verbose  bool
	output   io.Writer
	embedder embed.Embedder
	ocr      HealthChecker
	timeout  time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// WithEmbedder adds the embedding service check.
func WithEmbedder(e embed.Embedder) Option {
	return func(c *Checker) {
		c.embedder = e
	}
}

// WithOCR adds the OCR service check.
func WithOCR(h HealthChecker) Option {
	return func(c *Checker) {
		c.ocr = h
	}
}

// WithServiceTimeout bounds each service check.
func WithServiceTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		output:  os.Stdout,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check and returns the results in a fixed order.
// Service checks run only when a service was configured.
func (c *Checker) RunAll(ctx context.Context, t Target) []CheckResult {
	results := []CheckResult{
		c.CheckWritePermissions(t.DataDir),
		c.CheckDiskSpace(t.DataDir),
		c.CheckFileDescriptors(),
		c.CheckDocumentsRoot(t.DocumentsRoot),
	}
	if c.embedder != nil {
		results = append(results, c.CheckEmbedder(ctx))
	}
	if c.ocr != nil {
		results = append(results, c.CheckOCR(ctx))
	}
	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns "ready", "ready_with_warnings" or "failed".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "docindex system check")
	_, _ = fmt.Fprintln(c.output, "=====================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var errs, warnings []string
	for _, r := range results {
		switch {
		case r.IsCritical():
			errs = append(errs, r.Name+": "+r.Message)
		case r.Status != StatusPass:
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}
	printList(c.output, "error(s)", errs)
	printList(c.output, "warning(s)", warnings)
}

func printList(w io.Writer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "%d %s:\n", len(items), label)
	for _, it := range items {
		_, _ = fmt.Fprintf(w, "  - %s\n", it)
	}
}

// CheckWritePermissions creates the data directory if needed and checks
// a file can be written in it.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return result
	}

	testFile := filepath.Join(dir, ".docindex-preflight-test")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckDocumentsRoot warns when the watched tree is missing. The server
// still starts; the watcher waits for the directory to appear.
func (c *Checker) CheckDocumentsRoot(root string) CheckResult {
	result := CheckResult{Name: "documents_root"}

	info, err := os.Stat(root)
	switch {
	case err != nil:
		result.Status = StatusWarn
		result.Message = "not found: " + root
		result.Details = "Create it or set paths.documents_root"
	case !info.IsDir():
		result.Status = StatusFail
		result.Required = true
		result.Message = "not a directory: " + root
	default:
		result.Status = StatusPass
		result.Message = root
	}
	return result
}

// CheckEmbedder checks the embedding service answers.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: true,
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if !c.embedder.Available(ctx) {
		result.Status = StatusFail
		result.Message = c.embedder.ModelName() + " is not reachable"
		result.Details = "Start the embedding service or set embeddings.provider to static"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%d dimensions)", c.embedder.ModelName(), c.embedder.Dimensions())
	return result
}

// CheckOCR checks the OCR service is up. Scanned pages are stored without
// text while it is down, so a failure only warns.
func (c *Checker) CheckOCR(ctx context.Context) CheckResult {
	result := CheckResult{Name: "ocr"}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ok, err := c.ocr.Healthy(ctx)
	switch {
	case err != nil:
		result.Status = StatusWarn
		result.Message = "unreachable"
		result.Details = err.Error()
	case !ok:
		result.Status = StatusWarn
		result.Message = "model not loaded"
	default:
		result.Status = StatusPass
		result.Message = "OK"
	}
	return result
}
