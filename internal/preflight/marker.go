package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile records when the checks last passed in a data directory.
const MarkerFile = ".preflight-passed"

// MarkerMaxAge is how long a passing run is trusted before serve checks
// again.
const MarkerMaxAge = 24 * time.Hour

// NeedsCheck reports whether the checks have not passed in dataDir within
// maxAge.
func NeedsCheck(dataDir string, maxAge time.Duration) bool {
	age, ok := MarkerAge(dataDir)
	return !ok || age > maxAge
}

// MarkPassed records a passing run.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	stamp := []byte(time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), stamp, 0o644)
}

// ClearMarker removes the marker, forcing a check on the next start.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago the checks passed. ok is false when there
// is no readable marker.
func MarkerAge(dataDir string) (age time.Duration, ok bool) {
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return 0, false
	}
	t, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return 0, false
	}
	return time.Since(t), true
}
