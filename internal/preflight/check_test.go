package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/embed"
)

type fakeOCR struct {
	ok  bool
	err error
}

func (f fakeOCR) Healthy(context.Context) (bool, error) { return f.ok, f.err }

func TestCheckStatus_String(t *testing.T) {
	assert.Equal(t, "PASS", StatusPass.String())
	assert.Equal(t, "WARN", StatusWarn.String())
	assert.Equal(t, "FAIL", StatusFail.String())
	assert.Equal(t, "UNKNOWN", CheckStatus(9).String())
}

func TestCheckResult_JSON(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "ocr", Status: StatusWarn, Message: "unreachable"})

	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ocr","status":"warn","message":"unreachable","required":false}`, string(data))
}

func TestChecker_HasCriticalFailures(t *testing.T) {
	checker := New()

	tests := []struct {
		name     string
		results  []CheckResult
		expected bool
	}{
		{"no results", nil, false},
		{"all pass", []CheckResult{{Status: StatusPass, Required: true}}, false},
		{"optional failure", []CheckResult{{Status: StatusFail}}, false},
		{"required warning", []CheckResult{{Status: StatusWarn, Required: true}}, false},
		{"required failure", []CheckResult{{Status: StatusPass}, {Status: StatusFail, Required: true}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.HasCriticalFailures(tt.results))
		})
	}
}

func TestChecker_SummaryStatus(t *testing.T) {
	checker := New()

	assert.Equal(t, "ready", checker.SummaryStatus([]CheckResult{{Status: StatusPass}}))
	assert.Equal(t, "ready_with_warnings", checker.SummaryStatus([]CheckResult{{Status: StatusWarn}}))
	assert.Equal(t, "ready_with_warnings", checker.SummaryStatus([]CheckResult{{Status: StatusFail}}))
	assert.Equal(t, "failed", checker.SummaryStatus([]CheckResult{{Status: StatusWarn}, {Status: StatusFail, Required: true}}))
}

func TestChecker_CheckWritePermissions_CreatesDataDir(t *testing.T) {
	// Given: a data directory that does not exist yet
	dir := filepath.Join(t.TempDir(), "data")

	// When: checking write permissions
	result := New().CheckWritePermissions(dir)

	// Then: it is created and the check passes
	assert.Equal(t, StatusPass, result.Status)
	assert.DirExists(t, dir)
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestChecker_CheckWritePermissions_ReadOnly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root can write to read-only directories")
	}

	dir := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	result := New().CheckWritePermissions(dir)

	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
}

func TestChecker_CheckDocumentsRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	checker := New()

	assert.Equal(t, StatusPass, checker.CheckDocumentsRoot(dir).Status)

	missing := checker.CheckDocumentsRoot(filepath.Join(dir, "none"))
	assert.Equal(t, StatusWarn, missing.Status)
	assert.False(t, missing.IsCritical())

	assert.True(t, checker.CheckDocumentsRoot(file).IsCritical())
}

func TestChecker_CheckEmbedder(t *testing.T) {
	// Given: a working and a closed static embedder
	e := embed.NewStaticEmbedder()

	// When: checking it
	result := New(WithEmbedder(e)).CheckEmbedder(context.Background())

	// Then: the model and size are reported
	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "static")
	assert.Contains(t, result.Message, "256")

	require.NoError(t, e.Close())
	result = New(WithEmbedder(e)).CheckEmbedder(context.Background())
	assert.True(t, result.IsCritical())
}

func TestChecker_CheckOCR(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, StatusPass, New(WithOCR(fakeOCR{ok: true})).CheckOCR(ctx).Status)
	assert.Equal(t, StatusWarn, New(WithOCR(fakeOCR{})).CheckOCR(ctx).Status)

	down := New(WithOCR(fakeOCR{err: errors.New("connection refused")})).CheckOCR(ctx)
	assert.Equal(t, StatusWarn, down.Status)
	assert.Equal(t, "connection refused", down.Details)
}

func TestChecker_RunAll(t *testing.T) {
	// Given: a checker with both services
	root := t.TempDir()
	checker := New(WithEmbedder(embed.NewStaticEmbedder()), WithOCR(fakeOCR{ok: true}))

	// When: running every check
	results := checker.RunAll(context.Background(), Target{
		DataDir:       filepath.Join(root, "data"),
		DocumentsRoot: root,
	})

	// Then: each check appears once, in order
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"write_permissions", "disk_space", "file_descriptors", "documents_root", "embedder", "ocr"}, names)
}

func TestChecker_RunAll_WithoutServices(t *testing.T) {
	root := t.TempDir()

	results := New().RunAll(context.Background(), Target{DataDir: root, DocumentsRoot: root})

	assert.Len(t, results, 4)
}

func TestChecker_PrintResults(t *testing.T) {
	// Given: mixed results
	results := []CheckResult{
		{Name: "disk_space", Status: StatusPass, Message: "50 GB free"},
		{Name: "ocr", Status: StatusWarn, Message: "unreachable", Details: "dial tcp: refused"},
		{Name: "embedder", Status: StatusFail, Message: "nomic is not reachable", Required: true},
	}
	buf := &bytes.Buffer{}

	// When: printing verbosely
	New(WithOutput(buf), WithVerbose(true)).PrintResults(results)

	// Then: every result, the details and the summary are shown
	out := buf.String()
	assert.Contains(t, out, "[PASS] disk_space: 50 GB free")
	assert.Contains(t, out, "[WARN] ocr: unreachable")
	assert.Contains(t, out, "dial tcp: refused")
	assert.Contains(t, out, "Status: FAILED")
	assert.Contains(t, out, "1 error(s):")
	assert.Contains(t, out, "1 warning(s):")
}
