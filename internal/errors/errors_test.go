package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndRetryable(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		retryable bool
		severity  Severity
	}{
		{ErrCodeConfigInvalid, CategoryConfig, false, SeverityError},
		{ErrCodeFileNotFound, CategoryFile, false, SeverityError},
		{ErrCodeStoreUnavailable, CategoryStore, true, SeverityWarning},
		{ErrCodeStoreLocked, CategoryStore, false, SeverityFatal},
		{ErrCodeOCRUnavailable, CategoryCollaborator, true, SeverityWarning},
		{ErrCodeQueryEmpty, CategoryValidation, false, SeverityError},
		{ErrCodeInternal, CategoryInternal, false, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.severity, err.Severity)
		})
	}
}

func TestDocError_IsMatchesByCodeThroughWrapping(t *testing.T) {
	// Given: a DocError wrapped by fmt.Errorf
	inner := FileNotFound("/docs/a.pdf")
	wrapped := fmt.Errorf("index file: %w", inner)

	// Then: errors.Is matches any DocError with the same code
	assert.True(t, stderrors.Is(wrapped, New(ErrCodeFileNotFound, "", nil)))
	assert.False(t, stderrors.Is(wrapped, New(ErrCodeFileTooLarge, "", nil)))
	assert.Equal(t, ErrCodeFileNotFound, GetCode(wrapped))
	assert.Equal(t, "/docs/a.pdf", inner.Details["path"])
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("x: %w", New(ErrCodeEmbedderUnavailable, "down", nil))))
	assert.False(t, IsRetryable(stderrors.New("plain")))
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsFatal(New(ErrCodeStoreCorrupt, "bad", nil)))
}

func TestFormatForCLI(t *testing.T) {
	// Given: an error with a suggestion
	err := UnsupportedFormat("/docs/x.odt")

	// When: formatting for the terminal
	out := FormatForCLI(err)

	// Then: message, hint and code are all present
	assert.Contains(t, out, "unsupported file type")
	assert.Contains(t, out, "Hint:")
	assert.Contains(t, out, ErrCodeUnsupportedFormat)

	// And: plain errors are reported as internal
	assert.Contains(t, FormatForCLI(stderrors.New("boom")), ErrCodeInternal)
}

func TestLogAttrs(t *testing.T) {
	attrs := LogAttrs(New(ErrCodeOCRUnavailable, "ocr down", stderrors.New("dial")).WithDetail("url", "http://ocr"))

	keys := make(map[string]string)
	for _, a := range attrs {
		keys[a.Key] = a.Value.String()
	}
	assert.Equal(t, ErrCodeOCRUnavailable, keys["error_code"])
	assert.Equal(t, "dial", keys["cause"])
	assert.Equal(t, "http://ocr", keys["detail_url"])
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	// Given: a function failing twice
	calls := 0
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 2}

	// When: retrying
	got, err := Retry(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, stderrors.New("transient")
		}
		return 42, nil
	})

	// Then: the third attempt wins
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	cfg := RetryConfig{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		Multiplier:   2,
		ShouldRetry:  IsRetryable,
	}

	_, err := Retry(context.Background(), cfg, func() (string, error) {
		calls++
		return "", New(ErrCodeInvalidQuery, "bad", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAndWraps(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 1}
	sentinel := stderrors.New("always")

	_, err := Retry(context.Background(), cfg, func() (int, error) { return 0, sentinel })

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Retry(ctx, DefaultRetryConfig(), func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, context.Canceled)
}
