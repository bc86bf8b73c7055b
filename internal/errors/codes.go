// Package errors provides structured error handling for docindex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: File and extraction errors
//   - 3XX: Store errors
//   - 4XX: Collaborator (embedder, OCR) errors
//   - 5XX: Query and validation errors
//   - 9XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryFile indicates source file and extraction errors.
	CategoryFile Category = "FILE"
	// CategoryStore indicates page store errors.
	CategoryStore Category = "STORE"
	// CategoryCollaborator indicates failures of the embedder or OCR service.
	CategoryCollaborator Category = "COLLABORATOR"
	// CategoryValidation indicates invalid input.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// File errors (200-299)
	ErrCodeFileNotFound      = "ERR_201_FILE_NOT_FOUND"
	ErrCodeUnsupportedFormat = "ERR_202_UNSUPPORTED_FORMAT"
	ErrCodeFileTooLarge      = "ERR_203_FILE_TOO_LARGE"
	ErrCodeExtractionFailed  = "ERR_204_EXTRACTION_FAILED"

	// Store errors (300-399)
	ErrCodeStoreUnavailable = "ERR_301_STORE_UNAVAILABLE"
	ErrCodeStoreLocked      = "ERR_302_STORE_LOCKED"
	ErrCodeStoreCorrupt     = "ERR_303_STORE_CORRUPT"

	// Collaborator errors (400-499)
	ErrCodeEmbedderUnavailable = "ERR_401_EMBEDDER_UNAVAILABLE"
	ErrCodeOCRUnavailable      = "ERR_402_OCR_UNAVAILABLE"
	ErrCodeCollaboratorTimeout = "ERR_403_COLLABORATOR_TIMEOUT"

	// Query errors (500-599)
	ErrCodeInvalidQuery = "ERR_501_INVALID_QUERY"
	ErrCodeQueryEmpty   = "ERR_502_QUERY_EMPTY"
	ErrCodeInvalidPath  = "ERR_503_INVALID_PATH"

	// Internal errors (900-999)
	ErrCodeInternal        = "ERR_901_INTERNAL"
	ErrCodeIndexFailed     = "ERR_902_INDEX_FAILED"
	ErrCodePreflightFailed = "ERR_903_PREFLIGHT_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryFile
	case '3':
		return CategoryStore
	case '4':
		return CategoryCollaborator
	case '5':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreCorrupt, ErrCodeStoreLocked:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbedderUnavailable, ErrCodeOCRUnavailable, ErrCodeCollaboratorTimeout, ErrCodeStoreUnavailable:
		return true
	default:
		return false
	}
}
