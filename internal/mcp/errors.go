// Package mcp exposes document search and indexing as Model Context
// Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"

	docerrors "github.com/Aman-CERP/docindex/internal/errors"
)

// Custom MCP error codes for docindex.
const (
	// ErrCodeIndexUnavailable indicates the page store cannot be reached.
	ErrCodeIndexUnavailable = -32001

	// ErrCodeCollaboratorFailed indicates the embedder or OCR service failed.
	ErrCodeCollaboratorFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was cancelled.
	ErrCodeTimeout = -32003

	// ErrCodeFileNotFound indicates a file no longer exists on disk.
	ErrCodeFileNotFound = -32004

	// ErrCodeFileRejected indicates a file that cannot be indexed
	// (unsupported type, too large, or nothing extractable).
	ErrCodeFileRejected = -32005

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var me *MCPError
	if errors.As(err, &me) {
		return me
	}

	var de *docerrors.DocError
	if errors.As(err, &de) {
		return mapDocError(de)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

func mapDocError(de *docerrors.DocError) *MCPError {
	message := de.Message
	if de.Suggestion != "" {
		message = fmt.Sprintf("%s %s", de.Message, de.Suggestion)
	}

	code := ErrCodeInternalError
	switch de.Code {
	case docerrors.ErrCodeFileNotFound:
		code = ErrCodeFileNotFound
	case docerrors.ErrCodeUnsupportedFormat, docerrors.ErrCodeFileTooLarge,
		docerrors.ErrCodeExtractionFailed, docerrors.ErrCodeIndexFailed:
		code = ErrCodeFileRejected
	case docerrors.ErrCodeStoreUnavailable, docerrors.ErrCodeStoreLocked, docerrors.ErrCodeStoreCorrupt:
		code = ErrCodeIndexUnavailable
	case docerrors.ErrCodeEmbedderUnavailable, docerrors.ErrCodeOCRUnavailable:
		code = ErrCodeCollaboratorFailed
	case docerrors.ErrCodeCollaboratorTimeout:
		code = ErrCodeTimeout
	case docerrors.ErrCodeQueryEmpty, docerrors.ErrCodeInvalidQuery, docerrors.ErrCodeInvalidPath:
		code = ErrCodeInvalidParams
	}
	return &MCPError{Code: code, Message: message}
}
