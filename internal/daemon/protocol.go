package daemon

import (
	"errors"
	"strings"

	"github.com/Aman-CERP/docindex/internal/async"
	docerrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/search"
)

// JSON-RPC 2.0 method names.
const (
	MethodSearch         = "search"
	MethodIndexFile      = "index_file"
	MethodIndexDirectory = "index_directory"
	MethodJob            = "job"
	MethodRemoveFile     = "remove_file"
	MethodStatus         = "status"
	MethodPing           = "ping"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Daemon-specific error codes.
const (
	ErrCodeNotFound    = -32001
	ErrCodeUnsupported = -32002
	ErrCodeFailed      = -32003
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error is a JSON-RPC 2.0 error. Data carries the docindex error code so
// clients can rebuild a structured error.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData is the structured part of Error.
type ErrorData struct {
	Code       string `json:"code"`
	Suggestion string `json:"suggestion,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{JSONRPC: "2.0", Result: result, ID: id}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// errorResponse maps err to a JSON-RPC error, keeping its docindex code.
func errorResponse(id string, err error) Response {
	resp := NewErrorResponse(id, ErrCodeFailed, err.Error())

	var de *docerrors.DocError
	if !errors.As(err, &de) {
		return resp
	}
	resp.Error.Message = de.Message
	resp.Error.Data = &ErrorData{Code: de.Code, Suggestion: de.Suggestion}
	switch de.Code {
	case docerrors.ErrCodeFileNotFound:
		resp.Error.Code = ErrCodeNotFound
	case docerrors.ErrCodeUnsupportedFormat:
		resp.Error.Code = ErrCodeUnsupported
	case docerrors.ErrCodeQueryEmpty, docerrors.ErrCodeInvalidQuery,
		docerrors.ErrCodeInvalidPath, docerrors.ErrCodeFileTooLarge:
		resp.Error.Code = ErrCodeInvalidParams
	}
	return resp
}

// asError converts a response error back into a Go error.
func (e *Error) asError(method string) error {
	if e.Data != nil && e.Data.Code != "" {
		de := docerrors.New(e.Data.Code, e.Message, nil)
		if e.Data.Suggestion != "" {
			de.WithSuggestion(e.Data.Suggestion)
		}
		return de
	}
	return &RemoteError{Method: method, Code: e.Code, Message: e.Message}
}

// RemoteError is an error reported by the daemon without a docindex code.
type RemoteError struct {
	Method  string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return e.Method + " failed: " + e.Message
}

// SearchParams are the parameters of the search method.
type SearchParams = search.Request

// IndexFileParams are the parameters of the index_file method.
type IndexFileParams struct {
	FilePath string `json:"file_path"`
	Division string `json:"division,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Language string `json:"language,omitempty"`
}

// Validate checks that required fields are present.
func (p *IndexFileParams) Validate() error {
	if strings.TrimSpace(p.FilePath) == "" {
		return errors.New("file_path is required")
	}
	return nil
}

func (p IndexFileParams) options() ingest.FileOptions {
	return ingest.FileOptions{Division: p.Division, UserID: p.UserID, Language: p.Language}
}

// IndexFileResult reports the pages stored for a file.
type IndexFileResult struct {
	FilePath     string `json:"file_path"`
	PagesIndexed int    `json:"pages_indexed"`
}

// IndexDirectoryParams are the parameters of the index_directory method.
type IndexDirectoryParams struct {
	DirectoryPath string `json:"directory_path"`
	Division      string `json:"division,omitempty"`
}

// Validate checks that required fields are present.
func (p *IndexDirectoryParams) Validate() error {
	if strings.TrimSpace(p.DirectoryPath) == "" {
		return errors.New("directory_path is required")
	}
	return nil
}

// IndexDirectoryResult reports the job started for a directory.
type IndexDirectoryResult struct {
	DirectoryPath string `json:"directory_path"`
	JobID         string `json:"job_id"`
	FilesQueued   int    `json:"files_queued"`
}

// JobParams are the parameters of the job method.
type JobParams struct {
	JobID string `json:"job_id"`
}

// Validate checks that required fields are present.
func (p *JobParams) Validate() error {
	if strings.TrimSpace(p.JobID) == "" {
		return errors.New("job_id is required")
	}
	return nil
}

// JobResult is the progress of a directory job.
type JobResult = async.JobSnapshot

// RemoveFileParams are the parameters of the remove_file method.
type RemoveFileParams struct {
	FilePath string `json:"file_path"`
}

// Validate checks that required fields are present.
func (p *RemoveFileParams) Validate() error {
	if strings.TrimSpace(p.FilePath) == "" {
		return errors.New("file_path is required")
	}
	return nil
}

// RemoveFileResult reports how many pages were deleted.
type RemoveFileResult struct {
	FilePath     string `json:"file_path"`
	PagesRemoved int    `json:"pages_removed"`
}

// StatusResult describes the serving process.
type StatusResult struct {
	Running bool          `json:"running"`
	PID     int           `json:"pid"`
	Uptime  string        `json:"uptime"`
	Index   ingest.Status `json:"index"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}
