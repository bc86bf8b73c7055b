package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	docerrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/search"
	"github.com/Aman-CERP/docindex/internal/store"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status            string      `json:"status"`
	StoreConnected    bool        `json:"store_connected"`
	StoreStats        store.Stats `json:"store_stats"`
	StoreError        string      `json:"store_error,omitempty"`
	FileWatcherActive bool        `json:"file_watcher_active"`
	WatchRoot         string      `json:"watch_root,omitempty"`
	FilesIndexed      int64       `json:"files_indexed"`
	PagesIndexed      int64       `json:"pages_indexed"`
	Failures          int64       `json:"failures"`
	InFlight          int64       `json:"in_flight"`
	LastIndexedAt     *time.Time  `json:"last_indexed_at,omitempty"`
}

// IndexFileRequest is the body of POST /index/file.
type IndexFileRequest struct {
	FilePath string `json:"file_path" binding:"required"`
	Division string `json:"division"`
	UserID   string `json:"user_id"`
	Language string `json:"language"`
}

// IndexFileResponse is the body returned by POST /index/file.
type IndexFileResponse struct {
	Success      bool   `json:"success"`
	FilePath     string `json:"file_path"`
	PagesIndexed int    `json:"pages_indexed"`
	Message      string `json:"message"`
}

// IndexDirectoryRequest is the body of POST /index/directory.
type IndexDirectoryRequest struct {
	DirectoryPath string `json:"directory_path"`
	Division      string `json:"division"`
}

// IndexDirectoryResponse is the body returned by POST /index/directory.
type IndexDirectoryResponse struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	JobID      string `json:"job_id"`
	Directory  string `json:"directory"`
	FilesFound int    `json:"files_found"`
	Message    string `json:"message"`
}

// RemoveFileResponse is the body returned by DELETE /index/file.
type RemoveFileResponse struct {
	Success        bool   `json:"success"`
	FilePath       string `json:"file_path"`
	DeletedRecords int    `json:"deleted_records"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": ServiceName})
}

func (s *Server) status(c *gin.Context) {
	st := s.backend.Status(c.Request.Context())
	c.JSON(http.StatusOK, StatusResponse{
		Status:            "running",
		StoreConnected:    st.StoreConnected,
		StoreStats:        st.Store,
		StoreError:        st.StoreError,
		FileWatcherActive: st.WatcherActive,
		WatchRoot:         st.WatchRoot,
		FilesIndexed:      st.FilesIndexed,
		PagesIndexed:      st.PagesIndexed,
		Failures:          st.Failures,
		InFlight:          st.InFlight,
		LastIndexedAt:     st.LastIndexedAt,
	})
}

func (s *Server) queryStats(c *gin.Context) {
	p, ok := s.backend.(QueryStatsProvider)
	if !ok {
		respondError(c, http.StatusNotFound, "telemetry_disabled", "query telemetry is not available")
		return
	}
	snap := p.QueryStats()
	if snap == nil {
		respondError(c, http.StatusNotFound, "telemetry_disabled", "query telemetry is disabled (search.telemetry)")
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) search(c *gin.Context) {
	var req search.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}

	resp, err := s.backend.Search(c.Request.Context(), req)
	if err != nil {
		respondDocError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) indexFile(c *gin.Context) {
	var req IndexFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}

	pages, err := s.backend.IndexFile(c.Request.Context(), req.FilePath, ingest.FileOptions{
		Division: req.Division,
		UserID:   req.UserID,
		Language: req.Language,
	})
	if err != nil {
		respondDocError(c, err)
		return
	}

	msg := fmt.Sprintf("Indexed %d pages", pages)
	if pages == 0 {
		msg = "No indexable pages found"
	}
	c.JSON(http.StatusOK, IndexFileResponse{
		Success:      pages > 0,
		FilePath:     req.FilePath,
		PagesIndexed: pages,
		Message:      msg,
	})
}

func (s *Server) indexDirectory(c *gin.Context) {
	var req IndexDirectoryRequest
	// An empty body indexes the default directory.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
			return
		}
	}
	dir := strings.TrimSpace(req.DirectoryPath)
	if dir == "" {
		dir = c.Query("path")
	}
	if dir == "" {
		dir = s.cfg.DefaultDirectory
	}
	if dir == "" {
		respondError(c, http.StatusBadRequest, "bad_request", "directory_path is required")
		return
	}

	job, err := s.backend.IndexDirectory(c.Request.Context(), dir, ingest.FileOptions{Division: req.Division})
	if err != nil {
		respondDocError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, IndexDirectoryResponse{
		Success:    true,
		Status:     "indexing_started",
		JobID:      job.ID,
		Directory:  dir,
		FilesFound: job.FilesTotal,
		Message:    fmt.Sprintf("Queued %d files", job.FilesTotal),
	})
}

func (s *Server) job(c *gin.Context) {
	job, ok := s.backend.Job(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "not_found", "no such indexing job: "+c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) removeFile(c *gin.Context) {
	path := strings.TrimSpace(c.Query("file_path"))
	if path == "" {
		respondError(c, http.StatusBadRequest, "bad_request", "file_path query parameter is required")
		return
	}

	n, err := s.backend.RemoveFile(c.Request.Context(), path)
	if err != nil {
		respondDocError(c, err)
		return
	}
	c.JSON(http.StatusOK, RemoveFileResponse{Success: true, FilePath: path, DeletedRecords: n})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{ErrorCode: code, Message: message})
}

// respondDocError writes err with the HTTP status matching its code.
func respondDocError(c *gin.Context, err error) {
	var de *docerrors.DocError
	if !errors.As(err, &de) {
		respondError(c, http.StatusInternalServerError, docerrors.ErrCodeInternal, err.Error())
		return
	}
	c.JSON(httpStatus(de.Code), ErrorResponse{
		ErrorCode:  de.Code,
		Message:    de.Message,
		Suggestion: de.Suggestion,
	})
}

func httpStatus(code string) int {
	switch code {
	case docerrors.ErrCodeFileNotFound:
		return http.StatusNotFound
	case docerrors.ErrCodeUnsupportedFormat, docerrors.ErrCodeInvalidPath,
		docerrors.ErrCodeQueryEmpty, docerrors.ErrCodeInvalidQuery:
		return http.StatusBadRequest
	case docerrors.ErrCodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case docerrors.ErrCodeIndexFailed, docerrors.ErrCodeExtractionFailed:
		return http.StatusUnprocessableEntity
	case docerrors.ErrCodeStoreUnavailable, docerrors.ErrCodeEmbedderUnavailable,
		docerrors.ErrCodeOCRUnavailable, docerrors.ErrCodeStoreLocked:
		return http.StatusServiceUnavailable
	case docerrors.ErrCodeCollaboratorTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
