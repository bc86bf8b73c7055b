package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Aman-CERP/docindex/internal/async"
	docerrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/search"
)

// Handler is the index the daemon exposes.
type Handler interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
	IndexFile(ctx context.Context, path string, opts ingest.FileOptions) (int, error)
	IndexDirectory(ctx context.Context, root string, opts ingest.FileOptions) (async.JobSnapshot, error)
	Job(id string) (async.JobSnapshot, bool)
	RemoveFile(ctx context.Context, path string) (int, error)
	Status(ctx context.Context) ingest.Status
}

// Server listens on a Unix socket and answers one request per connection.
type Server struct {
	cfg      Config
	handler  Handler
	listener net.Listener
	started  time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for handler.
func NewServer(cfg Config, handler Handler) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("daemon handler is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, handler: handler}, nil
}

// ListenAndServe serves until ctx is cancelled. The socket file is
// removed on return.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.cfg.EnsureDir(); err != nil {
		return err
	}
	// A live daemon answers on the socket; a dead one leaves a stale file.
	if NewClient(s.cfg).IsRunning() {
		return fmt.Errorf("another daemon is listening on %s", s.cfg.SocketPath)
	}
	_ = os.Remove(s.cfg.SocketPath)

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.SocketPath, err)
	}
	_ = os.Chmod(s.cfg.SocketPath, 0o600)

	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.cfg.SocketPath)
	}()

	slog.Info("daemon listening", slog.String("socket", s.cfg.SocketPath))

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isShutdown() {
				break
			}
			slog.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		slog.Warn("failed to set connection deadline", slog.String("error", err.Error()))
	}

	encoder := json.NewEncoder(conn)
	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp := s.handleRequest(reqCtx, req)
	slog.Debug("daemon request",
		slog.String("method", req.Method),
		slog.Bool("ok", resp.Error == nil),
		slog.Duration("duration", time.Since(start)))

	_ = encoder.Encode(resp)
}

func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	if req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return NewSuccessResponse(req.ID, s.status(ctx))

	case MethodSearch:
		var params SearchParams
		if resp, ok := decodeParams(req, &params); !ok {
			return resp
		}
		result, err := s.handler.Search(ctx, params)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return NewSuccessResponse(req.ID, result)

	case MethodIndexFile:
		var params IndexFileParams
		if resp, ok := decodeParams(req, &params); !ok {
			return resp
		}
		if err := params.Validate(); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		n, err := s.handler.IndexFile(ctx, params.FilePath, params.options())
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return NewSuccessResponse(req.ID, IndexFileResult{FilePath: params.FilePath, PagesIndexed: n})

	case MethodIndexDirectory:
		var params IndexDirectoryParams
		if resp, ok := decodeParams(req, &params); !ok {
			return resp
		}
		if err := params.Validate(); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		job, err := s.handler.IndexDirectory(ctx, params.DirectoryPath, ingest.FileOptions{Division: params.Division})
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return NewSuccessResponse(req.ID, IndexDirectoryResult{
			DirectoryPath: params.DirectoryPath,
			JobID:         job.ID,
			FilesQueued:   job.FilesTotal,
		})

	case MethodJob:
		var params JobParams
		if resp, ok := decodeParams(req, &params); !ok {
			return resp
		}
		if err := params.Validate(); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		job, ok := s.handler.Job(params.JobID)
		if !ok {
			return errorResponse(req.ID, docerrors.New(docerrors.ErrCodeFileNotFound, "no such indexing job: "+params.JobID, nil))
		}
		return NewSuccessResponse(req.ID, job)

	case MethodRemoveFile:
		var params RemoveFileParams
		if resp, ok := decodeParams(req, &params); !ok {
			return resp
		}
		if err := params.Validate(); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		n, err := s.handler.RemoveFile(ctx, params.FilePath)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return NewSuccessResponse(req.ID, RemoveFileResult{FilePath: params.FilePath, PagesRemoved: n})

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// decodeParams re-decodes the generic params of req into dst.
func decodeParams(req Request, dst any) (Response, bool) {
	data, err := json.Marshal(req.Params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to encode params"), false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params"), false
	}
	return Response{}, true
}

func (s *Server) status(ctx context.Context) StatusResult {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	return StatusResult{
		Running: true,
		PID:     os.Getpid(),
		Uptime:  time.Since(started).Round(time.Second).String(),
		Index:   s.handler.Status(ctx),
	}
}

// Close stops accepting connections. In-flight requests finish.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
