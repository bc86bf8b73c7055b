// Package api exposes indexing and search over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Aman-CERP/docindex/internal/async"
	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/search"
	"github.com/Aman-CERP/docindex/internal/telemetry"
)

// ServiceName is reported by GET /health.
const ServiceName = "document-indexer"

// Backend is the index served by the API.
type Backend interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
	IndexFile(ctx context.Context, path string, opts ingest.FileOptions) (int, error)
	IndexDirectory(ctx context.Context, root string, opts ingest.FileOptions) (async.JobSnapshot, error)
	Job(id string) (async.JobSnapshot, bool)
	RemoveFile(ctx context.Context, path string) (int, error)
	Status(ctx context.Context) ingest.Status
}

// QueryStatsProvider is implemented by backends that record query
// telemetry. A nil snapshot means recording is off.
type QueryStatsProvider interface {
	QueryStats() *telemetry.Snapshot
}

// Config configures the HTTP server.
type Config struct {
	Addr string

	// CORSOrigins lists allowed origins. "*" or empty allows all.
	CORSOrigins []string

	// RateLimit is requests per second per client IP; 0 disables it.
	RateLimit float64
	RateBurst int

	// DefaultDirectory is indexed by POST /index/directory without a path.
	DefaultDirectory string

	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:8000",
		CORSOrigins:     []string{"*"},
		RateLimit:       20,
		RateBurst:       40,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the HTTP API.
type Server struct {
	cfg     Config
	backend Backend
	engine  *gin.Engine
}

// New builds the router for backend.
func New(backend Backend, cfg Config) (*Server, error) {
	if backend == nil {
		return nil, errors.New("api backend is nil")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, backend: backend, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.engine.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	if cfg.RateLimit > 0 {
		s.engine.Use(newClientLimiter(cfg.RateLimit, cfg.RateBurst).middleware())
	}
	s.routes()
	return s, nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	c.MaxAge = 12 * time.Hour

	all := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			all = true
		}
	}
	if all {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/status", s.status)
	s.engine.POST("/search", s.search)
	s.engine.POST("/index/file", s.indexFile)
	s.engine.POST("/index/directory", s.indexDirectory)
	s.engine.GET("/index/jobs/:id", s.job)
	s.engine.DELETE("/index/file", s.removeFile)
	s.engine.GET("/stats/queries", s.queryStats)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on cfg.Addr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http api listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// requestLogger logs each request through slog instead of gin's text
// logger, so API traffic lands in the JSON log file.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.String("client", c.ClientIP()),
			slog.Duration("duration", time.Since(start)))
	}
}
