package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/docindex/internal/async"
	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/embed"
	"github.com/Aman-CERP/docindex/internal/extract"
	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/record"
	"github.com/Aman-CERP/docindex/internal/search"
	"github.com/Aman-CERP/docindex/internal/store"
	"github.com/Aman-CERP/docindex/internal/telemetry"
	"github.com/Aman-CERP/docindex/internal/watcher"
)

// serviceOptions selects which parts of the stack are built.
type serviceOptions struct {
	// readOnly opens the store without the directory lock and skips the
	// write path.
	readOnly bool

	// workers overrides ingest.max_workers when non-negative.
	workers int

	// onChange is passed to the coordinator.
	onChange func(path string)

	// recordQueries keeps query telemetry in the data directory.
	recordQueries bool
}

// services is the assembled index: store, embedder, write path and
// search engine. It implements the backends of the HTTP API, the daemon
// socket and the MCP server.
type services struct {
	cfg      *config.Config
	store    *store.Store
	embedder embed.Embedder
	ocr      *extract.HTTPOCR
	coord    *ingest.Coordinator
	engine   *search.Engine

	metrics      *telemetry.Metrics
	metricsStore *telemetry.SQLiteStore
}

// openServices builds the stack described by cfg.
func openServices(ctx context.Context, cfg *config.Config, opts serviceOptions) (*services, error) {
	embedder, err := embed.NewEmbedder(ctx, embedderConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	st, err := store.Open(store.Config{
		DataDir:      cfg.Paths.DataDir,
		Backend:      cfg.Store.Backend,
		Dimensions:   embedder.Dimensions(),
		M:            cfg.Store.M,
		EfSearch:     cfg.Store.EfSearch,
		CompactRatio: cfg.Store.CompactRatio,
		ReadOnly:     opts.readOnly,
	})
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	s := &services{cfg: cfg, store: st, embedder: embedder}

	s.engine, err = search.NewEngine(st, embedder, search.WithConfig(searchConfig(cfg)))
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	if opts.recordQueries {
		if s.metricsStore, err = telemetry.OpenSQLite(telemetry.Path(cfg.Paths.DataDir), false); err != nil {
			_ = s.Close()
			return nil, err
		}
		s.metrics = telemetry.New(s.metricsStore, telemetry.DefaultConfig())
	}

	if opts.readOnly {
		return s, nil
	}

	builderOpts := []record.Option{
		record.WithDivisions(cfg.Ingest.Divisions, cfg.Ingest.DefaultDivision),
		record.WithMinTextLength(cfg.Ingest.MinTextLength),
	}
	if cfg.OCR.Enabled {
		s.ocr = extract.NewHTTPOCR(ocrConfig(cfg))
		builderOpts = append(builderOpts, record.WithOCR(s.ocr))
	}
	builder, err := record.New(extract.NewRegistry(), embedder, builderOpts...)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	workers := cfg.Ingest.MaxWorkers
	if opts.workers >= 0 {
		workers = opts.workers
	}
	s.coord, err = ingest.New(builder, st, ingest.Config{
		MaxWorkers:  workers,
		MaxFileSize: cfg.MaxFileSize(),
		Watch:       watchOptions(cfg),
		OnChange:    opts.onChange,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	slog.Debug("services ready",
		slog.String("data_dir", cfg.Paths.DataDir),
		slog.String("backend", cfg.Store.Backend),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()),
		slog.Bool("ocr", s.ocr != nil))
	return s, nil
}

// Close stops the write path, then closes the store (which flushes it)
// and the embedder.
func (s *services) Close() error {
	var errs []error
	if s.coord != nil {
		errs = append(errs, s.coord.Close())
	}
	if s.metrics != nil {
		errs = append(errs, s.metrics.Close())
	}
	if s.metricsStore != nil {
		errs = append(errs, s.metricsStore.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.embedder != nil {
		errs = append(errs, s.embedder.Close())
	}
	return errors.Join(errs...)
}

// Search implements the server backends. Answered searches are recorded
// when telemetry is on.
func (s *services) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	start := time.Now()
	resp, err := s.engine.Search(ctx, req)
	if err != nil || s.metrics == nil {
		return resp, err
	}
	s.metrics.Record(telemetry.QueryEvent{
		Query:    req.Query,
		Mode:     string(resp.Mode),
		Division: req.Division,
		Results:  resp.TotalResults,
		Latency:  time.Since(start),
	})
	return resp, nil
}

// QueryStats implements the HTTP API's query statistics. It returns nil
// when telemetry is off.
func (s *services) QueryStats() *telemetry.Snapshot {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Snapshot()
}

// IndexFile implements the server backends.
func (s *services) IndexFile(ctx context.Context, path string, opts ingest.FileOptions) (int, error) {
	return s.coord.IndexFile(ctx, path, opts)
}

// IndexDirectory implements the server backends.
func (s *services) IndexDirectory(ctx context.Context, root string, opts ingest.FileOptions) (async.JobSnapshot, error) {
	return s.coord.IndexDirectory(ctx, root, opts)
}

// Job implements the server backends.
func (s *services) Job(id string) (async.JobSnapshot, bool) {
	if s.coord == nil {
		return async.JobSnapshot{}, false
	}
	return s.coord.Job(id)
}

// RemoveFile implements the server backends.
func (s *services) RemoveFile(ctx context.Context, path string) (int, error) {
	return s.coord.RemoveFile(ctx, path)
}

// Status implements the server backends.
func (s *services) Status(ctx context.Context) ingest.Status {
	return s.coord.Status(ctx)
}

func embedderConfig(cfg *config.Config) embed.Config {
	return embed.Config{
		Provider:   embed.ParseProvider(cfg.Embeddings.Provider),
		Host:       cfg.Embeddings.OllamaHost,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
		Timeout:    cfg.Embeddings.Timeout,
		CacheSize:  cfg.Embeddings.CacheSize,
	}
}

func ocrConfig(cfg *config.Config) extract.OCRConfig {
	oc := extract.DefaultOCRConfig()
	oc.URL = cfg.OCR.URL
	oc.Languages = cfg.OCR.Languages
	oc.DPI = cfg.OCR.DPI
	oc.Timeout = cfg.OCR.Timeout
	oc.RequestsPerSecond = cfg.OCR.RequestsPerSecond
	oc.Burst = cfg.OCR.Burst
	return oc
}

func searchConfig(cfg *config.Config) search.Config {
	sc := search.DefaultConfig()
	sc.MinSemanticScore = cfg.Search.MinSemanticScore
	sc.HybridThreshold = cfg.Search.HybridThreshold
	if cfg.Search.SnippetLength > 0 {
		sc.SnippetLength = cfg.Search.SnippetLength
	}
	return sc
}

func watchOptions(cfg *config.Config) watcher.Options {
	return watcher.Options{
		DebounceWindow:  cfg.Watch.Debounce,
		SweepInterval:   cfg.Watch.SweepInterval,
		PollInterval:    cfg.Watch.PollInterval,
		EventBufferSize: cfg.Watch.EventBuffer,
		Extensions:      cfg.Paths.Extensions,
		ForcePolling:    cfg.Watch.ForcePolling,
		IgnorePatterns:  cfg.Watch.Ignore,
	}.WithDefaults()
}
