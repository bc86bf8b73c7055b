package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docindex/internal/api"
	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/daemon"
	"github.com/Aman-CERP/docindex/internal/embed"
	docerrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/lifecycle"
	"github.com/Aman-CERP/docindex/internal/logging"
	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/watcher"
	"github.com/Aman-CERP/docindex/pkg/version"
)

type serveOptions struct {
	addr    string
	root    string
	noWatch bool
	noScan  bool
	noHTTP  bool

	skipChecks bool
	waitOllama time.Duration
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the local socket and the watcher",
		Long: `Run docindex in the foreground.

Starts three things that share one index:
  - the HTTP API (default 127.0.0.1:8000)
  - the local socket used by the other docindex commands
  - the watcher, which reindexes documents after they stop changing

The documents root is scanned once at startup unless --no-scan is given.
Stop with Ctrl+C or 'docindex stop'.

Examples:
  docindex serve
  docindex serve --root /srv/archive --addr :8080
  docindex serve --no-watch`,
		Annotations: map[string]string{annotationOwnLogging: ""},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "HTTP listen address (default: server.http_addr)")
	cmd.Flags().StringVar(&opts.root, "root", "", "Documents root (default: paths.documents_root)")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "Do not watch the documents root")
	cmd.Flags().BoolVar(&opts.noScan, "no-scan", false, "Do not index existing documents at startup")
	cmd.Flags().BoolVar(&opts.noHTTP, "no-http", false, "Serve the local socket only")
	cmd.Flags().BoolVar(&opts.skipChecks, "skip-checks", false, "Start without the system check")
	cmd.Flags().DurationVar(&opts.waitOllama, "wait-ollama", 30*time.Second, "How long to wait for the Ollama server at startup (0 disables)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts serveOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Server.HTTPAddr = opts.addr
	}
	if opts.root != "" {
		cfg.Paths.DocumentsRoot = opts.root
	}

	cleanup, err := setupServeLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	out := output.New(cmd.ErrOrStderr())

	dcfg := daemonConfig(cfg)

	pid := daemon.NewPIDFile(dcfg.PIDPath)
	if err := pid.Acquire(); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return fmt.Errorf("%w; use 'docindex stop' first", err)
		}
		return err
	}
	defer func() { _ = pid.Release() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := waitForEmbedder(ctx, out, cfg, opts.waitOllama); err != nil {
		return err
	}

	// The coordinator only reports changes once indexing starts below, by
	// which time flusher is set.
	var flusher *daemon.Flusher
	svc, err := openServices(ctx, cfg, serviceOptions{
		workers:       -1,
		onChange:      func(path string) { flusher.Touch(path) },
		recordQueries: cfg.Search.Telemetry,
	})
	if err != nil {
		return err
	}
	flusher = daemon.NewFlusher(svc.store, 5*time.Second, cfg.Store.FlushInterval)
	defer func() {
		_ = svc.coord.Close()
		flusher.Stop()
		if err := svc.Close(); err != nil {
			slog.Error("failed to close index", slog.String("error", err.Error()))
		}
	}()

	if !opts.skipChecks {
		if err := runServePreflight(ctx, cmd.ErrOrStderr(), cfg, svc); err != nil {
			return err
		}
	}

	socket, err := daemon.NewServer(dcfg, svc)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return socket.ListenAndServe(gctx)
	})
	out.Statusf("", "Socket: %s", dcfg.SocketPath)

	if !opts.noHTTP {
		httpServer, err := api.New(svc, api.Config{
			Addr:             cfg.Server.HTTPAddr,
			CORSOrigins:      cfg.Server.CORSOrigins,
			RateLimit:        cfg.Server.RateLimit,
			RateBurst:        cfg.Server.RateBurst,
			DefaultDirectory: cfg.Paths.DocumentsRoot,
			ShutdownTimeout:  10 * time.Second,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return httpServer.ListenAndServe(gctx)
		})
		out.Statusf("", "HTTP API: http://%s", cfg.Server.HTTPAddr)
	}

	if cfg.Watch.Enabled && !opts.noWatch {
		if err := svc.coord.StartWatching(gctx, cfg.Paths.DocumentsRoot); err != nil {
			if !errors.Is(err, watcher.ErrRootNotFound) {
				return err
			}
			out.Warningf("Documents root %s does not exist, watcher disabled", cfg.Paths.DocumentsRoot)
		} else {
			out.Statusf("", "Watching: %s", cfg.Paths.DocumentsRoot)
		}
	}

	if cfg.Watch.ScanOnStart && !opts.noScan {
		root := cfg.Paths.DocumentsRoot
		g.Go(func() error {
			n, err := svc.coord.ScanExisting(gctx, root)
			if err != nil {
				slog.Warn("initial scan failed", slog.String("root", root), slog.String("error", err.Error()))
				return nil
			}
			slog.Info("initial scan queued", slog.String("root", root), slog.Int("files", n))
			return nil
		})
	}

	slog.Info("docindex serving",
		slog.String("version", version.Version),
		slog.String("http", cfg.Server.HTTPAddr),
		slog.String("socket", dcfg.SocketPath),
		slog.String("documents_root", cfg.Paths.DocumentsRoot),
		slog.String("data_dir", cfg.Paths.DataDir))
	out.Success("docindex is running (Ctrl+C to stop)")

	err = g.Wait()
	slog.Info("docindex stopping")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// setupServeLogging logs to the configured file and to stderr.
func setupServeLogging(cfg *config.Config) (func(), error) {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	if debugMode {
		logCfg.Level = "debug"
	}
	if cfg.Logging.FilePath != "" {
		logCfg.FilePath = cfg.Logging.FilePath
	}
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxFiles = cfg.Logging.MaxFiles

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	return cleanup, nil
}

// waitForEmbedder gives a starting Ollama server time to come up, e.g.
// when both are launched by the same service manager.
func waitForEmbedder(ctx context.Context, out *output.Writer, cfg *config.Config, timeout time.Duration) error {
	if timeout <= 0 || embed.ParseProvider(cfg.Embeddings.Provider) != embed.ProviderOllama {
		return nil
	}
	m := lifecycle.NewOllamaManager(cfg.Embeddings.OllamaHost)
	if m.IsRunning(ctx) {
		return nil
	}
	out.Statusf(output.IconInfo, "Waiting up to %s for Ollama at %s", timeout, m.Host())
	if err := m.WaitForReady(ctx, timeout); err != nil {
		return docerrors.New(docerrors.ErrCodeEmbedderUnavailable,
			"ollama is not reachable at "+m.Host(), err).
			WithSuggestion("start the Ollama server, then run 'docindex pull' if the model is missing")
	}
	slog.Info("ollama ready", slog.String("host", m.Host()))
	return nil
}
