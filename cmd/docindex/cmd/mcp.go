package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/daemon"
	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/logging"
	"github.com/Aman-CERP/docindex/internal/mcp"
	"github.com/Aman-CERP/docindex/internal/search"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the index to an AI assistant over MCP (stdio)",
		Long: `Run a Model Context Protocol server on stdin/stdout.

Tools: search, index_file, index_status.

When 'docindex serve' is running, requests are forwarded to it over the
local socket; otherwise the index is opened in this process. Logs go to
~/.docindex/logs/server.log only, since stdout carries the protocol.`,
		Annotations: map[string]string{annotationOwnLogging: ""},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd.Context())
		},
	}
}

func runMCP(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if debugMode {
		level = "debug"
	}
	cleanup, err := logging.SetupFileOnly(level)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()

	var backend mcp.Backend
	client := daemon.NewClient(daemonConfig(cfg))
	if client.IsRunning() {
		slog.Info("mcp forwarding to running server", slog.String("socket", cfg.SocketPath()))
		backend = daemonBackend{client: client}
	} else {
		svc, err := openServices(ctx, cfg, serviceOptions{workers: 0, recordQueries: cfg.Search.Telemetry})
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()
		backend = svc
	}

	server, err := mcp.NewServer(backend)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// daemonBackend serves MCP tools through the daemon socket.
type daemonBackend struct {
	client *daemon.Client
}

func (b daemonBackend) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	return b.client.Search(ctx, req)
}

func (b daemonBackend) IndexFile(ctx context.Context, path string, opts ingest.FileOptions) (int, error) {
	res, err := b.client.IndexFile(ctx, daemon.IndexFileParams{
		FilePath: path,
		Division: opts.Division,
		UserID:   opts.UserID,
		Language: opts.Language,
	})
	if err != nil {
		return 0, err
	}
	return res.PagesIndexed, nil
}

func (b daemonBackend) Status(ctx context.Context) ingest.Status {
	res, err := b.client.Status(ctx)
	if err != nil {
		return ingest.Status{StoreError: err.Error()}
	}
	return res.Index
}
