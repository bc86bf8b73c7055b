package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docindex/internal/async"
	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/daemon"
	docerrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/store"
	"github.com/Aman-CERP/docindex/internal/ui"
)

type indexOptions struct {
	division string
	userID   string
	language string
	workers  int
	rebuild  bool
	dryRun   bool
	local    bool
	wait     bool
	plain    bool
	noColor  bool
}

func (o indexOptions) fileOptions() ingest.FileOptions {
	return ingest.FileOptions{Division: o.division, UserID: o.userID, Language: o.language}
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a document or a directory tree",
		Long: `Index one document or every supported document under a directory.

Without a path the configured documents root is indexed. When 'docindex
serve' is running the work is handed to it; otherwise the index is opened
directly and progress is shown while files are processed.

Examples:
  docindex index
  docindex index /srv/archive/DRH --division DRH
  docindex index report.pdf --language fr
  docindex index /srv/archive/DAF --wait
  docindex index --rebuild --workers 4
  docindex index --dry-run`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(cmd.Context(), cmd, path, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.division, "division", "d", "", "Division code stored on every page (default: from the path)")
	cmd.Flags().StringVar(&opts.userID, "user", "", "Uploader ID stored on every page")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Language stored on every page (default: detected)")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Files indexed in parallel (default: ingest.max_workers)")
	cmd.Flags().BoolVar(&opts.rebuild, "rebuild", false, "Delete the index before indexing")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "List the files that would be indexed")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Index in this process even if a server is running")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "With a running server, wait for a directory job to finish")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain progress output (no TUI)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string, opts indexOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if path == "" {
		path = cfg.Paths.DocumentsRoot
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	out := output.New(cmd.OutOrStdout())

	if !opts.local && !opts.rebuild && !opts.dryRun {
		client := daemon.NewClient(daemonConfig(cfg))
		if client.IsRunning() {
			return indexViaDaemon(ctx, out, client, path, opts)
		}
	}

	if opts.rebuild && !opts.dryRun {
		if err := removeIndex(cfg); err != nil {
			return err
		}
		out.Success("Removed existing index")
	}

	svc, err := openServices(ctx, cfg, serviceOptions{workers: 0})
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	info, err := os.Stat(path)
	if err != nil {
		return docerrors.FileNotFound(path)
	}
	files := []string{path}
	if info.IsDir() {
		if files, err = svc.coord.ListFiles(path); err != nil {
			return err
		}
	}

	if opts.dryRun {
		for _, f := range files {
			out.Status("", f)
		}
		out.Newline()
		out.Statusf("", "%d file(s) would be indexed", len(files))
		return nil
	}

	workers := opts.workers
	if workers <= 0 {
		workers = cfg.Ingest.MaxWorkers
	}
	if workers <= 0 {
		workers = 1
	}
	workers = min(workers, runtime.NumCPU()*4)

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.plain),
		ui.WithNoColor(opts.noColor),
		ui.WithRoot(path)))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	stats, err := indexFiles(ctx, svc, renderer, files, workers, opts.fileOptions())
	if err != nil {
		return err
	}

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageFlushing, Message: "saving vector index"})
	if err := svc.store.Flush(); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}

	if st, err := svc.store.Stats(ctx); err == nil {
		stats.Store = fmt.Sprintf("%s (%s), %d pages from %d files", st.Backend, st.Name, st.Pages, st.Files)
	}
	renderer.Complete(stats)
	return nil
}

// indexFiles indexes files with up to workers in parallel. A failed file
// is reported and counted; only cancellation stops the run.
func indexFiles(ctx context.Context, svc *services, r ui.Renderer, files []string, workers int, fo ingest.FileOptions) (ui.CompletionStats, error) {
	start := time.Now()
	total := len(files)
	var done, pages, skipped, failed atomic.Int64

	r.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: fmt.Sprintf("found %d file(s)", total)})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := svc.coord.IndexFile(gctx, f, fo)
			switch {
			case err == nil:
				pages.Add(int64(n))
			case errors.Is(err, context.Canceled):
				return err
			case isSkip(err):
				skipped.Add(1)
				r.AddError(ui.ErrorEvent{File: f, Err: err, IsWarn: true})
			default:
				failed.Add(1)
				r.AddError(ui.ErrorEvent{File: f, Err: err})
				slog.Error("indexing failed", slog.String("path", f), slog.String("error", err.Error()))
			}
			r.UpdateProgress(ui.ProgressEvent{
				Stage:       ui.StageIndexing,
				Current:     int(done.Add(1)),
				Total:       total,
				Pages:       int(pages.Load()),
				CurrentFile: f,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ui.CompletionStats{}, err
	}

	return ui.CompletionStats{
		Files:    total - int(skipped.Load()+failed.Load()),
		Pages:    int(pages.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
		Duration: time.Since(start),
	}, nil
}

// isSkip reports whether err means the file is not indexable, as opposed
// to a failure worth retrying.
func isSkip(err error) bool {
	switch docerrors.GetCode(err) {
	case docerrors.ErrCodeUnsupportedFormat, docerrors.ErrCodeFileTooLarge:
		return true
	}
	return false
}

func indexViaDaemon(ctx context.Context, out *output.Writer, client *daemon.Client, path string, opts indexOptions) error {
	info, err := os.Stat(path)
	if err != nil {
		return docerrors.FileNotFound(path)
	}

	if info.IsDir() {
		res, err := client.IndexDirectory(ctx, daemon.IndexDirectoryParams{
			DirectoryPath: path,
			Division:      opts.division,
		})
		if err != nil {
			return err
		}
		out.Successf("Queued %d file(s) from %s on the running server", res.FilesQueued, res.DirectoryPath)
		if opts.wait {
			return waitForJob(ctx, out, client, res.JobID, jobPollInterval)
		}
		out.Statusf("", "Job %s; follow progress with 'docindex status' or 'docindex logs -f'", res.JobID)
		return nil
	}

	res, err := client.IndexFile(ctx, daemon.IndexFileParams{
		FilePath: path,
		Division: opts.division,
		UserID:   opts.userID,
		Language: opts.language,
	})
	if err != nil {
		return err
	}
	out.Successf("Indexed %d page(s) from %s", res.PagesIndexed, res.FilePath)
	return nil
}

const jobPollInterval = time.Second

// waitForJob polls a directory job on the server until it finishes,
// printing progress whenever another file is done.
func waitForJob(ctx context.Context, out *output.Writer, client *daemon.Client, id string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		job, err := client.Job(ctx, id)
		if err != nil {
			return err
		}
		if job.FilesProcessed != last && job.Status == string(async.StatusRunning) {
			last = job.FilesProcessed
			out.Statusf("", "%d/%d file(s), %d page(s)", job.FilesProcessed, job.FilesTotal, job.PagesIndexed)
		}

		switch async.JobStatus(job.Status) {
		case async.StatusDone:
			out.Successf("Indexed %d file(s), %d page(s) in %ds", job.FilesProcessed-job.Failures, job.PagesIndexed, job.ElapsedSeconds)
			if job.Failures > 0 {
				out.Warningf("%d file(s) failed, last error: %s", job.Failures, job.LastError)
			}
			return nil
		case async.StatusCancelled:
			return fmt.Errorf("indexing job %s stopped: %s", id, job.LastError)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// removeIndex deletes the page metadata and the vector graph. It refuses
// while another process holds the data directory.
func removeIndex(cfg *config.Config) error {
	lock := store.NewDirLock(cfg.Paths.DataDir)
	ok, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return docerrors.New(docerrors.ErrCodeStoreLocked,
			"data directory is in use by another process: "+cfg.Paths.DataDir, nil).
			WithSuggestion("stop the running server with 'docindex stop' before rebuilding")
	}
	defer func() { _ = lock.Unlock() }()

	for _, p := range []string{
		store.MetadataPath(cfg.Paths.DataDir, store.BackendSQLite),
		store.MetadataPath(cfg.Paths.DataDir, store.BackendSQLite) + "-wal",
		store.MetadataPath(cfg.Paths.DataDir, store.BackendSQLite) + "-shm",
		store.MetadataPath(cfg.Paths.DataDir, store.BackendBleve),
		store.VectorPath(cfg.Paths.DataDir),
	} {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

// daemonConfig returns the socket configuration for cfg.
func daemonConfig(cfg *config.Config) daemon.Config {
	dcfg := daemon.DefaultConfig(cfg.Paths.DataDir)
	dcfg.SocketPath = cfg.SocketPath()
	return dcfg
}
