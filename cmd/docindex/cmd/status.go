package cmd

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/async"
	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/daemon"
	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/store"
	"github.com/Aman-CERP/docindex/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var (
		jsonOutput bool
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and server status",
		Long: `Show what is indexed and whether a server is running.

With a running server the report includes the watcher and the files
indexed since it started. Without one the index is opened read-only; no
embedding service is needed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput, noColor)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput, noColor bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	info := ui.StatusInfo{
		DataDir:        cfg.Paths.DataDir,
		DiskSize:       dirSize(cfg.Paths.DataDir),
		EmbeddingModel: cfg.Embeddings.Provider + "/" + cfg.Embeddings.Model,
	}

	client := daemon.NewClient(daemonConfig(cfg))
	if res, err := client.Status(ctx); err == nil && res.Running {
		info.Source = "daemon"
		info.PID = res.PID
		info.Uptime = res.Uptime
		applyIndexStatus(&info, res.Index)
	} else {
		info.Source = "store"
		applyStoreStats(ctx, &info, cfg)
	}

	r := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()))
	if jsonOutput {
		return r.RenderJSON(info)
	}
	return r.Render(info)
}

func applyIndexStatus(info *ui.StatusInfo, st ingest.Status) {
	info.StoreError = st.StoreError
	info.Backend = st.Store.Backend
	info.Name = st.Store.Name
	info.Pages = st.Store.Pages
	info.Files = st.Store.Files
	info.Orphans = st.Store.Orphans
	info.WatcherActive = st.WatcherActive
	info.WatchRoot = st.WatchRoot
	info.FilesIndexed = st.FilesIndexed
	info.PagesIndexed = st.PagesIndexed
	info.Failures = st.Failures
	info.LastIndexedAt = st.LastIndexedAt
	for _, j := range st.Jobs {
		if j.Status != string(async.StatusRunning) {
			continue
		}
		info.Jobs = append(info.Jobs, ui.JobLine{
			ID:        j.ID,
			Directory: j.Root,
			Processed: j.FilesProcessed,
			Total:     j.FilesTotal,
		})
	}
}

// applyStoreStats opens the store read-only. The vector dimension is
// taken from the saved graph so the embedder is not needed.
func applyStoreStats(ctx context.Context, info *ui.StatusInfo, cfg *config.Config) {
	dims, err := store.ReadVectorDimensions(store.VectorPath(cfg.Paths.DataDir))
	if err != nil {
		info.StoreError = err.Error()
		return
	}
	if dims == 0 {
		dims = max(cfg.Embeddings.Dimensions, 1)
	}

	st, err := store.Open(store.Config{
		DataDir:    cfg.Paths.DataDir,
		Backend:    cfg.Store.Backend,
		Dimensions: dims,
		ReadOnly:   true,
	})
	if err != nil {
		info.StoreError = err.Error()
		return
	}
	defer func() { _ = st.Close() }()

	stats, err := st.Stats(ctx)
	if err != nil {
		info.StoreError = err.Error()
		return
	}
	info.Backend = stats.Backend
	info.Name = stats.Name
	info.Pages = stats.Pages
	info.Files = stats.Files
	info.Orphans = stats.Orphans
}

// dirSize returns the total size of the regular files under dir.
func dirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if fi, err := d.Info(); err == nil {
				size += fi.Size()
			}
		}
		return nil
	})
	return size
}
