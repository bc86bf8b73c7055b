package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/daemon"
	"github.com/Aman-CERP/docindex/internal/output"
)

func newRemoveCmd() *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "remove <path>",
		Short: "Remove a document's pages from the index",
		Long: `Remove every indexed page of a document.

The file itself is not touched and does not need to exist any more.

Examples:
  docindex remove /srv/archive/DRH/old-contract.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), cmd, args[0], local)
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Remove in this process even if a server is running")
	return cmd
}

func runRemove(ctx context.Context, cmd *cobra.Command, path string, local bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	out := output.New(cmd.OutOrStdout())

	client := daemon.NewClient(daemonConfig(cfg))
	if !local && client.IsRunning() {
		res, err := client.RemoveFile(ctx, path)
		if err != nil {
			return err
		}
		reportRemoved(out, res.FilePath, res.PagesRemoved)
		return nil
	}

	svc, err := openServices(ctx, cfg, serviceOptions{workers: 0})
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	n, err := svc.RemoveFile(ctx, path)
	if err != nil {
		return err
	}
	reportRemoved(out, path, n)
	return nil
}

func reportRemoved(out *output.Writer, path string, pages int) {
	if pages == 0 {
		out.Statusf(output.IconInfo, "No pages indexed for %s", path)
		return
	}
	out.Successf("Removed %d page(s) of %s", pages, path)
}
