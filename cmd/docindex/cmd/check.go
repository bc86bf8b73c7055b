package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/embed"
	docerrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/extract"
	"github.com/Aman-CERP/docindex/internal/preflight"
)

func newCheckCmd() *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the host and services before serving",
		Long: `Check that docindex can run here: the data directory is writable and
has free space, the open file limit suits the watcher, the documents root
exists, and the embedding and OCR services answer.

'docindex serve' runs the same checks when they have not passed in the
last 24 hours.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.Context(), cmd.OutOrStdout(), jsonOutput, verbose)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for each check")
	return cmd
}

func runCheck(ctx context.Context, w io.Writer, jsonOutput, verbose bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var results []preflight.CheckResult

	embedder, err := embed.NewEmbedder(ctx, embedderConfig(cfg))
	if err != nil {
		results = append(results, preflight.CheckResult{
			Name:     "embedder",
			Status:   preflight.StatusFail,
			Message:  err.Error(),
			Required: true,
		})
	} else {
		defer func() { _ = embedder.Close() }()
	}

	checker := newChecker(cfg, embedder, w, verbose)
	results = append(checker.RunAll(ctx, preflightTarget(cfg)), results...)

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"status": checker.SummaryStatus(results),
			"checks": results,
		}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		return docerrors.New(docerrors.ErrCodePreflightFailed, "system check failed", nil).
			WithSuggestion("fix the failed checks above, then run 'docindex check' again")
	}
	if err := preflight.MarkPassed(cfg.Paths.DataDir); err != nil {
		slog.Warn("failed to record passing check", slog.String("error", err.Error()))
	}
	return nil
}

// runServePreflight runs the checks before serving unless they passed
// recently. Results are only printed when something is wrong.
func runServePreflight(ctx context.Context, w io.Writer, cfg *config.Config, svc *services) error {
	if !preflight.NeedsCheck(cfg.Paths.DataDir, preflight.MarkerMaxAge) {
		return nil
	}

	checker := newChecker(cfg, svc.embedder, w, false)
	results := checker.RunAll(ctx, preflightTarget(cfg))
	if checker.SummaryStatus(results) != "ready" {
		checker.PrintResults(results)
	}
	if checker.HasCriticalFailures(results) {
		return docerrors.New(docerrors.ErrCodePreflightFailed, "system check failed", nil).
			WithSuggestion("run 'docindex check -v' for details")
	}
	if err := preflight.MarkPassed(cfg.Paths.DataDir); err != nil {
		return fmt.Errorf("failed to record passing check: %w", err)
	}
	return nil
}

// newChecker adds the service checks that apply to cfg. A nil embedder
// skips the embedder check.
func newChecker(cfg *config.Config, embedder embed.Embedder, w io.Writer, verbose bool) *preflight.Checker {
	opts := []preflight.Option{
		preflight.WithOutput(w),
		preflight.WithVerbose(verbose),
	}
	if embedder != nil {
		opts = append(opts, preflight.WithEmbedder(embedder))
	}
	if cfg.OCR.Enabled {
		opts = append(opts, preflight.WithOCR(extract.NewHTTPOCR(ocrConfig(cfg))))
	}
	return preflight.New(opts...)
}

func preflightTarget(cfg *config.Config) preflight.Target {
	return preflight.Target{
		DataDir:       cfg.Paths.DataDir,
		DocumentsRoot: cfg.Paths.DocumentsRoot,
	}
}
