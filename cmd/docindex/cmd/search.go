package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/daemon"
	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	mode     string
	division string
	limit    int
	format   string // "text", "json"
	local    bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed documents",
		Long: `Search the indexed pages.

Modes:
  hybrid    semantic hits merged with keyword hits (default)
  semantic  embedding similarity only, boosted by exact phrase matches
  keyword   case-insensitive substring match on the page text

Examples:
  docindex search "budget 2024"
  docindex search "contrat de travail" --division DRH --limit 5
  docindex search "invoice" --mode keyword --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", string(search.ModeHybrid), "Search mode: "+strings.Join(search.ValidModes(), ", "))
	cmd.Flags().StringVarP(&opts.division, "division", "d", "", "Only return pages of this division")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, fmt.Sprintf("Maximum number of results (max %d)", search.MaxLimit))
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Force local search (bypass the running server)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	if !slices.Contains(search.ValidModes(), strings.ToLower(opts.mode)) {
		return fmt.Errorf("invalid mode %q (valid: %s)", opts.mode, strings.Join(search.ValidModes(), ", "))
	}
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("invalid format %q (valid: text, json)", opts.format)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req := search.Request{
		Query:    query,
		Mode:     opts.mode,
		Division: opts.division,
		Limit:    opts.limit,
	}

	client := daemon.NewClient(daemonConfig(cfg))
	if !opts.local && client.IsRunning() {
		slog.Debug("search_using_daemon")
		resp, err := client.Search(ctx, req)
		if err == nil {
			return printSearchResponse(cmd, resp, opts.format)
		}
		// The server answered but failed; the local index may still serve.
		slog.Warn("daemon search failed, falling back to local", slog.String("error", err.Error()))
	}

	slog.Debug("search_using_local")
	svc, err := openServices(ctx, cfg, serviceOptions{readOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	resp, err := svc.Search(ctx, req)
	if err != nil {
		return err
	}
	return printSearchResponse(cmd, resp, opts.format)
}

func printSearchResponse(cmd *cobra.Command, resp *search.Response, format string) error {
	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	out := output.New(cmd.OutOrStdout())
	if len(resp.Results) == 0 {
		out.Statusf(output.IconInfo, "No documents found for %q", resp.Query)
		return nil
	}

	out.Statusf(output.IconSuccess, "%d result(s) for %q (%s, %.1f ms)",
		resp.TotalResults, resp.Query, resp.Mode, resp.SearchTimeMs)
	for i, r := range resp.Results {
		out.Newline()
		out.Statusf("", "%d. %s  page %d/%d  score %.2f", i+1, r.FileName, r.PageNumber, r.TotalPages, r.Score)
		meta := []string{r.Division}
		if r.Language != "" {
			meta = append(meta, r.Language)
		}
		meta = append(meta, r.FilePath)
		out.Statusf("", "   %s", strings.Join(meta, " · "))
		out.Quote(r.TextSnippet)
	}
	return nil
}
