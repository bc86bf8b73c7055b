package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	var (
		days       int
		top        int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show search usage recorded by the server",
		Long: `Show how search has been used: searches per mode and division, latency,
the most searched terms and recent searches that found nothing.

Statistics are recorded by 'docindex serve' when search.telemetry is on
and kept in the data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 1 {
				return fmt.Errorf("invalid --days %d: must be at least 1", days)
			}
			return runStats(cmd, days, top, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include, today included")
	cmd.Flags().IntVarP(&top, "top", "n", 10, "Number of terms and empty searches to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runStats(cmd *cobra.Command, days, top int, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	st, err := telemetry.OpenSQLite(telemetry.Path(cfg.Paths.DataDir), true)
	if errors.Is(err, os.ErrNotExist) {
		out.Status(output.IconInfo, "No searches recorded yet")
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	now := time.Now()
	from := now.AddDate(0, 0, -(days - 1)).Format(time.DateOnly)
	sum, err := st.Summary(cmd.Context(), from, now.Format(time.DateOnly), top)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}

	out.Statusf("", "Searches from %s to %s: %d", sum.From, sum.To, sum.TotalQueries)
	if sum.TotalQueries == 0 {
		return nil
	}
	out.Newline()
	out.Field("By mode", joinCounts(sum.ModeCounts), 12)
	out.Field("By division", joinCounts(sum.DivisionCounts), 12)

	latency := make([]string, 0, len(telemetry.LatencyBuckets))
	for _, b := range telemetry.LatencyBuckets {
		if n := sum.Latency[b]; n > 0 {
			latency = append(latency, fmt.Sprintf("%s=%d", b, n))
		}
	}
	out.Field("Latency", strings.Join(latency, ", "), 12)

	if len(sum.TopTerms) > 0 {
		out.Newline()
		out.Status("", "Top terms:")
		for _, tc := range sum.TopTerms {
			out.Statusf("", "  %-24s %d", tc.Term, tc.Count)
		}
	}
	if len(sum.ZeroResultQueries) > 0 {
		out.Newline()
		out.Status("", "Recent searches with no results:")
		for _, zr := range sum.ZeroResultQueries {
			out.Statusf("", "  %s  %-8s %q", zr.Timestamp.Local().Format("2006-01-02 15:04"), zr.Mode, zr.Query)
		}
	}
	return nil
}

// joinCounts formats counts as "a=3, b=1", largest first.
func joinCounts(counts map[string]int64) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, ", ")
}
