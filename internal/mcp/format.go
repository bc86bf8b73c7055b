package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/docindex/internal/search"
)

// FormatSearchResults formats a search response as markdown.
func FormatSearchResults(resp *search.Response) string {
	if resp == nil || len(resp.Results) == 0 {
		query := ""
		if resp != nil {
			query = resp.Query
		}
		return fmt.Sprintf("No documents found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", resp.Query)
	fmt.Fprintf(&sb, "Found %d result", len(resp.Results))
	if len(resp.Results) != 1 {
		sb.WriteString("s")
	}
	fmt.Fprintf(&sb, " (%s, %.0f ms)\n\n", resp.Mode, resp.SearchTimeMs)

	for i, r := range resp.Results {
		formatResult(&sb, i+1, r)
	}
	return sb.String()
}

func formatResult(sb *strings.Builder, num int, r search.Result) {
	name := r.FileName
	if name == "" {
		name = r.FilePath
	}
	fmt.Fprintf(sb, "### %d. %s, page %d/%d (score: %.2f)\n", num, name, r.PageNumber, r.TotalPages, r.Score)

	var meta []string
	if r.Division != "" {
		meta = append(meta, "**Division:** "+r.Division)
	}
	if r.Language != "" {
		meta = append(meta, "**Language:** "+r.Language)
	}
	meta = append(meta, fmt.Sprintf("**Path:** `%s`", r.FilePath))
	sb.WriteString(strings.Join(meta, " | "))
	sb.WriteString("\n\n")

	snippet := strings.TrimSpace(r.TextSnippet)
	if snippet != "" {
		for _, line := range strings.Split(snippet, "\n") {
			sb.WriteString("> ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
}

// FormatIndexStatus formats index statistics as markdown.
func FormatIndexStatus(out *IndexStatusOutput) string {
	st := out.Index

	var sb strings.Builder
	sb.WriteString("## Index Status\n\n")
	if st.StoreConnected {
		fmt.Fprintf(&sb, "**Store:** %s (%s), %d pages from %d files\n",
			st.Store.Name, st.Store.Backend, st.Store.Pages, st.Store.Files)
	} else {
		fmt.Fprintf(&sb, "**Store:** unavailable (%s)\n", st.StoreError)
	}
	if st.WatcherActive {
		fmt.Fprintf(&sb, "**Watcher:** active on `%s` (%s)\n", st.WatchRoot, st.WatchMode)
	} else {
		sb.WriteString("**Watcher:** inactive\n")
	}
	fmt.Fprintf(&sb, "**Indexed this session:** %d files, %d pages, %d failures, %d in flight\n",
		st.FilesIndexed, st.PagesIndexed, st.Failures, st.InFlight)
	if st.LastIndexedAt != nil {
		fmt.Fprintf(&sb, "**Last indexed:** %s\n", st.LastIndexedAt.Format("2006-01-02 15:04:05"))
	}
	if st.ActiveJobs > 0 {
		fmt.Fprintf(&sb, "\n### Directory jobs\n\n")
		for _, j := range st.Jobs {
			fmt.Fprintf(&sb, "- `%s`: %s, %d/%d files, %d pages\n", j.Root, j.Status, j.FilesProcessed, j.FilesTotal, j.PagesIndexed)
		}
	}
	return sb.String()
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit > max {
		return max
	}
	return limit
}
