package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo is what `docindex status` reports.
type StatusInfo struct {
	// Source is "daemon" when a running daemon answered, "store" when the
	// store was opened directly.
	Source   string `json:"source"`
	PID      int    `json:"pid,omitempty"`
	Uptime   string `json:"uptime,omitempty"`
	DataDir  string `json:"data_dir"`
	Backend  string `json:"backend"`
	Name     string `json:"collection"`
	Pages    int    `json:"pages"`
	Files    int    `json:"files"`
	Orphans  int    `json:"orphans,omitempty"`
	DiskSize int64  `json:"disk_size"`

	StoreError string `json:"store_error,omitempty"`

	WatcherActive bool       `json:"watcher_active"`
	WatchRoot     string     `json:"watch_root,omitempty"`
	FilesIndexed  int64      `json:"files_indexed"`
	PagesIndexed  int64      `json:"pages_indexed"`
	Failures      int64      `json:"failures"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
	Jobs          []JobLine  `json:"jobs,omitempty"`

	EmbeddingModel string `json:"embedding_model,omitempty"`
}

// JobLine is a running directory job.
type JobLine struct {
	ID        string `json:"job_id"`
	Directory string `json:"directory"`
	Processed int    `json:"files_processed"`
	Total     int    `json:"files_total"`
}

// StatusRenderer prints StatusInfo.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render prints info as an aligned report.
func (r *StatusRenderer) Render(info StatusInfo) error {
	w := r.out
	_, _ = fmt.Fprintf(w, "%s\n\n", r.styles.Header.Render("docindex status"))

	daemon := r.styles.Warning.Render("not running")
	if info.Source == "daemon" {
		daemon = r.styles.Success.Render(fmt.Sprintf("running (pid %d, up %s)", info.PID, info.Uptime))
	}
	_, _ = fmt.Fprintf(w, "  Daemon:       %s\n", daemon)

	if info.StoreError != "" {
		_, _ = fmt.Fprintf(w, "  Store:        %s\n", r.styles.Error.Render(info.StoreError))
	} else {
		_, _ = fmt.Fprintf(w, "  Store:        %s (%s)\n", info.Backend, info.Name)
		_, _ = fmt.Fprintf(w, "  Pages:        %d\n", info.Pages)
		_, _ = fmt.Fprintf(w, "  Files:        %d\n", info.Files)
		if info.Orphans > 0 {
			_, _ = fmt.Fprintf(w, "  Orphans:      %s\n", r.styles.Warning.Render(fmt.Sprint(info.Orphans)))
		}
	}
	_, _ = fmt.Fprintf(w, "  Data dir:     %s (%s)\n", info.DataDir, FormatBytes(info.DiskSize))
	if info.EmbeddingModel != "" {
		_, _ = fmt.Fprintf(w, "  Embeddings:   %s\n", info.EmbeddingModel)
	}

	if info.Source == "daemon" {
		_, _ = fmt.Fprintln(w)
		watcher := r.styles.Warning.Render("stopped")
		if info.WatcherActive {
			watcher = r.styles.Success.Render("watching " + info.WatchRoot)
		}
		_, _ = fmt.Fprintf(w, "  Watcher:      %s\n", watcher)
		_, _ = fmt.Fprintf(w, "  Indexed:      %d files, %d pages since start\n", info.FilesIndexed, info.PagesIndexed)
		if info.Failures > 0 {
			_, _ = fmt.Fprintf(w, "  Failures:     %s\n", r.styles.Error.Render(fmt.Sprint(info.Failures)))
		}
		if info.LastIndexedAt != nil {
			_, _ = fmt.Fprintf(w, "  Last indexed: %s\n", formatTime(*info.LastIndexedAt))
		}
		for i, j := range info.Jobs {
			label := "  Jobs:         "
			if i > 0 {
				label = "                "
			}
			_, _ = fmt.Fprintf(w, "%s%s %d/%d files (%s)\n", label, j.Directory, j.Processed, j.Total, j.ID)
		}
	}
	return nil
}

// RenderJSON prints info as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

// formatTime formats t relative to now, falling back to a date after a week.
func formatTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
