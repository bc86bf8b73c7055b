package mcp

import (
	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/search"
)

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query    string `json:"query" jsonschema:"the search query, in French or English"`
	Mode     string `json:"mode,omitempty" jsonschema:"retrieval mode: hybrid (default), semantic or keyword"`
	Division string `json:"division,omitempty" jsonschema:"restrict results to one division, e.g. DRH or DAF"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Query        string          `json:"query"`
	Mode         string          `json:"mode"`
	TotalResults int             `json:"total_results"`
	Results      []search.Result `json:"results" jsonschema:"matching pages, best first"`
}

// IndexFileInput defines the input schema for the index_file tool.
type IndexFileInput struct {
	FilePath string `json:"file_path" jsonschema:"absolute path of the document to index"`
	Division string `json:"division,omitempty" jsonschema:"division to record; derived from the path when empty"`
	UserID   string `json:"user_id,omitempty" jsonschema:"uploader identifier stored with each page"`
	Language string `json:"language,omitempty" jsonschema:"document language, fr or en"`
}

// IndexFileOutput defines the output schema for the index_file tool.
type IndexFileOutput struct {
	FilePath     string `json:"file_path"`
	PagesIndexed int    `json:"pages_indexed"`
	Message      string `json:"message"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Version string        `json:"version"`
	Index   ingest.Status `json:"index"`
}
