// Package search ranks indexed pages against a query by combining vector
// similarity, keyword containment and a phrase boost that also rewards
// French/English translations of the query terms.
package search

import (
	"context"
	"strings"

	"github.com/Aman-CERP/docindex/internal/store"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
	ModeHybrid   Mode = "hybrid"
)

// ParseMode returns the mode named by s. Unknown and empty values map to
// ModeHybrid.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSemantic:
		return ModeSemantic
	case ModeKeyword:
		return ModeKeyword
	default:
		return ModeHybrid
	}
}

// ValidModes lists the accepted mode names.
func ValidModes() []string {
	return []string{string(ModeSemantic), string(ModeKeyword), string(ModeHybrid)}
}

const (
	// DefaultLimit is used when a request has no positive limit.
	DefaultLimit = 20

	// MaxLimit caps the number of results per request.
	MaxLimit = 100

	// SnippetLength is the default snippet size in characters.
	SnippetLength = 300
)

// Request is a search query.
type Request struct {
	Query string `json:"query"`

	// Mode is the default mode field.
	Mode string `json:"mode,omitempty"`

	// SearchMode takes precedence over Mode when set.
	SearchMode string `json:"search_mode,omitempty"`

	// Division restricts results to one division. Empty searches all.
	Division string `json:"division,omitempty"`

	Limit int `json:"limit,omitempty"`
}

// ResolvedMode returns the effective mode of r.
func (r Request) ResolvedMode() Mode {
	if strings.TrimSpace(r.SearchMode) != "" {
		return ParseMode(r.SearchMode)
	}
	return ParseMode(r.Mode)
}

// ResolvedLimit returns the effective limit of r.
func (r Request) ResolvedLimit() int {
	switch {
	case r.Limit <= 0:
		return DefaultLimit
	case r.Limit > MaxLimit:
		return MaxLimit
	default:
		return r.Limit
	}
}

// Result is one ranked page.
type Result struct {
	ID          string  `json:"id"`
	Score       float64 `json:"score"`
	FilePath    string  `json:"file_path"`
	FileName    string  `json:"file_name"`
	PageNumber  int     `json:"page_number"`
	TotalPages  int     `json:"total_pages"`
	Division    string  `json:"division"`
	TextSnippet string  `json:"text_snippet"`
	Language    string  `json:"language"`
	IsFirstPage bool    `json:"is_first_page"`
	IsLastPage  bool    `json:"is_last_page"`
}

// Response is the answer to a Request.
type Response struct {
	Query        string   `json:"query"`
	Mode         Mode     `json:"mode"`
	TotalResults int      `json:"total_results"`
	Results      []Result `json:"results"`
	SearchTimeMs float64  `json:"search_time_ms"`
}

// Searcher runs queries. Implemented by Engine.
type Searcher interface {
	Search(ctx context.Context, req Request) (*Response, error)
}

// Candidate is a scored page during one query. Candidates are built once
// with their final score and never modified.
type Candidate struct {
	ID          string
	Score       float64
	FilePath    string
	FileName    string
	PageNumber  int
	TotalPages  int
	Division    string
	TextContent string
	Language    string
	IsFirstPage bool
	IsLastPage  bool
}

// newCandidate builds a candidate from p with score clamped to [0, 1].
func newCandidate(p store.Page, score float64) Candidate {
	return Candidate{
		ID:          p.ID,
		Score:       clamp(score),
		FilePath:    p.FilePath,
		FileName:    p.FileName,
		PageNumber:  p.PageNumber,
		TotalPages:  p.TotalPages,
		Division:    p.Division,
		TextContent: p.TextContent,
		Language:    p.Language,
		IsFirstPage: p.IsFirstPage,
		IsLastPage:  p.IsLastPage,
	}
}

func (c Candidate) result(snippetLen int) Result {
	return Result{
		ID:          c.ID,
		Score:       c.Score,
		FilePath:    c.FilePath,
		FileName:    c.FileName,
		PageNumber:  c.PageNumber,
		TotalPages:  c.TotalPages,
		Division:    c.Division,
		TextSnippet: Snippet(c.TextContent, snippetLen),
		Language:    c.Language,
		IsFirstPage: c.IsFirstPage,
		IsLastPage:  c.IsLastPage,
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
