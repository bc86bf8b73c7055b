package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docindex/internal/embed"
	docerrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/store"
)

var (
	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("nil dependency")

	// ErrEmptyQuery is returned for blank queries.
	ErrEmptyQuery = errors.New("query is empty")
)

// Config holds the scoring thresholds of the engine.
type Config struct {
	// MinSemanticScore drops semantic-mode hits with a lower raw similarity.
	// Kept low so cross-language matches survive until boosted.
	MinSemanticScore float64

	// HybridThreshold is the minimum score of an unboosted semantic hit in
	// hybrid mode.
	HybridThreshold float64

	// AgreementBonus is added to a hybrid semantic hit that was also a
	// keyword hit.
	AgreementBonus float64

	// KeywordBase is the base score of a hybrid keyword-only hit.
	KeywordBase float64

	// KeywordScanFactor sizes the keyword scan window as limit times this.
	KeywordScanFactor int

	SnippetLength int
}

// DefaultConfig returns the default scoring configuration.
func DefaultConfig() Config {
	return Config{
		MinSemanticScore:  0.30,
		HybridThreshold:   0.40,
		AgreementBonus:    0.20,
		KeywordBase:       0.50,
		KeywordScanFactor: 10,
		SnippetLength:     SnippetLength,
	}
}

// Engine answers search requests against a page store. It keeps no state
// between requests and is safe for concurrent use.
type Engine struct {
	store    store.PageStore
	embedder embed.Embedder
	cfg      Config
}

var _ Searcher = (*Engine)(nil)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithConfig replaces the scoring configuration. Zero fields keep their
// defaults.
func WithConfig(cfg Config) EngineOption {
	return func(e *Engine) {
		d := DefaultConfig()
		if cfg.MinSemanticScore <= 0 {
			cfg.MinSemanticScore = d.MinSemanticScore
		}
		if cfg.HybridThreshold <= 0 {
			cfg.HybridThreshold = d.HybridThreshold
		}
		if cfg.AgreementBonus <= 0 {
			cfg.AgreementBonus = d.AgreementBonus
		}
		if cfg.KeywordBase <= 0 {
			cfg.KeywordBase = d.KeywordBase
		}
		if cfg.KeywordScanFactor <= 0 {
			cfg.KeywordScanFactor = d.KeywordScanFactor
		}
		if cfg.SnippetLength <= 0 {
			cfg.SnippetLength = d.SnippetLength
		}
		e.cfg = cfg
	}
}

// NewEngine creates a search engine.
func NewEngine(pages store.PageStore, embedder embed.Embedder, opts ...EngineOption) (*Engine, error) {
	if pages == nil {
		return nil, fmt.Errorf("%w: page store is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}

	e := &Engine{store: pages, embedder: embedder, cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search runs req and returns at most its resolved limit of results,
// best first. A store or embedder failure fails the whole request.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, docerrors.New(docerrors.ErrCodeQueryEmpty, "search query is empty", ErrEmptyQuery).
			WithSuggestion("provide at least one search term")
	}

	mode := req.ResolvedMode()
	limit := req.ResolvedLimit()
	q := parseQuery(req.Query)
	filter := store.Filter{Division: req.Division}

	var (
		candidates []Candidate
		err        error
	)
	switch mode {
	case ModeSemantic:
		candidates, err = e.semantic(ctx, q, req.Query, filter, limit)
	case ModeKeyword:
		candidates, err = e.keyword(ctx, q, filter, limit)
	default:
		candidates, err = e.hybrid(ctx, q, req.Query, filter, limit)
	}
	if err != nil {
		return nil, err
	}

	// Stable: equal scores keep retrieval order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = c.result(e.cfg.SnippetLength)
	}

	elapsed := time.Since(start)
	slog.Debug("search completed",
		slog.String("query", req.Query),
		slog.String("mode", string(mode)),
		slog.String("division", req.Division),
		slog.Int("results", len(results)),
		slog.Duration("duration", elapsed))

	return &Response{
		Query:        req.Query,
		Mode:         mode,
		TotalResults: len(results),
		Results:      results,
		SearchTimeMs: float64(elapsed.Microseconds()) / 1000,
	}, nil
}

// semantic returns boosted vector hits at or above MinSemanticScore.
func (e *Engine) semantic(ctx context.Context, q query, raw string, filter store.Filter, limit int) ([]Candidate, error) {
	hits, err := e.vectorSearch(ctx, raw, filter, limit*2)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		if h.Score < e.cfg.MinSemanticScore {
			continue
		}
		out = append(out, newCandidate(h.Page, h.Score+q.boost(h.Page.TextContent)))
	}
	return out, nil
}

// keyword returns up to limit pages containing any query term, scored
// from a base of 1.0.
func (e *Engine) keyword(ctx context.Context, q query, filter store.Filter, limit int) ([]Candidate, error) {
	pages, err := e.keywordMatches(ctx, q, filter, limit)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, len(pages))
	for i, p := range pages {
		out[i] = newCandidate(p, 1.0+q.boost(p.TextContent))
	}
	return out, nil
}

// hybrid merges a semantic and a keyword sub-query run concurrently.
func (e *Engine) hybrid(ctx context.Context, q query, raw string, filter store.Filter, limit int) ([]Candidate, error) {
	var (
		hits    []store.Hit
		matches []store.Page
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hits, err = e.vectorSearch(gctx, raw, filter, limit*3)
		return err
	})
	g.Go(func() error {
		var err error
		matches, err = e.keywordMatches(gctx, q, filter, limit*2)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	keywordIDs := make(map[string]struct{}, len(matches))
	for _, p := range matches {
		keywordIDs[p.ID] = struct{}{}
	}

	out := make([]Candidate, 0, len(hits)+len(matches))
	kept := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		base := h.Score
		if _, ok := keywordIDs[h.Page.ID]; ok {
			base += e.cfg.AgreementBonus
		}
		boost := q.boost(h.Page.TextContent)
		c := newCandidate(h.Page, base+boost)
		if c.Score >= e.cfg.HybridThreshold || boost > 0 {
			out = append(out, c)
			kept[c.ID] = struct{}{}
		}
	}

	for _, p := range matches {
		if _, ok := kept[p.ID]; ok {
			continue
		}
		out = append(out, newCandidate(p, e.cfg.KeywordBase+q.boost(p.TextContent)))
	}
	return out, nil
}

func (e *Engine) vectorSearch(ctx context.Context, raw string, filter store.Filter, limit int) ([]store.Hit, error) {
	vec, err := e.embedder.Embed(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := e.store.Search(ctx, vec, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}

// keywordMatches scans a window of pages in the division and keeps those
// containing any query term, up to limit. The store has no
// case-insensitive substring search, so matching happens here.
func (e *Engine) keywordMatches(ctx context.Context, q query, filter store.Filter, limit int) ([]store.Page, error) {
	pages, err := e.store.Query(ctx, filter, limit*e.cfg.KeywordScanFactor)
	if err != nil {
		return nil, fmt.Errorf("keyword scan: %w", err)
	}

	out := make([]store.Page, 0, min(limit, len(pages)))
	for _, p := range pages {
		if len(out) >= limit {
			break
		}
		if q.matchesAny(p.TextContent) {
			out = append(out, p)
		}
	}
	return out, nil
}
