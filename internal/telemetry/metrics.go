package telemetry

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is a search latency histogram bucket.
type LatencyBucket string

const (
	BucketUnder50ms  LatencyBucket = "lt50ms"
	BucketUnder200ms LatencyBucket = "lt200ms"
	BucketUnder1s    LatencyBucket = "lt1s"
	BucketUnder5s    LatencyBucket = "lt5s"
	BucketOver5s     LatencyBucket = "gte5s"
)

// LatencyBuckets lists the buckets in ascending order.
var LatencyBuckets = []LatencyBucket{BucketUnder50ms, BucketUnder200ms, BucketUnder1s, BucketUnder5s, BucketOver5s}

// LatencyToBucket maps a search duration to its bucket. Semantic and
// hybrid searches include the query embedding round trip, hence the
// wide upper buckets.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < 50*time.Millisecond:
		return BucketUnder50ms
	case d < 200*time.Millisecond:
		return BucketUnder200ms
	case d < time.Second:
		return BucketUnder1s
	case d < 5*time.Second:
		return BucketUnder5s
	default:
		return BucketOver5s
	}
}

// QueryEvent is one answered search.
type QueryEvent struct {
	Query     string
	Mode      string
	Division  string
	Results   int
	Latency   time.Duration
	Timestamp time.Time
}

// ZeroResultQuery is a search that found nothing.
type ZeroResultQuery struct {
	Query     string    `json:"query"`
	Mode      string    `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
}

// TermCount is a query term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a copy of the in-memory aggregates.
type Snapshot struct {
	Since             time.Time               `json:"since"`
	TotalQueries      int64                   `json:"total_queries"`
	ZeroResultCount   int64                   `json:"zero_result_count"`
	RepeatCount       int64                   `json:"repeat_count"`
	ModeCounts        map[string]int64        `json:"mode_counts"`
	DivisionCounts    map[string]int64        `json:"division_counts"`
	Latency           map[LatencyBucket]int64 `json:"latency"`
	TopTerms          []TermCount             `json:"top_terms"`
	ZeroResultQueries []ZeroResultQuery       `json:"zero_result_queries"`
}

// ZeroResultRate returns the share of searches that found nothing, in
// [0, 1].
func (s *Snapshot) ZeroResultRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries)
}

// Batch holds the aggregates recorded since the previous flush.
type Batch struct {
	Date        string
	Modes       map[string]int64
	Divisions   map[string]int64
	Latency     map[LatencyBucket]int64
	Terms       map[string]int64
	ZeroResults []ZeroResultQuery
}

// Empty reports whether there is nothing to write.
func (b *Batch) Empty() bool {
	return len(b.Modes) == 0 && len(b.Terms) == 0 && len(b.ZeroResults) == 0
}

// Sink persists flushed batches.
type Sink interface {
	Apply(ctx context.Context, b *Batch) error
}

// Config configures a Metrics collector.
type Config struct {
	// TopTerms bounds the terms kept in memory.
	TopTerms int

	// ZeroResults bounds the zero-result queries kept in memory.
	ZeroResults int

	// RecentQueries bounds the query hashes used to detect repeats.
	RecentQueries int

	// FlushInterval is the period of background flushes. 0 flushes only
	// on Flush and Close.
	FlushInterval time.Duration
}

// DefaultConfig returns the defaults used by the server.
func DefaultConfig() Config {
	return Config{
		TopTerms:      200,
		ZeroResults:   100,
		RecentQueries: 500,
		FlushInterval: time.Minute,
	}
}

// Metrics collects search telemetry. It is safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	since       time.Time
	total       int64
	zeroCount   int64
	repeats     int64
	modes       map[string]int64
	divisions   map[string]int64
	latency     map[LatencyBucket]int64
	terms       *lru.Cache[string, int64]
	zeroResults *Ring[ZeroResultQuery]
	recent      *lru.Cache[string, struct{}]

	pending *Batch

	sink   Sink
	stopCh chan struct{}
	done   chan struct{}
	closed bool
}

// New creates a collector. With a nil sink aggregates stay in memory.
func New(sink Sink, cfg Config) *Metrics {
	def := DefaultConfig()
	if cfg.TopTerms <= 0 {
		cfg.TopTerms = def.TopTerms
	}
	if cfg.ZeroResults <= 0 {
		cfg.ZeroResults = def.ZeroResults
	}
	if cfg.RecentQueries <= 0 {
		cfg.RecentQueries = def.RecentQueries
	}

	terms, _ := lru.New[string, int64](cfg.TopTerms)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueries)

	m := &Metrics{
		since:       time.Now(),
		modes:       make(map[string]int64),
		divisions:   make(map[string]int64),
		latency:     make(map[LatencyBucket]int64),
		terms:       terms,
		zeroResults: NewRing[ZeroResultQuery](cfg.ZeroResults),
		recent:      recent,
		pending:     newBatch(),
		sink:        sink,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}

	if sink != nil && cfg.FlushInterval > 0 {
		go m.flushLoop(cfg.FlushInterval)
	} else {
		close(m.done)
	}
	return m
}

func newBatch() *Batch {
	return &Batch{
		Modes:     make(map[string]int64),
		Divisions: make(map[string]int64),
		Latency:   make(map[LatencyBucket]int64),
		Terms:     make(map[string]int64),
	}
}

func (m *Metrics) flushLoop(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Flush(context.Background()); err != nil {
				slog.Warn("failed to flush query telemetry", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// Record adds one search. Division "" is counted as "all".
func (m *Metrics) Record(e QueryEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	division := e.Division
	if division == "" {
		division = "all"
	}
	bucket := LatencyToBucket(e.Latency)
	terms := ExtractTerms(e.Query)
	key := hashQuery(e.Query)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.total++
	m.modes[e.Mode]++
	m.divisions[division]++
	m.latency[bucket]++
	m.pending.Modes[e.Mode]++
	m.pending.Divisions[division]++
	m.pending.Latency[bucket]++

	for _, t := range terms {
		n, _ := m.terms.Get(t)
		m.terms.Add(t, n+1)
		m.pending.Terms[t]++
	}

	if e.Results == 0 {
		zr := ZeroResultQuery{Query: e.Query, Mode: e.Mode, Timestamp: e.Timestamp}
		m.zeroCount++
		m.zeroResults.Add(zr)
		m.pending.ZeroResults = append(m.pending.ZeroResults, zr)
	}

	if _, seen := m.recent.Get(key); seen {
		m.repeats++
	}
	m.recent.Add(key, struct{}{})
}

// Snapshot returns a copy of the aggregates since the collector started.
// Top terms are ordered by count, then term.
func (m *Metrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	terms := make([]TermCount, 0, m.terms.Len())
	for _, k := range m.terms.Keys() {
		if n, ok := m.terms.Peek(k); ok {
			terms = append(terms, TermCount{Term: k, Count: n})
		}
	}
	SortTerms(terms)

	return &Snapshot{
		Since:             m.since,
		TotalQueries:      m.total,
		ZeroResultCount:   m.zeroCount,
		RepeatCount:       m.repeats,
		ModeCounts:        maps.Clone(m.modes),
		DivisionCounts:    maps.Clone(m.divisions),
		Latency:           maps.Clone(m.latency),
		TopTerms:          terms,
		ZeroResultQueries: m.zeroResults.Items(),
	}
}

// Flush writes the aggregates recorded since the previous flush. On a sink
// error the batch is merged back so nothing is lost.
func (m *Metrics) Flush(ctx context.Context) error {
	if m.sink == nil {
		return nil
	}

	m.mu.Lock()
	b := m.pending
	m.pending = newBatch()
	m.mu.Unlock()

	if b.Empty() {
		return nil
	}
	b.Date = time.Now().Format(time.DateOnly)

	if err := m.sink.Apply(ctx, b); err != nil {
		m.mu.Lock()
		m.pending.merge(b)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (b *Batch) merge(o *Batch) {
	for k, v := range o.Modes {
		b.Modes[k] += v
	}
	for k, v := range o.Divisions {
		b.Divisions[k] += v
	}
	for k, v := range o.Latency {
		b.Latency[k] += v
	}
	for k, v := range o.Terms {
		b.Terms[k] += v
	}
	b.ZeroResults = append(o.ZeroResults, b.ZeroResults...)
}

// Close stops background flushing and writes what is left.
func (m *Metrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	select {
	case <-m.done:
	default:
		close(m.stopCh)
		<-m.done
	}
	return m.Flush(context.Background())
}

// ExtractTerms lowercases a query and splits it into words of at least
// three letters or digits.
func ExtractTerms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := words[:0]
	for _, w := range words {
		if len([]rune(w)) >= 3 {
			terms = append(terms, w)
		}
	}
	if len(terms) == 0 {
		return nil
	}
	return terms
}

// SortTerms orders terms by descending count, then alphabetically.
func SortTerms(terms []TermCount) {
	slices.SortFunc(terms, func(a, b TermCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Term, b.Term)
	})
}

func hashQuery(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}
