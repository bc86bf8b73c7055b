package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	batches []*Batch
	err     error
}

func (s *recordingSink) Apply(_ context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, b)
	return nil
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{10 * time.Millisecond, BucketUnder50ms},
		{50 * time.Millisecond, BucketUnder200ms},
		{800 * time.Millisecond, BucketUnder1s},
		{2 * time.Second, BucketUnder5s},
		{time.Minute, BucketOver5s},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d), tt.d.String())
	}
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"contrat", "travail", "2024"}, ExtractTerms("Contrat de travail, 2024!"))
	assert.Equal(t, []string{"été", "congés"}, ExtractTerms("été / congés"))
	assert.Nil(t, ExtractTerms("  a b "))
}

func TestMetrics_RecordAndSnapshot(t *testing.T) {
	// Given: an in-memory collector
	m := New(nil, Config{})
	defer func() { _ = m.Close() }()

	// When: recording three searches, one repeated and one empty
	m.Record(QueryEvent{Query: "budget annuel", Mode: "hybrid", Division: "DAF", Results: 3, Latency: 30 * time.Millisecond})
	m.Record(QueryEvent{Query: "Budget  annuel", Mode: "hybrid", Division: "DAF", Results: 2, Latency: 300 * time.Millisecond})
	m.Record(QueryEvent{Query: "organigramme", Mode: "keyword", Results: 0, Latency: 5 * time.Millisecond})

	// Then: the aggregates reflect them
	s := m.Snapshot()
	assert.Equal(t, int64(3), s.TotalQueries)
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, int64(1), s.RepeatCount)
	assert.Equal(t, map[string]int64{"hybrid": 2, "keyword": 1}, s.ModeCounts)
	assert.Equal(t, map[string]int64{"DAF": 2, "all": 1}, s.DivisionCounts)
	assert.Equal(t, int64(2), s.Latency[BucketUnder50ms])
	assert.Equal(t, int64(1), s.Latency[BucketUnder1s])
	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, TermCount{Term: "annuel", Count: 2}, s.TopTerms[0])
	require.Len(t, s.ZeroResultQueries, 1)
	assert.Equal(t, "organigramme", s.ZeroResultQueries[0].Query)
	assert.InDelta(t, 1.0/3.0, s.ZeroResultRate(), 1e-9)
}

func TestMetrics_FlushWritesDeltas(t *testing.T) {
	// Given: a collector with a sink and no background flush
	sink := &recordingSink{}
	m := New(sink, Config{})

	// When: flushing twice with a search in between each
	m.Record(QueryEvent{Query: "note de service", Mode: "semantic", Results: 1})
	require.NoError(t, m.Flush(context.Background()))
	m.Record(QueryEvent{Query: "note", Mode: "semantic", Results: 0})
	require.NoError(t, m.Close())

	// Then: each batch only holds what was new
	require.Len(t, sink.batches, 2)
	assert.Equal(t, int64(1), sink.batches[0].Modes["semantic"])
	assert.Equal(t, int64(1), sink.batches[1].Modes["semantic"])
	assert.Equal(t, int64(1), sink.batches[1].Terms["note"])
	assert.Len(t, sink.batches[1].ZeroResults, 1)
	assert.Equal(t, time.Now().Format(time.DateOnly), sink.batches[0].Date)
}

func TestMetrics_FlushFailureKeepsBatch(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	m := New(sink, Config{})
	m.Record(QueryEvent{Query: "rapport", Mode: "keyword", Results: 1})

	assert.Error(t, m.Flush(context.Background()))

	sink.err = nil
	require.NoError(t, m.Flush(context.Background()))
	require.Len(t, sink.batches, 1)
	assert.Equal(t, int64(1), sink.batches[0].Modes["keyword"])
}

func TestMetrics_EmptyFlushSkipsSink(t *testing.T) {
	sink := &recordingSink{}
	m := New(sink, Config{})

	require.NoError(t, m.Close())

	assert.Empty(t, sink.batches)
}

func TestMetrics_IgnoresRecordAfterClose(t *testing.T) {
	m := New(nil, Config{})
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	m.Record(QueryEvent{Query: "x", Mode: "hybrid"})

	assert.Zero(t, m.Snapshot().TotalQueries)
}

func TestMetrics_BackgroundFlush(t *testing.T) {
	sink := &recordingSink{}
	m := New(sink, Config{FlushInterval: 10 * time.Millisecond})
	defer func() { _ = m.Close() }()

	m.Record(QueryEvent{Query: "facture", Mode: "hybrid", Results: 4})

	assert.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.batches) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRing_DropsOldest(t *testing.T) {
	r := NewRing[int](3)
	assert.Empty(t, r.Items())

	for i := 1; i <= 5; i++ {
		r.Add(i)
	}

	assert.Equal(t, []int{3, 4, 5}, r.Items())
	assert.Equal(t, 3, r.Len())
}
