package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := Path(filepath.Join(t.TempDir(), "data"))
	s, err := OpenSQLite(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSQLiteStore_ApplyAccumulates(t *testing.T) {
	// Given: two batches on the same day
	s, _ := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Apply(ctx, &Batch{
		Date:      "2026-03-02",
		Modes:     map[string]int64{"hybrid": 3, "keyword": 1},
		Divisions: map[string]int64{"DRH": 4},
		Latency:   map[LatencyBucket]int64{BucketUnder50ms: 4},
		Terms:     map[string]int64{"contrat": 2, "budget": 1},
	}))
	require.NoError(t, s.Apply(ctx, &Batch{
		Date:        "2026-03-02",
		Modes:       map[string]int64{"hybrid": 2},
		Divisions:   map[string]int64{"all": 2},
		Latency:     map[LatencyBucket]int64{BucketUnder1s: 2},
		Terms:       map[string]int64{"budget": 3},
		ZeroResults: []ZeroResultQuery{{Query: "organigramme", Mode: "hybrid", Timestamp: ts}},
	}))

	// When: reading the summary for that day
	sum, err := s.Summary(ctx, "2026-03-02", "2026-03-02", 5)
	require.NoError(t, err)

	// Then: counts are summed across batches
	assert.Equal(t, int64(6), sum.TotalQueries)
	assert.Equal(t, map[string]int64{"hybrid": 5, "keyword": 1}, sum.ModeCounts)
	assert.Equal(t, map[string]int64{"DRH": 4, "all": 2}, sum.DivisionCounts)
	assert.Equal(t, int64(2), sum.Latency[BucketUnder1s])
	assert.Equal(t, []TermCount{{Term: "budget", Count: 4}, {Term: "contrat", Count: 2}}, sum.TopTerms)
	require.Len(t, sum.ZeroResultQueries, 1)
	assert.Equal(t, "organigramme", sum.ZeroResultQueries[0].Query)
	assert.True(t, ts.Equal(sum.ZeroResultQueries[0].Timestamp))
}

func TestSQLiteStore_SummaryFiltersDates(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Apply(ctx, &Batch{Date: "2026-01-10", Modes: map[string]int64{"semantic": 7}}))
	require.NoError(t, s.Apply(ctx, &Batch{Date: "2026-02-10", Modes: map[string]int64{"semantic": 1}}))

	sum, err := s.Summary(ctx, "2026-02-01", "2026-02-28", 0)

	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.TotalQueries)
}

func TestSQLiteStore_TrimsZeroResults(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	zr := make([]ZeroResultQuery, MaxStoredZeroResults+20)
	for i := range zr {
		zr[i] = ZeroResultQuery{Query: "q", Mode: "keyword", Timestamp: time.Now()}
	}
	zr[len(zr)-1].Query = "latest"

	require.NoError(t, s.Apply(ctx, &Batch{Date: "2026-03-02", ZeroResults: zr}))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM zero_result_queries`).Scan(&n))
	assert.Equal(t, MaxStoredZeroResults, n)
	sum, err := s.Summary(ctx, "2026-03-02", "2026-03-02", 1)
	require.NoError(t, err)
	assert.Equal(t, "latest", sum.ZeroResultQueries[0].Query)
}

func TestOpenSQLite_ReadOnlyMissing(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), FileName), true)

	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMetrics_FlushToSQLite(t *testing.T) {
	// Given: a collector writing to a real store
	s, path := openTestStore(t)
	m := New(s, Config{})
	m.Record(QueryEvent{Query: "plan de formation", Mode: "hybrid", Division: "DRH", Results: 2})

	// When: closing the collector and reopening read-only
	require.NoError(t, m.Close())
	ro, err := OpenSQLite(path, true)
	require.NoError(t, err)
	defer func() { _ = ro.Close() }()

	// Then: the search is on disk
	today := time.Now().Format(time.DateOnly)
	sum, err := ro.Summary(context.Background(), today, today, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.DivisionCounts["DRH"])
	assert.Len(t, sum.TopTerms, 2)
}
