package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// FileName is the telemetry database inside the data directory.
const FileName = "telemetry.db"

// MaxStoredZeroResults bounds the zero-result queries kept on disk.
const MaxStoredZeroResults = 500

// Summary is the persisted telemetry over a date range.
type Summary struct {
	From              string                  `json:"from"`
	To                string                  `json:"to"`
	TotalQueries      int64                   `json:"total_queries"`
	ModeCounts        map[string]int64        `json:"mode_counts"`
	DivisionCounts    map[string]int64        `json:"division_counts"`
	Latency           map[LatencyBucket]int64 `json:"latency"`
	TopTerms          []TermCount             `json:"top_terms"`
	ZeroResultQueries []ZeroResultQuery       `json:"zero_result_queries"`
}

// SQLiteStore persists telemetry batches in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Path returns the telemetry database path for a data directory.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// OpenSQLite opens or creates the database at path. A read-only store
// fails with os.ErrNotExist when nothing was recorded yet.
func OpenSQLite(path string, readOnly bool) (*SQLiteStore, error) {
	dsn := path
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		dsn = path + "?mode=ro"
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragma: %w", err)
	}

	s := &SQLiteStore{db: db}
	if !readOnly {
		if err := s.initSchema(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	if _, err := s.db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return fmt.Errorf("set pragma: %w", err)
	}

	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS query_mode_stats (
		date  TEXT NOT NULL,
		mode  TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, mode)
	);

	CREATE TABLE IF NOT EXISTS query_division_stats (
		date     TEXT NOT NULL,
		division TEXT NOT NULL,
		count    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, division)
	);

	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date   TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term      TEXT PRIMARY KEY,
		count     INTEGER NOT NULL DEFAULT 0,
		last_seen TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		query     TEXT NOT NULL,
		mode      TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);
	`)
	if err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// Apply adds a batch to the stored counts in one transaction and trims
// old zero-result queries.
func (s *SQLiteStore) Apply(ctx context.Context, b *Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	daily := []struct {
		table, column string
		counts        map[string]int64
	}{
		{"query_mode_stats", "mode", b.Modes},
		{"query_division_stats", "division", b.Divisions},
		{"query_latency_stats", "bucket", bucketCounts(b.Latency)},
	}
	for _, d := range daily {
		q := fmt.Sprintf(`INSERT INTO %s (date, %s, count) VALUES (?, ?, ?)
			ON CONFLICT(date, %s) DO UPDATE SET count = count + excluded.count`, d.table, d.column, d.column)
		for k, n := range d.counts {
			if _, err := tx.ExecContext(ctx, q, b.Date, k, n); err != nil {
				return fmt.Errorf("update %s: %w", d.table, err)
			}
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for term, n := range b.Terms {
		if _, err := tx.ExecContext(ctx, `INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, ?)
			ON CONFLICT(term) DO UPDATE SET count = count + excluded.count, last_seen = excluded.last_seen`,
			term, n, now); err != nil {
			return fmt.Errorf("update query_terms: %w", err)
		}
	}

	for _, zr := range b.ZeroResults {
		if _, err := tx.ExecContext(ctx, `INSERT INTO zero_result_queries (query, mode, timestamp) VALUES (?, ?, ?)`,
			zr.Query, zr.Mode, zr.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert zero_result_queries: %w", err)
		}
	}
	if len(b.ZeroResults) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM zero_result_queries WHERE id NOT IN
			(SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)`, MaxStoredZeroResults); err != nil {
			return fmt.Errorf("trim zero_result_queries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func bucketCounts(m map[LatencyBucket]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

// Summary reads the counts for dates in [from, to] (YYYY-MM-DD), the top
// terms and the most recent zero-result queries, newest first.
func (s *SQLiteStore) Summary(ctx context.Context, from, to string, limit int) (*Summary, error) {
	if limit <= 0 {
		limit = 10
	}
	sum := &Summary{From: from, To: to, Latency: make(map[LatencyBucket]int64)}

	var err error
	if sum.ModeCounts, err = s.sumByDate(ctx, "query_mode_stats", "mode", from, to); err != nil {
		return nil, err
	}
	if sum.DivisionCounts, err = s.sumByDate(ctx, "query_division_stats", "division", from, to); err != nil {
		return nil, err
	}
	latency, err := s.sumByDate(ctx, "query_latency_stats", "bucket", from, to)
	if err != nil {
		return nil, err
	}
	for k, v := range latency {
		sum.Latency[LatencyBucket(k)] = v
	}
	for _, n := range sum.ModeCounts {
		sum.TotalQueries += n
	}

	rows, err := s.db.QueryContext(ctx, `SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query terms: %w", err)
	}
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan term: %w", err)
		}
		sum.TopTerms = append(sum.TopTerms, tc)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT query, mode, timestamp FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero results: %w", err)
	}
	for rows.Next() {
		var (
			zr ZeroResultQuery
			ts string
		)
		if err := rows.Scan(&zr.Query, &zr.Mode, &ts); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan zero result: %w", err)
		}
		zr.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		sum.ZeroResultQueries = append(sum.ZeroResultQueries, zr)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return sum, nil
}

func (s *SQLiteStore) sumByDate(ctx context.Context, table, column, from, to string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s, SUM(count) FROM %s
		WHERE date >= ? AND date <= ? GROUP BY %s`, column, table, column), from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	counts := make(map[string]int64)
	for rows.Next() {
		var (
			k string
			n int64
		)
		if err := rows.Scan(&k, &n); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		counts[k] = n
	}
	return counts, closeRows(rows)
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
