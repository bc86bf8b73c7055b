package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// SQLiteMetadata implements MetadataStore on SQLite in WAL mode, which
// lets a CLI process read while the server writes.
type SQLiteMetadata struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ MetadataStore = (*SQLiteMetadata)(nil)

const pageColumns = `id, file_path, file_name, page_number, total_pages, is_first_page,
	is_last_page, division, user_id, text_content, language, created_at, file_size, content_type`

// validateSQLiteIntegrity checks an existing database file before opening it.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteMetadata opens or creates the page table at path.
// An empty path opens an in-memory database.
func NewSQLiteMetadata(path string) (*SQLiteMetadata, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}

		if err := validateSQLiteIntegrity(path); err != nil {
			slog.Warn("page database corrupted, recreating",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, fmt.Errorf("page database corrupted at %s and cannot remove: %w", path, rmErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	m := &SQLiteMetadata{db: db, path: path}
	if err := m.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return m, nil
}

func (m *SQLiteMetadata) initSchema() error {
	_, err := m.db.Exec(`
	CREATE TABLE IF NOT EXISTS pages (
		seq           INTEGER PRIMARY KEY AUTOINCREMENT,
		id            TEXT NOT NULL UNIQUE,
		file_path     TEXT NOT NULL,
		file_name     TEXT NOT NULL,
		page_number   INTEGER NOT NULL,
		total_pages   INTEGER NOT NULL,
		is_first_page INTEGER NOT NULL,
		is_last_page  INTEGER NOT NULL,
		division      TEXT NOT NULL,
		user_id       TEXT NOT NULL DEFAULT '',
		text_content  TEXT NOT NULL,
		language      TEXT NOT NULL,
		created_at    INTEGER NOT NULL,
		file_size     INTEGER NOT NULL,
		content_type  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pages_file_path ON pages(file_path);
	CREATE INDEX IF NOT EXISTS idx_pages_division ON pages(division);
	`)
	return err
}

// Put inserts pages, replacing rows that share an id.
func (m *SQLiteMetadata) Put(ctx context.Context, pages []Page) error {
	if len(pages) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO pages (`+pageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range pages {
		p := &pages[i]
		_, err := stmt.ExecContext(ctx,
			p.ID, p.FilePath, p.FileName, p.PageNumber, p.TotalPages,
			boolToInt(p.IsFirstPage), boolToInt(p.IsLastPage),
			p.Division, p.UserID, p.TextContent, p.Language,
			p.CreatedAt, p.FileSize, p.ContentType)
		if err != nil {
			return fmt.Errorf("insert page %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteByFilePath removes every page of filePath and returns their ids.
func (m *SQLiteMetadata) DeleteByFilePath(ctx context.Context, filePath string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM pages WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, fmt.Errorf("select pages: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE file_path = ?`, filePath); err != nil {
		return nil, fmt.Errorf("delete pages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// Get returns the pages with the given ids.
func (m *SQLiteMetadata) Get(ctx context.Context, ids []string) (map[string]Page, error) {
	out := make(map[string]Page, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	// SQLite caps bound parameters; 500 stays well under every default.
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		batch := ids[start:end]

		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		q := `SELECT ` + pageColumns + ` FROM pages WHERE id IN (?` + strings.Repeat(",?", len(batch)-1) + `)`

		pages, err := m.queryPages(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		for _, p := range pages {
			out[p.ID] = p
		}
	}
	return out, nil
}

// Query returns up to limit pages matching filter in insertion order.
func (m *SQLiteMetadata) Query(ctx context.Context, filter Filter, limit int) ([]Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	var where []string
	var args []any
	if filter.Division != "" {
		where = append(where, "division = ?")
		args = append(args, filter.Division)
	}
	if filter.FilePath != "" {
		where = append(where, "file_path = ?")
		args = append(args, filter.FilePath)
	}

	q := `SELECT ` + pageColumns + ` FROM pages`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY seq`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	return m.queryPages(ctx, q, args...)
}

func (m *SQLiteMetadata) queryPages(ctx context.Context, q string, args ...any) ([]Page, error) {
	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		var p Page
		var first, last int
		if err := rows.Scan(&p.ID, &p.FilePath, &p.FileName, &p.PageNumber, &p.TotalPages,
			&first, &last, &p.Division, &p.UserID, &p.TextContent, &p.Language,
			&p.CreatedAt, &p.FileSize, &p.ContentType); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		p.IsFirstPage = first != 0
		p.IsLastPage = last != 0
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// Count returns the number of pages and distinct files.
func (m *SQLiteMetadata) Count(ctx context.Context) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, 0, ErrClosed
	}

	var pages, files int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT file_path) FROM pages`).Scan(&pages, &files)
	if err != nil {
		return 0, 0, fmt.Errorf("count pages: %w", err)
	}
	return pages, files, nil
}

// Close closes the database.
func (m *SQLiteMetadata) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
