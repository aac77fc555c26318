package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteBackend implements Backend using SQLite as the underlying data store.
// File contents are stored as BLOBs, which suits small galleries or
// single-node deployments that want everything in one file.
type SQLiteBackend struct {
	// BaseURL is the URL prefix files are served under.
	BaseURL string

	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database file at dbPath, applies
// performance PRAGMAs, and creates the files table.
func NewSQLiteBackend(dbPath, baseURL string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage database directory %q: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite storage database: %w", err)
	}
	// One connection: the PRAGMAs below apply per connection, and writes are
	// serialized by SQLite anyway.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{BaseURL: baseURL, db: db}
	if err := b.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite storage database: %w", err)
	}
	return b, nil
}

// initDB applies PRAGMAs and creates the required tables.
func (b *SQLiteBackend) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := b.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS files (
			name       TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			size       INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("creating storage schema: %w", err)
	}
	return nil
}

// Close closes the underlying SQLite database connection.
func (b *SQLiteBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// Class implements Backend.
func (b *SQLiteBackend) Class() string { return ClassSQLite }

// Save stores the content as a new row. The insert does nothing on a name
// conflict, so an existing row is never replaced.
func (b *SQLiteBackend) Save(ctx context.Context, name string, content io.Reader) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("reading file data: %w", err)
	}

	return claimName(ctx, b, name, func(candidate string) error {
		res, err := b.db.ExecContext(ctx,
			`INSERT INTO files (name, data, size, created_at) VALUES (?, ?, ?, ?) ON CONFLICT(name) DO NOTHING`,
			candidate, data, len(data), time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("saving file %q: %w", candidate, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errNameTaken
		}
		return nil
	})
}

// Open reads the file into memory and returns a reader over it.
func (b *SQLiteBackend) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = b.db.QueryRowContext(ctx, `SELECT data FROM files WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file %q: %w", name, err)
	}
	return newBytesFile(data), nil
}

// URL implements Backend.
func (b *SQLiteBackend) URL(name string) string {
	return joinURL(b.BaseURL, name)
}

// Delete removes the row. Idempotent.
func (b *SQLiteBackend) Delete(ctx context.Context, name string) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM files WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting file %q: %w", name, err)
	}
	return nil
}

// Exists checks whether a row with the given name exists.
func (b *SQLiteBackend) Exists(ctx context.Context, name string) (bool, error) {
	name, err := cleanName(name)
	if err != nil {
		return false, err
	}
	var one int
	err = b.db.QueryRowContext(ctx, `SELECT 1 FROM files WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking file existence %q: %w", name, err)
	}
	return true, nil
}

// HealthCheck verifies that the database connection is alive.
func (b *SQLiteBackend) HealthCheck(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

var _ Backend = (*SQLiteBackend)(nil)
