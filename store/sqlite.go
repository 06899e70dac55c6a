package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteKV is a SQLite-backed KV. A single-file database with zero
// setup, suited to development and single-process deployments; WAL mode
// keeps reads concurrent with the single writer.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV opens (and migrates) the database at path. Use ":memory:"
// for an ephemeral store in tests.
func NewSQLiteKV(path string) (*SQLiteKV, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS kv_entries (
			k          TEXT PRIMARY KEY,
			v          BLOB NOT NULL,
			version    INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_kv_updated ON kv_entries(updated_at)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &SQLiteKV{db: db}, nil
}

// Get implements KV.
func (s *SQLiteKV) Get(ctx context.Context, key string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT v, version, updated_at FROM kv_entries WHERE k = ?", key)

	entry := Entry{Key: key}
	if err := row.Scan(&entry.Value, &entry.Version, &entry.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return entry, nil
}

// CompareAndSet implements KV.
func (s *SQLiteKV) CompareAndSet(ctx context.Context, key string, expectVersion int64, value []byte) (int64, error) {
	now := time.Now().UTC()

	var result sql.Result
	var err error
	if expectVersion == 0 {
		result, err = s.db.ExecContext(ctx,
			"INSERT INTO kv_entries (k, v, version, updated_at) VALUES (?, ?, 1, ?) ON CONFLICT(k) DO NOTHING",
			key, value, now)
	} else {
		result, err = s.db.ExecContext(ctx,
			"UPDATE kv_entries SET v = ?, version = version + 1, updated_at = ? WHERE k = ? AND version = ?",
			value, now, key, expectVersion)
	}
	if err != nil {
		return 0, fmt.Errorf("compare-and-set %s: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("compare-and-set %s: %w", key, err)
	}
	if affected == 0 {
		return 0, ErrVersionConflict
	}
	return expectVersion + 1, nil
}

// Prune implements KV.
func (s *SQLiteKV) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM kv_entries WHERE updated_at < ?", olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return int(affected), nil
}

// Close releases the database handle.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}
