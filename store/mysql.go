package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLKV is a MySQL-backed KV for multi-instance deployments where
// admission counters and review history must be shared across processes.
//
// DSN format (parseTime is required so updated_at scans into time.Time):
//
//	user:password@tcp(127.0.0.1:3306)/repoauditor?parseTime=true
type MySQLKV struct {
	db *sql.DB
}

// NewMySQLKV opens a connection pool against dsn, verifies connectivity
// and migrates the schema.
func NewMySQLKV(dsn string) (*MySQLKV, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS kv_entries (
			k          VARCHAR(512) PRIMARY KEY,
			v          BLOB NOT NULL,
			version    BIGINT NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_kv_updated (updated_at)
		)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate mysql: %w", err)
	}

	return &MySQLKV{db: db}, nil
}

// Get implements KV.
func (m *MySQLKV) Get(ctx context.Context, key string) (Entry, error) {
	row := m.db.QueryRowContext(ctx,
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
func (m *MySQLKV) CompareAndSet(ctx context.Context, key string, expectVersion int64, value []byte) (int64, error) {
	now := time.Now().UTC()

	var result sql.Result
	var err error
	if expectVersion == 0 {
		result, err = m.db.ExecContext(ctx,
			"INSERT IGNORE INTO kv_entries (k, v, version, updated_at) VALUES (?, ?, 1, ?)",
			key, value, now)
	} else {
		result, err = m.db.ExecContext(ctx,
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
func (m *MySQLKV) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := m.db.ExecContext(ctx,
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

// Close releases the connection pool.
func (m *MySQLKV) Close() error {
	return m.db.Close()
}
