// Package local provides the on-device persistence layer for a schedule.
//
// It has two halves:
//   - KV: the durable key-value store the host device offers
//     (SQLiteKV on disk, MemoryKV in process).
//   - Adapter: serializes a schedule.Set under one versioned key of a KV and
//     exposes Load, Save and Clear.
//
// Architecture:
//   - Database file: ~/.timetable/local.db
//   - WAL mode: readers never block the single writer
//   - Schema: kv(key, value, updated_at)
package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteKV is a KV backed by an embedded SQLite database file.
type SQLiteKV struct {
	conn *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database at path and initializes the
// schema.
//
// The caller MUST call Close() when done to ensure the WAL is checkpointed.
//
// Example:
//
//	kv, err := local.OpenSQLite(filepath.Join(dataDir, "local.db"))
//	if err != nil {
//	    return err
//	}
//	defer kv.Close()
func OpenSQLite(path string) (*SQLiteKV, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL lets readers run beside the single writer.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	kv := &SQLiteKV{conn: conn, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := kv.conn.Exec(p); err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := kv.InitSchema(context.Background()); err != nil {
		_ = kv.Close()
		return nil, err
	}

	return kv, nil
}

// Path returns the database file location.
func (kv *SQLiteKV) Path() string {
	return kv.path
}

// InitSchema creates the kv table if it doesn't exist. Idempotent.
func (kv *SQLiteKV) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := kv.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Get returns the value stored under key.
func (kv *SQLiteKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := kv.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

// Set inserts or replaces the value under key.
func (kv *SQLiteKV) Set(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if _, err := kv.conn.ExecContext(ctx, query, key, value, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. Returns nil if the key doesn't exist.
func (kv *SQLiteKV) Remove(ctx context.Context, key string) error {
	if _, err := kv.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// Close checkpoints the WAL and closes the connection.
func (kv *SQLiteKV) Close() error {
	if kv.conn == nil {
		return nil
	}

	if _, err := kv.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := kv.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	kv.conn = nil
	return nil
}
