// Package sqldoc stores per-owner course documents in a SQL table.
//
// The table layout is SQLite dialect and is meant for Turso (libSQL), where
// an embedded replica on the device forwards writes to the primary database.
// Any database/sql handle speaking SQLite works, which is how the tests run it.
//
// Schema:
//
//	course_docs(owner_id, course_id, doc, created_at, updated_at)
//	PRIMARY KEY (owner_id, course_id)
//
// LoadAll returns documents in first-insert order.
package sqldoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/tursodatabase/go-libsql"

	"github.com/timetable-sync/timetable/internal/remote"
	"github.com/timetable-sync/timetable/internal/schedule"
)

var _ remote.Adapter = (*Store)(nil)

// Store is a remote.Adapter over a SQL table.
type Store struct {
	conn   *sql.DB
	closer io.Closer
	logger *log.Logger
}

// New wraps an open database handle. The schema is created if missing.
// If logger is nil, logging is discarded.
func New(ctx context.Context, conn *sql.DB, logger *log.Logger) (*Store, error) {
	if conn == nil {
		return nil, fmt.Errorf("conn cannot be nil")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Store{conn: conn, logger: logger}
	if err := s.InitSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenLibSQL connects to a Turso database through an embedded replica kept at
// replicaPath. Reads are served by the replica, writes go to primaryURL.
//
// Example:
//
//	store, err := sqldoc.OpenLibSQL(ctx, "libsql://timetable-acme.turso.io", token,
//	    filepath.Join(dataDir, "remote-replica.db"), logger)
func OpenLibSQL(ctx context.Context, primaryURL, authToken, replicaPath string, logger *log.Logger) (*Store, error) {
	if primaryURL == "" {
		return nil, fmt.Errorf("primary url is required")
	}
	if err := os.MkdirAll(filepath.Dir(replicaPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create replica directory: %w", err)
	}

	connector, err := libsql.NewEmbeddedReplicaConnector(replicaPath, primaryURL, libsql.WithAuthToken(authToken))
	if err != nil {
		return nil, fmt.Errorf("failed to create libsql connector: %w", err)
	}

	conn := sql.OpenDB(connector)
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		_ = connector.Close()
		return nil, fmt.Errorf("failed to ping libsql database: %w", err)
	}

	s, err := New(ctx, conn, logger)
	if err != nil {
		_ = conn.Close()
		_ = connector.Close()
		return nil, err
	}
	s.closer = connector
	return s, nil
}

// InitSchema creates the documents table. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS course_docs (
		owner_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		doc TEXT NOT NULL,  -- JSON encoded schedule.Course
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (owner_id, course_id)
	);

	CREATE INDEX IF NOT EXISTS idx_course_docs_owner ON course_docs(owner_id);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const upsertQuery = `
	INSERT INTO course_docs (owner_id, course_id, doc, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(owner_id, course_id) DO UPDATE SET
		doc = excluded.doc,
		updated_at = excluded.updated_at
	`

func upsert(ctx context.Context, db execer, ownerID string, course schedule.Course) error {
	doc, err := json.Marshal(course)
	if err != nil {
		return fmt.Errorf("failed to marshal course %s: %w", course.ID, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := db.ExecContext(ctx, upsertQuery, ownerID, course.ID, string(doc), now, now); err != nil {
		return fmt.Errorf("failed to upsert course %s: %w", course.ID, err)
	}
	return nil
}

// LoadAll implements remote.Adapter.
func (s *Store) LoadAll(ctx context.Context, ownerID string) (schedule.Set, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT doc FROM course_docs
		WHERE owner_id = ?
		ORDER BY rowid ASC
	`, ownerID)
	if err != nil {
		return nil, schedule.NewPersistenceError("remote", "loadAll",
			fmt.Errorf("failed to query courses: %w", err))
	}
	defer rows.Close()

	set := schedule.Set{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, schedule.NewPersistenceError("remote", "loadAll",
				fmt.Errorf("failed to scan course: %w", err))
		}
		var c schedule.Course
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			// One corrupt document must not hide the rest of the schedule.
			s.logger.Printf("WARNING: skipping unreadable course document for %s: %v", ownerID, err)
			continue
		}
		set = append(set, c)
	}
	if err := rows.Err(); err != nil {
		return nil, schedule.NewPersistenceError("remote", "loadAll",
			fmt.Errorf("error iterating courses: %w", err))
	}
	return set, nil
}

// Upsert implements remote.Adapter.
func (s *Store) Upsert(ctx context.Context, ownerID string, course schedule.Course) error {
	if err := upsert(ctx, s.conn, ownerID, course); err != nil {
		return schedule.NewPersistenceError("remote", "upsert", err)
	}
	return nil
}

// Remove implements remote.Adapter.
func (s *Store) Remove(ctx context.Context, ownerID, courseID string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM course_docs WHERE owner_id = ? AND course_id = ?`, ownerID, courseID)
	if err != nil {
		return schedule.NewPersistenceError("remote", "remove",
			fmt.Errorf("failed to delete course %s: %w", courseID, err))
	}
	return nil
}

// BatchUpsert implements remote.Adapter. The batch is one transaction: either
// every course is written or none is.
func (s *Store) BatchUpsert(ctx context.Context, ownerID string, courses []schedule.Course) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return schedule.NewPersistenceError("remote", "batchUpsert",
			fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	for _, c := range courses {
		if err := upsert(ctx, tx, ownerID, c); err != nil {
			return schedule.NewPersistenceError("remote", "batchUpsert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return schedule.NewPersistenceError("remote", "batchUpsert",
			fmt.Errorf("failed to commit transaction: %w", err))
	}

	s.logger.Printf("Batch upserted %d courses for %s", len(courses), ownerID)
	return nil
}

// Count returns the number of documents stored for ownerID.
func (s *Store) Count(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM course_docs WHERE owner_id = ?`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count courses: %w", err)
	}
	return n, nil
}

// Close closes the database handle and, for libSQL, the replica connector.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
