package sqldoc

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/timetable-sync/timetable/internal/schedule"
)

// setupTestStore opens a SQLite backed Store in a temp dir.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	conn, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	s, err := New(context.Background(), conn, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_UpsertAndLoadAll(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	a := schedule.NewCourse("A", "Portuguese I", 1, 3)
	b := schedule.NewCourse("B", "Phonetics", 2, 1)
	for _, c := range []schedule.Course{a, b} {
		if err := s.Upsert(ctx, "alice", c); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", c.ID, err)
		}
	}

	// Replacing A keeps its position
	a2 := a
	a2.Memo = "v2"
	if err := s.Upsert(ctx, "alice", a2); err != nil {
		t.Fatalf("Upsert(A v2) failed: %v", err)
	}

	got, err := s.LoadAll(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}
	want := schedule.Set{a2, b}
	if !got.Equal(want) {
		t.Errorf("LoadAll() = %+v, want %+v", got, want)
	}

	other, err := s.LoadAll(ctx, "bob")
	if err != nil {
		t.Fatalf("LoadAll(bob) failed: %v", err)
	}
	if other.Len() != 0 {
		t.Errorf("bob sees %v", other.IDs())
	}
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	if err := s.Upsert(ctx, "alice", schedule.NewCourse("A", "x", 1, 1)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Remove(ctx, "alice", "A"); err != nil {
			t.Fatalf("Remove() #%d failed: %v", i+1, err)
		}
	}

	n, err := s.Count(ctx, "alice")
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Count() = %d after Remove(), want 0", n)
	}
}

func TestStore_BatchUpsert(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	courses := []schedule.Course{
		schedule.NewCourse("A", "a", 1, 1),
		schedule.NewCourse("B", "b", 1, 2),
		schedule.NewCourse("C", "c", 1, 3),
	}
	if err := s.BatchUpsert(ctx, "alice", courses); err != nil {
		t.Fatalf("BatchUpsert() failed: %v", err)
	}
	// Re-applying the same batch is a no-op
	if err := s.BatchUpsert(ctx, "alice", courses); err != nil {
		t.Fatalf("second BatchUpsert() failed: %v", err)
	}

	got, err := s.LoadAll(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}
	if !got.Equal(schedule.Set(courses)) {
		t.Errorf("LoadAll() = %v, want A,B,C", got.IDs())
	}
}

func TestStore_SkipsCorruptDocuments(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	if err := s.Upsert(ctx, "alice", schedule.NewCourse("A", "a", 1, 1)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO course_docs (owner_id, course_id, doc, created_at, updated_at)
		 VALUES ('alice', 'broken', '{not json', 'x', 'x')`)
	if err != nil {
		t.Fatalf("failed to insert corrupt row: %v", err)
	}

	got, err := s.LoadAll(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}
	if got.Len() != 1 || got[0].ID != "A" {
		t.Errorf("LoadAll() = %v, want [A]", got.IDs())
	}
}

func TestStore_ErrorsArePersistenceErrors(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	_ = s.conn.Close()

	err := s.Upsert(ctx, "alice", schedule.NewCourse("A", "a", 1, 1))
	if !errors.Is(err, schedule.ErrPersistence) {
		t.Errorf("Upsert() on closed db error = %v, want ErrPersistence", err)
	}
}

func TestNew_NilConn(t *testing.T) {
	if _, err := New(context.Background(), nil, nil); err == nil {
		t.Error("New(nil) succeeded")
	}
}
