package redisdoc

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/timetable-sync/timetable/internal/schedule"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	s, err := Open(context.Background(), Options{Addr: mr.Addr()}, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStore_UpsertKeepsPosition(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)

	a := schedule.NewCourse("A", "Portuguese I", 1, 3)
	b := schedule.NewCourse("B", "Phonetics", 2, 1)
	for _, c := range []schedule.Course{a, b} {
		if err := s.Upsert(ctx, "alice", c); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", c.ID, err)
		}
	}
	a.Room = "B-204"
	if err := s.Upsert(ctx, "alice", a); err != nil {
		t.Fatalf("Upsert(A again) failed: %v", err)
	}

	got, err := s.LoadAll(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}
	if !got.Equal(schedule.Set{a, b}) {
		t.Errorf("LoadAll() = %+v, want [A(B-204) B]", got)
	}
}

func TestStore_KeyLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := setupTestStore(t)

	if err := s.Upsert(ctx, "alice", schedule.NewCourse("A", "x", 1, 1)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	if !mr.Exists("tt:owner:alice:courses") {
		t.Error("courses hash missing")
	}
	members, err := mr.ZMembers("tt:owner:alice:order")
	if err != nil {
		t.Fatalf("ZMembers() failed: %v", err)
	}
	if len(members) != 1 || members[0] != "A" {
		t.Errorf("order members = %v, want [A]", members)
	}
}

func TestStore_RemoveAndIsolation(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)

	if err := s.BatchUpsert(ctx, "alice", []schedule.Course{
		schedule.NewCourse("A", "a", 1, 1),
		schedule.NewCourse("B", "b", 1, 2),
	}); err != nil {
		t.Fatalf("BatchUpsert() failed: %v", err)
	}
	if err := s.Upsert(ctx, "bob", schedule.NewCourse("Z", "z", 5, 5)); err != nil {
		t.Fatalf("Upsert(bob) failed: %v", err)
	}

	// Removing twice is fine
	for i := 0; i < 2; i++ {
		if err := s.Remove(ctx, "alice", "A"); err != nil {
			t.Fatalf("Remove() #%d failed: %v", i+1, err)
		}
	}

	alice, err := s.LoadAll(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadAll(alice) failed: %v", err)
	}
	if got := alice.IDs(); len(got) != 1 || got[0] != "B" {
		t.Errorf("alice = %v, want [B]", got)
	}
	bob, _ := s.LoadAll(ctx, "bob")
	if bob.Len() != 1 {
		t.Errorf("bob = %v, want [Z]", bob.IDs())
	}
}

func TestStore_LoadAllEmpty(t *testing.T) {
	s, _ := setupTestStore(t)
	got, err := s.LoadAll(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}
	if got == nil || got.Len() != 0 {
		t.Errorf("LoadAll() = %v, want empty set", got)
	}
}

func TestStore_ServerDownIsPersistenceError(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := New(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "", nil)
	t.Cleanup(func() { _ = s.Close() })
	mr.Close()

	err := s.Upsert(ctx, "alice", schedule.NewCourse("A", "a", 1, 1))
	if !errors.Is(err, schedule.ErrPersistence) {
		t.Errorf("Upsert() error = %v, want ErrPersistence", err)
	}
	if _, err := s.LoadAll(ctx, "alice"); !errors.Is(err, schedule.ErrPersistence) {
		t.Errorf("LoadAll() error = %v, want ErrPersistence", err)
	}
}

func TestOpen_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := Open(context.Background(), Options{Addr: addr}, nil); err == nil {
		t.Error("Open() against a closed server succeeded")
	}
}
