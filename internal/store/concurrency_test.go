package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/timetable-sync/timetable/internal/identity"
	"github.com/timetable-sync/timetable/internal/local"
	"github.com/timetable-sync/timetable/internal/remote"
	"github.com/timetable-sync/timetable/internal/schedule"
)

// gatedRemote holds Upsert calls for one course id until released.
type gatedRemote struct {
	*remote.Memory
	id      string
	entered chan struct{}
	release chan struct{}
}

func newGatedRemote(id string) *gatedRemote {
	return &gatedRemote{
		Memory:  remote.NewMemory(),
		id:      id,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (g *gatedRemote) Upsert(ctx context.Context, ownerID string, course schedule.Course) error {
	if course.ID == g.id {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.Memory.Upsert(ctx, ownerID, course)
}

// gatedLocal holds the first Save until released and then fails it.
type gatedLocal struct {
	*local.Adapter
	entered chan struct{}
	release chan struct{}
	first   bool
}

func (g *gatedLocal) Save(ctx context.Context, set schedule.Set) error {
	if g.first {
		g.first = false
		g.entered <- struct{}{}
		<-g.release
		return errors.New("write interrupted")
	}
	return g.Adapter.Save(ctx, set)
}

func wait(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for backend call")
	}
}

func TestStore_SameIDOverlapIsRejected(t *testing.T) {
	ctx := context.Background()
	gate := newGatedRemote("A")
	provider := identity.NewStatic(identity.Authenticated("alice"))
	s := New(local.NewAdapter(local.NewMemoryKV(), quiet), gate, provider, WithLogger(quiet))
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer s.Close()

	done := make(chan error, 1)
	go func() { done <- s.Add(ctx, schedule.NewCourse("A", "a", 1, 1)) }()
	wait(t, gate.entered)

	if err := s.Remove(ctx, "A"); !errors.Is(err, schedule.ErrConcurrentMutation) {
		t.Errorf("Remove(A) during Add(A) error = %v, want ErrConcurrentMutation", err)
	}
	err := s.Update(ctx, "A", schedule.Patch{Memo: schedule.StringPtr("x")})
	var cme *schedule.ConcurrentMutationError
	if !errors.As(err, &cme) || cme.ID != "A" {
		t.Errorf("Update(A) during Add(A) error = %v, want *ConcurrentMutationError", err)
	}

	// Distinct ids interleave
	if err := s.Add(ctx, schedule.NewCourse("B", "b", 1, 2)); err != nil {
		t.Errorf("Add(B) during Add(A) failed: %v", err)
	}

	close(gate.release)
	if err := <-done; err != nil {
		t.Fatalf("Add(A) failed: %v", err)
	}
	if got := s.Courses().IDs(); len(got) != 2 {
		t.Errorf("Courses() = %v, want A and B", got)
	}
}

func TestStore_ResultAfterIdentityChangeIsDiscarded(t *testing.T) {
	ctx := context.Background()
	gate := newGatedRemote("A")
	gate.Seed("bob", schedule.Set{schedule.NewCourse("B", "b", 2, 2)})
	provider := identity.NewStatic(identity.Authenticated("alice"))
	s := New(local.NewAdapter(local.NewMemoryKV(), quiet), gate, provider, WithLogger(quiet))
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer s.Close()

	done := make(chan error, 1)
	go func() { done <- s.Add(ctx, schedule.NewCourse("A", "a", 1, 1)) }()
	wait(t, gate.entered)

	provider.Set(identity.Authenticated("bob"))
	close(gate.release)

	if err := <-done; !errors.Is(err, schedule.ErrSuperseded) {
		t.Fatalf("Add() error = %v, want ErrSuperseded", err)
	}
	if got := s.Courses().IDs(); len(got) != 1 || got[0] != "B" {
		t.Errorf("Courses() = %v, want bob's [B]", got)
	}
	if s.IsAdded("A") {
		t.Error("alice's course leaked into bob's schedule")
	}
}

func TestStore_LocalWritesPersistOnlyCommitted(t *testing.T) {
	ctx := context.Background()
	kv := local.NewMemoryKV()
	adapter := local.NewAdapter(kv, quiet)
	a := schedule.NewCourse("A", "a", 1, 1)
	if err := adapter.Save(ctx, schedule.Set{a}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	gate := &gatedLocal{
		Adapter: adapter,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		first:   true,
	}
	s := New(gate, remote.NewMemory(), nil, WithLogger(quiet))
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer s.Close()

	bDone := make(chan error, 1)
	go func() { bDone <- s.Add(ctx, schedule.NewCourse("B", "b", 1, 2)) }()
	wait(t, gate.entered)

	cDone := make(chan error, 1)
	c := schedule.NewCourse("C", "c", 1, 3)
	go func() { cDone <- s.Add(ctx, c) }()

	close(gate.release)
	if err := <-bDone; !errors.Is(err, schedule.ErrPersistence) {
		t.Fatalf("Add(B) error = %v, want ErrPersistence", err)
	}
	if err := <-cDone; err != nil {
		t.Fatalf("Add(C) failed: %v", err)
	}

	stored, err := adapter.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !stored.Equal(schedule.Set{a, c}) {
		t.Errorf("local store = %v, want [A C]", stored.IDs())
	}
	if !s.Courses().Equal(schedule.Set{a, c}) {
		t.Errorf("Courses() = %v, want [A C]", s.Courses().IDs())
	}
}
