package store

import (
	"context"

	"github.com/timetable-sync/timetable/internal/identity"
	"github.com/timetable-sync/timetable/internal/schedule"
)

// MutationOption modifies a single Add or Update call.
type MutationOption func(*mutationOptions)

type mutationOptions struct {
	allowConflict bool
}

// AllowConflict lets the course take a slot that is already occupied. Use it
// once the user confirmed the overlap.
func AllowConflict() MutationOption {
	return func(o *mutationOptions) {
		o.allowConflict = true
	}
}

func applyOptions(opts []MutationOption) mutationOptions {
	var o mutationOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ticket records what a mutation needs to persist and finish.
type ticket struct {
	id      string
	epoch   uint64
	ident   identity.Identity
	pending bool // course is held locally
	synced  bool // a pending course that the remote schedule also has
}

// check rejects a mutation of id while the store is loading or another
// mutation of id is running. It must be called with mu held.
func (s *Store) check(id string) error {
	if s.state != Ready {
		return schedule.ErrNotReady
	}
	if e, ok := s.inflight[id]; ok && e == s.epoch {
		return &schedule.ConcurrentMutationError{ID: id}
	}
	return nil
}

// begin reserves id for one mutation. It must be called with mu held.
func (s *Store) begin(id string) (ticket, error) {
	if err := s.check(id); err != nil {
		return ticket{}, err
	}
	s.inflight[id] = s.epoch
	return ticket{id: id, epoch: s.epoch, ident: s.ident, pending: s.pending[id], synced: s.synced[id]}, nil
}

// finish releases the reservation. It reports false if the identity changed
// while the mutation was running, in which case the caller must leave the
// in-memory state alone. It must be called with mu held.
func (s *Store) finish(t ticket) bool {
	if e, ok := s.inflight[t.id]; ok && e == t.epoch {
		delete(s.inflight, t.id)
	}
	return s.epoch == t.epoch
}

// local reports whether t's change is persisted locally.
func (t ticket) local() bool {
	return !t.ident.IsAuthenticated() || t.pending
}

// writeLocal persists change applied to what the local adapter currently
// holds. Concurrent optimistic entries are never written on another entry's
// behalf.
func (s *Store) writeLocal(ctx context.Context, t ticket, change func(schedule.Set) schedule.Set) error {
	s.localMu.Lock()
	defer s.localMu.Unlock()

	s.mu.Lock()
	stale := s.epoch != t.epoch
	s.mu.Unlock()
	if stale {
		return schedule.ErrSuperseded
	}

	next := change(s.localCommitted)
	if err := s.local.Save(ctx, next); err != nil {
		return schedule.NewPersistenceError("local", "save", err)
	}
	s.localCommitted = next
	return nil
}

// Add puts course into the schedule and persists it.
//
// It fails with a *schedule.ValidationError if the course has no valid slot,
// a *schedule.DuplicateError if the id is present, and a
// *schedule.ConflictError naming the occupant if the slot is taken and
// AllowConflict was not given. If persisting fails the course is removed
// again and a *schedule.PersistenceError is returned.
func (s *Store) Add(ctx context.Context, course schedule.Course, opts ...MutationOption) error {
	o := applyOptions(opts)
	if err := course.Validate(); err != nil {
		return err
	}
	course = course.Clone()

	s.mu.Lock()
	if err := s.check(course.ID); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.courses.Contains(course.ID) {
		s.mu.Unlock()
		return &schedule.DuplicateError{ID: course.ID}
	}
	if !o.allowConflict {
		if occupant, ok := schedule.ConflictFor(s.courses, course); ok {
			s.mu.Unlock()
			slot, _ := course.Slot()
			return &schedule.ConflictError{Slot: slot, Course: occupant}
		}
	}
	t, err := s.begin(course.ID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.courses = s.courses.With(course)
	s.mu.Unlock()
	s.notify()

	if t.local() {
		err = s.writeLocal(ctx, t, func(set schedule.Set) schedule.Set { return set.With(course) })
	} else {
		err = schedule.NewPersistenceError("remote", "upsert", s.remote.Upsert(ctx, t.ident.OwnerID, course))
	}

	s.mu.Lock()
	if !s.finish(t) {
		s.mu.Unlock()
		return schedule.ErrSuperseded
	}
	if err != nil {
		s.courses = s.courses.Without(course.ID)
		s.mu.Unlock()
		s.logger.Printf("WARNING: Failed to add course %s, rolled back: %v", course.ID, err)
		s.notify()
		return err
	}
	s.mu.Unlock()

	s.logger.Printf("Added course %s (%s)", course.ID, course.Name)
	return nil
}

// Remove takes the course with id out of the schedule. Removing an absent id
// succeeds without doing anything. If persisting fails the course is put
// back at its previous position.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	if err := s.check(id); err != nil {
		s.mu.Unlock()
		return err
	}
	pos := s.courses.Index(id)
	if pos < 0 {
		s.mu.Unlock()
		return nil
	}
	t, err := s.begin(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	prior := s.courses[pos].Clone()
	s.courses = s.courses.Without(id)
	s.mu.Unlock()
	s.notify()

	switch {
	case t.pending && t.synced:
		err = s.removeEverywhere(ctx, t, prior)
	case t.local():
		err = s.writeLocal(ctx, t, func(set schedule.Set) schedule.Set { return set.Without(id) })
	default:
		err = schedule.NewPersistenceError("remote", "remove", s.remote.Remove(ctx, t.ident.OwnerID, id))
	}

	s.mu.Lock()
	if !s.finish(t) {
		s.mu.Unlock()
		return schedule.ErrSuperseded
	}
	if err != nil {
		s.courses = s.courses.Insert(pos, prior)
		s.mu.Unlock()
		s.logger.Printf("WARNING: Failed to remove course %s, restored: %v", id, err)
		s.notify()
		return err
	}
	delete(s.pending, id)
	delete(s.synced, id)
	s.mu.Unlock()

	s.logger.Printf("Removed course %s", id)
	return nil
}

// removeEverywhere deletes a pending course that also exists remotely. The
// local copy goes first. If the remote delete then fails the local copy is
// written back, so the next merge still sees it.
func (s *Store) removeEverywhere(ctx context.Context, t ticket, prior schedule.Course) error {
	if err := s.writeLocal(ctx, t, func(set schedule.Set) schedule.Set { return set.Without(t.id) }); err != nil {
		return err
	}
	rerr := s.remote.Remove(ctx, t.ident.OwnerID, t.id)
	if rerr == nil {
		return nil
	}
	if err := s.writeLocal(ctx, t, func(set schedule.Set) schedule.Set { return set.With(prior) }); err != nil {
		s.logger.Printf("WARNING: Failed to restore local copy of %s: %v", t.id, err)
	}
	return schedule.NewPersistenceError("remote", "remove", rerr)
}

// Update applies patch to the course with id. It fails with
// schedule.ErrNotFound if the id is absent. The patched course is validated
// again, and moving it onto another course's slot is a
// *schedule.ConflictError unless AllowConflict is given. If persisting fails
// the previous version is restored.
func (s *Store) Update(ctx context.Context, id string, patch schedule.Patch, opts ...MutationOption) error {
	o := applyOptions(opts)

	s.mu.Lock()
	if err := s.check(id); err != nil {
		s.mu.Unlock()
		return err
	}
	prior, ok := s.courses.Get(id)
	if !ok {
		s.mu.Unlock()
		return schedule.ErrNotFound
	}
	if patch.IsEmpty() {
		s.mu.Unlock()
		return nil
	}
	updated := patch.Apply(prior)
	if err := updated.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	if patch.TouchesSlot() && !o.allowConflict {
		if occupant, ok := schedule.ConflictFor(s.courses, updated); ok {
			s.mu.Unlock()
			slot, _ := updated.Slot()
			return &schedule.ConflictError{Slot: slot, Course: occupant}
		}
	}
	t, err := s.begin(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.courses = s.courses.With(updated)
	s.mu.Unlock()
	s.notify()

	if t.local() {
		err = s.writeLocal(ctx, t, func(set schedule.Set) schedule.Set { return set.With(updated) })
	} else {
		err = schedule.NewPersistenceError("remote", "upsert", s.remote.Upsert(ctx, t.ident.OwnerID, updated))
	}

	s.mu.Lock()
	if !s.finish(t) {
		s.mu.Unlock()
		return schedule.ErrSuperseded
	}
	if err != nil {
		s.courses = s.courses.With(prior)
		s.mu.Unlock()
		s.logger.Printf("WARNING: Failed to update course %s, restored: %v", id, err)
		s.notify()
		return err
	}
	s.mu.Unlock()

	s.logger.Printf("Updated course %s", id)
	return nil
}
