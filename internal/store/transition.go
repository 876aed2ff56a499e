package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/timetable-sync/timetable/internal/identity"
	"github.com/timetable-sync/timetable/internal/schedule"
)

// Start loads the schedule for the provider's current identity and follows
// identity changes until Close. A load failure still leaves the store Ready,
// with an empty schedule and the error reported by Err.
func (s *Store) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	if s.started {
		s.lifeMu.Unlock()
		return fmt.Errorf("store already started")
	}
	s.started = true
	// Identity changes arrive after Start returns, so they must not inherit
	// the caller's cancellation.
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.unsubscribe = s.provider.Subscribe(s.onIdentity)
	s.lifeMu.Unlock()

	return s.SwitchIdentity(ctx, s.provider.Current())
}

// Close stops following identity changes. In-flight calls are not
// interrupted.
func (s *Store) Close() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *Store) onIdentity(id identity.Identity) {
	s.lifeMu.Lock()
	ctx := s.ctx
	running := s.started
	s.lifeMu.Unlock()
	if !running {
		return
	}

	snap := s.Snapshot()
	if snap.State == Ready && snap.Identity.Equal(id) {
		return
	}
	if err := s.SwitchIdentity(ctx, id); err != nil {
		s.logger.Printf("WARNING: Loading schedule for %s: %v", id, err)
	}
}

// SwitchIdentity makes next the current identity and loads its schedule.
//
//   - signed out: the local schedule is loaded.
//   - signing in from signed out: local courses are merged into the owner's
//     remote schedule.
//   - switching owners: the new owner's remote schedule is loaded. Nothing is
//     merged.
//
// Mutations still in flight for the previous identity are discarded and
// return schedule.ErrSuperseded.
func (s *Store) SwitchIdentity(ctx context.Context, next identity.Identity) error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	s.mu.Lock()
	prev := s.ident
	fromLocal := s.state == Uninitialized || !prev.IsAuthenticated()
	s.mu.Unlock()

	return s.transition(ctx, next, next.IsAuthenticated() && fromLocal)
}

// Resync re-runs the merge of courses still held locally into the signed in
// owner's schedule, for example after a partial merge. Signed out it
// reloads the local schedule.
func (s *Store) Resync(ctx context.Context) error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	next := s.Identity()
	return s.transition(ctx, next, next.IsAuthenticated())
}

// transition must be called with transMu held.
func (s *Store) transition(ctx context.Context, next identity.Identity, withMerge bool) error {
	s.mu.Lock()
	prev := s.ident
	s.epoch++
	epoch := s.epoch
	s.ident = next
	s.state = Loading
	s.courses = schedule.Set{}
	s.pending = make(map[string]bool)
	s.synced = make(map[string]bool)
	s.err = nil
	s.mu.Unlock()
	s.notify()

	if !prev.Equal(next) {
		s.logger.Printf("Identity changed: %s -> %s", prev, next)
	}

	// Holding localMu keeps local writes of the old identity from landing in
	// the middle of a load or merge.
	s.localMu.Lock()
	courses, pending, synced, err := s.load(ctx, next, withMerge)
	s.localMu.Unlock()

	if courses == nil {
		courses = schedule.Set{}
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.state = Ready
		s.courses = courses
		s.pending = pending
		s.synced = synced
		s.err = err
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		s.logger.Printf("WARNING: Loaded %d courses for %s with error: %v", courses.Len(), next, err)
		return err
	}
	s.logger.Printf("Loaded %d courses for %s", courses.Len(), next)
	return nil
}

// load reads the schedule for id. It must be called with localMu held and
// leaves localCommitted matching the local adapter. Besides the schedule it
// returns the ids still held locally and, among those, the ids the remote
// schedule also has.
func (s *Store) load(ctx context.Context, id identity.Identity, withMerge bool) (schedule.Set, map[string]bool, map[string]bool, error) {
	pending := make(map[string]bool)
	synced := make(map[string]bool)

	if !id.IsAuthenticated() {
		set, err := s.local.Load(ctx)
		if err != nil {
			s.localCommitted = schedule.Set{}
			return nil, pending, synced, err
		}
		s.localCommitted = set.Clone()
		return set, pending, synced, nil
	}

	if !withMerge {
		set, err := s.remote.LoadAll(ctx, id.OwnerID)
		if err != nil {
			return nil, pending, synced, schedule.NewPersistenceError("remote", "loadAll", err)
		}
		// Local leftovers of another owner stay on disk but are not shown.
		s.localCommitted = schedule.Set{}
		if left, err := s.local.Load(ctx); err == nil {
			s.localCommitted = left
		}
		return set, pending, synced, nil
	}

	res, err := s.merger.Merge(ctx, id.OwnerID)
	var mergeErr *schedule.MergeError
	if err != nil && !errors.As(err, &mergeErr) {
		err = schedule.NewPersistenceError("remote", "merge", err)
	}

	// Whatever is still local after the merge is pending. The local version
	// wins over a remote copy, as it would have had the merge succeeded.
	left, lerr := s.local.Load(ctx)
	if lerr != nil {
		s.logger.Printf("WARNING: Failed to read local store after merge: %v", lerr)
		left = res.Pending
	}
	s.localCommitted = left.Clone()
	courses := res.Courses
	for _, c := range left {
		if courses.Contains(c.ID) {
			synced[c.ID] = true
		}
		courses = courses.With(c)
		pending[c.ID] = true
	}
	return courses, pending, synced, err
}
