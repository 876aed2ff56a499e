// Package store holds the schedule the user is looking at and keeps it in
// step with persistence.
//
// A Store is built from a local adapter, a remote adapter and an identity
// provider. Signed out, changes go to the local adapter. Signed in, they go
// to the remote adapter under the owner's id. On sign-in, courses added while
// signed out are merged into the owner's remote schedule.
//
// Every mutation is applied to the in-memory schedule first and then
// persisted. If persisting fails the in-memory change is undone, so the
// schedule always matches what was stored. Two courses never share a slot
// unless the caller asked for it with AllowConflict.
//
// Callers observe the schedule with Snapshot and Subscribe.
package store

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/timetable-sync/timetable/internal/identity"
	"github.com/timetable-sync/timetable/internal/merge"
	"github.com/timetable-sync/timetable/internal/remote"
	"github.com/timetable-sync/timetable/internal/schedule"
)

// State is the lifecycle phase of a Store.
type State int

const (
	// Uninitialized means Start has not been called.
	Uninitialized State = iota
	// Loading means a load or merge for the current identity is running.
	Loading
	// Ready means the schedule reflects the current identity.
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent copy of the store's observable state.
type Snapshot struct {
	Identity identity.Identity
	State    State
	Courses  schedule.Set
	// Pending lists courses held only on this device because merging them
	// into the remote schedule failed.
	Pending []string
	// Err is the error of the last load, if it failed.
	Err error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default writes to stderr.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMerger replaces the merge engine used on sign-in.
func WithMerger(m merge.Merger) Option {
	return func(s *Store) {
		s.merger = m
	}
}

// Store is the schedule facade. It is safe for concurrent use.
type Store struct {
	local    merge.LocalStore
	remote   remote.Adapter
	provider identity.Provider
	merger   merge.Merger
	logger   *log.Logger

	// mu guards the fields below it. It is never held across a call into
	// local, remote or merger.
	mu       sync.Mutex
	state    State
	ident    identity.Identity
	epoch    uint64
	courses  schedule.Set
	pending  map[string]bool
	synced   map[string]bool // pending ids the remote schedule also has
	err      error
	inflight map[string]uint64 // course id -> epoch of the running mutation

	// transMu serializes identity transitions.
	transMu sync.Mutex

	// localMu serializes local writes. localCommitted is what the local
	// adapter currently holds and is guarded by localMu.
	localMu        sync.Mutex
	localCommitted schedule.Set

	subMu   sync.Mutex
	subNext int
	subs    map[int]func(Snapshot)
	// notifyMu keeps deliveries in state order.
	notifyMu sync.Mutex

	lifeMu      sync.Mutex
	started     bool
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
}

// New creates a Store. It does nothing until Start is called.
// A nil provider means the store is always signed out.
func New(localStore merge.LocalStore, remoteStore remote.Adapter, provider identity.Provider, opts ...Option) *Store {
	if provider == nil {
		provider = identity.NewStatic(identity.Local())
	}
	s := &Store{
		local:    localStore,
		remote:   remoteStore,
		provider: provider,
		logger:   log.New(os.Stderr, "[store] ", log.LstdFlags),
		courses:  schedule.Set{},
		pending:  make(map[string]bool),
		synced:   make(map[string]bool),
		inflight: make(map[string]uint64),
		subs:     make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.merger == nil {
		s.merger = merge.New(localStore, remoteStore, s.logger)
	}
	return s
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	var pending []string
	for _, c := range s.courses {
		if s.pending[c.ID] {
			pending = append(pending, c.ID)
		}
	}
	return Snapshot{
		Identity: s.ident,
		State:    s.state,
		Courses:  s.courses.Clone(),
		Pending:  pending,
		Err:      s.err,
	}
}

// Subscribe registers fn to receive a snapshot after every change. fn must
// not mutate the store synchronously.
func (s *Store) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.subMu.Lock()
	id := s.subNext
	s.subNext++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	if len(fns) == 0 {
		return
	}

	snap := s.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

// Courses returns the current schedule.
func (s *Store) Courses() schedule.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.courses.Clone()
}

// IsLoading reports whether the schedule is not ready yet.
func (s *Store) IsLoading() bool {
	return s.State() != Ready
}

// State returns the lifecycle phase.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the identity the schedule belongs to.
func (s *Store) Identity() identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ident
}

// Err returns the error of the last load, or nil.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// IsAdded reports whether a course with id is in the schedule.
func (s *Store) IsAdded(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.courses.Contains(id)
}

// ConflictAt returns the course occupying the slot, if any.
func (s *Store) ConflictAt(day, period int) (schedule.Course, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schedule.ConflictAt(s.courses, day, period)
}

// HasConflictAt reports whether the slot is occupied.
func (s *Store) HasConflictAt(day, period int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schedule.HasConflictAt(s.courses, day, period)
}
