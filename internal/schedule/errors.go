package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for the schedule engine.
//
// Every typed error below matches exactly one of these through errors.Is, so
// callers can branch on the category without caring about the payload:
//
//	if errors.Is(err, schedule.ErrConflict) {
//	    var ce *schedule.ConflictError
//	    errors.As(err, &ce) // ce.Course is the occupant
//	}
var (
	// ErrValidation is returned when a course is malformed, for example a
	// missing day or period. No state changes.
	ErrValidation = errors.New("invalid course")

	// ErrDuplicate is returned when a course id is already in the schedule.
	ErrDuplicate = errors.New("course already added")

	// ErrConflict is returned when the target slot is held by a different
	// course and no override was given.
	ErrConflict = errors.New("time slot already occupied")

	// ErrPersistence is returned when a local or remote write failed. The
	// optimistic in-memory change has been rolled back.
	ErrPersistence = errors.New("persistence failed")

	// ErrMerge is returned when the local to remote merge only partially
	// succeeded. Unmerged courses are still held locally; re-running is safe.
	ErrMerge = errors.New("merge incomplete")

	// ErrConcurrentMutation is returned when a mutation targets a course id
	// that already has an operation in flight.
	ErrConcurrentMutation = errors.New("concurrent mutation on course")

	// ErrNotFound is returned when updating a course that is not in the schedule.
	ErrNotFound = errors.New("course not found")

	// ErrNotReady is returned when mutating before the schedule finished loading.
	ErrNotReady = errors.New("schedule not ready")

	// ErrSuperseded is returned when an operation completed after the identity
	// it was issued under had already been replaced. Its result was discarded.
	ErrSuperseded = errors.New("identity changed while operation was in flight")

	// ErrTimeout is the cause recorded when a backend call exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")
)

// ValidationError describes which field made a course unacceptable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// DuplicateError carries the id that is already present.
type DuplicateError struct {
	ID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicate, e.ID)
}

// Is matches ErrDuplicate.
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// ConflictError carries the course that already occupies the slot so the
// caller can show it and offer an override.
type ConflictError struct {
	Slot   Slot
	Course Course
}

func (e *ConflictError) Error() string {
	name := e.Course.Name
	if name == "" {
		name = e.Course.ID
	}
	return fmt.Sprintf("%s: %s is taken by %s", ErrConflict, e.Slot, name)
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// PersistenceError wraps a failed backend call.
type PersistenceError struct {
	// Op is the backend operation, e.g. "save", "upsert", "remove".
	Op string
	// Backend is "local" or "remote".
	Backend string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrPersistence, e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying backend error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// NewPersistenceError wraps err unless it already is a PersistenceError.
// A context deadline is recorded as ErrTimeout.
func NewPersistenceError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return &PersistenceError{Op: op, Backend: backend, Err: err}
}

// MergeError reports a partial merge.
type MergeError struct {
	// Merged lists course ids confirmed written to the remote store.
	Merged []string
	// Failed maps course ids that could not be written to their cause.
	// These courses are still held by the local store.
	Failed map[string]error
	// ClearErr is set when every course merged but clearing the local store
	// failed afterwards.
	ClearErr error
}

func (e *MergeError) Error() string {
	if len(e.Failed) == 0 && e.ClearErr != nil {
		return fmt.Sprintf("%s: merged %d courses but failed to clear local store: %v",
			ErrMerge, len(e.Merged), e.ClearErr)
	}
	ids := e.FailedIDs()
	return fmt.Sprintf("%s: merged %d, failed %d (%s)", ErrMerge, len(e.Merged), len(ids), strings.Join(ids, ", "))
}

// FailedIDs returns the failed course ids sorted.
func (e *MergeError) FailedIDs() []string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Is matches ErrMerge.
func (e *MergeError) Is(target error) bool {
	return target == ErrMerge
}

// ConcurrentMutationError carries the id with an operation already in flight.
type ConcurrentMutationError struct {
	ID string
}

func (e *ConcurrentMutationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConcurrentMutation, e.ID)
}

// Is matches ErrConcurrentMutation.
func (e *ConcurrentMutationError) Is(target error) bool {
	return target == ErrConcurrentMutation
}

// Kind is the discriminant of an operation outcome.
type Kind int

const (
	KindOK Kind = iota
	KindValidation
	KindDuplicate
	KindConflict
	KindPersistence
	KindMerge
	KindConcurrentMutation
	KindNotFound
	KindNotReady
	KindSuperseded
	KindUnknown
)

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindValidation:
		return "validation"
	case KindDuplicate:
		return "duplicate"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence"
	case KindMerge:
		return "merge"
	case KindConcurrentMutation:
		return "concurrent_mutation"
	case KindNotFound:
		return "not_found"
	case KindNotReady:
		return "not_ready"
	case KindSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// KindOf classifies an error returned by the engine. A nil error is KindOK.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrDuplicate):
		return KindDuplicate
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrMerge):
		return KindMerge
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrConcurrentMutation):
		return KindConcurrentMutation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotReady):
		return KindNotReady
	case errors.Is(err, ErrSuperseded):
		return KindSuperseded
	default:
		return KindUnknown
	}
}

// IsRetryable returns true if repeating the same call may succeed.
// Persistence failures are connectivity or authorization problems, a merge
// can always be re-run, and a superseded call can be repeated against the
// new identity.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindPersistence, KindMerge, KindSuperseded:
		return true
	}
	return false
}

// IsUserActionRequired returns true if the user has to decide something,
// e.g. whether to override a slot conflict.
func IsUserActionRequired(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindConflict, KindDuplicate, KindValidation:
		return true
	}
	return false
}
