package remote

import (
	"context"
	"time"

	"github.com/timetable-sync/timetable/internal/schedule"
)

// timeoutAdapter bounds every call of the wrapped Adapter.
type timeoutAdapter struct {
	next    Adapter
	timeout time.Duration
}

// WithTimeout wraps a so that every call gets its own deadline. A call that
// exceeds it fails with a *schedule.PersistenceError whose cause matches
// schedule.ErrTimeout, so a hung backend turns into an ordinary rollback.
//
// A non-positive timeout returns a unchanged.
func WithTimeout(a Adapter, timeout time.Duration) Adapter {
	if timeout <= 0 {
		return a
	}
	return &timeoutAdapter{next: a, timeout: timeout}
}

func (t *timeoutAdapter) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return schedule.NewPersistenceError("remote", op, err)
}

// LoadAll implements Adapter.
func (t *timeoutAdapter) LoadAll(ctx context.Context, ownerID string) (schedule.Set, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	set, err := t.next.LoadAll(ctx, ownerID)
	return set, t.wrap("loadAll", err)
}

// Upsert implements Adapter.
func (t *timeoutAdapter) Upsert(ctx context.Context, ownerID string, course schedule.Course) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.wrap("upsert", t.next.Upsert(ctx, ownerID, course))
}

// Remove implements Adapter.
func (t *timeoutAdapter) Remove(ctx context.Context, ownerID, courseID string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.wrap("remove", t.next.Remove(ctx, ownerID, courseID))
}

// BatchUpsert implements Adapter.
func (t *timeoutAdapter) BatchUpsert(ctx context.Context, ownerID string, courses []schedule.Course) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.wrap("batchUpsert", t.next.BatchUpsert(ctx, ownerID, courses))
}
