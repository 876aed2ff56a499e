package remote

import (
	"context"
	"sync"

	"github.com/timetable-sync/timetable/internal/schedule"
)

var _ Adapter = (*Memory)(nil)

// Memory is an in-process Adapter. Documents keep their first-insert order.
type Memory struct {
	mu     sync.Mutex
	owners map[string]schedule.Set
	calls  map[string]int

	// Fault, if set, is consulted before every document write and before
	// LoadAll (with an empty courseID). A non-nil return fails that call
	// without side effects. BatchUpsert consults it per course and stops at
	// the first failure, leaving earlier courses written.
	Fault func(op, ownerID, courseID string) error
}

// NewMemory creates an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{
		owners: make(map[string]schedule.Set),
		calls:  make(map[string]int),
	}
}

func (m *Memory) fault(op, ownerID, courseID string) error {
	m.calls[op]++
	if m.Fault == nil {
		return nil
	}
	return m.Fault(op, ownerID, courseID)
}

// Calls returns how many times op was invoked. Useful for asserting that a
// code path made no remote calls.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// LoadAll implements Adapter.
func (m *Memory) LoadAll(ctx context.Context, ownerID string) (schedule.Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("loadAll", ownerID, ""); err != nil {
		return nil, err
	}
	return m.owners[ownerID].Clone(), nil
}

// Upsert implements Adapter.
func (m *Memory) Upsert(ctx context.Context, ownerID string, course schedule.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("upsert", ownerID, course.ID); err != nil {
		return err
	}
	m.owners[ownerID] = m.owners[ownerID].With(course)
	return nil
}

// Remove implements Adapter.
func (m *Memory) Remove(ctx context.Context, ownerID, courseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("remove", ownerID, courseID); err != nil {
		return err
	}
	m.owners[ownerID] = m.owners[ownerID].Without(courseID)
	return nil
}

// BatchUpsert implements Adapter.
func (m *Memory) BatchUpsert(ctx context.Context, ownerID string, courses []schedule.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range courses {
		if err := m.fault("batchUpsert", ownerID, c.ID); err != nil {
			return err
		}
		m.owners[ownerID] = m.owners[ownerID].With(c)
	}
	return nil
}

// Seed replaces an owner's collection. Intended for tests.
func (m *Memory) Seed(ownerID string, set schedule.Set) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[ownerID] = set.Clone()
}
