package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/timetable-sync/timetable/internal/schedule"
)

// Key is the single versioned key the schedule is stored under.
const Key = "schedule.v1"

// envelopeVersion is bumped together with Key when the format changes.
const envelopeVersion = 1

// envelope is the JSON document stored under Key.
type envelope struct {
	Version int          `json:"version"`
	SavedAt time.Time    `json:"savedAt"`
	Courses schedule.Set `json:"courses"`
}

// Adapter persists a schedule.Set into a KV.
//
// Writes are serialized: a Save or Clear waits for the previous one to
// finish, so the store never sees interleaved writes.
type Adapter struct {
	kv     KV
	logger *log.Logger
	mu     sync.Mutex
}

// NewAdapter wraps a KV. If logger is nil, logging is discarded.
func NewAdapter(kv KV, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Adapter{kv: kv, logger: logger}
}

// Load returns the stored schedule, or an empty Set if nothing was saved.
// Errors are *schedule.PersistenceError.
func (a *Adapter) Load(ctx context.Context) (schedule.Set, error) {
	raw, ok, err := a.kv.Get(ctx, Key)
	if err != nil {
		return nil, schedule.NewPersistenceError("local", "load", err)
	}
	if !ok || raw == "" {
		return schedule.Set{}, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, schedule.NewPersistenceError("local", "load",
			fmt.Errorf("failed to parse stored schedule: %w", err))
	}
	if env.Version != envelopeVersion {
		return nil, schedule.NewPersistenceError("local", "load",
			fmt.Errorf("unsupported schedule version %d (want %d)", env.Version, envelopeVersion))
	}
	if env.Courses == nil {
		env.Courses = schedule.Set{}
	}
	return env.Courses, nil
}

// Save replaces the stored schedule with set.
func (a *Adapter) Save(ctx context.Context, set schedule.Set) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if set == nil {
		set = schedule.Set{}
	}
	data, err := json.Marshal(envelope{
		Version: envelopeVersion,
		SavedAt: time.Now().UTC(),
		Courses: set,
	})
	if err != nil {
		return schedule.NewPersistenceError("local", "save",
			fmt.Errorf("failed to marshal schedule: %w", err))
	}

	if err := a.kv.Set(ctx, Key, string(data)); err != nil {
		return schedule.NewPersistenceError("local", "save", err)
	}

	a.logger.Printf("Saved %d courses locally", len(set))
	return nil
}

// Clear removes the stored schedule.
func (a *Adapter) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.kv.Remove(ctx, Key); err != nil {
		return schedule.NewPersistenceError("local", "clear", err)
	}

	a.logger.Printf("Cleared local schedule")
	return nil
}
