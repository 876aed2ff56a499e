package merge

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/timetable-sync/timetable/internal/remote"
	"github.com/timetable-sync/timetable/internal/schedule"
)

// merger implements the Merger interface.
type merger struct {
	local  LocalStore
	remote remote.Adapter
	logger *log.Logger
}

// New creates a Merger over the given stores.
//
// If logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	kv, err := local.OpenSQLite(filepath.Join(dataDir, "local.db"))
//	if err != nil {
//	    return err
//	}
//	m := merge.New(local.NewAdapter(kv, nil), remote.NewMemory(), nil)
func New(localStore LocalStore, remoteStore remote.Adapter, logger *log.Logger) Merger {
	if logger == nil {
		logger = log.New(os.Stderr, "[merge] ", log.LstdFlags)
	}
	return &merger{
		local:  localStore,
		remote: remoteStore,
		logger: logger,
	}
}

// Merge implements Merger.Merge.
func (m *merger) Merge(ctx context.Context, ownerID string) (Result, error) {
	offline, err := m.local.Load(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read local schedule: %w", err)
	}

	if offline.Len() == 0 {
		courses, err := m.remote.LoadAll(ctx, ownerID)
		if err != nil {
			return Result{}, err
		}
		return Result{Courses: courses}, nil
	}

	m.logger.Printf("Starting merge of %d local courses into %s", offline.Len(), ownerID)

	merged, failed := m.upsertAll(ctx, ownerID, offline)

	if len(failed) == 0 {
		return m.finish(ctx, ownerID, offline, merged)
	}
	return m.keepFailed(ctx, ownerID, offline, merged, failed)
}

// upsertAll writes every course, first as one batch and then one by one if
// the batch fails so that partial success is known.
func (m *merger) upsertAll(ctx context.Context, ownerID string, courses schedule.Set) ([]string, map[string]error) {
	err := m.remote.BatchUpsert(ctx, ownerID, courses)
	if err == nil {
		return courses.IDs(), nil
	}
	m.logger.Printf("WARNING: Batch upsert failed, retrying per course: %v", err)

	var merged []string
	failed := make(map[string]error)
	for _, c := range courses {
		if err := m.remote.Upsert(ctx, ownerID, c); err != nil {
			m.logger.Printf("WARNING: Failed to merge course %s: %v", c.ID, err)
			failed[c.ID] = err
			continue
		}
		merged = append(merged, c.ID)
	}
	return merged, failed
}

// finish re-reads the remote collection and clears the local store. The
// clear happens strictly after every write was confirmed.
func (m *merger) finish(ctx context.Context, ownerID string, offline schedule.Set, merged []string) (Result, error) {
	courses, err := m.remote.LoadAll(ctx, ownerID)
	if err != nil {
		// Everything is written but we cannot see it. Keep the local copy so
		// a re-run converges.
		return Result{Courses: offline, Merged: merged}, err
	}

	res := Result{Courses: courses, Merged: merged}
	if err := m.local.Clear(ctx); err != nil {
		m.logger.Printf("WARNING: Merged %d courses but failed to clear local store: %v", len(merged), err)
		return res, &schedule.MergeError{Merged: merged, Failed: map[string]error{}, ClearErr: err}
	}

	m.logger.Printf("Merge complete: merged=%d failed=0", len(merged))
	return res, nil
}

// keepFailed rewrites the local store to hold only the failed courses and
// builds a result showing remote and failed courses together.
func (m *merger) keepFailed(ctx context.Context, ownerID string, offline schedule.Set, merged []string, failed map[string]error) (Result, error) {
	pending := schedule.Set{}
	for _, c := range offline {
		if _, ok := failed[c.ID]; ok {
			pending = append(pending, c)
		}
	}

	mergeErr := &schedule.MergeError{Merged: merged, Failed: failed}
	if err := m.local.Save(ctx, pending); err != nil {
		// The local store still holds the full offline set, which is also
		// safe to merge again.
		m.logger.Printf("WARNING: Failed to rewrite local store with %d pending courses: %v", pending.Len(), err)
		mergeErr.ClearErr = err
	}

	courses, err := m.remote.LoadAll(ctx, ownerID)
	if err != nil {
		m.logger.Printf("WARNING: Failed to reload %s after partial merge: %v", ownerID, err)
		courses = offline
	}
	for _, c := range pending {
		courses = courses.With(c)
	}

	m.logger.Printf("Merge incomplete: merged=%d failed=%d", len(merged), len(failed))
	return Result{Courses: courses, Merged: merged, Pending: pending}, mergeErr
}
