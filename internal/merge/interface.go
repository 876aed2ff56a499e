// Package merge folds a signed-out schedule into an owner's remote schedule.
//
// When somebody signs in, whatever they added while signed out still lives in
// the local store. The merger copies it into the remote store, keyed by course
// id with the local copy winning on collision, and only then clears the local
// store. A course that cannot be written stays local and is reported back, so
// nothing is lost and the merge can simply be run again.
package merge

import (
	"context"

	"github.com/timetable-sync/timetable/internal/schedule"
)

// Merger merges local courses into a remote owner's collection.
type Merger interface {
	// Merge moves every local course into ownerID's remote collection.
	//
	// With an empty local store this is a plain remote load and nothing is
	// written. Otherwise all local courses are upserted, the remote store is
	// re-read as the merged result, and the local store is cleared.
	//
	// On partial failure the local store is rewritten to hold exactly the
	// courses that could not be written, Result.Courses still contains them
	// (listed in Result.Pending), and a *schedule.MergeError is returned.
	// Merging again is safe: the remote state after two merges equals the
	// state after one.
	//
	// Example:
	//   res, err := m.Merge(ctx, "alice")
	//   if errors.Is(err, schedule.ErrMerge) {
	//       // res.Pending are still offline only
	//   }
	Merge(ctx context.Context, ownerID string) (Result, error)
}

// LocalStore is the device-local persistence the merger drains.
// *local.Adapter satisfies it.
type LocalStore interface {
	Load(ctx context.Context) (schedule.Set, error)
	Save(ctx context.Context, set schedule.Set) error
	Clear(ctx context.Context) error
}

// Result is the collection to show after a merge.
type Result struct {
	// Courses is the merged collection in display order.
	Courses schedule.Set
	// Merged lists the course ids confirmed written remotely.
	Merged []string
	// Pending holds courses that only exist locally because writing them
	// remotely failed.
	Pending schedule.Set
}
