// Package remote defines the per-owner remote course collection the schedule
// is mirrored to once a user authenticates, plus wrappers shared by every
// backend.
//
// Backends live in sub-packages:
//   - sqldoc:   Turso / libSQL (or any database/sql driver) document table
//   - redisdoc: Redis hash per owner
//   - s3doc:    one S3 object per course
//
// Memory is an in-process backend used for tests and offline demos.
package remote

import (
	"context"

	"github.com/timetable-sync/timetable/internal/schedule"
)

// Adapter is a per-owner collection of course documents keyed by course id.
//
// Failures come from connectivity or authorization. Adapters never roll
// anything back themselves; the caller owns rollback.
type Adapter interface {
	// LoadAll returns every course stored for ownerID. An owner with no
	// documents yields an empty Set.
	LoadAll(ctx context.Context, ownerID string) (schedule.Set, error)

	// Upsert writes course under its id, replacing any existing document.
	Upsert(ctx context.Context, ownerID string, course schedule.Course) error

	// Remove deletes the document for courseID.
	// Returns nil if the document doesn't exist (idempotent).
	Remove(ctx context.Context, ownerID, courseID string) error

	// BatchUpsert writes every course, replacing existing documents.
	// Used by the merge engine when an offline schedule goes online.
	BatchUpsert(ctx context.Context, ownerID string, courses []schedule.Course) error
}
