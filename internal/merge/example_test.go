package merge_test

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/timetable-sync/timetable/internal/local"
	"github.com/timetable-sync/timetable/internal/merge"
	"github.com/timetable-sync/timetable/internal/remote"
	"github.com/timetable-sync/timetable/internal/schedule"
)

// This example merges a course added while signed out into the owner's
// remote schedule.
func ExampleNew() {
	ctx := context.Background()
	quiet := log.New(io.Discard, "", 0)

	offline := local.NewAdapter(local.NewMemoryKV(), quiet)
	_ = offline.Save(ctx, schedule.Set{schedule.NewCourse("ling-101", "Linguistics", 1, 3)})

	cloud := remote.NewMemory()
	cloud.Seed("alice", schedule.Set{schedule.NewCourse("phon-200", "Phonetics", 2, 1)})

	res, err := merge.New(offline, cloud, quiet).Merge(ctx, "alice")
	if err != nil {
		log.Fatal(err)
	}

	left, _ := offline.Load(ctx)
	fmt.Println(res.Courses.IDs(), left.Len())
	// Output: [phon-200 ling-101] 0
}
