package ui

import (
	"strings"
	"testing"

	"github.com/timetable-sync/timetable/internal/schedule"
)

func init() {
	Init(true)
}

func TestRenderGrid(t *testing.T) {
	set := schedule.Set{
		schedule.NewCourse("ling-101", "Linguistics", 1, 3),
		schedule.NewCourse("phon-200", "Phonetics", 3, 1),
	}
	set[0].Room = "B-204"

	got := RenderGrid(set, GridOptions{
		Periods: []int{1, 2, 3},
		Clocks:  map[int]string{1: "08:30", 3: "12:40"},
	})

	for _, want := range []string{"Mon", "Fri", "Linguistics @B-204", "Phonetics", "1 08:30", "3 12:40"} {
		if !strings.Contains(got, want) {
			t.Errorf("grid missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Sat") {
		t.Errorf("grid shows Saturday without weekend courses:\n%s", got)
	}
}

func TestRenderGrid_WeekendAndExtraPeriod(t *testing.T) {
	got := RenderGrid(schedule.Set{schedule.NewCourse("x", "Seminar", 6, 7)}, GridOptions{Periods: []int{1}})

	if !strings.Contains(got, "Sat") || strings.Contains(got, "Sun") {
		t.Errorf("want columns through Sat only:\n%s", got)
	}
	if !strings.Contains(got, "7") || !strings.Contains(got, "Seminar") {
		t.Errorf("period 7 row missing:\n%s", got)
	}
}

func TestShorten(t *testing.T) {
	long := "Introduction to Historical Linguistics"
	got := shorten(long)
	if len([]rune(got)) != cellWidth {
		t.Errorf("shorten() = %q, want %d runes", got, cellWidth)
	}
	if shorten("Phonetics") != "Phonetics" {
		t.Error("shorten() altered a short label")
	}
}

func TestRenderCourseList(t *testing.T) {
	if got := RenderCourseList(nil, nil); !strings.Contains(got, "No courses") {
		t.Errorf("empty list = %q", got)
	}

	set := schedule.Set{
		schedule.NewCourse("ling-101", "Linguistics", 1, 3),
		{ID: "draft", Name: "Unscheduled"},
	}
	got := RenderCourseList(set, map[string]bool{"ling-101": true})

	lines := strings.Split(strings.TrimSpace(got), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), got)
	}
	if !strings.HasPrefix(lines[0], "Mon/3") || !strings.Contains(lines[0], "(not synced)") {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "unscheduled") {
		t.Errorf("second line = %q", lines[1])
	}
}
