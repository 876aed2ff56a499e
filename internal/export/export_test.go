package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/timetable-sync/timetable/internal/schedule"
)

func sampleSet() schedule.Set {
	a := schedule.NewCourse("ling-101", "Linguistics", 1, 3)
	a.Professor = "Dr. Souza"
	a.Room = "B-204"
	a.Credits = 2
	b := schedule.NewCourse("phon-200", "Phonetics", 7, 1)
	return schedule.Set{a, b}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{".yml", FormatYAML, false},
		{"YAML", FormatYAML, false},
		{"toml", FormatTOML, false},
		{"ical", FormatICS, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteRead_StructuredFormats(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML, FormatTOML} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := Write(&buf, format, sampleSet(), Options{}); err != nil {
				t.Fatalf("Write() failed: %v", err)
			}
			if !strings.Contains(buf.String(), "dayOfWeek") {
				t.Errorf("output does not use dayOfWeek key:\n%s", buf.String())
			}

			got, err := Read(&buf, format, Options{})
			if err != nil {
				t.Fatalf("Read() failed: %v", err)
			}
			if !got.Equal(sampleSet()) {
				t.Errorf("Read() = %+v, want %+v", got, sampleSet())
			}
		})
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, Format("csv"), nil, Options{}); err == nil {
		t.Error("Write(csv) succeeded")
	}
}

func TestWriteICS_WeeklyEvents(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	opts := Options{
		// A Wednesday
		TermStart: time.Date(2026, 3, 4, 0, 0, 0, 0, loc),
		Weeks:     12,
		Location:  loc,
		Now:       func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) },
	}

	set := sampleSet()
	set = append(set, schedule.Course{ID: "unscheduled", Name: "No slot"})
	set = append(set, schedule.NewCourse("late", "Evening seminar", 2, 9))

	var buf bytes.Buffer
	if err := Write(&buf, FormatICS, set, opts); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	out := buf.String()

	if n := strings.Count(out, "BEGIN:VEVENT"); n != 2 {
		t.Errorf("got %d events, want 2 (unscheduled and unknown periods skipped)", n)
	}
	// Monday period 3 at 12:40 BRT is 15:40 UTC on the first Monday after the start
	if !strings.Contains(out, "DTSTART:20260309T154000Z") {
		t.Errorf("missing Monday start:\n%s", out)
	}
	// Sunday period 1 at 08:30 BRT
	if !strings.Contains(out, "DTSTART:20260308T113000Z") {
		t.Errorf("missing Sunday start:\n%s", out)
	}
	if !strings.Contains(out, "RRULE:FREQ=WEEKLY;COUNT=12") {
		t.Errorf("missing weekly rule:\n%s", out)
	}
	if !strings.Contains(out, "LOCATION:B-204") {
		t.Errorf("missing location:\n%s", out)
	}

	got, err := Read(strings.NewReader(out), FormatICS, opts)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if got.Len() != 2 {
		t.Fatalf("Read() = %v, want 2 courses", got.IDs())
	}
	ling, ok := got.Get("ling-101")
	if !ok {
		t.Fatalf("Read() = %v, missing ling-101", got.IDs())
	}
	if slot, _ := ling.Slot(); slot != (schedule.Slot{Day: 1, Period: 3}) {
		t.Errorf("ling-101 slot = %v, want Mon/3", slot)
	}
	if ling.Name != "Linguistics" || ling.Room != "B-204" {
		t.Errorf("ling-101 = %+v", ling)
	}
}

func TestFirstOccurrence(t *testing.T) {
	wed := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		day  int
		want string
	}{
		{3, "2026-03-04 10:10"},
		{4, "2026-03-05 10:10"},
		{1, "2026-03-09 10:10"},
		{7, "2026-03-08 10:10"},
	}
	for _, tt := range tests {
		got, err := firstOccurrence(wed, tt.day, "10:10", time.UTC)
		if err != nil {
			t.Fatalf("firstOccurrence() failed: %v", err)
		}
		if s := got.Format("2006-01-02 15:04"); s != tt.want {
			t.Errorf("firstOccurrence(day %d) = %s, want %s", tt.day, s, tt.want)
		}
	}
}
