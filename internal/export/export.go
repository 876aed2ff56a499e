// Package export writes a schedule to files other tools can read and reads
// such files back.
//
// JSON, YAML and TOML hold the courses as they are. ICS turns every course
// into a weekly recurring calendar event for the length of a term, using the
// configured start time of each period.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/timetable-sync/timetable/internal/schedule"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatICS  Format = "ics"
)

// Formats lists the supported formats.
var Formats = []Format{FormatJSON, FormatYAML, FormatTOML, FormatICS}

// ParseFormat accepts a format name or a file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	case "ics", "ical", "icalendar":
		return FormatICS, nil
	}
	return "", fmt.Errorf("unsupported format %q (want one of json, yaml, toml, ics)", s)
}

// DefaultPeriodStarts are the start times of the five daily periods.
var DefaultPeriodStarts = map[int]string{
	1: "08:30",
	2: "10:10",
	3: "12:40",
	4: "14:20",
	5: "16:00",
}

const (
	// DefaultPeriodMinutes is the length of one period.
	DefaultPeriodMinutes = 90
	// DefaultWeeks is the number of weekly occurrences exported per course.
	DefaultWeeks = 15
)

// Options controls calendar export and import. The zero value is usable.
type Options struct {
	// TermStart is the first day of the term. Each course starts on the first
	// matching weekday on or after it. Defaults to today.
	TermStart time.Time
	// Weeks is the number of occurrences per course.
	Weeks int
	// PeriodStarts maps a period to its "HH:MM" start time.
	PeriodStarts map[int]string
	// PeriodMinutes is the duration of each event.
	PeriodMinutes int
	// Location is the time zone of PeriodStarts. Defaults to time.Local.
	Location *time.Location
	// Now stamps exported events. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Weeks <= 0 {
		o.Weeks = DefaultWeeks
	}
	if len(o.PeriodStarts) == 0 {
		o.PeriodStarts = DefaultPeriodStarts
	}
	if o.PeriodMinutes <= 0 {
		o.PeriodMinutes = DefaultPeriodMinutes
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.TermStart.IsZero() {
		o.TermStart = o.Now()
	}
	return o
}

// document is the file layout of the structured formats.
type document struct {
	Courses schedule.Set `json:"courses" yaml:"courses" toml:"courses"`
}

// Write encodes set to w.
func Write(w io.Writer, format Format, set schedule.Set, opts Options) error {
	if set == nil {
		set = schedule.Set{}
	}
	doc := document{Courses: set}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(doc); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
	case FormatICS:
		return writeICS(w, set, opts.withDefaults())
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
	return nil
}

// Read decodes a schedule written by Write, or any calendar with weekly
// events for FormatICS.
func Read(r io.Reader, format Format, opts Options) (schedule.Set, error) {
	var doc document

	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode json: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode yaml: %w", err)
		}
	case FormatTOML:
		if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode toml: %w", err)
		}
	case FormatICS:
		return readICS(r, opts.withDefaults())
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	if doc.Courses == nil {
		doc.Courses = schedule.Set{}
	}
	return doc.Courses, nil
}
