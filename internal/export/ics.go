package export

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/timetable-sync/timetable/internal/schedule"
)

const uidSuffix = "@timetable"

func writeICS(w io.Writer, set schedule.Set, opts Options) error {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//timetable//schedule export//EN")
	cal.SetName("Timetable")

	stamp := opts.Now().UTC()
	term := dateIn(opts.TermStart, opts.Location)
	rrule := fmt.Sprintf("FREQ=WEEKLY;COUNT=%d", opts.Weeks)

	for _, c := range set {
		slot, ok := c.Slot()
		if !ok {
			continue
		}
		clock, ok := opts.PeriodStarts[slot.Period]
		if !ok {
			continue
		}
		start, err := firstOccurrence(term, slot.Day, clock, opts.Location)
		if err != nil {
			return fmt.Errorf("course %s: %w", c.ID, err)
		}

		event := cal.AddEvent(c.ID + uidSuffix)
		event.SetDtStampTime(stamp)
		event.SetStartAt(start)
		event.SetEndAt(start.Add(time.Duration(opts.PeriodMinutes) * time.Minute))
		event.SetSummary(displayName(c))
		if c.Room != "" {
			event.SetLocation(c.Room)
		}
		if desc := description(c); desc != "" {
			event.SetDescription(desc)
		}
		event.AddRrule(rrule)
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return fmt.Errorf("failed to write calendar: %w", err)
	}
	return nil
}

func readICS(r io.Reader, opts Options) (schedule.Set, error) {
	cal, err := ics.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar: %w", err)
	}

	periods := periodsByClock(opts.PeriodStarts)
	set := schedule.Set{}
	for _, event := range cal.Events() {
		start, err := event.GetStartAt()
		if err != nil {
			continue
		}
		start = start.In(opts.Location)

		period, ok := periods[start.Format("15:04")]
		if !ok {
			continue
		}

		id := strings.TrimSuffix(event.Id(), uidSuffix)
		if id == "" || set.Contains(id) {
			continue
		}
		c := schedule.NewCourse(id, propertyValue(event, ics.ComponentPropertySummary), isoWeekday(start.Weekday()), period)
		c.Room = propertyValue(event, ics.ComponentPropertyLocation)
		c.Memo = propertyValue(event, ics.ComponentPropertyDescription)
		set = append(set, c)
	}
	return set, nil
}

func propertyValue(event *ics.VEvent, prop ics.ComponentProperty) string {
	if p := event.GetProperty(prop); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

// periodsByClock inverts PeriodStarts.
func periodsByClock(starts map[int]string) map[string]int {
	out := make(map[string]int, len(starts))
	for p, clock := range starts {
		out[clock] = p
	}
	return out
}

// firstOccurrence returns the first day on or after term that falls on the
// ISO weekday day, at the given "HH:MM" clock time.
func firstOccurrence(term time.Time, day int, clock string, loc *time.Location) (time.Time, error) {
	hm, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid period start %q: %w", clock, err)
	}
	offset := (day - isoWeekday(term.Weekday()) + 7) % 7
	d := term.AddDate(0, 0, offset)
	return time.Date(d.Year(), d.Month(), d.Day(), hm.Hour(), hm.Minute(), 0, 0, loc), nil
}

func dateIn(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func isoWeekday(wd time.Weekday) int {
	if wd == time.Sunday {
		return schedule.Sunday
	}
	return int(wd)
}

func displayName(c schedule.Course) string {
	if c.Name != "" {
		return c.Name
	}
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}

func description(c schedule.Course) string {
	var lines []string
	if c.Professor != "" {
		lines = append(lines, "Professor: "+c.Professor)
	}
	if c.ClassName != "" {
		lines = append(lines, "Class: "+c.ClassName)
	}
	if c.Memo != "" {
		lines = append(lines, c.Memo)
	}
	return strings.Join(lines, "\n")
}

// PeriodNumbers returns the configured periods in order.
func PeriodNumbers(starts map[int]string) []int {
	out := make([]int, 0, len(starts))
	for p := range starts {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
