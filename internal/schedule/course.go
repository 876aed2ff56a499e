// Package schedule provides the data model for a personal weekly timetable:
// courses, the ordered course set owned by one identity, the pure conflict
// detector, and the error taxonomy shared by every persistence layer.
package schedule

import (
	"fmt"
	"strings"
)

// Day bounds. Monday is 1 and Sunday is 7.
const (
	Monday = 1
	Sunday = 7
)

// Course is one selectable timetable slot.
//
// DayOfWeek and Period are pointers so that "not scheduled" is distinguishable
// from a zero value. Both must be present for the course to be accepted into
// a schedule. Everything else is display data and opaque to the engine.
type Course struct {
	// ===== Identity =====
	ID string `json:"id" yaml:"id" toml:"id"`

	// ===== Display =====
	Name        string `json:"name" yaml:"name" toml:"name"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty" toml:"title,omitempty"`
	Professor   string `json:"professor,omitempty" yaml:"professor,omitempty" toml:"professor,omitempty"`
	Room        string `json:"room,omitempty" yaml:"room,omitempty" toml:"room,omitempty"`
	ClassName   string `json:"className,omitempty" yaml:"className,omitempty" toml:"className,omitempty"`
	Semester    string `json:"semester,omitempty" yaml:"semester,omitempty" toml:"semester,omitempty"`
	Language    string `json:"language,omitempty" yaml:"language,omitempty" toml:"language,omitempty"`
	SyllabusURL string `json:"syllabusUrl,omitempty" yaml:"syllabusUrl,omitempty" toml:"syllabusUrl,omitempty"`
	Credits     int    `json:"credits,omitempty" yaml:"credits,omitempty" toml:"credits,omitempty"`

	// ===== User annotations =====
	Color string `json:"color,omitempty" yaml:"color,omitempty" toml:"color,omitempty"`
	Memo  string `json:"memo,omitempty" yaml:"memo,omitempty" toml:"memo,omitempty"`

	// ===== Time slot =====
	DayOfWeek *int `json:"dayOfWeek,omitempty" yaml:"dayOfWeek,omitempty" toml:"dayOfWeek,omitempty"`
	Period    *int `json:"period,omitempty" yaml:"period,omitempty" toml:"period,omitempty"`
}

// Slot is a (day, period) cell of the weekly grid.
type Slot struct {
	Day    int `json:"day"`
	Period int `json:"period"`
}

// String returns a compact representation such as "Mon/3".
func (s Slot) String() string {
	return fmt.Sprintf("%s/%d", DayName(s.Day), s.Period)
}

var dayNames = [...]string{"", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// DayName returns the three letter English name for a day number.
func DayName(day int) string {
	if day < Monday || day > Sunday {
		return fmt.Sprintf("day%d", day)
	}
	return dayNames[day]
}

// ParseDay accepts a day number ("1".."7") or an English day name prefix
// ("mon", "Tuesday") and returns the day number.
func ParseDay(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
		if n < Monday || n > Sunday {
			return 0, fmt.Errorf("day must be between %d and %d (got %d)", Monday, Sunday, n)
		}
		return n, nil
	}
	if len(s) >= 3 {
		for i := Monday; i <= Sunday; i++ {
			if strings.HasPrefix(s, strings.ToLower(dayNames[i])) {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown day %q", s)
}

// IntPtr returns a pointer to v. Handy for building courses and patches.
func IntPtr(v int) *int {
	return &v
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string {
	return &v
}

// NewCourse builds a course scheduled at the given slot.
func NewCourse(id, name string, day, period int) Course {
	return Course{
		ID:        id,
		Name:      name,
		DayOfWeek: IntPtr(day),
		Period:    IntPtr(period),
	}
}

// Slot returns the course's time slot, or false if either half is missing.
func (c Course) Slot() (Slot, bool) {
	if c.DayOfWeek == nil || c.Period == nil {
		return Slot{}, false
	}
	return Slot{Day: *c.DayOfWeek, Period: *c.Period}, true
}

// Validate checks that the course can be accepted into a schedule.
// The returned error is a *ValidationError.
func (c Course) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if c.DayOfWeek == nil {
		return &ValidationError{Field: "dayOfWeek", Reason: "is required"}
	}
	if c.Period == nil {
		return &ValidationError{Field: "period", Reason: "is required"}
	}
	if *c.DayOfWeek < Monday || *c.DayOfWeek > Sunday {
		return &ValidationError{
			Field:  "dayOfWeek",
			Reason: fmt.Sprintf("must be between %d and %d (got %d)", Monday, Sunday, *c.DayOfWeek),
		}
	}
	if *c.Period < 1 {
		return &ValidationError{
			Field:  "period",
			Reason: fmt.Sprintf("must be positive (got %d)", *c.Period),
		}
	}
	return nil
}

// Clone returns a deep copy; the slot pointers are not shared.
func (c Course) Clone() Course {
	out := c
	if c.DayOfWeek != nil {
		out.DayOfWeek = IntPtr(*c.DayOfWeek)
	}
	if c.Period != nil {
		out.Period = IntPtr(*c.Period)
	}
	return out
}

// Equal reports whether two courses have identical fields.
func (c Course) Equal(o Course) bool {
	if !intPtrEqual(c.DayOfWeek, o.DayOfWeek) || !intPtrEqual(c.Period, o.Period) {
		return false
	}
	a, b := c, o
	a.DayOfWeek, a.Period = nil, nil
	b.DayOfWeek, b.Period = nil, nil
	return a == b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Name        *string `json:"name,omitempty"`
	Title       *string `json:"title,omitempty"`
	Professor   *string `json:"professor,omitempty"`
	Room        *string `json:"room,omitempty"`
	ClassName   *string `json:"className,omitempty"`
	Semester    *string `json:"semester,omitempty"`
	Language    *string `json:"language,omitempty"`
	SyllabusURL *string `json:"syllabusUrl,omitempty"`
	Credits     *int    `json:"credits,omitempty"`
	Color       *string `json:"color,omitempty"`
	Memo        *string `json:"memo,omitempty"`
	DayOfWeek   *int    `json:"dayOfWeek,omitempty"`
	Period      *int    `json:"period,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p == Patch{}
}

// TouchesSlot reports whether the patch moves the course on the grid.
func (p Patch) TouchesSlot() bool {
	return p.DayOfWeek != nil || p.Period != nil
}

// Apply returns a copy of c with the patch merged in. The ID never changes.
func (p Patch) Apply(c Course) Course {
	out := c.Clone()
	setString(&out.Name, p.Name)
	setString(&out.Title, p.Title)
	setString(&out.Professor, p.Professor)
	setString(&out.Room, p.Room)
	setString(&out.ClassName, p.ClassName)
	setString(&out.Semester, p.Semester)
	setString(&out.Language, p.Language)
	setString(&out.SyllabusURL, p.SyllabusURL)
	setString(&out.Color, p.Color)
	setString(&out.Memo, p.Memo)
	if p.Credits != nil {
		out.Credits = *p.Credits
	}
	if p.DayOfWeek != nil {
		out.DayOfWeek = IntPtr(*p.DayOfWeek)
	}
	if p.Period != nil {
		out.Period = IntPtr(*p.Period)
	}
	return out
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
