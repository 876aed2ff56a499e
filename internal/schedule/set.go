package schedule

// Set is the ordered collection of courses owned by one identity.
// Course IDs are unique within a Set.
type Set []Course

// Len returns the number of courses.
func (s Set) Len() int {
	return len(s)
}

// Index returns the position of the course with the given id, or -1.
func (s Set) Index(id string) int {
	for i := range s {
		if s[i].ID == id {
			return i
		}
	}
	return -1
}

// Contains reports whether a course with the given id is present.
func (s Set) Contains(id string) bool {
	return s.Index(id) >= 0
}

// Get returns the course with the given id.
func (s Set) Get(id string) (Course, bool) {
	if i := s.Index(id); i >= 0 {
		return s[i], true
	}
	return Course{}, false
}

// IDs returns the course ids in order.
func (s Set) IDs() []string {
	ids := make([]string, len(s))
	for i := range s {
		ids[i] = s[i].ID
	}
	return ids
}

// Clone returns a deep copy. A nil Set clones to an empty, non-nil Set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for i := range s {
		out[i] = s[i].Clone()
	}
	return out
}

// With returns a copy with c appended, or with c replacing the course of the
// same id in place.
func (s Set) With(c Course) Set {
	out := s.Clone()
	if i := out.Index(c.ID); i >= 0 {
		out[i] = c.Clone()
		return out
	}
	return append(out, c.Clone())
}

// Without returns a copy with the course of the given id removed.
func (s Set) Without(id string) Set {
	out := make(Set, 0, len(s))
	for i := range s {
		if s[i].ID != id {
			out = append(out, s[i].Clone())
		}
	}
	return out
}

// Insert returns a copy with c placed at position i. Out of range positions
// are clamped, so a rollback still lands somewhere sensible after the set
// shrank or grew in the meantime.
func (s Set) Insert(i int, c Course) Set {
	if i < 0 {
		i = 0
	}
	if i > len(s) {
		i = len(s)
	}
	out := make(Set, 0, len(s)+1)
	out = append(out, s[:i].Clone()...)
	out = append(out, c.Clone())
	out = append(out, s[i:].Clone()...)
	return out
}

// Equal reports content equality by id and fields, in order.
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !s[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// EqualUnordered reports content equality by id and fields, ignoring order.
func (s Set) EqualUnordered(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for _, c := range s {
		other, ok := o.Get(c.ID)
		if !ok || !c.Equal(other) {
			return false
		}
	}
	return true
}
