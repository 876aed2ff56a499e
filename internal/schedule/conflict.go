package schedule

// ConflictAt returns the first course occupying the given slot.
//
// A schedule is expected to hold at most one course per slot, so any
// occupant is the conflict and no tie-break is applied.
func ConflictAt(s Set, day, period int) (Course, bool) {
	for _, c := range s {
		if c.DayOfWeek != nil && c.Period != nil && *c.DayOfWeek == day && *c.Period == period {
			return c, true
		}
	}
	return Course{}, false
}

// HasConflictAt reports whether any course occupies the given slot.
func HasConflictAt(s Set, day, period int) bool {
	_, ok := ConflictAt(s, day, period)
	return ok
}

// ConflictFor returns a course other than c that occupies c's slot.
// Courses without a slot never conflict.
func ConflictFor(s Set, c Course) (Course, bool) {
	slot, ok := c.Slot()
	if !ok {
		return Course{}, false
	}
	for _, other := range s {
		if other.ID == c.ID {
			continue
		}
		if otherSlot, ok := other.Slot(); ok && otherSlot == slot {
			return other, true
		}
	}
	return Course{}, false
}

// Conflicts lists every slot holding more than one course. Sets built through
// the store never contain these unless a conflict was explicitly allowed.
func Conflicts(s Set) map[Slot][]Course {
	bySlot := make(map[Slot][]Course)
	for _, c := range s {
		if slot, ok := c.Slot(); ok {
			bySlot[slot] = append(bySlot[slot], c)
		}
	}
	for slot, cs := range bySlot {
		if len(cs) < 2 {
			delete(bySlot, slot)
		}
	}
	return bySlot
}
