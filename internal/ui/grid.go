package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/timetable-sync/timetable/internal/schedule"
)

const cellWidth = 20

// GridOptions controls RenderGrid.
type GridOptions struct {
	// Periods are the grid rows. Periods used by courses are always shown.
	Periods []int
	// Clocks labels each period with its start time, e.g. 1 -> "08:30".
	Clocks map[int]string
}

// RenderGrid draws the weekly timetable. Weekend columns appear only when a
// course is scheduled on them. A slot holding more than one course is drawn
// in the failure color with every occupant listed.
func RenderGrid(set schedule.Set, opts GridOptions) string {
	lastDay := 5
	periods := make(map[int]bool)
	for _, p := range opts.Periods {
		periods[p] = true
	}
	cells := make(map[schedule.Slot][]string)
	for _, c := range set {
		slot, ok := c.Slot()
		if !ok {
			continue
		}
		if slot.Day > lastDay {
			lastDay = slot.Day
		}
		periods[slot.Period] = true
		cells[slot] = append(cells[slot], shorten(cellLabel(c)))
	}

	rows := make([]int, 0, len(periods))
	for p := range periods {
		rows = append(rows, p)
	}
	sort.Ints(rows)

	headers := []string{""}
	for d := schedule.Monday; d <= lastDay; d++ {
		headers = append(headers, schedule.DayName(d))
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...)

	for _, p := range rows {
		label := fmt.Sprintf("%d", p)
		if clock, ok := opts.Clocks[p]; ok {
			label = fmt.Sprintf("%d %s", p, clock)
		}
		row := []string{label}
		for d := schedule.Monday; d <= lastDay; d++ {
			row = append(row, strings.Join(cells[schedule.Slot{Day: d, Period: p}], "\n"))
		}
		t.Row(row...)
	}

	t.StyleFunc(func(row, col int) lipgloss.Style {
		base := lipgloss.NewStyle().Padding(0, 1)
		switch {
		case row == table.HeaderRow:
			return base.Inherit(accentStyle)
		case col == 0:
			return base.Inherit(mutedStyle)
		case row >= 0 && row < len(rows) && len(cells[schedule.Slot{Day: col, Period: rows[row]}]) > 1:
			return base.Inherit(failStyle)
		}
		return base
	})

	return t.String()
}

func cellLabel(c schedule.Course) string {
	label := c.Name
	if label == "" {
		label = c.ID
	}
	if c.Room != "" {
		label += " @" + c.Room
	}
	return label
}

func shorten(s string) string {
	r := []rune(s)
	if len(r) <= cellWidth {
		return s
	}
	return string(r[:cellWidth-1]) + "…"
}

// RenderCourseList prints one course per line in schedule order.
func RenderCourseList(set schedule.Set, pending map[string]bool) string {
	if set.Len() == 0 {
		return RenderMuted("No courses in your schedule.") + "\n"
	}

	var b strings.Builder
	for _, c := range set {
		slot := "unscheduled"
		if s, ok := c.Slot(); ok {
			slot = s.String()
		}
		fmt.Fprintf(&b, "%-8s %s  %s", slot, RenderBold(c.Name), RenderMuted(c.ID))
		if c.Professor != "" {
			fmt.Fprintf(&b, "  %s", c.Professor)
		}
		if c.Room != "" {
			fmt.Fprintf(&b, "  %s", c.Room)
		}
		if pending[c.ID] {
			fmt.Fprintf(&b, "  %s", RenderWarn("(not synced)"))
		}
		b.WriteString("\n")
	}
	return b.String()
}
