package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/timetable-sync/timetable/internal/export"
	"github.com/timetable-sync/timetable/internal/schedule"
	"github.com/timetable-sync/timetable/internal/store"
	"github.com/timetable-sync/timetable/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: "schedule",
	Short:   "Show your schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := startApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		snap := a.store.Snapshot()
		pending := make(map[string]bool, len(snap.Pending))
		for _, id := range snap.Pending {
			pending[id] = true
		}

		if grid, _ := cmd.Flags().GetBool("grid"); grid {
			opts, err := cfg.ExportOptions()
			if err != nil {
				return err
			}
			starts := opts.PeriodStarts
			if len(starts) == 0 {
				starts = export.DefaultPeriodStarts
			}
			fmt.Println(ui.RenderGrid(snap.Courses, ui.GridOptions{
				Periods: export.PeriodNumbers(starts),
				Clocks:  starts,
			}))
		} else {
			fmt.Print(ui.RenderCourseList(snap.Courses, pending))
		}

		for slot, cs := range schedule.Conflicts(snap.Courses) {
			fmt.Printf("%s %s holds %d courses\n", ui.RenderWarn("⚠"), slot, len(cs))
		}
		return nil
	},
}

// courseFlags registers the display fields shared by add and update.
func courseFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "Course name")
	cmd.Flags().String("title", "", "Course title")
	cmd.Flags().String("professor", "", "Professor")
	cmd.Flags().String("room", "", "Room")
	cmd.Flags().String("class", "", "Class name")
	cmd.Flags().String("semester", "", "Semester")
	cmd.Flags().String("language", "", "Language of instruction")
	cmd.Flags().String("syllabus", "", "Syllabus URL")
	cmd.Flags().Int("credits", 0, "Credits")
	cmd.Flags().String("color", "", "Display color")
	cmd.Flags().String("memo", "", "Personal note")
	cmd.Flags().String("day", "", "Day of week (mon..sun or 1..7)")
	cmd.Flags().Int("period", 0, "Period number")
	cmd.Flags().Bool("force", false, "Accept a time slot conflict without asking")
}

// patchFromFlags collects the flags that were explicitly set.
func patchFromFlags(cmd *cobra.Command) (schedule.Patch, error) {
	var p schedule.Patch
	f := cmd.Flags()

	strs := map[string]**string{
		"name":      &p.Name,
		"title":     &p.Title,
		"professor": &p.Professor,
		"room":      &p.Room,
		"class":     &p.ClassName,
		"semester":  &p.Semester,
		"language":  &p.Language,
		"syllabus":  &p.SyllabusURL,
		"color":     &p.Color,
		"memo":      &p.Memo,
	}
	for name, dst := range strs {
		if f.Changed(name) {
			v, _ := f.GetString(name)
			*dst = schedule.StringPtr(v)
		}
	}
	if f.Changed("credits") {
		v, _ := f.GetInt("credits")
		p.Credits = schedule.IntPtr(v)
	}
	if f.Changed("period") {
		v, _ := f.GetInt("period")
		p.Period = schedule.IntPtr(v)
	}
	if f.Changed("day") {
		v, _ := f.GetString("day")
		day, err := schedule.ParseDay(v)
		if err != nil {
			return p, err
		}
		p.DayOfWeek = schedule.IntPtr(day)
	}
	return p, nil
}

// confirmConflict asks whether to accept a conflict. Without a terminal the
// answer is no.
func confirmConflict(ce *schedule.ConflictError) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	name := ce.Course.Name
	if name == "" {
		name = ce.Course.ID
	}
	var ok bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("%s is already taken by %s", ce.Slot, name)).
		Description("Keep both courses in the same slot?").
		Affirmative("Keep both").
		Negative("Cancel").
		Value(&ok).
		Run()
	return err == nil && ok
}

// withConflictPrompt runs op and, if it fails with a conflict the user
// accepts, runs it again allowing the conflict.
func withConflictPrompt(force bool, op func(...store.MutationOption) error) error {
	if force {
		return op(store.AllowConflict())
	}
	err := op()
	var ce *schedule.ConflictError
	if errors.As(err, &ce) && confirmConflict(ce) {
		return op(store.AllowConflict())
	}
	return err
}

var addCmd = &cobra.Command{
	Use:     "add",
	GroupID: "schedule",
	Short:   "Add a course to your schedule",
	Example: `  tt add --name Phonetics --day tue --period 1 --room B-204
  tt add --id ling-101 --name Linguistics --day 1 --period 3 --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := patchFromFlags(cmd)
		if err != nil {
			return err
		}
		id, _ := cmd.Flags().GetString("id")
		if id == "" {
			id = uuid.NewString()
		}
		course := patch.Apply(schedule.Course{ID: id})
		force, _ := cmd.Flags().GetBool("force")

		a, err := startApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		err = withConflictPrompt(force, func(opts ...store.MutationOption) error {
			return a.store.Add(cmd.Context(), course, opts...)
		})
		if err != nil {
			return err
		}

		slot, _ := course.Slot()
		fmt.Printf("%s Added %s (%s) at %s\n", ui.RenderPass("✓"), ui.RenderBold(course.Name), course.ID, slot)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <course-id>...",
	Aliases: []string{"rm"},
	GroupID: "schedule",
	Short:   "Remove courses from your schedule",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := startApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var failed int
		for _, id := range args {
			if !a.store.IsAdded(id) {
				fmt.Printf("%s %s is not in your schedule\n", ui.RenderMuted("-"), id)
				continue
			}
			if err := a.store.Remove(cmd.Context(), id); err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("✗"), id, err)
				failed++
				continue
			}
			fmt.Printf("%s Removed %s\n", ui.RenderPass("✓"), id)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d removals failed", failed, len(args))
		}
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:     "update <course-id>",
	GroupID: "schedule",
	Short:   "Change fields of a course",
	Example: `  tt update ling-101 --room C-110
  tt update ling-101 --day wed --period 2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := patchFromFlags(cmd)
		if err != nil {
			return err
		}
		if patch.IsEmpty() {
			return fmt.Errorf("nothing to update: pass at least one field flag")
		}
		force, _ := cmd.Flags().GetBool("force")

		a, err := startApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		err = withConflictPrompt(force, func(opts ...store.MutationOption) error {
			return a.store.Update(cmd.Context(), args[0], patch, opts...)
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var conflictCmd = &cobra.Command{
	Use:     "conflict <day> <period>",
	GroupID: "schedule",
	Short:   "Show which course occupies a time slot",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := schedule.ParseDay(args[0])
		if err != nil {
			return err
		}
		var period int
		if _, err := fmt.Sscanf(args[1], "%d", &period); err != nil {
			return fmt.Errorf("invalid period %q", args[1])
		}

		a, err := startApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		slot := schedule.Slot{Day: day, Period: period}
		c, ok := a.store.ConflictAt(day, period)
		if !ok {
			fmt.Printf("%s %s is free\n", ui.RenderPass("✓"), slot)
			return nil
		}
		fmt.Printf("%s %s is taken by %s (%s)\n", ui.RenderWarn("⚠"), slot, ui.RenderBold(c.Name), c.ID)
		return nil
	},
}

func init() {
	listCmd.Flags().Bool("grid", false, "Draw the weekly grid")

	courseFlags(addCmd)
	addCmd.Flags().String("id", "", "Course id (generated if empty)")
	courseFlags(updateCmd)

	rootCmd.AddCommand(listCmd, addCmd, removeCmd, updateCmd, conflictCmd)
}
