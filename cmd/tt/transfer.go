package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timetable-sync/timetable/internal/export"
	"github.com/timetable-sync/timetable/internal/store"
	"github.com/timetable-sync/timetable/internal/ui"
)

// formatFor picks the --format flag, falling back to the file extension.
func formatFor(cmd *cobra.Command, path string) (export.Format, error) {
	if f, _ := cmd.Flags().GetString("format"); f != "" {
		return export.ParseFormat(f)
	}
	if ext := filepath.Ext(path); ext != "" {
		return export.ParseFormat(ext)
	}
	return export.FormatJSON, nil
}

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "schedule",
	Short:   "Write your schedule as JSON, YAML, TOML or an iCalendar file",
	Long: `Write the current schedule to a file, or to stdout when no file is given.

The ics format produces one weekly repeating event per course, starting on the
first matching weekday on or after export.term_start. Period start times come
from export.period_starts.`,
	Example: `  tt export schedule.ics
  tt export --format yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		}
		format, err := formatFor(cmd, path)
		if err != nil {
			return err
		}
		opts, err := cfg.ExportOptions()
		if err != nil {
			return err
		}

		a, err := startApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		set := a.store.Courses()

		var w io.Writer = os.Stdout
		if path != "" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", path, err)
			}
			defer f.Close()
			w = f
		}
		if err := export.Write(w, format, set, opts); err != nil {
			return err
		}
		if path != "" {
			fmt.Fprintf(os.Stderr, "%s Exported %d courses to %s\n", ui.RenderPass("✓"), set.Len(), path)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "schedule",
	Short:   "Add the courses from an exported file",
	Long: `Read courses from a JSON, YAML, TOML or iCalendar file and add each one.

Courses that are already present or whose slot is taken are reported and
skipped; the rest are still imported. Pass --force to accept conflicts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := formatFor(cmd, args[0])
		if err != nil {
			return err
		}
		opts, err := cfg.ExportOptions()
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()

		set, err := export.Read(f, format, opts)
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")

		a, err := startApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var added, skipped []string
		for _, c := range set {
			err := withConflictPrompt(force, func(o ...store.MutationOption) error {
				return a.store.Add(cmd.Context(), c, o...)
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderWarn("⚠"), c.ID, err)
				skipped = append(skipped, c.ID)
				continue
			}
			added = append(added, c.ID)
		}

		fmt.Printf("%s Imported %d of %d courses\n", ui.RenderPass("✓"), len(added), set.Len())
		if len(skipped) > 0 {
			fmt.Printf("   Skipped: %s\n", strings.Join(skipped, ", "))
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("format", "f", "", "Output format: json, yaml, toml, ics (default from extension)")
	importCmd.Flags().StringP("format", "f", "", "Input format: json, yaml, toml, ics (default from extension)")
	importCmd.Flags().Bool("force", false, "Accept time slot conflicts")

	rootCmd.AddCommand(exportCmd, importCmd)
}
