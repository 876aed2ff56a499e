package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timetable-sync/timetable/internal/config"
	"github.com/timetable-sync/timetable/internal/identity"
	"github.com/timetable-sync/timetable/internal/schedule"
	"github.com/timetable-sync/timetable/internal/store"
	"github.com/timetable-sync/timetable/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show identity, backend and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		startErr := a.store.Start(cmd.Context())

		snap := a.store.Snapshot()
		fmt.Printf("\n%s Timetable Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Identity: %s\n", snap.Identity)
		fmt.Printf("Backend: %s\n", cfg.Remote.Backend)
		fmt.Printf("State: %s\n", snap.State)
		fmt.Printf("Courses: %d\n", snap.Courses.Len())
		fmt.Printf("Local store: %s\n", cfg.Local.Path)
		if a.session != nil {
			fmt.Printf("Session file: %s\n", a.session.Path())
		}
		if len(snap.Pending) > 0 {
			fmt.Printf("%s %d courses not yet synced: %v\n", ui.RenderWarn("⚠"), len(snap.Pending), snap.Pending)
			fmt.Printf("   Run 'tt sync' to retry\n")
		}
		if startErr != nil {
			printOutcome(startErr)
		}
		fmt.Println()
		return nil
	},
}

// printOutcome explains a load or merge failure and what to do about it.
func printOutcome(err error) {
	kind := schedule.KindOf(err)
	fmt.Printf("%s last load failed (%s): %v\n", ui.RenderFail("✗"), kind, err)
	switch {
	case schedule.IsUserActionRequired(err):
		fmt.Printf("   Fix the reported problem and try again\n")
	case schedule.IsRetryable(err):
		fmt.Printf("   Run 'tt sync' to retry\n")
	}
}

var loginCmd = &cobra.Command{
	Use:     "login <owner-id>",
	GroupID: "sync",
	Short:   "Sign in and merge offline courses into your remote schedule",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Remote.Backend == config.BackendNone {
			return fmt.Errorf("no remote backend configured (set remote.backend)")
		}
		if err := identity.WriteSession(cfg.Identity.SessionFile, args[0]); err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		err = a.store.Start(cmd.Context())
		snap := a.store.Snapshot()
		fmt.Printf("%s Signed in as %s\n", ui.RenderPass("✓"), snap.Identity.OwnerID)

		var me *schedule.MergeError
		switch {
		case errors.As(err, &me):
			if len(me.Merged) > 0 {
				fmt.Printf("   Merged %d offline courses\n", len(me.Merged))
			}
			if len(me.Failed) > 0 {
				fmt.Printf("%s %d courses stay on this device: %v\n", ui.RenderWarn("⚠"), len(me.Failed), me.FailedIDs())
				fmt.Printf("   Run 'tt sync' to retry\n")
			}
			if me.ClearErr != nil {
				fmt.Printf("%s failed to clear offline copy: %v\n", ui.RenderWarn("⚠"), me.ClearErr)
			}
		case err != nil:
			printOutcome(err)
		}
		fmt.Printf("   Courses: %d\n", snap.Courses.Len())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Sign out; the schedule shown becomes the one on this device",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := identity.ClearSession(cfg.Identity.SessionFile); err != nil {
			return err
		}
		fmt.Printf("%s Signed out\n", ui.RenderPass("✓"))
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Reload the schedule and retry merging unsynced courses",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		// Start already merges leftovers when signed in. Resync gives the
		// courses the first pass left behind one more attempt.
		err = a.store.Start(cmd.Context())
		if len(a.store.Snapshot().Pending) > 0 {
			err = a.store.Resync(cmd.Context())
		}

		snap := a.store.Snapshot()
		if err != nil {
			printOutcome(err)
			return fmt.Errorf("sync incomplete")
		}
		if snap.State != store.Ready {
			return fmt.Errorf("sync did not finish (state %s)", snap.State)
		}
		fmt.Printf("%s Synced %d courses for %s\n", ui.RenderPass("✓"), snap.Courses.Len(), snap.Identity)
		if len(snap.Pending) > 0 {
			fmt.Fprintf(os.Stderr, "%s %d courses still not synced\n", ui.RenderWarn("⚠"), len(snap.Pending))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, loginCmd, logoutCmd, syncCmd)
}
