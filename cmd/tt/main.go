// Command tt manages a personal weekly timetable that works offline and syncs
// to a remote store once you sign in.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timetable-sync/timetable/internal/config"
	"github.com/timetable-sync/timetable/internal/ui"
)

var (
	configPath string
	noColor    bool
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tt",
	Short: "Timetable with offline editing and sign-in sync",
	Long: `tt keeps your weekly course timetable.

Without signing in, courses are stored on this device. After 'tt login' the
schedule lives in the configured remote backend, and anything added offline
is merged into it. Two courses may not share a day and period unless the
conflict is explicitly overridden.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(noColor)

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Log.Verbose = true
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "schedule", Title: "Schedule:"},
		&cobra.Group{ID: "sync", Title: "Sync & identity:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./config.yaml or ~/.timetable/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Mirror logs to stderr")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
