package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/timetable-sync/timetable/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Start real-time WebSocket dashboard for your schedule",
	Long: `Start a WebSocket server that streams schedule changes in real time.

The server follows the session file, so 'tt login' and 'tt logout' in another
terminal switch the schedule it shows.

WebSocket messages include:
- snapshot: full schedule, sent to every new client and after each load
- course_update: a course was added, updated or removed
- identity_change: the signed-in owner changed
- state_change: the schedule started or finished loading

Example usage:
  tt dashboard                   # Start on the configured port (8080)
  tt dashboard --port 9000       # Start on custom port

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		// Wait for interrupt signal
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := startApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		server := dashboard.NewServer(&dashboard.Config{
			Host:   cfg.Dashboard.Host,
			Port:   port,
			Logger: a.logs.Logger("dashboard"),
		})
		handler := dashboard.NewHandler(server, a.logs.Logger("dashboard"))

		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		handler.Attach(a.store)
		defer handler.Detach()

		if a.session != nil {
			go func() {
				if err := a.session.Watch(ctx); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: session watch stopped: %v\n", err)
				}
			}()
		}

		fmt.Printf("Dashboard server started on http://%s\n", server.GetAddr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.GetAddr())
		fmt.Printf("Health check: http://%s/health\n", server.GetAddr())
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		// Graceful shutdown
		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		fmt.Println("Dashboard server stopped")
		return nil
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	rootCmd.AddCommand(dashboardCmd)
}
