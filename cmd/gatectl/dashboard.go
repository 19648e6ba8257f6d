package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/gated/internal/monitor"
)

var dashboardInterval time.Duration

func init() {
	rootCmd.AddCommand(dashboardCmd)
	dashboardCmd.Flags().DurationVar(&dashboardInterval, "interval", 5*time.Second, "refresh interval")
}

// dashboardCmd launches the terminal dashboard
var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Watch the daemon in a terminal dashboard",
	Long: `Open a terminal dashboard over the gated daemon: queue occupancy, run
outcomes, throughput, and the active policy, refreshed continuously.

Examples:
  # Watch the local daemon
  gatectl dashboard

  # Watch a remote daemon, refreshing every 2s
  gatectl dashboard --server http://gated.internal:8080 --interval 2s`,
	RunE: runDashboard,
}

func runDashboard(cmd *cobra.Command, args []string) error {
	model := monitor.NewModel(serverURL, dashboardInterval)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}
	return nil
}
