package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks daemon health and readiness
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check gated daemon health",
	Long: `Check the health and readiness of the gated daemon.

Examples:
  # Check the local daemon
  gatectl health

  # Check a remote daemon
  gatectl health --server http://gated.internal:8080`,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := apiGet("/health", 5*time.Second, &health); err != nil {
		color.Red("✗ daemon unreachable")
		return err
	}

	var ready struct {
		Ready  bool              `json:"ready"`
		Checks map[string]string `json:"checks"`
	}
	// Readiness returns 503 with a body when a check fails; surface the
	// checks either way.
	readyErr := apiGet("/ready", 5*time.Second, &ready)

	color.Green("✓ daemon healthy (version %s)", health.Version)
	if readyErr != nil {
		color.Yellow("⚠ not ready: %v", readyErr)
		return readyErr
	}
	for name, state := range ready.Checks {
		if state == "ok" {
			fmt.Printf("  %s: %s\n", name, color.GreenString(state))
		} else {
			fmt.Printf("  %s: %s\n", name, color.RedString(state))
		}
	}
	return nil
}
