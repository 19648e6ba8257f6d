package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/gated/internal/receipt"
	"github.com/fyrsmithlabs/gated/internal/review"
)

var showFormat string

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringVar(&showFormat, "format", "human", "output format (human, json, summary)")
}

// archivedRun matches the daemon's run record; only the fields the CLI
// renders are decoded.
type archivedRun struct {
	ID      string           `json:"id"`
	RunID   string           `json:"run_id"`
	UnitKey string           `json:"unit_key"`
	Outcome review.Outcome   `json:"outcome"`
	Receipt *receipt.Receipt `json:"receipt"`
}

// showCmd fetches one archived run from the daemon
var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show an archived pipeline run",
	Long: `Fetch one archived run from the gated daemon and render its receipt.
The id may be the archive record id or the receipt's run id.

Examples:
  # Show a run
  gatectl show 01JGDXX0Y8M2T1V9C3R4N5Q6P7

  # Raw receipt JSON
  gatectl show --format json 01JGDXX0Y8M2T1V9C3R4N5Q6P7`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	var run archivedRun
	if err := apiGet("/api/v1/runs/"+args[0], 10*time.Second, &run); err != nil {
		return err
	}
	if run.Receipt == nil {
		return fmt.Errorf("run %s has no receipt", args[0])
	}

	switch showFormat {
	case "human":
		fmt.Printf("run %s (%s)\n\n", run.RunID, run.UnitKey)
		run.Receipt.WriteHuman(os.Stdout)
	case "json":
		data, err := run.Receipt.JSON()
		if err != nil {
			return fmt.Errorf("encoding receipt: %w", err)
		}
		fmt.Println(string(data))
	case "summary":
		fmt.Println(run.Receipt.Summary())
	default:
		return fmt.Errorf("unknown format %q (want human, json, or summary)", showFormat)
	}
	return nil
}
