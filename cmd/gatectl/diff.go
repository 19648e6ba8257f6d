package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/gated/internal/receipt"
)

func init() {
	rootCmd.AddCommand(diffCmd)
}

// diffCmd compares two receipts
var diffCmd = &cobra.Command{
	Use:   "diff <baseline.json> <current.json>",
	Short: "Compare two pipeline receipts",
	Long: `Compare a current receipt against a baseline and report regressed,
fixed, slower, added, and removed gates. The exit code is non-zero when
any gate regressed, so CI can gate merges on it.

Examples:
  # Compare a PR run against the last main run
  gatectl diff main-receipt.json pr-receipt.json`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	baseline, err := readReceiptFile(args[0])
	if err != nil {
		return fmt.Errorf("reading baseline: %w", err)
	}
	current, err := readReceiptFile(args[1])
	if err != nil {
		return fmt.Errorf("reading current: %w", err)
	}

	diff := receipt.Compare(baseline, current)
	if diff.Empty() {
		color.Green("no changes against baseline")
		return nil
	}

	fmt.Println(diff.Summary())

	if len(diff.Regressed) > 0 {
		return fmt.Errorf("%d gate(s) regressed against baseline", len(diff.Regressed))
	}
	return nil
}
