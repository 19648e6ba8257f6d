package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/gated/internal/policy"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

// validateCmd lints a policy document
var validateCmd = &cobra.Command{
	Use:   "validate <policy.yaml>",
	Short: "Validate a policy document",
	Long: `Validate a policy document without running anything: structure, stage
vocabulary, phase membership, tier references, and budget ranges.

Examples:
  # Validate a policy file
  gatectl validate gates.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	pol, err := policy.Load(args[0])
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	if err := pol.CheckEngineVersion(version); err != nil {
		color.Yellow("warning: %v", err)
	}

	color.Green("%s: valid", args[0])
	fmt.Printf("  version:     %d\n", pol.Version)
	fmt.Printf("  environment: %s\n", pol.Global.Environment)
	fmt.Printf("  stages:      %d\n", len(pol.Stages))
	for _, stage := range pol.Stages {
		marker := " "
		if stage.Required {
			marker = "*"
		}
		fmt.Printf("    %s %-14s %s\n", marker, stage.Name, stage.Phase)
	}
	return nil
}
