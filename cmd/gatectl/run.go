package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/gated/internal/flowlock"
	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/orchestrator"
	"github.com/fyrsmithlabs/gated/internal/policy"
	"github.com/fyrsmithlabs/gated/internal/receipt"
	"github.com/fyrsmithlabs/gated/internal/review"
	"github.com/fyrsmithlabs/gated/internal/runner"
)

var (
	runPolicyPath   string
	runTier         string
	runFormat       string
	runFailFast     bool
	runBaselinePath string
	runRepo         string
	runNumber       int
	runBaseRef      string
	runVerbose      bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runPolicyPath, "policy", "", "policy file (default: built-in policy)")
	runCmd.Flags().StringVar(&runTier, "tier", "pr-fast", "execution tier (pr-fast, merge-gate, nightly)")
	runCmd.Flags().StringVar(&runFormat, "format", "human", "output format (human, json, summary)")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "stop scheduling new stages after the first required failure")
	runCmd.Flags().StringVar(&runBaselinePath, "baseline", "", "baseline receipt to diff the run against")
	runCmd.Flags().StringVar(&runRepo, "repo", "", "repository in owner/name form (default: checkout directory name)")
	runCmd.Flags().IntVar(&runNumber, "number", 0, "pull request number")
	runCmd.Flags().StringVar(&runBaseRef, "base", "main", "base branch the change merges into")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "log stage execution detail")
}

// runCmd executes a pipeline locally against a repo checkout
var runCmd = &cobra.Command{
	Use:   "run [checkout]",
	Short: "Run the gate pipeline locally against a checkout",
	Long: `Run the gate pipeline against a local repository checkout and print the
receipt. The run uses the given policy file, or the built-in policy when
none is given. The exit code is 0 only when the outcome is ready.

Examples:
  # Run the pr-fast tier against the current directory
  gatectl run

  # Run the merge-gate tier with a policy file
  gatectl run --policy gates.yaml --tier merge-gate ~/src/api

  # Fail the build on receipt regressions against the last main run
  gatectl run --baseline main-receipt.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPipeline,
}

func runPipeline(cmd *cobra.Command, args []string) error {
	workDir := "."
	if len(args) == 1 {
		workDir = args[0]
	}
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("resolving checkout path: %w", err)
	}
	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		return fmt.Errorf("checkout %s is not a directory", workDir)
	}

	pol, err := loadRunPolicy()
	if err != nil {
		return err
	}
	if err := pol.CheckEngineVersion(version); err != nil {
		return err
	}
	if runFailFast {
		pol.Global.FailFast = true
	}

	eff, err := pol.ForTier(runTier)
	if err != nil {
		return err
	}

	logCfg := logging.NewDevelopmentConfig()
	if !runVerbose {
		logCfg.Level = zapcore.WarnLevel
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	orch, err := orchestrator.New(orchestrator.Config{
		Runner: runner.NewDefault(logger.Underlying()),
		Locks:  flowlock.NewRegistry(),
		Logger: logger.Underlying(),
		Engine: version,
	})
	if err != nil {
		return err
	}

	unit := review.Unit{
		Repo:      repoName(workDir),
		Number:    runNumber,
		BaseRef:   runBaseRef,
		WorkDir:   workDir,
		CreatedAt: time.Now().UTC(),
	}

	rcpt, err := orch.Run(cmd.Context(), unit, eff)
	if err != nil {
		return err
	}

	if err := printReceipt(rcpt); err != nil {
		return err
	}

	if runBaselinePath != "" {
		if err := diffAgainstBaseline(rcpt); err != nil {
			return err
		}
	}

	if rcpt.Outcome != review.OutcomeReady {
		return fmt.Errorf("outcome %s: %s", rcpt.Outcome, rcpt.Summary())
	}
	return nil
}

func loadRunPolicy() (*policy.Policy, error) {
	if runPolicyPath == "" {
		return policy.DefaultPolicy(), nil
	}
	return policy.Load(runPolicyPath)
}

// repoName falls back to the checkout directory name when --repo is not
// given, so local receipts still carry a unit identity.
func repoName(workDir string) string {
	if runRepo != "" {
		return runRepo
	}
	return "local/" + filepath.Base(workDir)
}

func printReceipt(rcpt *receipt.Receipt) error {
	switch runFormat {
	case "human":
		rcpt.WriteHuman(os.Stdout)
	case "json":
		data, err := rcpt.JSON()
		if err != nil {
			return fmt.Errorf("encoding receipt: %w", err)
		}
		fmt.Println(string(data))
	case "summary":
		fmt.Println(rcpt.Summary())
	default:
		return fmt.Errorf("unknown format %q (want human, json, or summary)", runFormat)
	}
	return nil
}

func diffAgainstBaseline(rcpt *receipt.Receipt) error {
	baseline, err := readReceiptFile(runBaselinePath)
	if err != nil {
		return fmt.Errorf("reading baseline: %w", err)
	}

	diff := receipt.Compare(baseline, rcpt)
	if diff.Empty() {
		fmt.Fprintln(os.Stderr, "baseline: no changes")
		return nil
	}

	fmt.Fprintln(os.Stderr, "baseline diff:")
	fmt.Fprintln(os.Stderr, diff.Summary())

	if len(diff.Regressed) > 0 {
		return fmt.Errorf("%d gate(s) regressed against baseline", len(diff.Regressed))
	}
	return nil
}

func readReceiptFile(path string) (*receipt.Receipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rcpt receipt.Receipt
	if err := json.Unmarshal(data, &rcpt); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &rcpt, nil
}
