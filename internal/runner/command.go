package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/policy"
	"github.com/fyrsmithlabs/gated/internal/review"
)

// evidenceTailLines is how many trailing output lines survive into evidence.
// Full output belongs in the tool's own logs, not the ledger.
const evidenceTailLines = 10

// CommandCheck executes a stage's configured argv in the review unit's
// working directory.
type CommandCheck struct{}

// NewCommandCheck creates the command check.
func NewCommandCheck() *CommandCheck {
	return &CommandCheck{}
}

// Kind returns the policy check name.
func (c *CommandCheck) Kind() string {
	return policy.CheckCommand
}

// Run executes the argv with the stage's time box already on ctx. Exit 0
// maps to success, a non-zero exit to failure with the output tail as
// evidence, and anything that prevented the tool from running to an
// error-class result.
func (c *CommandCheck) Run(ctx context.Context, unit review.Unit, stage policy.StageConfig) gate.CheckResult {
	if len(stage.Command) == 0 {
		return gate.CheckResult{
			Status:  gate.CheckError,
			Message: fmt.Sprintf("stage %q has no command", stage.Name),
		}
	}

	cmd := exec.CommandContext(ctx, stage.Command[0], stage.Command[1:]...)
	if unit.WorkDir != "" {
		cmd.Dir = unit.WorkDir
	}
	cmd.Env = append(os.Environ(),
		"GATED_REPO="+unit.Repo,
		"GATED_PR="+strconv.Itoa(unit.Number),
		"GATED_BASE_REF="+unit.BaseRef,
		"GATED_HEAD_REF="+unit.HeadRef,
		"GATED_HEAD_SHA="+unit.HeadSHA,
		"GATED_STAGE="+stage.Name,
	)

	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return gate.CheckResult{Status: gate.CheckTimeout}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return gate.CheckResult{
				Status:   gate.CheckFailure,
				Evidence: failureEvidence(exitErr.ExitCode(), output),
			}
		}
		// Spawn failure: binary missing, permission denied, and so on.
		return gate.CheckResult{
			Status:  gate.CheckError,
			Message: err.Error(),
		}
	}

	return gate.CheckResult{
		Status:   gate.CheckSuccess,
		Evidence: "exit 0",
	}
}

func failureEvidence(exitCode int, output []byte) string {
	tail := lastLines(string(output), evidenceTailLines)
	if tail == "" {
		return fmt.Sprintf("exit %d", exitCode)
	}
	return fmt.Sprintf("exit %d: %s", exitCode, tail)
}

// lastLines returns the last n non-empty lines joined into one string.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	kept := make([]string, 0, n)
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, strings.TrimSpace(line))
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return strings.Join(kept, " | ")
}
