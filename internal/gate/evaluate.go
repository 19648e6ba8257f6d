package gate

import (
	"fmt"
	"strings"
	"time"
)

// maxEvidenceLen bounds evidence strings so ledger rows and outbound check
// markers stay readable. Longer tool output belongs in the check's own logs.
const maxEvidenceLen = 512

// Evaluate maps a raw check result into a gate record. It is a pure function:
// the same (name, result) pair always yields the same gate modulo UpdatedAt.
//
// Mapping:
//   - success  -> pass, evidence carried through
//   - failure  -> fail, evidence carried through
//   - error    -> fail, evidence "tool-error: <message>"
//   - timeout  -> fail, evidence "timeout after <N>s"
//
// Infra failures and timeouts are deliberately recorded as ordinary failures
// so they consume a retry attempt like any other failure; the evidence tag
// keeps them distinguishable for triage.
func Evaluate(name string, result CheckResult) Gate {
	g := Gate{
		Name:       name,
		Attempts:   1,
		DurationMS: result.Duration.Milliseconds(),
		UpdatedAt:  time.Now().UTC(),
	}

	switch result.Status {
	case CheckSuccess:
		g.Status = StatusPass
		g.Evidence = truncate(result.Evidence)
	case CheckFailure:
		g.Status = StatusFail
		g.Evidence = truncate(result.Evidence)
	case CheckTimeout:
		g.Status = StatusFail
		g.Evidence = TimeoutEvidence(result.TimedOutAfter)
	case CheckError:
		g.Status = StatusFail
		g.Evidence = ToolErrorEvidence(result.Message)
	default:
		// Unknown raw status is an infra-class failure, not a crash.
		g.Status = StatusFail
		g.Evidence = ToolErrorEvidence(fmt.Sprintf("unknown check status %q", result.Status))
	}

	return g
}

// Skipped records a policy exemption for a stage. The reason is mandatory:
// skipped is a first-class status, not an error, and must explain why the
// stage did not apply to this review unit.
func Skipped(name, reason string) Gate {
	if reason == "" {
		reason = "policy exemption"
	}
	return Gate{
		Name:      name,
		Status:    StatusSkipped,
		Evidence:  truncate(reason),
		UpdatedAt: time.Now().UTC(),
	}
}

// Pending returns the zero-progress gate for a stage that has not been
// evaluated. Ledgers create gate records lazily, so this exists mostly for
// snapshots and rendering.
func Pending(name string) Gate {
	return Gate{Name: name, Status: StatusPending}
}

// TimeoutEvidence formats the evidence string for a timed-out check.
func TimeoutEvidence(limit time.Duration) string {
	return fmt.Sprintf("timeout after %ds", int(limit.Seconds()))
}

// ToolErrorEvidence formats the evidence string for a check that could not
// run at all.
func ToolErrorEvidence(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "unknown error"
	}
	return truncate("tool-error: " + msg)
}

// IsToolError reports whether the evidence marks an infra failure rather
// than an ordinary check failure.
func IsToolError(evidence string) bool {
	return strings.HasPrefix(evidence, "tool-error:")
}

// IsTimeout reports whether the evidence marks a timed-out check.
func IsTimeout(evidence string) bool {
	return strings.HasPrefix(evidence, "timeout after ")
}

func truncate(s string) string {
	if len(s) <= maxEvidenceLen {
		return s
	}
	return s[:maxEvidenceLen-3] + "..."
}
