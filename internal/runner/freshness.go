package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/policy"
	"github.com/fyrsmithlabs/gated/internal/review"
)

// FreshnessCheck verifies the review unit's checkout is evaluable: the head
// matches what intake saw, the worktree is clean, and the base branch tip is
// already contained in the head (no stale branch).
type FreshnessCheck struct{}

// NewFreshnessCheck creates the freshness check.
func NewFreshnessCheck() *FreshnessCheck {
	return &FreshnessCheck{}
}

// Kind returns the policy check name.
func (c *FreshnessCheck) Kind() string {
	return policy.CheckFreshness
}

// Run inspects the working copy with go-git. Repository problems that
// prevent inspection are error-class; a stale or dirty checkout is an
// ordinary failure the submitter can fix.
func (c *FreshnessCheck) Run(ctx context.Context, unit review.Unit, stage policy.StageConfig) gate.CheckResult {
	if unit.WorkDir == "" {
		return gate.CheckResult{Status: gate.CheckError, Message: "review unit has no working directory"}
	}

	repo, err := git.PlainOpen(unit.WorkDir)
	if err != nil {
		return gate.CheckResult{Status: gate.CheckError, Message: fmt.Sprintf("open repository: %v", err)}
	}

	head, err := repo.Head()
	if err != nil {
		return gate.CheckResult{Status: gate.CheckError, Message: fmt.Sprintf("resolve HEAD: %v", err)}
	}

	if unit.HeadSHA != "" && !strings.HasPrefix(head.Hash().String(), unit.HeadSHA) {
		return gate.CheckResult{
			Status:   gate.CheckFailure,
			Evidence: fmt.Sprintf("stale head: expected %s, checkout at %s", shortSHA(unit.HeadSHA), shortSHA(head.Hash().String())),
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return gate.CheckResult{Status: gate.CheckError, Message: fmt.Sprintf("open worktree: %v", err)}
	}
	status, err := wt.Status()
	if err != nil {
		return gate.CheckResult{Status: gate.CheckError, Message: fmt.Sprintf("worktree status: %v", err)}
	}
	if !status.IsClean() {
		return gate.CheckResult{
			Status:   gate.CheckFailure,
			Evidence: fmt.Sprintf("dirty worktree: %d uncommitted paths", len(status)),
		}
	}

	if ctx.Err() == context.DeadlineExceeded {
		return gate.CheckResult{Status: gate.CheckTimeout}
	}

	baseHash, err := resolveBase(repo, unit.BaseRef)
	if err != nil {
		return gate.CheckResult{Status: gate.CheckError, Message: err.Error()}
	}

	if *baseHash == head.Hash() {
		return gate.CheckResult{
			Status:   gate.CheckSuccess,
			Evidence: fmt.Sprintf("head at base tip %s; worktree clean", shortSHA(baseHash.String())),
		}
	}

	baseCommit, err := repo.CommitObject(*baseHash)
	if err != nil {
		return gate.CheckResult{Status: gate.CheckError, Message: fmt.Sprintf("load base commit: %v", err)}
	}
	headCommit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return gate.CheckResult{Status: gate.CheckError, Message: fmt.Sprintf("load head commit: %v", err)}
	}

	contained, err := baseCommit.IsAncestor(headCommit)
	if err != nil {
		return gate.CheckResult{Status: gate.CheckError, Message: fmt.Sprintf("ancestry walk: %v", err)}
	}
	if !contained {
		return gate.CheckResult{
			Status:   gate.CheckFailure,
			Evidence: fmt.Sprintf("behind base %s: tip %s not contained in head", unit.BaseRef, shortSHA(baseHash.String())),
		}
	}

	return gate.CheckResult{
		Status:   gate.CheckSuccess,
		Evidence: fmt.Sprintf("head %s contains base %s; worktree clean", shortSHA(head.Hash().String()), shortSHA(baseHash.String())),
	}
}

// resolveBase resolves the base branch locally, falling back to the origin
// remote-tracking ref for fetched-only bases.
func resolveBase(repo *git.Repository, baseRef string) (*plumbing.Hash, error) {
	if baseRef == "" {
		return nil, fmt.Errorf("review unit has no base ref")
	}
	for _, rev := range []string{baseRef, "origin/" + baseRef} {
		if h, err := repo.ResolveRevision(plumbing.Revision(rev)); err == nil {
			return h, nil
		}
	}
	return nil, fmt.Errorf("base ref %q not found in repository", baseRef)
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
