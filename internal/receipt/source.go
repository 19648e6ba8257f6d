package receipt

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Source records where a run was evaluated: the checkout state at receipt
// time plus the host and CI environment. Archived receipts stay auditable
// after the branch moves on.
type Source struct {
	GitSHA     string `json:"git_sha,omitempty"`
	GitBranch  string `json:"git_branch,omitempty"`
	GitDirty   bool   `json:"git_dirty,omitempty"`
	CI         bool   `json:"ci"`
	CIProvider string `json:"ci_provider,omitempty"`
	CIRunURL   string `json:"ci_run_url,omitempty"`
	Platform   string `json:"platform"`
	CPUCores   int    `json:"cpu_cores,omitempty"`
}

// CollectSource inspects the checkout and the process environment. Collection
// is best effort: a missing or unreadable repository leaves the git fields
// empty rather than failing the run.
func CollectSource(workDir string) *Source {
	s := &Source{
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
		CPUCores: runtime.NumCPU(),
	}
	s.CI, s.CIProvider, s.CIRunURL = detectCI(os.Getenv)

	if workDir == "" {
		return s
	}
	repo, err := git.PlainOpen(workDir)
	if err != nil {
		return s
	}
	head, err := repo.Head()
	if err != nil {
		return s
	}
	s.GitSHA = head.Hash().String()
	if head.Name().IsBranch() {
		s.GitBranch = head.Name().Short()
	}
	if wt, err := repo.Worktree(); err == nil {
		if status, err := wt.Status(); err == nil {
			s.GitDirty = !status.IsClean()
		}
	}
	return s
}

// detectCI classifies the process environment from provider variables,
// falling back to the generic CI flag agents set.
func detectCI(getenv func(string) string) (ci bool, provider, runURL string) {
	if getenv("GITHUB_ACTIONS") != "" {
		provider = "github-actions"
		if repo, run := getenv("GITHUB_REPOSITORY"), getenv("GITHUB_RUN_ID"); repo != "" && run != "" {
			runURL = fmt.Sprintf("https://github.com/%s/actions/runs/%s", repo, run)
		}
	}
	return provider != "" || getenv("CI") != "", provider, runURL
}

// Line renders the one-line provenance form shown under the receipt headline.
func (s *Source) Line() string {
	var b strings.Builder
	if s.GitSHA != "" {
		b.WriteString(shortSHA(s.GitSHA))
		if s.GitBranch != "" {
			b.WriteString(" (" + s.GitBranch + ")")
		}
		if s.GitDirty {
			b.WriteString(" dirty")
		}
		b.WriteString(", ")
	}
	b.WriteString(s.Platform)
	if s.CIProvider != "" {
		b.WriteString(", ci: " + s.CIProvider)
	} else if s.CI {
		b.WriteString(", ci")
	}
	return b.String()
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
