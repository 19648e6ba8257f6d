// Package emitter publishes pipeline state to GitHub: one check-run per gate
// update, an editable summary comment, an append-only decision-log comment,
// and an outcome label per review unit.
//
// Emissions are best-effort side effects. Failures are logged and retried
// with backoff but never influence routing; the receipt, not GitHub, is the
// record of truth.
package emitter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/receipt"
	"github.com/fyrsmithlabs/gated/internal/review"
)

const (
	// checkRunPrefix namespaces the engine's check-runs so they never
	// collide with CI checks of the same stage name.
	checkRunPrefix = "gated:gate:"

	// labelPrefix namespaces outcome labels.
	labelPrefix = "gated:"
)

// checksAPI is the slice of go-github's checks service the emitter uses.
type checksAPI interface {
	CreateCheckRun(ctx context.Context, owner, repo string, opts github.CreateCheckRunOptions) (*github.CheckRun, *github.Response, error)
}

// issuesAPI is the slice of go-github's issues service the emitter uses.
type issuesAPI interface {
	ListComments(ctx context.Context, owner, repo string, number int, opts *github.IssueListCommentsOptions) ([]*github.IssueComment, *github.Response, error)
	CreateComment(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
	EditComment(ctx context.Context, owner, repo string, commentID int64, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
	ListLabelsByIssue(ctx context.Context, owner, repo string, number int, opts *github.ListOptions) ([]*github.Label, *github.Response, error)
	AddLabelsToIssue(ctx context.Context, owner, repo string, number int, labels []string) ([]*github.Label, *github.Response, error)
	RemoveLabelForIssue(ctx context.Context, owner, repo string, number int, label string) (*github.Response, error)
}

// Emitter is the GitHub outbound surface. It satisfies the orchestrator's
// Notifier interface.
type Emitter struct {
	checks checksAPI
	issues issuesAPI
	retry  *RetryConfig
	logger *zap.Logger
}

// Option adjusts emitter construction.
type Option func(*Emitter)

// WithRetryConfig overrides the default backoff schedule.
func WithRetryConfig(cfg *RetryConfig) Option {
	return func(e *Emitter) { e.retry = cfg }
}

// New creates an emitter on an authenticated go-github client.
func New(client *github.Client, logger *zap.Logger, opts ...Option) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Emitter{
		checks: client.Checks,
		issues: client.Issues,
		retry:  DefaultRetryConfig(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewFromToken creates an emitter with static token authentication.
func NewFromToken(ctx context.Context, token string, logger *zap.Logger, opts ...Option) (*Emitter, error) {
	if token == "" {
		return nil, fmt.Errorf("github token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return New(github.NewClient(oauth2.NewClient(ctx, ts)), logger, opts...), nil
}

// GateUpdated publishes one completed check-run for the gate's new state.
func (e *Emitter) GateUpdated(ctx context.Context, unit review.Unit, g gate.Gate) {
	owner, repo, err := splitRepo(unit.Repo)
	if err != nil {
		e.logger.Warn("skipping check-run emission", zap.Error(err))
		return
	}

	conclusion := conclusionFor(g.Status)
	opts := github.CreateCheckRunOptions{
		Name:       checkRunPrefix + g.Name,
		HeadSHA:    unit.HeadSHA,
		Status:     github.String("completed"),
		Conclusion: github.String(conclusion),
		CompletedAt: &github.Timestamp{
			Time: g.UpdatedAt,
		},
		Output: &github.CheckRunOutput{
			Title:   github.String(checkRunTitle(g)),
			Summary: github.String(checkRunSummary(g)),
		},
	}

	_, err = retryOperation(ctx, e.retry, e.logger, func() (*github.Response, error) {
		_, resp, opErr := e.checks.CreateCheckRun(ctx, owner, repo, opts)
		return resp, opErr
	})
	if err != nil {
		e.logger.Warn("check-run emission failed",
			zap.String("unit", unit.Key()),
			zap.String("stage", g.Name),
			zap.Error(err))
		return
	}

	e.logger.Debug("check-run emitted",
		zap.String("unit", unit.Key()),
		zap.String("stage", g.Name),
		zap.String("conclusion", conclusion))
}

// RunFinished publishes the terminal surface: summary comment updated in
// place, decision log appended, outcome label applied.
func (e *Emitter) RunFinished(ctx context.Context, rcpt *receipt.Receipt) {
	unit := rcpt.Unit
	owner, repo, err := splitRepo(unit.Repo)
	if err != nil {
		e.logger.Warn("skipping terminal emission", zap.Error(err))
		return
	}

	if err := e.upsertComment(ctx, owner, repo, unit.Number, summaryMarker, rcpt.Markdown()); err != nil {
		e.logger.Warn("summary comment emission failed",
			zap.String("unit", unit.Key()), zap.Error(err))
	}
	if err := e.appendComment(ctx, owner, repo, unit.Number, decisionsMarker, rcpt.DecisionLog()); err != nil {
		e.logger.Warn("decision-log emission failed",
			zap.String("unit", unit.Key()), zap.Error(err))
	}
	if err := e.syncLabels(ctx, owner, repo, unit.Number, rcpt.Outcome); err != nil {
		e.logger.Warn("label sync failed",
			zap.String("unit", unit.Key()), zap.Error(err))
	}

	e.logger.Info("terminal surface emitted",
		zap.String("unit", unit.Key()),
		zap.String("outcome", string(rcpt.Outcome)))
}

// syncLabels reconciles the unit's gated:* labels with the outcome. A
// cancelled run cleans up stale labels and applies nothing new.
func (e *Emitter) syncLabels(ctx context.Context, owner, repo string, number int, outcome review.Outcome) error {
	want := outcomeLabel(outcome)

	var labels []*github.Label
	_, err := retryOperation(ctx, e.retry, e.logger, func() (*github.Response, error) {
		var opErr error
		var resp *github.Response
		labels, resp, opErr = e.issues.ListLabelsByIssue(ctx, owner, repo, number, &github.ListOptions{PerPage: 100})
		return resp, opErr
	})
	if err != nil {
		return fmt.Errorf("listing labels: %w", err)
	}

	present := false
	for _, l := range labels {
		name := l.GetName()
		if !strings.HasPrefix(name, labelPrefix) {
			continue
		}
		if name == want {
			present = true
			continue
		}
		_, err := retryOperation(ctx, e.retry, e.logger, func() (*github.Response, error) {
			return e.issues.RemoveLabelForIssue(ctx, owner, repo, number, name)
		})
		if err != nil {
			return fmt.Errorf("removing label %q: %w", name, err)
		}
	}

	if want == "" || present {
		return nil
	}
	_, err = retryOperation(ctx, e.retry, e.logger, func() (*github.Response, error) {
		_, resp, opErr := e.issues.AddLabelsToIssue(ctx, owner, repo, number, []string{want})
		return resp, opErr
	})
	if err != nil {
		return fmt.Errorf("adding label %q: %w", want, err)
	}
	return nil
}

// conclusionFor maps a gate status to a check-run conclusion. Skips are
// neutral, never success: a stage that did not run proved nothing.
func conclusionFor(status gate.Status) string {
	switch status {
	case gate.StatusPass:
		return "success"
	case gate.StatusFail:
		return "failure"
	default:
		return "neutral"
	}
}

// outcomeLabel maps a terminal outcome to its label. Cancelled runs get
// none: label churn on a withdrawn unit is noise.
func outcomeLabel(outcome review.Outcome) string {
	switch outcome {
	case review.OutcomeReady, review.OutcomeNeedsRework, review.OutcomeBlocked:
		return labelPrefix + string(outcome)
	default:
		return ""
	}
}

func checkRunTitle(g gate.Gate) string {
	switch g.Status {
	case gate.StatusPass:
		return fmt.Sprintf("%s passed", g.Name)
	case gate.StatusFail:
		return fmt.Sprintf("%s failed (attempt %d)", g.Name, g.Attempts)
	case gate.StatusSkipped:
		return fmt.Sprintf("%s skipped", g.Name)
	default:
		return g.Name
	}
}

func checkRunSummary(g gate.Gate) string {
	var b strings.Builder
	if g.Evidence != "" {
		b.WriteString(g.Evidence)
	} else {
		b.WriteString("no evidence recorded")
	}
	if g.DurationMS > 0 {
		fmt.Fprintf(&b, "\n\nDuration: %s", (time.Duration(g.DurationMS) * time.Millisecond).String())
	}
	return b.String()
}

// splitRepo splits an owner/name repository reference.
func splitRepo(full string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(full, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("repository %q is not in owner/name form", full)
	}
	return owner, repo, nil
}
