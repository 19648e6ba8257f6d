package emitter

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/ledger"
	"github.com/fyrsmithlabs/gated/internal/receipt"
	"github.com/fyrsmithlabs/gated/internal/review"
)

type fakeChecks struct {
	mu   sync.Mutex
	runs []github.CreateCheckRunOptions
}

func (f *fakeChecks) CreateCheckRun(_ context.Context, _, _ string, opts github.CreateCheckRunOptions) (*github.CheckRun, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, opts)
	return &github.CheckRun{}, &github.Response{}, nil
}

type fakeIssues struct {
	mu       sync.Mutex
	nextID   int64
	comments map[int64]string
	labels   []string
	edits    int
}

func newFakeIssues() *fakeIssues {
	return &fakeIssues{comments: make(map[int64]string)}
}

func (f *fakeIssues) ListComments(_ context.Context, _, _ string, _ int, _ *github.IssueListCommentsOptions) ([]*github.IssueComment, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*github.IssueComment, 0, len(f.comments))
	for id, body := range f.comments {
		id, body := id, body
		out = append(out, &github.IssueComment{ID: &id, Body: &body})
	}
	return out, &github.Response{}, nil
}

func (f *fakeIssues) CreateComment(_ context.Context, _, _ string, _ int, c *github.IssueComment) (*github.IssueComment, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.comments[id] = c.GetBody()
	return &github.IssueComment{ID: &id}, &github.Response{}, nil
}

func (f *fakeIssues) EditComment(_ context.Context, _, _ string, commentID int64, c *github.IssueComment) (*github.IssueComment, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits++
	f.comments[commentID] = c.GetBody()
	return &github.IssueComment{ID: &commentID}, &github.Response{}, nil
}

func (f *fakeIssues) ListLabelsByIssue(_ context.Context, _, _ string, _ int, _ *github.ListOptions) ([]*github.Label, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*github.Label, 0, len(f.labels))
	for _, name := range f.labels {
		name := name
		out = append(out, &github.Label{Name: &name})
	}
	return out, &github.Response{}, nil
}

func (f *fakeIssues) AddLabelsToIssue(_ context.Context, _, _ string, _ int, labels []string) ([]*github.Label, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = append(f.labels, labels...)
	return nil, &github.Response{}, nil
}

func (f *fakeIssues) RemoveLabelForIssue(_ context.Context, _, _ string, _ int, label string) (*github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.labels[:0]
	for _, l := range f.labels {
		if l != label {
			kept = append(kept, l)
		}
	}
	f.labels = kept
	return &github.Response{}, nil
}

func (f *fakeIssues) bodyWithMarker(marker string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, body := range f.comments {
		if strings.Contains(body, marker) {
			return body, true
		}
	}
	return "", false
}

func testEmitter(checks *fakeChecks, issues *fakeIssues) *Emitter {
	return &Emitter{
		checks: checks,
		issues: issues,
		retry:  &RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 2},
		logger: zap.NewNop(),
	}
}

func emitterUnit() review.Unit {
	return review.Unit{
		Repo:    "fyrsmithlabs/widgets",
		Number:  42,
		BaseRef: "main",
		HeadSHA: "deadbeef",
	}
}

func terminalReceipt(outcome review.Outcome) *receipt.Receipt {
	return &receipt.Receipt{
		SchemaVersion: receipt.SchemaVersion,
		Unit:          emitterUnit(),
		Tier:          "pr-fast",
		Outcome:       outcome,
		Reason:        "all required gates passed",
		Gates: []gate.Gate{
			{Name: "tests", Phase: "tests", Status: gate.StatusPass, Attempts: 1, Evidence: "exit 0"},
		},
		Hops: []ledger.HopEntry{
			{Seq: 1, Decision: "run:tests", Reason: "next pending stage in tests phase"},
			{Seq: 2, Decision: "terminal:" + string(outcome), Reason: "all required gates passed"},
		},
		StartedAt:  time.Now().Add(-3 * time.Second),
		FinishedAt: time.Now(),
	}
}

func TestEmitter_GateUpdated_EmitsNamespacedCheckRun(t *testing.T) {
	checks := &fakeChecks{}
	e := testEmitter(checks, newFakeIssues())

	e.GateUpdated(context.Background(), emitterUnit(), gate.Gate{
		Name:      "tests",
		Status:    gate.StatusPass,
		Evidence:  "exit 0",
		Attempts:  1,
		UpdatedAt: time.Now(),
	})

	require.Len(t, checks.runs, 1)
	run := checks.runs[0]
	assert.Equal(t, "gated:gate:tests", run.Name)
	assert.Equal(t, "deadbeef", run.HeadSHA)
	assert.Equal(t, "completed", run.GetStatus())
	assert.Equal(t, "success", run.GetConclusion())
}

func TestEmitter_GateUpdated_SkippedMapsToNeutralWithReason(t *testing.T) {
	checks := &fakeChecks{}
	e := testEmitter(checks, newFakeIssues())

	e.GateUpdated(context.Background(), emitterUnit(),
		gate.Skipped("docs", "no doc-affecting changes"))

	require.Len(t, checks.runs, 1)
	run := checks.runs[0]
	assert.Equal(t, "neutral", run.GetConclusion())
	assert.Contains(t, run.Output.GetSummary(), "no doc-affecting changes",
		"a neutral conclusion always carries its reason")
}

func TestEmitter_GateUpdated_FailureTitleNamesAttempt(t *testing.T) {
	checks := &fakeChecks{}
	e := testEmitter(checks, newFakeIssues())

	e.GateUpdated(context.Background(), emitterUnit(), gate.Gate{
		Name:     "tests",
		Status:   gate.StatusFail,
		Evidence: "exit 1: 3 tests failed",
		Attempts: 2,
	})

	require.Len(t, checks.runs, 1)
	run := checks.runs[0]
	assert.Equal(t, "failure", run.GetConclusion())
	assert.Equal(t, "tests failed (attempt 2)", run.Output.GetTitle())
	assert.Contains(t, run.Output.GetSummary(), "exit 1: 3 tests failed")
}

func TestEmitter_GateUpdated_MalformedRepo_EmitsNothing(t *testing.T) {
	checks := &fakeChecks{}
	e := testEmitter(checks, newFakeIssues())

	unit := emitterUnit()
	unit.Repo = "not-owner-slash-name"
	e.GateUpdated(context.Background(), unit, gate.Gate{Name: "tests", Status: gate.StatusPass})

	assert.Empty(t, checks.runs)
}

func TestEmitter_RunFinished_CreatesThenEditsSummaryComment(t *testing.T) {
	issues := newFakeIssues()
	e := testEmitter(&fakeChecks{}, issues)

	e.RunFinished(context.Background(), terminalReceipt(review.OutcomeReady))
	body, ok := issues.bodyWithMarker(summaryMarker)
	require.True(t, ok, "first run creates the summary comment")
	assert.Contains(t, body, "ready")

	e.RunFinished(context.Background(), terminalReceipt(review.OutcomeNeedsRework))
	body, ok = issues.bodyWithMarker(summaryMarker)
	require.True(t, ok)
	assert.Contains(t, body, "needs-rework", "second run rewrites the table in place")
	assert.NotContains(t, strings.TrimPrefix(body, summaryMarker), "Outcome: ready")

	summaryCount := 0
	issues.mu.Lock()
	for _, b := range issues.comments {
		if strings.Contains(b, summaryMarker) {
			summaryCount++
		}
	}
	issues.mu.Unlock()
	assert.Equal(t, 1, summaryCount, "never a second summary comment")
	assert.Greater(t, issues.edits, 0)
}

func TestEmitter_RunFinished_AppendsDecisionLog(t *testing.T) {
	issues := newFakeIssues()
	e := testEmitter(&fakeChecks{}, issues)

	e.RunFinished(context.Background(), terminalReceipt(review.OutcomeReady))
	e.RunFinished(context.Background(), terminalReceipt(review.OutcomeReady))

	body, ok := issues.bodyWithMarker(decisionsMarker)
	require.True(t, ok)
	assert.Equal(t, 2, strings.Count(body, "Decision log:"),
		"each run appends its block instead of replacing")
}

func TestEmitter_RunFinished_AppliesOutcomeLabel(t *testing.T) {
	issues := newFakeIssues()
	e := testEmitter(&fakeChecks{}, issues)

	e.RunFinished(context.Background(), terminalReceipt(review.OutcomeReady))
	assert.Equal(t, []string{"gated:ready"}, issues.labels)

	// A later run replaces the stale outcome label.
	e.RunFinished(context.Background(), terminalReceipt(review.OutcomeNeedsRework))
	assert.Equal(t, []string{"gated:needs-rework"}, issues.labels)
}

func TestEmitter_RunFinished_CancelledOnlyCleansUp(t *testing.T) {
	issues := newFakeIssues()
	issues.labels = []string{"gated:ready", "enhancement"}
	e := testEmitter(&fakeChecks{}, issues)

	e.RunFinished(context.Background(), terminalReceipt(review.OutcomeCancelled))

	assert.Equal(t, []string{"enhancement"}, issues.labels,
		"stale gated labels removed, nothing new applied, foreign labels untouched")
}

func TestTruncateHead_UnderLimitUnchanged(t *testing.T) {
	body := decisionsMarker + "\nshort log"
	assert.Equal(t, body, truncateHead(body, decisionsMarker, maxCommentLen))
}

func TestTruncateHead_DropsOldestKeepsMarker(t *testing.T) {
	var b strings.Builder
	b.WriteString(decisionsMarker + "\n")
	for i := 0; i < 500; i++ {
		b.WriteString(strings.Repeat("x", 100) + "\n")
	}
	newest := "newest entry survives"
	b.WriteString(newest + "\n")

	out := truncateHead(b.String(), decisionsMarker, 2000)

	assert.LessOrEqual(t, len(out), 2000)
	assert.True(t, strings.HasPrefix(out, decisionsMarker),
		"marker must survive so the next run still finds the comment")
	assert.Contains(t, out, truncationNotice)
	assert.Contains(t, out, newest)
}

func TestSplitRepo(t *testing.T) {
	owner, repo, err := splitRepo("fyrsmithlabs/widgets")
	require.NoError(t, err)
	assert.Equal(t, "fyrsmithlabs", owner)
	assert.Equal(t, "widgets", repo)

	_, _, err = splitRepo("widgets")
	assert.Error(t, err)
	_, _, err = splitRepo("/widgets")
	assert.Error(t, err)
}

func TestConclusionFor(t *testing.T) {
	assert.Equal(t, "success", conclusionFor(gate.StatusPass))
	assert.Equal(t, "failure", conclusionFor(gate.StatusFail))
	assert.Equal(t, "neutral", conclusionFor(gate.StatusSkipped))
	assert.Equal(t, "neutral", conclusionFor(gate.StatusPending))
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "gated:ready", outcomeLabel(review.OutcomeReady))
	assert.Equal(t, "gated:needs-rework", outcomeLabel(review.OutcomeNeedsRework))
	assert.Equal(t, "gated:blocked", outcomeLabel(review.OutcomeBlocked))
	assert.Empty(t, outcomeLabel(review.OutcomeCancelled))
}
