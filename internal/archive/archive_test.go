package archive

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/ledger"
	"github.com/fyrsmithlabs/gated/internal/receipt"
	"github.com/fyrsmithlabs/gated/internal/review"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func archivedReceipt(repo string, number int, outcome review.Outcome) *receipt.Receipt {
	now := time.Now().UTC().Truncate(time.Second)
	return &receipt.Receipt{
		SchemaVersion: receipt.SchemaVersion,
		RunID:         uuid.New().String(),
		Engine:        "1.2.0",
		Unit: review.Unit{
			Repo:    repo,
			Number:  number,
			BaseRef: "main",
			HeadSHA: strings.Repeat("a", 40),
		},
		Tier:    "pr-fast",
		Outcome: outcome,
		Reason:  "all required gates passed",
		Gates: []gate.Gate{
			{Name: "lint", Phase: "static", Status: gate.StatusPass, Attempts: 1, Evidence: "exit 0"},
			{Name: "tests", Phase: "tests", Status: gate.StatusPass, Attempts: 2, Evidence: "exit 0"},
		},
		Hops: []ledger.HopEntry{
			{Seq: 1, Decision: "run:lint", Reason: "next pending stage in static phase"},
			{Seq: 2, Decision: "run:tests", Reason: "next pending stage in tests phase"},
			{Seq: 3, Decision: "terminal:" + string(outcome), Reason: "all required gates passed"},
		},
		Iterations: 2,
		StartedAt:  now.Add(-8 * time.Second),
		FinishedAt: now,
	}
}

func TestStore_SaveRun_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rcpt := archivedReceipt("fyrsmithlabs/widgets", 42, review.OutcomeReady)

	id, err := s.SaveRun(ctx, rcpt)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, rcpt.RunID, run.RunID)
	assert.Equal(t, "fyrsmithlabs/widgets#42", run.UnitKey)
	assert.Equal(t, "fyrsmithlabs/widgets", run.Repo)
	assert.Equal(t, 42, run.Number)
	assert.Equal(t, strings.Repeat("a", 40), run.HeadSHA)
	assert.Equal(t, "pr-fast", run.Tier)
	assert.Equal(t, review.OutcomeReady, run.Outcome)
	assert.Equal(t, 2, run.Iterations)
	assert.Equal(t, 2, run.GatesPassed)
	assert.Equal(t, 0, run.GatesFailed)

	require.NotNil(t, run.Receipt)
	assert.Equal(t, rcpt.RunID, run.Receipt.RunID)
	assert.Equal(t, rcpt.Outcome, run.Receipt.Outcome)
	require.Len(t, run.Receipt.Gates, 2)
	assert.Equal(t, "tests", run.Receipt.Gates[1].Name)
	assert.Equal(t, 2, run.Receipt.Gates[1].Attempts)
	require.Len(t, run.Receipt.Hops, 3)
	assert.Equal(t, "terminal:ready", run.Receipt.Hops[2].Decision)
}

func TestStore_GetRun_AcceptsReceiptRunID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rcpt := archivedReceipt("fyrsmithlabs/widgets", 42, review.OutcomeReady)

	id, err := s.SaveRun(ctx, rcpt)
	require.NoError(t, err)

	run, err := s.GetRun(ctx, rcpt.RunID)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
}

func TestStore_GetRun_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun(context.Background(), "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestStore_SaveRun_NilReceipt(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SaveRun(context.Background(), nil)
	require.Error(t, err)
}

func TestStore_ListRuns_FiltersAndOrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveRun(ctx, archivedReceipt("fyrsmithlabs/widgets", 42, review.OutcomeNeedsRework))
	require.NoError(t, err)
	_, err = s.SaveRun(ctx, archivedReceipt("fyrsmithlabs/widgets", 42, review.OutcomeReady))
	require.NoError(t, err)
	_, err = s.SaveRun(ctx, archivedReceipt("fyrsmithlabs/gizmos", 7, review.OutcomeBlocked))
	require.NoError(t, err)

	all, err := s.ListRuns(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, review.OutcomeBlocked, all[0].Outcome)
	assert.Nil(t, all[0].Receipt, "list results carry summaries only")

	byUnit, err := s.ListRuns(ctx, ListFilter{UnitKey: "fyrsmithlabs/widgets#42"})
	require.NoError(t, err)
	require.Len(t, byUnit, 2)
	assert.Equal(t, review.OutcomeReady, byUnit[0].Outcome, "newest first")

	byOutcome, err := s.ListRuns(ctx, ListFilter{Outcome: review.OutcomeBlocked})
	require.NoError(t, err)
	require.Len(t, byOutcome, 1)
	assert.Equal(t, "fyrsmithlabs/gizmos#7", byOutcome[0].UnitKey)

	byRepo, err := s.ListRuns(ctx, ListFilter{Repo: "fyrsmithlabs/gizmos"})
	require.NoError(t, err)
	require.Len(t, byRepo, 1)

	limited, err := s.ListRuns(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestStore_LatestRun_ReturnsNewestForUnit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveRun(ctx, archivedReceipt("fyrsmithlabs/widgets", 42, review.OutcomeNeedsRework))
	require.NoError(t, err)
	_, err = s.SaveRun(ctx, archivedReceipt("fyrsmithlabs/widgets", 42, review.OutcomeReady))
	require.NoError(t, err)

	latest, err := s.LatestRun(ctx, "fyrsmithlabs/widgets#42")
	require.NoError(t, err)
	assert.Equal(t, review.OutcomeReady, latest.Outcome)
	require.NotNil(t, latest.Receipt)

	_, err = s.LatestRun(ctx, "fyrsmithlabs/unknown#1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no archived runs")
}

func TestStore_CountByOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, outcome := range []review.Outcome{review.OutcomeReady, review.OutcomeReady, review.OutcomeBlocked} {
		_, err := s.SaveRun(ctx, archivedReceipt("fyrsmithlabs/widgets", 42, outcome))
		require.NoError(t, err)
	}

	counts, err := s.CountByOutcome(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[review.OutcomeReady])
	assert.Equal(t, 1, counts[review.OutcomeBlocked])
	assert.Zero(t, counts[review.OutcomeCancelled])
}

func TestStore_PruneBefore_DeletesOldRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveRun(ctx, archivedReceipt("fyrsmithlabs/widgets", 42, review.OutcomeReady))
	require.NoError(t, err)
	_, err = s.SaveRun(ctx, archivedReceipt("fyrsmithlabs/gizmos", 7, review.OutcomeBlocked))
	require.NoError(t, err)

	n, err := s.PruneBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "recent runs survive the cutoff")

	n, err = s.PruneBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	remaining, err := s.ListRuns(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestNew_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.db")
	ctx := context.Background()

	s, err := New(path)
	require.NoError(t, err)
	id, err := s.SaveRun(ctx, archivedReceipt("fyrsmithlabs/widgets", 42, review.OutcomeReady))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening replays migrations; schema_migrations keeps them idempotent.
	s2, err := New(path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	run, err := s2.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, review.OutcomeReady, run.Outcome)
}

func TestRecorder_RunFinished_Archives(t *testing.T) {
	s := newTestStore(t)
	rec := NewRecorder(s, zap.NewNop())
	ctx := context.Background()

	rec.RunFinished(ctx, archivedReceipt("fyrsmithlabs/widgets", 42, review.OutcomeNeedsRework))
	rec.RunFinished(ctx, archivedReceipt("fyrsmithlabs/widgets", 42, review.OutcomeReady))
	rec.RunFinished(ctx, nil)

	runs, err := s.ListRuns(ctx, ListFilter{UnitKey: "fyrsmithlabs/widgets#42"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, review.OutcomeReady, runs[0].Outcome)
}

func TestRecorder_GateUpdated_IsNoop(t *testing.T) {
	s := newTestStore(t)
	rec := NewRecorder(s, nil)

	rec.GateUpdated(context.Background(), review.Unit{Repo: "fyrsmithlabs/widgets", Number: 42}, gate.Gate{Name: "tests"})

	runs, err := s.ListRuns(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}
