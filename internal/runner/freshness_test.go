package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/policy"
	"github.com/fyrsmithlabs/gated/internal/review"
)

func testSignature() *object.Signature {
	return &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()}
}

func initRepo(t *testing.T) (string, *git.Repository, *git.Worktree) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	return dir, repo, wt
}

func commitFile(t *testing.T, dir string, wt *git.Worktree, name, content, msg string) plumbing.Hash {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	_, err := wt.Add(name)
	require.NoError(t, err)
	hash, err := wt.Commit(msg, &git.CommitOptions{Author: testSignature()})
	require.NoError(t, err)
	return hash
}

func checkout(t *testing.T, wt *git.Worktree, branch string, create bool) {
	t.Helper()
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: create,
	}))
}

func runFreshness(t *testing.T, unit review.Unit) gate.CheckResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return NewFreshnessCheck().Run(ctx, unit, policy.StageConfig{Name: "freshness"})
}

func TestFreshnessCheck_HeadAtBaseTip_Passes(t *testing.T) {
	dir, _, wt := initRepo(t)
	commitFile(t, dir, wt, "a.txt", "one", "initial")

	result := runFreshness(t, review.Unit{WorkDir: dir, BaseRef: "master"})

	assert.Equal(t, gate.CheckSuccess, result.Status)
	assert.Contains(t, result.Evidence, "worktree clean")
}

func TestFreshnessCheck_HeadContainsBase_Passes(t *testing.T) {
	dir, _, wt := initRepo(t)
	commitFile(t, dir, wt, "a.txt", "one", "initial")
	checkout(t, wt, "feature", true)
	commitFile(t, dir, wt, "b.txt", "two", "feature work")

	result := runFreshness(t, review.Unit{WorkDir: dir, BaseRef: "master"})

	assert.Equal(t, gate.CheckSuccess, result.Status)
	assert.Contains(t, result.Evidence, "contains base")
}

func TestFreshnessCheck_BehindBase_Fails(t *testing.T) {
	dir, _, wt := initRepo(t)
	commitFile(t, dir, wt, "a.txt", "one", "initial")
	checkout(t, wt, "feature", true)
	checkout(t, wt, "master", false)
	commitFile(t, dir, wt, "c.txt", "three", "base moved on")
	checkout(t, wt, "feature", false)

	result := runFreshness(t, review.Unit{WorkDir: dir, BaseRef: "master"})

	assert.Equal(t, gate.CheckFailure, result.Status)
	assert.Contains(t, result.Evidence, "behind base master")
}

func TestFreshnessCheck_DirtyWorktree_Fails(t *testing.T) {
	dir, _, wt := initRepo(t)
	commitFile(t, dir, wt, "a.txt", "one", "initial")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("wip"), 0o600))

	result := runFreshness(t, review.Unit{WorkDir: dir, BaseRef: "master"})

	assert.Equal(t, gate.CheckFailure, result.Status)
	assert.Contains(t, result.Evidence, "dirty worktree")
}

func TestFreshnessCheck_StaleHeadSHA_Fails(t *testing.T) {
	dir, _, wt := initRepo(t)
	commitFile(t, dir, wt, "a.txt", "one", "initial")

	result := runFreshness(t, review.Unit{WorkDir: dir, BaseRef: "master", HeadSHA: "0000000000000000000000000000000000000000"})

	assert.Equal(t, gate.CheckFailure, result.Status)
	assert.Contains(t, result.Evidence, "stale head")
}

func TestFreshnessCheck_MatchingHeadSHA_Passes(t *testing.T) {
	dir, _, wt := initRepo(t)
	head := commitFile(t, dir, wt, "a.txt", "one", "initial")

	result := runFreshness(t, review.Unit{WorkDir: dir, BaseRef: "master", HeadSHA: head.String()})

	assert.Equal(t, gate.CheckSuccess, result.Status)
}

func TestFreshnessCheck_UnknownBaseRef_ErrorResult(t *testing.T) {
	dir, _, wt := initRepo(t)
	commitFile(t, dir, wt, "a.txt", "one", "initial")

	result := runFreshness(t, review.Unit{WorkDir: dir, BaseRef: "release/nope"})

	assert.Equal(t, gate.CheckError, result.Status)
	assert.Contains(t, result.Message, "not found")
}

func TestFreshnessCheck_NotARepository_ErrorResult(t *testing.T) {
	result := runFreshness(t, review.Unit{WorkDir: t.TempDir(), BaseRef: "master"})

	assert.Equal(t, gate.CheckError, result.Status)
}
