package coordinator_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aretw0/ratchet/internal/coordinator"
	"github.com/aretw0/ratchet/internal/testutils"
	"github.com/aretw0/ratchet/pkg/adapters/memory"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const branch = "release/0.99"

var actor = domain.Actor{Name: "Release Bot", Email: "bot@example.com", SigningKeyID: "ABCDEF"}

type fixture struct {
	c       *coordinator.Coordinator
	git     *testutils.FakeGit
	journal *memory.Journal
}

func setup(t *testing.T, opts ...coordinator.Option) fixture {
	t.Helper()
	reg, git := testutils.SetupSuite(t)
	j := memory.NewJournal()
	base := []coordinator.Option{
		coordinator.WithJournal(j),
		coordinator.WithRetryPolicy(coordinator.NoRetry()),
		coordinator.WithActor(actor),
		coordinator.WithInvocationID("test-invocation"),
	}
	return fixture{c: coordinator.New(git, reg, append(base, opts...)...), git: git, journal: j}
}

func (f fixture) repo(t *testing.T, name string) domain.Repository {
	t.Helper()
	r, err := f.c.Registry().Resolve(name)
	require.NoError(t, err)
	return r
}

func (f fixture) cut(t *testing.T) {
	t.Helper()
	_, err := f.c.BranchCut(context.Background(), domain.MustParseVersion("0.99.0"), nil)
	require.NoError(t, err)
}

func rc(n uint64) domain.Version {
	return domain.MustParseVersion("0.99.0").WithCandidate(n)
}

func TestCoordinator_EnsureBranch(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	ui := f.repo(t, "s3gw-ui")
	main := f.git.RemoteBranch("s3gw-ui", "main")

	t.Run("Creates From Integration Branch", func(t *testing.T) {
		b, err := f.c.EnsureBranch(ctx, ui, branch, "")
		require.NoError(t, err)
		assert.True(t, b.Created)
		assert.Equal(t, main, b.Head)
		assert.Equal(t, main, f.git.RemoteBranch("s3gw-ui", branch))
	})

	t.Run("Idempotent", func(t *testing.T) {
		before := len(f.git.RemoteMutations())
		b, err := f.c.EnsureBranch(ctx, ui, branch, main)
		require.NoError(t, err)
		assert.False(t, b.Created)
		assert.Len(t, f.git.RemoteMutations(), before)
	})

	t.Run("Accepts Fast Forward", func(t *testing.T) {
		head := f.git.PushCommit("s3gw-ui", branch, "backport fix")
		b, err := f.c.EnsureBranch(ctx, ui, branch, main)
		require.NoError(t, err)
		assert.Equal(t, head, b.Head)
	})

	t.Run("Divergence Is A Conflict", func(t *testing.T) {
		rewritten := f.git.ForcePushCommit("s3gw-ui", branch)
		_, err := f.c.EnsureBranch(ctx, ui, branch, main)

		var conflict *domain.BranchConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "s3gw-ui", conflict.Repo)
		assert.Equal(t, main, conflict.Expected)
		assert.Equal(t, rewritten, conflict.Actual)
	})

	t.Run("Deleted Branch With Recorded Base Is A Conflict", func(t *testing.T) {
		charts := f.repo(t, "s3gw-charts")
		_, err := f.c.EnsureBranch(ctx, charts, branch, "0123")
		var conflict *domain.BranchConflictError
		require.ErrorAs(t, err, &conflict)
	})
}

func TestCoordinator_ListCandidateTags(t *testing.T) {
	f := setup(t)
	head := f.git.RemoteBranch("s3gw-ui", "main")
	for _, tag := range []string{"v0.99.0-rc3", "v0.99.0-rc1", "v0.98.0-rc7", "v0.99.1-rc2", "v0.99.0"} {
		f.git.SetRemoteTag("s3gw-ui", tag, head)
	}

	got, err := f.c.ListCandidateTags(context.Background(), f.repo(t, "s3gw-ui"), domain.MustParseVersion("0.99.0-rc9"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, got)

	got, err = f.c.ListCandidateTags(context.Background(), f.repo(t, "s3gw-charts"), domain.MustParseVersion("0.99.0"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCoordinator_CandidateRound(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.cut(t)

	res, err := f.c.CandidateRound(ctx, coordinator.RoundRequest{Version: rc(1), Notes: "# Highlights\n\nFaster listing."})
	require.NoError(t, err)
	require.Len(t, res.Tags, 5)

	umbrellaHead := f.git.RemoteBranch(testutils.Umbrella, branch)
	assert.Equal(t, umbrellaHead, res.UmbrellaCommit)

	links := f.git.Gitlinks(res.UmbrellaCommit)
	for _, leaf := range f.c.Registry().Leaves() {
		leafHead := f.git.RemoteBranch(leaf.Name, branch)
		assert.Equal(t, leafHead, f.git.RemoteTags(leaf.Name)["v0.99.0-rc1"], leaf.Name)
		assert.Equal(t, leafHead, links[leaf.SubmodulePath], "umbrella must point %s at its tag", leaf.SubmodulePath)
		assert.Equal(t, "ABCDEF", f.git.TagSigningKey(leaf.Name, "v0.99.0-rc1"))
	}
	assert.Equal(t, res.UmbrellaCommit, f.git.RemoteTags(testutils.Umbrella)["v0.99.0-rc1"])

	notes, ok := f.git.File(res.UmbrellaCommit, "docs/release-notes/s3gw-v0.99.0.md")
	require.True(t, ok, "release notes must be committed to the umbrella")
	assert.Contains(t, notes, "Faster listing.")

	msg := f.git.TagMessage("s3gw-ui", "v0.99.0-rc1")
	assert.True(t, strings.HasPrefix(msg, "Release Candidate 1 for v0.99.0\n\n"), msg)
	assert.Contains(t, msg, "Faster listing.")

	// Leaves are tagged in registry order before the umbrella is committed.
	var order []string
	for _, a := range f.journal.Actions() {
		if strings.HasPrefix(a, ports.ActionTagCreate) || strings.HasPrefix(a, ports.ActionUmbrellaCommit) {
			order = append(order, a)
		}
	}
	assert.Equal(t, []string{
		"tag.create s3gw-ui v0.99.0-rc1",
		"tag.create s3gw-charts v0.99.0-rc1",
		"tag.create s3gw-ceph v0.99.0-rc1",
		"tag.create s3gw-tests v0.99.0-rc1",
		"umbrella.commit s3gw release/0.99",
		"tag.create s3gw v0.99.0-rc1",
	}, order)
}

func TestCoordinator_CandidateRound_RequiresCandidate(t *testing.T) {
	f := setup(t)
	_, err := f.c.CandidateRound(context.Background(), coordinator.RoundRequest{Version: domain.MustParseVersion("0.99.0")})
	assert.Error(t, err)
	assert.Empty(t, f.git.Mutations())
}

func TestCoordinator_CandidateRound_LeafFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.cut(t)
	umbrellaBefore := f.git.RemoteBranch(testutils.Umbrella, branch)

	boom := &domain.GitError{Repo: "s3gw-ceph", Op: "tag", Err: errors.New("disk full")}
	f.git.Inject(testutils.Fault{Repo: "s3gw-ceph", Op: "tag", Err: boom})

	_, err := f.c.CandidateRound(ctx, coordinator.RoundRequest{Version: rc(1)})
	require.ErrorIs(t, err, boom)
	var rf *domain.RollbackFailure
	assert.False(t, errors.As(err, &rf))

	for _, leaf := range []string{"s3gw-ui", "s3gw-charts", "s3gw-ceph", "s3gw-tests"} {
		assert.NotContains(t, f.git.RemoteTags(leaf), "v0.99.0-rc1", leaf)
		assert.NotContains(t, f.git.LocalTags(leaf), "v0.99.0-rc1", leaf)
	}

	var deletes []string
	for _, m := range f.git.RemoteMutations() {
		if strings.HasPrefix(m, "delete-remote-tag") {
			deletes = append(deletes, m)
		}
	}
	assert.Equal(t, []string{
		"delete-remote-tag s3gw-charts v0.99.0-rc1",
		"delete-remote-tag s3gw-ui v0.99.0-rc1",
	}, deletes, "newest first, and only this round's tags")

	assert.Equal(t, umbrellaBefore, f.git.RemoteBranch(testutils.Umbrella, branch))
	assert.Empty(t, f.git.RemoteTags(testutils.Umbrella))
	assert.Zero(t, f.git.Calls(testutils.Umbrella, "commit"), "umbrella must not be touched")
	assert.Zero(t, f.git.Calls("s3gw-tests", "tag"), "leaves after the failure are not attempted")
}

func TestCoordinator_AbortStep(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.cut(t)

	step := f.c.Begin("candidate_round")
	for _, name := range []string{"s3gw-ui", "s3gw-charts"} {
		_, err := f.c.CreateTag(ctx, step, f.repo(t, name), coordinator.TagSpec{
			Name:    "v0.99.0-rc1",
			Commit:  f.git.RemoteBranch(name, branch),
			Message: "Release v0.99.0-rc1",
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"s3gw-ui:v0.99.0-rc1", "s3gw-charts:v0.99.0-rc1"}, step.Created())

	cause := errors.New("boom")
	assert.Equal(t, cause, f.c.Abort(ctx, step, cause))
	assert.Empty(t, step.Created())
	assert.NotContains(t, f.git.RemoteTags("s3gw-ui"), "v0.99.0-rc1")
	assert.NotContains(t, f.git.RemoteTags("s3gw-charts"), "v0.99.0-rc1")

	assert.Equal(t, cause, f.c.Abort(ctx, step, cause), "an empty step has nothing to undo")
}

func TestCoordinator_CandidateRound_RollbackFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.cut(t)

	cause := &domain.SigningError{Repo: "s3gw-ceph", KeyID: "ABCDEF", Err: errors.New("card removed")}
	f.git.Inject(testutils.Fault{Repo: "s3gw-ceph", Op: "tag", Err: cause})
	f.git.Inject(testutils.Fault{Repo: "s3gw-ui", Op: "delete-remote-tag", Times: -1,
		Err: &domain.NetworkError{Repo: "s3gw-ui", Op: "push", Err: errors.New("connection reset")}})

	_, err := f.c.CandidateRound(ctx, coordinator.RoundRequest{Version: rc(1)})

	var rf *domain.RollbackFailure
	require.ErrorAs(t, err, &rf)
	require.Len(t, rf.Items, 1)
	assert.Equal(t, "s3gw-ui", rf.Items[0].Repo)
	assert.Equal(t, "refs/tags/v0.99.0-rc1", rf.Items[0].Ref)

	var signErr *domain.SigningError
	assert.ErrorAs(t, err, &signErr, "the original cause stays reachable")

	assert.NotContains(t, f.git.RemoteTags("s3gw-charts"), "v0.99.0-rc1")
	assert.Contains(t, f.journal.Actions(), "tag.rollback_failed s3gw-ui v0.99.0-rc1")
}

func TestCoordinator_CandidateRound_UmbrellaPushFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.cut(t)
	umbrellaBefore := f.git.RemoteBranch(testutils.Umbrella, branch)

	// Push #1 on the umbrella was the branch cut.
	f.git.Inject(testutils.Fault{Repo: testutils.Umbrella, Op: "push", Nth: 2,
		Err: &domain.RemoteRejectedError{Repo: testutils.Umbrella, Ref: "refs/heads/" + branch, Detail: "non-fast-forward"}})

	_, err := f.c.CandidateRound(ctx, coordinator.RoundRequest{Version: rc(1)})
	var rejected *domain.RemoteRejectedError
	require.ErrorAs(t, err, &rejected)

	for _, leaf := range f.c.Registry().Leaves() {
		assert.NotContains(t, f.git.RemoteTags(leaf.Name), "v0.99.0-rc1", leaf.Name)
	}
	assert.Equal(t, umbrellaBefore, f.git.RemoteBranch(testutils.Umbrella, branch))
	assert.NotContains(t, f.git.LocalTags(testutils.Umbrella), "v0.99.0-rc1")
	assert.Contains(t, f.journal.Actions(), "umbrella.revert s3gw release/0.99")
}

func TestCoordinator_CandidateRound_ConcurrentTag(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.cut(t)
	// Another workspace already pushed rc1 on the second leaf.
	f.git.SetRemoteTag("s3gw-charts", "v0.99.0-rc1", f.git.RemoteBranch("s3gw-charts", branch))

	_, err := f.c.CandidateRound(ctx, coordinator.RoundRequest{Version: rc(1)})
	var rejected *domain.RemoteRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "s3gw-charts", rejected.Repo)

	assert.NotContains(t, f.git.RemoteTags("s3gw-ui"), "v0.99.0-rc1", "own tag rolled back")
	assert.Contains(t, f.git.RemoteTags("s3gw-charts"), "v0.99.0-rc1", "foreign tag untouched")
}

func TestCoordinator_CandidateRound_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	f := setup(t, coordinator.WithRetryPolicy(coordinator.RetryPolicy{MaxAttempts: 3}))
	f.cut(t)

	f.git.Inject(testutils.Fault{Repo: "s3gw-ui", Op: "push", Nth: 2, Times: 2,
		Err: &domain.TimeoutError{Repo: "s3gw-ui", Op: "push"}})

	_, err := f.c.CandidateRound(ctx, coordinator.RoundRequest{Version: rc(1)})
	require.NoError(t, err)
	assert.Equal(t, 4, f.git.Calls("s3gw-ui", "push"), "branch cut, two timeouts, success")
	assert.Contains(t, f.git.RemoteTags("s3gw-ui"), "v0.99.0-rc1")
}

func TestCoordinator_CandidateRound_SigningKeyRejected(t *testing.T) {
	f := setup(t)
	f.cut(t)
	f.git.RejectSigningKey("ABCDEF")

	_, err := f.c.CandidateRound(context.Background(), coordinator.RoundRequest{Version: rc(1)})
	var signErr *domain.SigningError
	require.ErrorAs(t, err, &signErr)
	assert.Equal(t, "s3gw-ui", signErr.Repo)
	assert.Empty(t, f.git.RemoteTags("s3gw-ui"))
}

func TestCoordinator_FinalRound(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.cut(t)
	res, err := f.c.CandidateRound(ctx, coordinator.RoundRequest{Version: rc(1)})
	require.NoError(t, err)

	commits := make(map[string]string)
	for _, tr := range res.Tags {
		commits[tr.Repo] = tr.Commit
	}

	t.Run("Conflicting Final Tag Rolls Back", func(t *testing.T) {
		f.git.SetRemoteTag("s3gw-ceph", "v0.99.0", "deadbeef")
		_, err := f.c.FinalRound(ctx, coordinator.FinalRequest{Version: rc(1), Commits: commits})

		var rejected *domain.RemoteRejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, "deadbeef", rejected.Actual)
		assert.NotContains(t, f.git.RemoteTags("s3gw-ui"), "v0.99.0")
		assert.NotContains(t, f.git.RemoteTags("s3gw-charts"), "v0.99.0")
	})

	t.Run("Promotes Latest Candidate", func(t *testing.T) {
		// An operator fixed the stray tag and someone already promoted one leaf.
		f.git.SetRemoteTag("s3gw-ceph", "v0.99.0", commits["s3gw-ceph"])

		out, err := f.c.FinalRound(ctx, coordinator.FinalRequest{Version: rc(1), Commits: commits})
		require.NoError(t, err)
		for _, tr := range out.Tags {
			assert.Equal(t, commits[tr.Repo], f.git.RemoteTags(tr.Repo)["v0.99.0"], tr.Repo)
			assert.Equal(t, tr.Repo == "s3gw-ceph", tr.Skipped, tr.Repo)
		}
		assert.Equal(t, commits[testutils.Umbrella], out.UmbrellaCommit)
	})

	t.Run("Missing Candidate", func(t *testing.T) {
		_, err := f.c.FinalRound(ctx, coordinator.FinalRequest{Version: domain.MustParseVersion("0.99.1")})
		assert.ErrorIs(t, err, domain.ErrNotStarted)
	})
}

func TestCoordinator_Observe(t *testing.T) {
	ctx := context.Background()
	f := setup(t, coordinator.WithParallelism(2))
	f.cut(t)
	_, err := f.c.CandidateRound(ctx, coordinator.RoundRequest{Version: rc(1)})
	require.NoError(t, err)
	f.git.SetRemoteTag("s3gw-ui", "v0.99.0-rc4", f.git.RemoteBranch("s3gw-ui", branch))

	obs, err := f.c.Observe(ctx, rc(7))
	require.NoError(t, err)
	assert.Equal(t, "0.99.0", obs.Version.String())
	require.Len(t, obs.Repos, 5)
	assert.Equal(t, testutils.Umbrella, obs.Repos[4].Repo.Name, "registry order is kept")
	assert.Equal(t, []uint64{1, 4}, obs.Candidates())
	assert.True(t, obs.Started())
	assert.False(t, obs.Released())

	ui, ok := obs.Get("s3gw-ui")
	require.True(t, ok)
	assert.True(t, ui.BranchExists)
	n, commit, ok := ui.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(4), n)
	assert.Equal(t, ui.BranchHead, commit)
}

func TestCoordinator_Observe_FailureCancels(t *testing.T) {
	f := setup(t)
	f.git.Inject(testutils.Fault{Repo: "s3gw-charts", Op: "fetch", Times: -1,
		Err: &domain.NetworkError{Repo: "s3gw-charts", Op: "fetch", Err: errors.New("could not resolve host")}})

	_, err := f.c.Observe(context.Background(), rc(1))
	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "s3gw-charts", netErr.Repo)
}

func TestCoordinator_VerifyBases(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.cut(t)
	bases := map[string]string{"s3gw-ui": f.git.RemoteBranch("s3gw-ui", branch)}

	obs, err := f.c.Observe(ctx, rc(1))
	require.NoError(t, err)
	require.NoError(t, f.c.VerifyBases(ctx, obs, bases))

	f.git.ForcePushCommit("s3gw-ui", branch)
	obs, err = f.c.Observe(ctx, rc(1))
	require.NoError(t, err)
	var conflict *domain.BranchConflictError
	require.ErrorAs(t, f.c.VerifyBases(ctx, obs, bases), &conflict)
	assert.Equal(t, "s3gw-ui", conflict.Repo)
}

func TestCoordinator_CheckSubmoduleDrift(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.cut(t)
	_, err := f.c.CandidateRound(ctx, coordinator.RoundRequest{Version: rc(1)})
	require.NoError(t, err)

	obs, err := f.c.Observe(ctx, rc(1))
	require.NoError(t, err)
	require.NoError(t, f.c.CheckSubmoduleDrift(ctx, obs))

	// A backport on the umbrella that keeps the pointers is fine.
	f.git.PushCommit(testutils.Umbrella, branch, "docs: fix typo")
	obs, err = f.c.Observe(ctx, rc(1))
	require.NoError(t, err)
	require.NoError(t, f.c.CheckSubmoduleDrift(ctx, obs))

	// Moving a pointer by hand is drift.
	moved := f.git.PushCommit("s3gw-ceph", branch, "hotfix")
	f.git.PushGitlink(testutils.Umbrella, branch, "ceph", moved)
	obs, err = f.c.Observe(ctx, rc(1))
	require.NoError(t, err)

	var conflict *domain.BranchConflictError
	require.ErrorAs(t, f.c.CheckSubmoduleDrift(ctx, obs), &conflict)
	assert.Equal(t, testutils.Umbrella, conflict.Repo)
	assert.Equal(t, moved, conflict.Actual)
	assert.Contains(t, conflict.Detail, "ceph")
}

func TestCoordinator_Hooks(t *testing.T) {
	var gitOps, steps int
	hooks := domain.LifecycleHooks{
		OnGitOp:   func(context.Context, *domain.GitEvent) { gitOps++ },
		OnStepEnd: func(context.Context, *domain.StepEvent) { steps++ },
	}
	f := setup(t, coordinator.WithHooks(hooks))
	f.cut(t)

	assert.Positive(t, gitOps)
	assert.Equal(t, 1, steps)
	assert.Equal(t, "test-invocation", f.c.InvocationID())
}
