package runtime_test

import (
	"context"
	"testing"

	"github.com/aretw0/ratchet/internal/runtime"
	"github.com/aretw0/ratchet/internal/testutils"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Status(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	t.Run("Empty Workspace", func(t *testing.T) {
		r, err := f.ws.e.Status(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, r.Local)
		assert.Nil(t, r.State)
	})

	t.Run("Unstarted Version", func(t *testing.T) {
		r, err := f.ws.e.Status(ctx, version("0.99.0"))
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseUninitialized, r.State.Phase)
		assert.Equal(t, uint64(1), r.Next)
		assert.Empty(t, r.Problems)
	})

	f.start(t)

	t.Run("Remote Ahead", func(t *testing.T) {
		for _, r := range testutils.SuiteRepos() {
			f.git.SetRemoteTag(r.Name, tag(2), f.git.RemoteBranch(r.Name, branch))
		}
		r, err := f.ws.e.Status(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, tag(1), r.Local.Repos["s3gw-ui"].LastTag)
		assert.Equal(t, tag(2), r.State.Repos["s3gw-ui"].LastTag)
		assert.Equal(t, uint64(3), r.Next)
		assert.Empty(t, r.Problems)
		assert.Equal(t, tag(1), f.ws.current(t).Repos["s3gw-ui"].LastTag, "status does not persist")
	})

	t.Run("Reports Problems", func(t *testing.T) {
		f.git.ForcePushCommit("s3gw-ceph", branch)
		r, err := f.ws.e.Status(ctx, nil)
		require.NoError(t, err)
		require.Len(t, r.Problems, 1)
		var conflict *domain.BranchConflictError
		assert.ErrorAs(t, r.Problems[0], &conflict)
	})
}

func TestEngine_Plan(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	p, err := f.ws.e.Plan(ctx, runtime.IntentStart, version("0.99.0"))
	require.NoError(t, err)
	assert.Equal(t, tag(1), p.Version.Tag())
	assert.Equal(t, domain.PhaseUninitialized, p.From)
	assert.Equal(t, domain.PhaseCandidateInProgress, p.To)
	require.Len(t, p.Ops, 5+4+2)
	assert.Equal(t, ports.ActionBranchCreate, p.Ops[0].Action)
	assert.Equal(t, branch, p.Ops[0].Ref)
	assert.Empty(t, f.git.RemoteMutations(), "planning never pushes")

	_, err = f.ws.e.Plan(ctx, runtime.IntentFinish, nil)
	assert.ErrorIs(t, err, domain.ErrAmbiguousTarget)

	out := f.start(t)

	p, err = f.ws.e.Plan(ctx, runtime.IntentContinue, nil)
	require.NoError(t, err)
	assert.Equal(t, tag(2), p.Version.Tag())
	require.Len(t, p.Ops, 4+2)
	assert.Equal(t, out.State.Repos["s3gw-ui"].LastCommit, p.Ops[0].Commit)

	p, err = f.ws.e.Plan(ctx, runtime.IntentFinish, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFinished, p.To)
	require.Len(t, p.Ops, 5)
	for _, op := range p.Ops {
		assert.Equal(t, "v0.99.0", op.Ref)
		assert.Equal(t, out.State.Repos[op.Repo].LastCommit, op.Commit)
		assert.Empty(t, op.Detail)
	}

	_, err = f.ws.e.Plan(ctx, runtime.IntentStart, version("0.99.0"))
	var started *domain.AlreadyStartedError
	assert.ErrorAs(t, err, &started)

	assert.Equal(t, out.State, f.ws.current(t))
}

func TestEngine_List(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.start(t)
	_, err := f.ws.e.Continue(ctx, runtime.ContinueRequest{})
	require.NoError(t, err)

	head := f.git.RemoteBranch(testutils.Umbrella, "main")
	f.git.SetRemoteTag(testutils.Umbrella, "v0.98.0-rc1", head)
	f.git.SetRemoteTag(testutils.Umbrella, "v0.98.0", head)
	f.git.SetRemoteTag(testutils.Umbrella, "nightly", head)

	releases, err := f.ws.e.List(ctx)
	require.NoError(t, err)
	require.Len(t, releases, 2)

	assert.Equal(t, "0.99.0", releases[0].Version.String())
	assert.Equal(t, []uint64{1, 2}, releases[0].Candidates)
	assert.False(t, releases[0].Final)

	assert.Equal(t, "0.98.0", releases[1].Version.String())
	assert.True(t, releases[1].Final)
}

func TestEngine_Archive(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.ws.e.Archive(ctx)
	assert.ErrorIs(t, err, domain.ErrStateNotFound)

	out := f.start(t)
	key, err := f.ws.e.Archive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "release-v0.99.0-20261019T120000Z", key)

	archived, err := f.ws.store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, out.State, archived)

	// Local tracking is reset; the remotes still carry the release.
	_, err = f.ws.e.Start(ctx, runtime.StartRequest{Version: v0990})
	var started *domain.AlreadyStartedError
	require.ErrorAs(t, err, &started)
	assert.Equal(t, "remote", started.Where)
}
