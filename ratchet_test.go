package ratchet_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/ratchet"
	"github.com/aretw0/ratchet/internal/config"
	"github.com/aretw0/ratchet/internal/coordinator"
	"github.com/aretw0/ratchet/internal/testutils"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dir string) *config.Config {
	cfg := config.Default(dir)
	cfg.Repositories = testutils.SuiteRepos()
	cfg.Actor = domain.Actor{Name: "Release Bot", Email: "bot@example.com"}
	cfg.Git.Retry = coordinator.NoRetry()
	cfg.Metrics.Textfile = filepath.Join(dir, "ratchet.prom")
	return cfg
}

func TestFacade_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	git := testutils.NewFakeGit()
	git.Seed(testutils.SuiteRepos())

	var steps []string
	r, err := ratchet.New(dir,
		ratchet.WithConfig(testConfig(dir)),
		ratchet.WithGit(git),
		ratchet.WithClock(func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }),
		ratchet.WithLifecycleHooks(domain.LifecycleHooks{
			OnStepEnd: func(_ context.Context, e *domain.StepEvent) { steps = append(steps, e.Step) },
		}),
	)
	require.NoError(t, err)
	ctx := context.Background()

	out, err := r.Start(ctx, ratchet.StartRequest{Version: domain.MustParseVersion("0.99.0"), Notes: "first"})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCandidateInProgress, out.State.Phase)
	assert.NotEmpty(t, steps)

	git.PushCommit("s3gw-ui", "release/0.99", "fix")
	out, err = r.Continue(ctx, ratchet.ContinueRequest{})
	require.NoError(t, err)
	assert.Equal(t, "v0.99.0-rc2", out.State.Repos["s3gw-ui"].LastTag)

	report, err := r.Status(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Problems)
	assert.Equal(t, uint64(3), report.Next)

	out, err = r.Finish(ctx, ratchet.FinishRequest{Archive: true})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFinished, out.State.Phase)
	assert.Equal(t, "release-v0.99.0-20261019T120000Z", out.Archived)

	releases, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, releases, 1)
	assert.True(t, releases[0].Final)

	entries, err := r.Journal(ctx, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "the sqlite journal records every mutation")

	require.NoError(t, r.Close())
	assert.FileExists(t, filepath.Join(dir, ".ratchet", "journal.db"))
	metrics, err := os.ReadFile(filepath.Join(dir, "ratchet.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "ratchet_steps_total")
}

func TestFacade_RequiresActor(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Actor = domain.Actor{}
	cfg.Journal.Enabled = false

	r, err := ratchet.New(dir, ratchet.WithConfig(cfg), ratchet.WithGit(testutils.NewFakeGit()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	_, err = r.Start(context.Background(), ratchet.StartRequest{Version: domain.MustParseVersion("0.99.0")})
	var cerr *config.ConfigError
	assert.ErrorAs(t, err, &cerr)

	entries, err := r.Journal(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoFileExists(t, filepath.Join(dir, ".ratchet", "journal.db"))
}

func TestFacade_LoadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte("state:\n  backend: etcd\n"), 0o644))

	_, err := ratchet.New(dir, ratchet.WithJournal(ports.NopJournal{}))
	var cerr *config.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "state.backend", cerr.Field)
}
