package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aretw0/ratchet/internal/presentation/tui"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadNotes(t *testing.T) {
	t.Run("Empty Path", func(t *testing.T) {
		notes, err := ReadNotes("", nil)
		require.NoError(t, err)
		assert.Empty(t, notes)
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notes.md")
		require.NoError(t, os.WriteFile(path, []byte("\n# v0.99.0\n\n- fixes\n\n\n"), 0o644))
		notes, err := ReadNotes(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "# v0.99.0\n\n- fixes\n", notes)
	})

	t.Run("Stdin", func(t *testing.T) {
		notes, err := ReadNotes("-", strings.NewReader("from a pipe"))
		require.NoError(t, err)
		assert.Equal(t, "from a pipe\n", notes)
	})

	t.Run("Missing File", func(t *testing.T) {
		_, err := ReadNotes(filepath.Join(t.TempDir(), "absent.md"), nil)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestDebugHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	hooks := DebugHooks(logger)
	ctx := context.Background()

	hooks.OnStepStart(ctx, &domain.StepEvent{Step: "candidate_round", Version: "0.99.0-rc1"})
	hooks.OnStepEnd(ctx, &domain.StepEvent{Step: "candidate_round", Err: errors.New("boom")})
	hooks.OnGitOp(ctx, &domain.GitEvent{Repo: "s3gw-ui", Op: "push", Attempt: 2})
	hooks.OnRollback(ctx, &domain.RollbackEvent{Repo: "s3gw-ui", Ref: "v0.99.0-rc1"})

	out := buf.String()
	assert.Contains(t, out, "Step Start")
	assert.Contains(t, out, "Step Failed")
	assert.Contains(t, out, "op=push")
	assert.Contains(t, out, "Rollback")
}

func TestIsInterrupted(t *testing.T) {
	assert.True(t, IsInterrupted(fmt.Errorf("push: %w", context.Canceled)))
	assert.False(t, IsInterrupted(errors.New("rejected")))
	assert.False(t, IsInterrupted(nil))

	rf := &domain.RollbackFailure{
		Cause: fmt.Errorf("s3gw-ui: push: %w", context.Canceled),
		Items: []domain.RollbackItem{{Repo: "s3gw-ui", Ref: "v0.99.0-rc1", Err: context.Canceled}},
	}
	assert.False(t, IsInterrupted(rf), "a failed rollback is reported, not swallowed")
	assert.False(t, IsInterrupted(fmt.Errorf("candidate round: %w", rf)))
}

func TestEmit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Emit(&buf, true, map[string]int{"next": 3}, func(*tui.Printer) error {
		t.Fatal("human output in JSON mode")
		return nil
	}))
	assert.JSONEq(t, `{"next": 3}`, buf.String())

	buf.Reset()
	called := false
	require.NoError(t, Emit(&buf, false, nil, func(p *tui.Printer) error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

func TestOptionsFrom(t *testing.T) {
	v := viper.New()
	v.Set("workspace", "/srv/release")
	v.Set("json", true)

	opts := OptionsFrom(v)
	assert.Equal(t, Options{Workspace: "/srv/release", JSON: true}, opts)
}

func TestOpen_InvalidOverride(t *testing.T) {
	v := viper.New()
	v.Set("git.parallelism", 0)

	_, err := Open(Options{Workspace: t.TempDir()}, v)
	assert.ErrorContains(t, err, "git.parallelism")
}
