package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/aretw0/ratchet/internal/config"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	cases := map[string]struct {
		err  error
		code int
	}{
		"Config":           {err: &config.ConfigError{Field: "actor"}, code: 2},
		"Parse":            {err: fmt.Errorf("start: %w", &domain.ParseError{Input: "v1"}), code: 2},
		"Transition":       {err: &domain.InvalidTransitionError{From: domain.PhaseFinished, Intent: "continue"}, code: 2},
		"Already Released": {err: domain.ErrAlreadyReleased, code: 3},
		"Already Started":  {err: &domain.AlreadyStartedError{}, code: 3},
		"Not Started":      {err: fmt.Errorf("0.99.0: %w", domain.ErrNotStarted), code: 3},
		"Remote Failure":   {err: errors.New("connection reset"), code: 1},
		"Branch Conflict":  {err: &domain.BranchConflictError{Repo: "s3gw-ui"}, code: 1},
		"Rollback Failure": {err: fmt.Errorf("round: %w", &domain.RollbackFailure{Cause: errors.New("boom")}), code: 4},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.code, exitCode(tc.err))
		})
	}
}

func TestVersionFlag(t *testing.T) {
	cmd := continueCmd()

	v, err := versionFlag(cmd)
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, cmd.Flags().Set("version", "0.99.0"))
	v, err = versionFlag(cmd)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "v0.99.0", v.Tag())

	require.NoError(t, cmd.Flags().Set("version", "latest"))
	_, err = versionFlag(cmd)
	assert.Error(t, err)
}

func TestVersionCmd(t *testing.T) {
	var buf bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&buf)
	cmd.Run(cmd, nil)
	assert.Contains(t, buf.String(), "ratchet dev")
}

func TestReport(t *testing.T) {
	t.Run("Interrupted", func(t *testing.T) {
		var buf bytes.Buffer
		code := report(&buf, fmt.Errorf("s3gw-ui: push: %w", context.Canceled), os.Interrupt)
		assert.Equal(t, 130, code)
		assert.Contains(t, buf.String(), "context canceled")
		assert.Contains(t, buf.String(), "Partial work was rolled back")
	})

	t.Run("Interrupted Rollback Failure", func(t *testing.T) {
		var buf bytes.Buffer
		err := &domain.RollbackFailure{
			Cause: fmt.Errorf("s3gw-ui: push: %w", context.Canceled),
			Items: []domain.RollbackItem{{Repo: "s3gw-ceph", Ref: "v0.99.0-rc2", Err: context.Canceled}},
		}
		code := report(&buf, err, os.Interrupt)
		assert.Equal(t, 4, code)
		assert.Contains(t, buf.String(), "s3gw-ceph v0.99.0-rc2")
		assert.NotContains(t, buf.String(), "rolled back.")
	})

	t.Run("Plain Failure", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Equal(t, 3, report(&buf, domain.ErrNotStarted, nil))
		assert.Contains(t, buf.String(), "error: release has not been started")
	})
}
