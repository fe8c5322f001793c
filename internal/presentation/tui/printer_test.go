package tui

import (
	"bytes"
	"testing"
	"time"

	"github.com/aretw0/ratchet/internal/coordinator"
	"github.com/aretw0/ratchet/internal/runtime"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinter_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	require.False(t, p.Styled(), "a buffer is not a terminal")

	v := domain.MustParseVersion("0.99.0")
	p.Outcome(runtime.IntentStart, &runtime.Outcome{
		State: &domain.ReleaseState{Version: v, Phase: domain.PhaseCandidateInProgress},
		Tags: []coordinator.TagResult{
			{Repo: "s3gw-ui", Tag: "v0.99.0-rc1", Commit: "0123456789abcdef0123"},
		},
		Archived: "release-v0.98.0-20261019T120000Z",
	})

	out := buf.String()
	assert.Contains(t, out, "start v0.99.0: candidate_in_progress")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abc")
	assert.Contains(t, out, "release-v0.98.0-20261019T120000Z")
	assert.NotContains(t, out, "\x1b[", "no escape codes when not on a terminal")
}

func TestPrinter_Releases(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Releases(nil)
	assert.Contains(t, buf.String(), "No releases found.")

	buf.Reset()
	p.Releases([]runtime.ReleaseSummary{
		{Version: domain.MustParseVersion("0.99.0"), Candidates: []uint64{1, 2}},
		{Version: domain.MustParseVersion("0.98.0"), Candidates: []uint64{1}, Final: true},
	})
	assert.Contains(t, buf.String(), "rc1 rc2")
	assert.Contains(t, buf.String(), "yes")
}

func TestPrinter_Journal(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Journal([]ports.JournalEntry{
		{InvocationID: "abc", Time: time.Now(), Repo: "s3gw", Action: ports.ActionTagRollback, Ref: "v0.99.0-rc1"},
	})
	assert.Contains(t, buf.String(), ports.ActionTagRollback)
}

func TestPrinter_Notes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf).Notes("# Highlights\n\n- faster listing\n"))
	assert.Contains(t, buf.String(), "Highlights")
	assert.Contains(t, buf.String(), "faster listing")
}
