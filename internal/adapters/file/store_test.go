package file_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/ratchet/internal/adapters/file"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Ensure Store implements StateStore
var _ ports.StateStore = (*file.Store)(nil)

func TestFileStore_Contract(t *testing.T) {
	ports.RunStateStoreContract(t, file.New(t.TempDir()))
}

func sampleState() *domain.ReleaseState {
	s := domain.NewReleaseState(domain.MustParseVersion("0.99.0"), domain.Actor{Name: "Op"}, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	s.Phase = domain.PhaseCandidateInProgress
	s.Repos["s3gw"] = domain.RepoProgress{BranchCut: true, LastTag: "v0.99.0-rc1"}
	return s
}

func TestFileStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(ctx, ports.CurrentKey, sampleState()))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "release.json", entries[0].Name())
}

func TestFileStore_ListIgnoresGarbage(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, ports.CurrentKey, sampleState()))
	// A crash between CreateTemp and Rename leaves a tmp file behind.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tmp-release-123.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"release"}, keys)

	// The half-written temp file never shadows the real state.
	loaded, err := store.Load(ctx, ports.CurrentKey)
	require.NoError(t, err)
	assert.Equal(t, "v0.99.0-rc1", loaded.Repos["s3gw"].LastTag)
}

func TestFileStore_CorruptState(t *testing.T) {
	tests := map[string]string{
		"truncated":     `{"version": {"major": 0,`,
		"unknown field": `{"version":{"major":0,"minor":99,"patch":0},"phase":"finished","repos":{},"surprise":1}`,
		"bad phase":     `{"version":{"major":0,"minor":99,"patch":0},"phase":"shipping","repos":{}}`,
		"foreign tag":   `{"version":{"major":0,"minor":99,"patch":0},"phase":"branch_cut","repos":{"a":{"branch_cut":true,"last_tag":"v1.0.0-rc1"}}}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "release.json"), []byte(content), 0o644))

			_, err := file.New(dir).Load(context.Background(), ports.CurrentKey)
			var corrupt *domain.StateCorruptionError
			require.True(t, errors.As(err, &corrupt), "expected StateCorruptionError, got %v", err)
			assert.Contains(t, corrupt.Location, "release.json")
		})
	}
}

func TestFileStore_ArchiveKeepsContent(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, ports.CurrentKey, sampleState()))
	before, err := os.ReadFile(filepath.Join(dir, "release.json"))
	require.NoError(t, err)

	require.NoError(t, store.Archive(ctx, ports.CurrentKey, "release-v0.99.0-20240501T000000Z"))

	after, err := os.ReadFile(filepath.Join(dir, "release-v0.99.0-20240501T000000Z.json"))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = os.Stat(filepath.Join(dir, "release.json"))
	assert.True(t, os.IsNotExist(err))

	// Archiving onto an existing archive is refused.
	require.NoError(t, store.Save(ctx, ports.CurrentKey, sampleState()))
	assert.Error(t, store.Archive(ctx, ports.CurrentKey, "release-v0.99.0-20240501T000000Z"))
}

func TestFileStore_RejectsPathKeys(t *testing.T) {
	store := file.New(t.TempDir())
	ctx := context.Background()

	assert.Error(t, store.Save(ctx, "", sampleState()))
	assert.Error(t, store.Save(ctx, "../escape", sampleState()))
	_, err := store.Load(ctx, "a/b")
	assert.Error(t, err)
}

func TestFileStore_ListMissingDir(t *testing.T) {
	store := file.New(filepath.Join(t.TempDir(), "missing"))
	keys, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys, got %v", keys)
	}
}
