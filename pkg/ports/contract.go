package ports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStateStoreContract runs a suite of tests to verify that a StateStore implementation
// adheres to the defined interface contract.
func RunStateStoreContract(t *testing.T, store StateStore) {
	ctx := context.Background()
	key := "contract-" + time.Now().Format("20060102150405")
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	newState := func(version string) *domain.ReleaseState {
		s := domain.NewReleaseState(domain.MustParseVersion(version), domain.Actor{Name: "Contract", Email: "c@example.com"}, now)
		s.Phase = domain.PhaseCandidateInProgress
		s.Repos["leaf"] = domain.RepoProgress{BranchCut: true, BranchBase: "base", LastTag: "v" + version + "-rc1", LastCommit: "abc"}
		return s
	}

	t.Run("Save and Load", func(t *testing.T) {
		state := newState("0.99.0")
		require.NoError(t, store.Save(ctx, key, state), "Save should not return error")

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err, "Load should not return error")
		assert.True(t, state.Version.Equal(loaded.Version))
		assert.Equal(t, state.Phase, loaded.Phase)
		assert.Equal(t, state.Repos, loaded.Repos)
		assert.Equal(t, state.CreatedBy, loaded.CreatedBy)
		assert.True(t, state.CreatedAt.Equal(loaded.CreatedAt))
	})

	t.Run("Save replaces", func(t *testing.T) {
		state := newState("0.99.0")
		state.Repos["leaf"] = domain.RepoProgress{BranchCut: true, LastTag: "v0.99.0-rc2"}
		require.NoError(t, store.Save(ctx, key, state))

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "v0.99.0-rc2", loaded.Repos["leaf"].LastTag)
	})

	t.Run("Loaded state is isolated", func(t *testing.T) {
		loaded, err := store.Load(ctx, key)
		require.NoError(t, err)
		loaded.Repos["leaf"] = domain.RepoProgress{LastTag: "mutated"}

		again, err := store.Load(ctx, key)
		require.NoError(t, err)
		assert.NotEqual(t, "mutated", again.Repos["leaf"].LastTag)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+key)
		assert.ErrorIs(t, err, domain.ErrStateNotFound)
	})

	t.Run("Archive", func(t *testing.T) {
		archived := key + "-archived"
		require.NoError(t, store.Archive(ctx, key, archived))

		_, err := store.Load(ctx, key)
		assert.ErrorIs(t, err, domain.ErrStateNotFound)

		loaded, err := store.Load(ctx, archived)
		require.NoError(t, err)
		assert.Equal(t, "0.99.0", loaded.Version.String())

		keys, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, keys, archived)
		assert.NotContains(t, keys, key)

		err = store.Archive(ctx, "non-existent-"+key, archived+"-2")
		assert.True(t, errors.Is(err, domain.ErrStateNotFound))

		require.NoError(t, store.Delete(ctx, archived))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, key, newState("1.0.0")))
		require.NoError(t, store.Delete(ctx, key), "Delete should not return error")

		_, err := store.Load(ctx, key)
		assert.ErrorIs(t, err, domain.ErrStateNotFound, "Load after Delete should return ErrStateNotFound")

		assert.NoError(t, store.Delete(ctx, key), "deleting a missing key is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := key + "-1"
		id2 := key + "-2"
		require.NoError(t, store.Save(ctx, id1, newState("1.0.0")))
		require.NoError(t, store.Save(ctx, id2, newState("1.1.0")))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		keys, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, keys, id1)
		assert.Contains(t, keys, id2)
	})
}
