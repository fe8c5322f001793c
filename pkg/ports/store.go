package ports

import (
	"context"

	"github.com/aretw0/ratchet/pkg/domain"
)

// CurrentKey is the key under which the workspace's active release lives.
const CurrentKey = "release"

// StateStore defines the interface for persisting release state.
// Implementations must replace a record atomically: a reader never observes
// a partially written state.
type StateStore interface {
	// Save persists the state under key, replacing any previous record.
	Save(ctx context.Context, key string, state *domain.ReleaseState) error

	// Load retrieves the state stored under key.
	// Returns domain.ErrStateNotFound if nothing is stored and a
	// *domain.StateCorruptionError if the record cannot be decoded.
	Load(ctx context.Context, key string) (*domain.ReleaseState, error)

	// Delete removes the state stored under key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// List returns every stored key, archived ones included.
	List(ctx context.Context) ([]string, error)

	// Archive renames key to archiveKey without deleting its content.
	Archive(ctx context.Context, key, archiveKey string) error
}
