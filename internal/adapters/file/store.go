package file

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/ratchet/pkg/domain"
)

// Store implements ports.StateStore using the local filesystem.
// Each key is a JSON file in a configured directory.
type Store struct {
	BasePath string
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".ratchet".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = ".ratchet"
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.BasePath, key+".json")
}

func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("state key cannot be empty")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("invalid state key %q", key)
	}
	return nil
}

// Save persists the release state to a JSON file atomically.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
func (s *Store) Save(ctx context.Context, key string, state *domain.ReleaseState) error {
	if err := validKey(key); err != nil {
		return err
	}

	if err := os.MkdirAll(s.BasePath, 0o755); err != nil {
		return fmt.Errorf("failed to ensure state directory: %w", err)
	}

	destPath := s.path(key)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	data = append(data, '\n')

	// Same directory as the destination: rename is only atomic within one filesystem.
	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+key+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath) // no-op once renamed
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}

	// Cannot rename an open file on Windows.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}

	return syncDir(s.BasePath)
}

// Load retrieves the release state from a JSON file.
func (s *Store) Load(ctx context.Context, key string) (*domain.ReleaseState, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}

	filePath := s.path(key)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var state domain.ReleaseState
	if err := dec.Decode(&state); err != nil {
		return nil, &domain.StateCorruptionError{Location: filePath, Err: err}
	}
	if err := state.Validate(); err != nil {
		return nil, &domain.StateCorruptionError{Location: filePath, Err: err}
	}
	if state.Repos == nil {
		state.Repos = make(map[string]domain.RepoProgress)
	}

	return &state, nil
}

// Delete removes the state file.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}

	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}

	return nil
}

// List returns all stored keys, skipping temp files left by a crash.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list states: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}

	return keys, nil
}

// Archive renames the state file; its content is left untouched.
func (s *Store) Archive(ctx context.Context, key, archiveKey string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := validKey(archiveKey); err != nil {
		return err
	}

	if _, err := os.Stat(s.path(archiveKey)); err == nil {
		return fmt.Errorf("archive %s already exists", archiveKey)
	}

	if err := os.Rename(s.path(key), s.path(archiveKey)); err != nil {
		if os.IsNotExist(err) {
			return domain.ErrStateNotFound
		}
		return fmt.Errorf("failed to archive state: %w", err)
	}
	return syncDir(s.BasePath)
}

// syncDir makes a completed rename durable. Not every platform supports
// fsync on directories, so failures to open are ignored.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}
