package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/ratchet/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.StateStore using Redis. It lets a team share release
// state between workspaces; the remote git refs remain the source of truth.
type Store struct {
	client *backend.Client
	prefix string
}

type Option func(*Store)

// WithPrefix sets the key prefix for release states.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "ratchet:state:",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) key(key string) string {
	return s.prefix + key
}

// indexName is reserved: no state may be stored under it.
const indexName = "_index"

func (s *Store) indexKey() string {
	return s.prefix + indexName
}

func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("state key cannot be empty")
	}
	if key == indexName {
		return fmt.Errorf("state key %q is reserved", key)
	}
	return nil
}

// Save persists the state to Redis. SET replaces the value atomically.
func (s *Store) Save(ctx context.Context, key string, state *domain.ReleaseState) error {
	if err := validKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(key), data, 0)
	pipe.SAdd(ctx, s.indexKey(), key)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}

	return nil
}

// Load retrieves the state from Redis.
func (s *Store) Load(ctx context.Context, key string) (*domain.ReleaseState, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	location := "redis:" + s.key(key)

	var state domain.ReleaseState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, &domain.StateCorruptionError{Location: location, Err: err}
	}
	if err := state.Validate(); err != nil {
		return nil, &domain.StateCorruptionError{Location: location, Err: err}
	}
	if state.Repos == nil {
		state.Repos = make(map[string]domain.RepoProgress)
	}

	return &state, nil
}

// Delete removes the state.
func (s *Store) Delete(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(key))
	pipe.SRem(ctx, s.indexKey(), key)

	_, err := pipe.Exec(ctx)
	return err
}

// List returns the indexed keys, dropping index entries whose value is gone.
func (s *Store) List(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		n, err := s.client.Exists(ctx, s.key(m)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check state %s: %w", m, err)
		}
		if n == 0 {
			_ = s.client.SRem(ctx, s.indexKey(), m).Err()
			continue
		}
		keys = append(keys, m)
	}
	return keys, nil
}

// Archive renames the key with RENAMENX, so an existing archive is never clobbered.
func (s *Store) Archive(ctx context.Context, key, archiveKey string) error {
	if err := validKey(archiveKey); err != nil {
		return err
	}
	ok, err := s.client.RenameNX(ctx, s.key(key), s.key(archiveKey)).Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return domain.ErrStateNotFound
		}
		return fmt.Errorf("failed to archive state: %w", err)
	}
	if !ok {
		return fmt.Errorf("archive %s already exists", archiveKey)
	}

	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, s.indexKey(), key)
	pipe.SAdd(ctx, s.indexKey(), archiveKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update state index: %w", err)
	}
	return nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
