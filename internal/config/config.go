// Package config loads the workspace configuration file ratchet.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/ratchet/internal/coordinator"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/registry"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the workspace.
const FileName = "ratchet.yaml"

// EnvPrefix prefixes environment overrides, e.g. RATCHET_GIT_PARALLELISM.
const EnvPrefix = "RATCHET"

// EnvKeyReplacer maps config keys to environment variable names.
var EnvKeyReplacer = strings.NewReplacer(".", "_", "-", "_")

// State backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config models ratchet.yaml.
type Config struct {
	Actor        domain.Actor        `yaml:"actor"`
	Repositories []domain.Repository `yaml:"repositories"`
	Git          Git                 `yaml:"git"`
	State        State               `yaml:"state"`
	Journal      Journal             `yaml:"journal"`
	Metrics      Metrics             `yaml:"metrics"`
	Notes        Notes               `yaml:"notes"`
}

type Git struct {
	Binary         string                  `yaml:"binary"`
	Remote         string                  `yaml:"remote"`
	NetworkTimeout time.Duration           `yaml:"network_timeout"`
	Parallelism    int                     `yaml:"parallelism"`
	Retry          coordinator.RetryPolicy `yaml:"retry"`
}

type State struct {
	Backend string `yaml:"backend"`
	// Dir is relative to the workspace unless absolute.
	Dir   string `yaml:"dir"`
	Redis Redis  `yaml:"redis"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Journal struct {
	Enabled bool `yaml:"enabled"`
	// Path defaults to journal.db inside the state directory.
	Path string `yaml:"path"`
}

type Metrics struct {
	// Textfile, when set, receives a Prometheus dump after every command.
	Textfile string `yaml:"textfile"`
}

type Notes struct {
	// Dir is where release notes are committed inside the umbrella.
	Dir string `yaml:"dir"`
}

// ConfigError reports an invalid setting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// Default returns the configuration used when ratchet.yaml is absent.
func Default(workspace string) *Config {
	return &Config{
		Repositories: registry.Default(workspace).All(),
		Git: Git{
			Binary:         "git",
			Remote:         "origin",
			NetworkTimeout: 2 * time.Minute,
			Parallelism:    4,
			Retry:          coordinator.DefaultRetryPolicy(),
		},
		State: State{
			Backend: BackendFile,
			Dir:     ".ratchet",
			Redis:   Redis{Addr: "localhost:6379", Prefix: "ratchet:state:"},
		},
		Journal: Journal{Enabled: true},
		Notes:   Notes{Dir: coordinator.DefaultNotesDir},
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads ratchet.yaml from workspace over the defaults. A missing file
// yields the defaults.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default(workspace)
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, err
	}
	return FromYAML(workspace, data)
}

// FromYAML parses data over the defaults and validates the result.
// Relative repository paths are resolved against workspace.
func FromYAML(workspace string, data []byte) (*Config, error) {
	cfg := Default(workspace)
	cfg.Repositories = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if len(cfg.Repositories) == 0 {
		cfg.Repositories = registry.Default(workspace).All()
	}
	for i := range cfg.Repositories {
		r := &cfg.Repositories[i]
		if r.LocalPath == "" {
			r.LocalPath = r.Name
		}
		if !filepath.IsAbs(r.LocalPath) {
			r.LocalPath = filepath.Join(workspace, r.LocalPath)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Overlay applies flag and environment overrides bound in v.
func (c *Config) Overlay(v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	str("actor.name", &c.Actor.Name)
	str("actor.email", &c.Actor.Email)
	str("actor.signing_key", &c.Actor.SigningKeyID)
	str("git.binary", &c.Git.Binary)
	str("git.remote", &c.Git.Remote)
	str("state.backend", &c.State.Backend)
	str("state.dir", &c.State.Dir)
	str("state.redis.addr", &c.State.Redis.Addr)
	str("state.redis.password", &c.State.Redis.Password)
	str("journal.path", &c.Journal.Path)
	str("metrics.textfile", &c.Metrics.Textfile)

	if v.IsSet("git.network_timeout") {
		c.Git.NetworkTimeout = v.GetDuration("git.network_timeout")
	}
	if v.IsSet("git.parallelism") {
		c.Git.Parallelism = v.GetInt("git.parallelism")
	}
	if v.IsSet("journal.enabled") {
		c.Journal.Enabled = v.GetBool("journal.enabled")
	}
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	if c.Git.Binary == "" {
		return &ConfigError{Field: "git.binary", Reason: "is required"}
	}
	if c.Git.NetworkTimeout <= 0 {
		return &ConfigError{Field: "git.network_timeout", Reason: "must be positive"}
	}
	if c.Git.Parallelism < 1 {
		return &ConfigError{Field: "git.parallelism", Reason: "must be at least 1"}
	}
	if c.Git.Retry.MaxAttempts < 1 {
		return &ConfigError{Field: "git.retry.max_attempts", Reason: "must be at least 1"}
	}
	if c.Git.Retry.InitialBackoff < 0 || c.Git.Retry.MaxBackoff < 0 {
		return &ConfigError{Field: "git.retry", Reason: "backoff must not be negative"}
	}
	switch c.State.Backend {
	case BackendFile:
		if c.State.Dir == "" {
			return &ConfigError{Field: "state.dir", Reason: "is required for the file backend"}
		}
	case BackendRedis:
		if c.State.Redis.Addr == "" {
			return &ConfigError{Field: "state.redis.addr", Reason: "is required for the redis backend"}
		}
	default:
		return &ConfigError{Field: "state.backend", Reason: fmt.Sprintf("unknown backend %q (want file or redis)", c.State.Backend)}
	}
	if c.Notes.Dir == "" || filepath.IsAbs(c.Notes.Dir) {
		return &ConfigError{Field: "notes.dir", Reason: "must be a path relative to the umbrella"}
	}
	if _, err := registry.New(c.Repositories...); err != nil {
		return &ConfigError{Field: "repositories", Reason: err.Error()}
	}
	return nil
}

// RequireActor checks the identity needed to create tags.
func (c *Config) RequireActor() error {
	if c.Actor.Name == "" || c.Actor.Email == "" {
		return &ConfigError{Field: "actor", Reason: "name and email are required to tag a release"}
	}
	return nil
}

// StateDir resolves the state directory against workspace.
func (c *Config) StateDir(workspace string) string {
	if filepath.IsAbs(c.State.Dir) {
		return c.State.Dir
	}
	return filepath.Join(workspace, c.State.Dir)
}

// JournalPath resolves the journal database path against workspace.
func (c *Config) JournalPath(workspace string) string {
	switch {
	case c.Journal.Path == "":
		return filepath.Join(c.StateDir(workspace), "journal.db")
	case filepath.IsAbs(c.Journal.Path):
		return c.Journal.Path
	}
	return filepath.Join(workspace, c.Journal.Path)
}

// Registry builds the descriptor set.
func (c *Config) Registry() (*registry.Registry, error) {
	return registry.New(c.Repositories...)
}
