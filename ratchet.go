package ratchet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/aretw0/ratchet/internal/adapters/file"
	gitexec "github.com/aretw0/ratchet/internal/adapters/git"
	"github.com/aretw0/ratchet/internal/adapters/redis"
	"github.com/aretw0/ratchet/internal/adapters/sqlite"
	"github.com/aretw0/ratchet/internal/config"
	"github.com/aretw0/ratchet/internal/coordinator"
	"github.com/aretw0/ratchet/internal/logging"
	"github.com/aretw0/ratchet/internal/runtime"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/observability"
	"github.com/aretw0/ratchet/pkg/ports"
	"github.com/aretw0/ratchet/pkg/registry"
)

// Version is the tool version, set at build time with -ldflags.
var Version = "dev"

// Re-exported request and result types.
type (
	StartRequest    = runtime.StartRequest
	ContinueRequest = runtime.ContinueRequest
	FinishRequest   = runtime.FinishRequest
	Outcome         = runtime.Outcome
	Report          = runtime.Report
	Plan            = runtime.Plan
	ReleaseSummary  = runtime.ReleaseSummary
	Intent          = runtime.Intent
)

// Ratchet is the high-level entry point. It wires configuration, the git
// driver, the state store and the journal around the release engine.
type Ratchet struct {
	workspace string
	cfg       *config.Config

	engine   *runtime.Engine
	coord    *coordinator.Coordinator
	registry *registry.Registry
	git      ports.Git
	store    ports.StateStore
	journal  ports.Journal
	metrics  *observability.Metrics
	hooks    domain.LifecycleHooks
	logger   *slog.Logger
	now      func() time.Time

	closers []io.Closer
}

// Option configures Ratchet.
type Option func(*Ratchet)

// WithConfig uses cfg instead of loading ratchet.yaml from the workspace.
func WithConfig(cfg *config.Config) Option {
	return func(r *Ratchet) {
		r.cfg = cfg
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Ratchet) {
		r.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks in addition to metrics.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(r *Ratchet) {
		r.hooks = r.hooks.Merge(hooks)
	}
}

// WithGit injects a git driver, bypassing the git binary.
func WithGit(g ports.Git) Option {
	return func(r *Ratchet) {
		r.git = g
	}
}

// WithStore injects a state store, bypassing the configured backend.
func WithStore(s ports.StateStore) Option {
	return func(r *Ratchet) {
		r.store = s
	}
}

// WithJournal injects an audit journal, bypassing SQLite.
func WithJournal(j ports.Journal) Option {
	return func(r *Ratchet) {
		r.journal = j
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Ratchet) {
		r.now = now
	}
}

// New opens the workspace at path. Close must be called to release the
// journal and store connections.
func New(workspace string, opts ...Option) (*Ratchet, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace: %w", err)
	}
	r := &Ratchet{
		workspace: abs,
		metrics:   observability.NewMetrics(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.NewNop()
	}

	if r.cfg == nil {
		if r.cfg, err = config.Load(abs); err != nil {
			return nil, err
		}
	}
	if r.registry, err = r.cfg.Registry(); err != nil {
		return nil, err
	}

	if r.git == nil {
		r.git = gitexec.New(
			gitexec.WithBinary(r.cfg.Git.Binary),
			gitexec.WithRemote(r.cfg.Git.Remote),
			gitexec.WithNetworkTimeout(r.cfg.Git.NetworkTimeout),
			gitexec.WithLogger(r.logger),
		)
	}
	if err := r.openStore(); err != nil {
		return nil, err
	}
	if err := r.openJournal(); err != nil {
		r.Close()
		return nil, err
	}

	r.coord = coordinator.New(r.git, r.registry,
		coordinator.WithJournal(r.journal),
		coordinator.WithRetryPolicy(r.cfg.Git.Retry),
		coordinator.WithParallelism(r.cfg.Git.Parallelism),
		coordinator.WithHooks(r.metrics.Hooks().Merge(r.hooks)),
		coordinator.WithLogger(r.logger),
		coordinator.WithActor(r.cfg.Actor),
		coordinator.WithNotesDir(r.cfg.Notes.Dir),
		coordinator.WithClock(r.now),
	)
	r.engine = runtime.NewEngine(r.coord, r.store,
		runtime.WithJournal(r.journal),
		runtime.WithActor(r.cfg.Actor),
		runtime.WithLogger(r.logger),
		runtime.WithClock(r.now),
	)
	return r, nil
}

func (r *Ratchet) openStore() error {
	if r.store != nil {
		return nil
	}
	switch r.cfg.State.Backend {
	case config.BackendRedis:
		rc := r.cfg.State.Redis
		s := redis.New(rc.Addr, rc.Password, rc.DB, redis.WithPrefix(rc.Prefix))
		r.store = s
		r.closers = append(r.closers, s)
	default:
		r.store = file.New(r.cfg.StateDir(r.workspace))
	}
	return nil
}

func (r *Ratchet) openJournal() error {
	if r.journal != nil {
		return nil
	}
	if !r.cfg.Journal.Enabled {
		r.journal = ports.NopJournal{}
		return nil
	}
	j, err := sqlite.Open(context.Background(), r.cfg.JournalPath(r.workspace))
	if err != nil {
		return err
	}
	r.journal = j
	r.closers = append(r.closers, j)
	return nil
}

// Close writes the metrics textfile, when configured, and releases resources.
func (r *Ratchet) Close() error {
	var errs []error
	if r.cfg != nil && r.cfg.Metrics.Textfile != "" {
		errs = append(errs, r.metrics.WriteToTextfile(r.cfg.Metrics.Textfile))
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i].Close())
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Config returns the effective configuration.
func (r *Ratchet) Config() *config.Config {
	return r.cfg
}

// InvocationID identifies this process in logs and in the journal.
func (r *Ratchet) InvocationID() string {
	return r.coord.InvocationID()
}

// Start cuts the release branches and publishes the first candidate.
func (r *Ratchet) Start(ctx context.Context, req StartRequest) (*Outcome, error) {
	if err := r.cfg.RequireActor(); err != nil {
		return nil, err
	}
	return r.observe(r.engine.Start(ctx, req))
}

// Continue publishes the next candidate.
func (r *Ratchet) Continue(ctx context.Context, req ContinueRequest) (*Outcome, error) {
	if err := r.cfg.RequireActor(); err != nil {
		return nil, err
	}
	return r.observe(r.engine.Continue(ctx, req))
}

// Finish promotes the latest candidates to the final release.
func (r *Ratchet) Finish(ctx context.Context, req FinishRequest) (*Outcome, error) {
	if err := r.cfg.RequireActor(); err != nil {
		return nil, err
	}
	return r.observe(r.engine.Finish(ctx, req))
}

func (r *Ratchet) observe(o *Outcome, err error) (*Outcome, error) {
	if o != nil {
		r.metrics.ObserveState(o.State)
	}
	return o, err
}

// Status reports the release next to the live remotes without mutating.
func (r *Ratchet) Status(ctx context.Context, version *domain.Version) (*Report, error) {
	return r.engine.Status(ctx, version)
}

// Plan dry-runs intent.
func (r *Ratchet) Plan(ctx context.Context, intent Intent, version *domain.Version) (*Plan, error) {
	return r.engine.Plan(ctx, intent, version)
}

// List returns the releases visible on the umbrella remote.
func (r *Ratchet) List(ctx context.Context) ([]ReleaseSummary, error) {
	return r.engine.List(ctx)
}

// Archive moves the workspace's release state aside.
func (r *Ratchet) Archive(ctx context.Context) (string, error) {
	return r.engine.Archive(ctx)
}

// Journal returns recent audit entries, newest first.
func (r *Ratchet) Journal(ctx context.Context, limit int) ([]ports.JournalEntry, error) {
	return r.journal.Entries(ctx, limit)
}
