package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/ratchet/internal/logging"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/ports"
	"github.com/aretw0/ratchet/pkg/registry"
	"github.com/google/uuid"
)

// DefaultNotesDir is where release notes are committed in the umbrella.
const DefaultNotesDir = "docs/release-notes"

// Coordinator translates logical release steps into git operations across
// the registry's repositories, with compensating rollback of the tags a
// failed step created.
type Coordinator struct {
	git          ports.Git
	repos        *registry.Registry
	journal      ports.Journal
	retry        RetryPolicy
	parallelism  int
	hooks        domain.LifecycleHooks
	logger       *slog.Logger
	actor        domain.Actor
	invocationID string
	notesDir     string
	now          func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithJournal records every mutation in j.
func WithJournal(j ports.Journal) Option {
	return func(c *Coordinator) {
		c.journal = j
	}
}

// WithRetryPolicy sets the policy applied to network operations.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Coordinator) {
		c.retry = p
	}
}

// WithParallelism bounds the worker pool used for per-repository queries.
func WithParallelism(n int) Option {
	return func(c *Coordinator) {
		c.parallelism = n
	}
}

// WithHooks registers lifecycle callbacks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(c *Coordinator) {
		c.hooks = c.hooks.Merge(h)
	}
}

// WithLogger configures the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithActor sets the identity used to sign and author tags and commits.
func WithActor(a domain.Actor) Option {
	return func(c *Coordinator) {
		c.actor = a
	}
}

// WithInvocationID overrides the generated invocation id.
func WithInvocationID(id string) Option {
	return func(c *Coordinator) {
		c.invocationID = id
	}
}

// WithNotesDir sets the umbrella directory release notes are committed to.
func WithNotesDir(dir string) Option {
	return func(c *Coordinator) {
		c.notesDir = dir
	}
}

// WithClock overrides time.Now for journal and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a Coordinator.
func New(git ports.Git, repos *registry.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		git:          git,
		repos:        repos,
		journal:      ports.NopJournal{},
		retry:        DefaultRetryPolicy(),
		parallelism:  4,
		logger:       logging.NewNop(),
		invocationID: uuid.NewString(),
		notesDir:     DefaultNotesDir,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("invocation", c.invocationID)
	return c
}

// InvocationID identifies this process run in logs and the journal.
func (c *Coordinator) InvocationID() string {
	return c.invocationID
}

// Registry returns the repositories the coordinator acts on.
func (c *Coordinator) Registry() *registry.Registry {
	return c.repos
}

// call runs one git operation and reports it to the hooks.
func (c *Coordinator) call(ctx context.Context, repo domain.Repository, op, ref string, attempt int, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	c.logger.DebugContext(ctx, "git op", "repo", repo.Name, "op", op, "ref", ref, "attempt", attempt, "duration", elapsed, "err", err)
	if c.hooks.OnGitOp != nil {
		c.hooks.OnGitOp(ctx, &domain.GitEvent{
			EventBase: domain.EventBase{Timestamp: c.now(), Type: domain.EventGitOp, InvocationID: c.invocationID},
			Repo:      repo.Name,
			Op:        op,
			Ref:       ref,
			Attempt:   attempt,
			Duration:  elapsed,
			Err:       err,
		})
	}
	return err
}

// local runs a git operation that does not touch the network.
func (c *Coordinator) local(ctx context.Context, repo domain.Repository, op, ref string, fn func(context.Context) error) error {
	return c.call(ctx, repo, op, ref, 1, fn)
}

// network runs a git network operation under the retry policy.
func (c *Coordinator) network(ctx context.Context, repo domain.Repository, op, ref string, fn func(context.Context) error) error {
	return c.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		err := c.call(ctx, repo, op, ref, attempt, fn)
		if domain.IsRetryable(err) && attempt < max(c.retry.MaxAttempts, 1) {
			c.logger.WarnContext(ctx, "transient git failure, retrying",
				"repo", repo.Name, "op", op, "attempt", attempt, "backoff", c.retry.Backoff(attempt), "err", err)
		}
		return err
	})
}

func (c *Coordinator) record(ctx context.Context, repo, action, ref, commit, detail string) {
	err := c.journal.Record(ctx, ports.JournalEntry{
		InvocationID: c.invocationID,
		Time:         c.now().UTC(),
		Actor:        c.actor.String(),
		Repo:         repo,
		Action:       action,
		Ref:          ref,
		Commit:       commit,
		Detail:       detail,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "journal write failed", "action", action, "repo", repo, "err", err)
	}
}

func (c *Coordinator) stepStart(ctx context.Context, step string, v domain.Version) {
	c.logger.InfoContext(ctx, "step started", "step", step, "version", v.String())
	if c.hooks.OnStepStart != nil {
		c.hooks.OnStepStart(ctx, &domain.StepEvent{
			EventBase: domain.EventBase{Timestamp: c.now(), Type: domain.EventStepStart, InvocationID: c.invocationID},
			Step:      step,
			Version:   v.String(),
		})
	}
}

func (c *Coordinator) stepEnd(ctx context.Context, step string, v domain.Version, err error) {
	if err != nil {
		c.logger.ErrorContext(ctx, "step failed", "step", step, "version", v.String(), "err", err)
	} else {
		c.logger.InfoContext(ctx, "step completed", "step", step, "version", v.String())
	}
	if c.hooks.OnStepEnd != nil {
		c.hooks.OnStepEnd(ctx, &domain.StepEvent{
			EventBase: domain.EventBase{Timestamp: c.now(), Type: domain.EventStepEnd, InvocationID: c.invocationID},
			Step:      step,
			Version:   v.String(),
			Err:       err,
		})
	}
}
