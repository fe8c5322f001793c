package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/aretw0/ratchet/internal/coordinator"
	"github.com/aretw0/ratchet/internal/logging"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/ports"
)

// Intent is an operator request to the release state machine.
type Intent string

const (
	IntentStart    Intent = "start"
	IntentContinue Intent = "continue"
	IntentFinish   Intent = "finish"
)

// ParseIntent converts a command name into an Intent.
func ParseIntent(s string) (Intent, error) {
	i := Intent(s)
	if _, ok := transitions[i]; !ok {
		return "", fmt.Errorf("unknown intent %q (want start, continue or finish)", s)
	}
	return i, nil
}

type transition struct {
	from []domain.Phase
	to   domain.Phase
}

// transitions is the closed table of allowed (phase, intent) pairs.
var transitions = map[Intent]transition{
	IntentStart: {
		from: []domain.Phase{domain.PhaseUninitialized},
		to:   domain.PhaseCandidateInProgress,
	},
	IntentContinue: {
		from: []domain.Phase{domain.PhaseBranchCut, domain.PhaseCandidateInProgress},
		to:   domain.PhaseCandidateInProgress,
	},
	IntentFinish: {
		from: []domain.Phase{domain.PhaseCandidateInProgress},
		to:   domain.PhaseFinished,
	},
}

// next returns the phase intent leads to from phase.
func next(phase domain.Phase, intent Intent) (domain.Phase, error) {
	t, ok := transitions[intent]
	if !ok || !slices.Contains(t.from, phase) {
		return "", &domain.InvalidTransitionError{From: phase, Intent: string(intent)}
	}
	return t.to, nil
}

// Engine is the release orchestrator. It reconciles the persisted state with
// the remotes, delegates git work to the coordinator and persists the new
// state only once a step has fully succeeded.
type Engine struct {
	coord   *coordinator.Coordinator
	store   ports.StateStore
	journal ports.Journal
	actor   domain.Actor
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger configures the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithActor sets the operator recorded on new states.
func WithActor(a domain.Actor) Option {
	return func(e *Engine) {
		e.actor = a
	}
}

// WithJournal records state saves and archives.
func WithJournal(j ports.Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an orchestrator over coord and store.
func NewEngine(coord *coordinator.Coordinator, store ports.StateStore, opts ...Option) *Engine {
	e := &Engine{
		coord:   coord,
		store:   store,
		journal: ports.NopJournal{},
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Outcome is the result of a lifecycle intent.
type Outcome struct {
	State *domain.ReleaseState
	Tags  []coordinator.TagResult
	// Adopted is set when the release was picked up from the remotes rather
	// than from this workspace's state.
	Adopted bool
	// Archived names the key the previous or finished state was moved to.
	Archived string
}

// loadCurrent returns the workspace's state, or nil when there is none.
func (e *Engine) loadCurrent(ctx context.Context) (*domain.ReleaseState, error) {
	s, err := e.store.Load(ctx, ports.CurrentKey)
	if errors.Is(err, domain.ErrStateNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (e *Engine) save(ctx context.Context, s *domain.ReleaseState) error {
	if err := e.store.Save(ctx, ports.CurrentKey, s); err != nil {
		return fmt.Errorf("failed to save release state: %w", err)
	}
	e.logger.DebugContext(ctx, "state saved", "version", s.Version.String(), "phase", s.Phase)
	e.record(ctx, ports.ActionStateSave, ports.CurrentKey, string(s.Phase)+" "+s.Version.String())
	return nil
}

// archive moves s out of the current slot under a versioned, timestamped key.
func (e *Engine) archive(ctx context.Context, s *domain.ReleaseState) (string, error) {
	key := fmt.Sprintf("release-%s-%s", s.Version.Tag(), e.now().UTC().Format("20060102T150405Z"))
	if err := e.store.Archive(ctx, ports.CurrentKey, key); err != nil {
		return "", fmt.Errorf("failed to archive release state: %w", err)
	}
	e.logger.InfoContext(ctx, "state archived", "version", s.Version.String(), "key", key)
	e.record(ctx, ports.ActionStateArchive, key, s.Version.String())
	return key, nil
}

func (e *Engine) record(ctx context.Context, action, ref, detail string) {
	err := e.journal.Record(ctx, ports.JournalEntry{
		InvocationID: e.coord.InvocationID(),
		Time:         e.now().UTC(),
		Actor:        e.actor.String(),
		Action:       action,
		Ref:          ref,
		Detail:       detail,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "journal write failed", "action", action, "err", err)
	}
}
