package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStepStart EventType = "step_start"
	EventStepEnd   EventType = "step_end"
	EventGitOp     EventType = "git_op"
	EventRollback  EventType = "rollback"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp    time.Time `json:"timestamp"`
	Type         EventType `json:"type"`
	InvocationID string    `json:"invocation_id"`
}

// StepEvent brackets a logical step (branch cut, candidate round, final round).
type StepEvent struct {
	EventBase
	Step    string `json:"step"`
	Version string `json:"version"`
	Err     error  `json:"-"`
}

// GitEvent reports one git operation against one repository.
type GitEvent struct {
	EventBase
	Repo     string        `json:"repo"`
	Op       string        `json:"op"`
	Ref      string        `json:"ref,omitempty"`
	Attempt  int           `json:"attempt"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// RollbackEvent reports the compensation of a ref created in a failed step.
type RollbackEvent struct {
	EventBase
	Repo string `json:"repo"`
	Ref  string `json:"ref"`
	Err  error  `json:"-"`
}

// LifecycleHooks defines callbacks for observability. Hooks may be called
// from worker goroutines and must be safe for concurrent use.
type LifecycleHooks struct {
	OnStepStart func(context.Context, *StepEvent)
	OnStepEnd   func(context.Context, *StepEvent)
	OnGitOp     func(context.Context, *GitEvent)
	OnRollback  func(context.Context, *RollbackEvent)
}

// Merge returns hooks that call h first and then o.
func (h LifecycleHooks) Merge(o LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnStepStart: chain(h.OnStepStart, o.OnStepStart),
		OnStepEnd:   chain(h.OnStepEnd, o.OnStepEnd),
		OnGitOp:     chain(h.OnGitOp, o.OnGitOp),
		OnRollback:  chain(h.OnRollback, o.OnRollback),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
