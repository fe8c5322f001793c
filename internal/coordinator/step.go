package coordinator

import (
	"context"
	"sync"

	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/ports"
)

// Step is the ledger of one logical step (branch cut, candidate round, final
// round). It remembers only the tags this invocation pushed, which bounds
// rollback to the step's own mutations.
type Step struct {
	Name string

	mu      sync.Mutex
	created []createdTag
}

type createdTag struct {
	repo domain.Repository
	tag  string
}

// Begin opens a new step ledger.
func (c *Coordinator) Begin(name string) *Step {
	return &Step{Name: name}
}

func (s *Step) add(repo domain.Repository, tag string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, createdTag{repo: repo, tag: tag})
}

// Created returns "repo:tag" for every tag pushed within the step, in order.
func (s *Step) Created() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.created))
	for i, ct := range s.created {
		out[i] = ct.repo.Name + ":" + ct.tag
	}
	return out
}

// Abort unwinds the step after cause, newest tag first. It returns cause
// when every tag was removed and a *domain.RollbackFailure otherwise.
func (c *Coordinator) Abort(ctx context.Context, s *Step, cause error) error {
	names := s.Created()
	s.mu.Lock()
	created := append([]createdTag(nil), s.created...)
	s.created = nil
	s.mu.Unlock()

	if len(created) == 0 {
		return cause
	}

	// A cancelled invocation must still clean up.
	ctx = context.WithoutCancel(ctx)

	c.logger.WarnContext(ctx, "rolling back step", "step", s.Name, "tags", names, "cause", cause)

	var failed []domain.RollbackItem
	for i := len(created) - 1; i >= 0; i-- {
		ct := created[i]
		if err := c.Rollback(ctx, ct.repo, ct.tag); err != nil {
			failed = append(failed, domain.RollbackItem{Repo: ct.repo.Name, Ref: "refs/tags/" + ct.tag, Err: err})
		}
	}
	if len(failed) > 0 {
		return &domain.RollbackFailure{Cause: cause, Items: failed}
	}
	return cause
}

// Rollback deletes a tag on the remote and locally. It must only be used for
// tags created within the current failed step.
func (c *Coordinator) Rollback(ctx context.Context, repo domain.Repository, tag string) error {
	err := c.network(ctx, repo, "delete-remote-tag", tag, func(ctx context.Context) error {
		return c.git.DeleteRemoteTag(ctx, repo, tag)
	})
	if err == nil {
		err = c.local(ctx, repo, "tag-delete", tag, func(ctx context.Context) error {
			return c.git.DeleteLocalTag(ctx, repo, tag)
		})
	}

	if c.hooks.OnRollback != nil {
		c.hooks.OnRollback(ctx, &domain.RollbackEvent{
			EventBase: domain.EventBase{Timestamp: c.now(), Type: domain.EventRollback, InvocationID: c.invocationID},
			Repo:      repo.Name,
			Ref:       tag,
			Err:       err,
		})
	}

	if err != nil {
		c.logger.ErrorContext(ctx, "rollback failed", "repo", repo.Name, "tag", tag, "err", err)
		c.record(ctx, repo.Name, ports.ActionRollbackFailed, tag, "", err.Error())
		return err
	}
	c.logger.InfoContext(ctx, "rolled back tag", "repo", repo.Name, "tag", tag)
	c.record(ctx, repo.Name, ports.ActionTagRollback, tag, "", "")
	return nil
}
