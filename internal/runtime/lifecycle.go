package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/ratchet/internal/coordinator"
	"github.com/aretw0/ratchet/pkg/domain"
)

// StartRequest begins a release.
type StartRequest struct {
	Version domain.Version
	Notes   string
}

// ContinueRequest runs another candidate round. A nil Version targets the
// workspace's release.
type ContinueRequest struct {
	Version *domain.Version
	Notes   string
}

// FinishRequest promotes the latest candidates. A nil Version targets the
// workspace's release.
type FinishRequest struct {
	Version *domain.Version
	Notes   string
	// Archive moves the finished state out of the current slot.
	Archive bool
}

// Start cuts the release branches and creates the first candidate.
//
// The state is persisted as branch_cut once every branch exists, and as
// candidate_in_progress after the candidate round. A failed round leaves the
// branch_cut state for a later continue.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*Outcome, error) {
	if req.Version.IsCandidate() {
		return nil, &domain.ParseError{Input: req.Version.String(), Reason: "start takes a release version, not a candidate"}
	}
	version := req.Version.Release()

	t, err := e.prepareStart(ctx, version)
	if err != nil {
		return nil, err
	}
	state := t.state

	e.logger.InfoContext(ctx, "starting release", "version", version.String(), "actor", e.actor.String())

	branches, err := e.coord.BranchCut(ctx, version, nil)
	if err != nil {
		return nil, err
	}
	for name, b := range branches {
		state.Repos[name] = domain.RepoProgress{BranchCut: true, BranchBase: b.Head}
	}
	if err := state.Advance(domain.PhaseBranchCut, e.now()); err != nil {
		return nil, err
	}
	archived, err := e.commit(ctx, t)
	if err != nil {
		return nil, err
	}

	out, err := e.candidateRound(ctx, t, IntentStart, req.Notes)
	if out != nil {
		out.Archived = archived
	}
	return out, err
}

// prepareStart checks that version can be started from this workspace and
// that no repository has moved on it yet.
func (e *Engine) prepareStart(ctx context.Context, version domain.Version) (*target, error) {
	local, err := e.loadCurrent(ctx)
	if err != nil {
		return nil, err
	}
	var previous *domain.ReleaseState
	if local != nil {
		switch {
		case local.Phase == domain.PhaseFinished && local.Version.Equal(version):
			return nil, fmt.Errorf("release %s: %w", version, domain.ErrAlreadyReleased)
		case local.Phase == domain.PhaseFinished:
			previous = local
		case local.Version.SameBase(version):
			return nil, &domain.AlreadyStartedError{Version: local.Version, Phase: local.Phase, Where: "workspace"}
		default:
			return nil, fmt.Errorf("release %s: %w", local.Version, domain.ErrWorkspaceBusy)
		}
	}

	state := domain.NewReleaseState(version, e.actor, e.now())
	if _, err := next(state.Phase, IntentStart); err != nil {
		return nil, err
	}

	obs, err := e.coord.Observe(ctx, version)
	if err != nil {
		return nil, err
	}
	if obs.Released() {
		return nil, fmt.Errorf("release %s: %w", version, domain.ErrAlreadyReleased)
	}
	if obs.Started() {
		return nil, &domain.AlreadyStartedError{Version: version, Phase: domain.PhaseCandidateInProgress, Where: "remote"}
	}
	return &target{state: state, previous: previous, obs: obs}, nil
}

// Continue reconciles with the remotes and runs the next candidate round.
func (e *Engine) Continue(ctx context.Context, req ContinueRequest) (*Outcome, error) {
	t, err := e.resolve(ctx, req.Version)
	if err != nil {
		return nil, err
	}
	if _, err := next(t.state.Phase, IntentContinue); err != nil {
		return nil, err
	}
	if err := e.reconcile(ctx, t, IntentContinue); err != nil {
		return nil, err
	}
	return e.candidateRound(ctx, t, IntentContinue, req.Notes)
}

func (e *Engine) candidateRound(ctx context.Context, t *target, intent Intent, notes string) (*Outcome, error) {
	to, err := next(t.state.Phase, IntentContinue)
	if err != nil {
		return nil, err
	}

	n := nextCandidate(t.state, t.obs)
	bases := make(map[string]string, len(t.state.Repos))
	for name, p := range t.state.Repos {
		bases[name] = p.BranchBase
	}

	e.logger.InfoContext(ctx, "candidate round", "intent", intent, "version", t.state.Version.WithCandidate(n).String())
	res, err := e.coord.CandidateRound(ctx, coordinator.RoundRequest{
		Version: t.state.Version.WithCandidate(n),
		Notes:   notes,
		Bases:   bases,
	})
	if err != nil {
		return nil, err
	}

	applyRound(t.state, res)
	if err := t.state.Advance(to, e.now()); err != nil {
		return nil, err
	}
	archived, err := e.commit(ctx, t)
	if err != nil {
		return nil, err
	}
	return &Outcome{State: t.state, Tags: res.Tags, Adopted: t.adopted, Archived: archived}, nil
}

// Finish retags the umbrella's latest candidate, in every repository, with
// the final tag.
func (e *Engine) Finish(ctx context.Context, req FinishRequest) (*Outcome, error) {
	t, err := e.resolve(ctx, req.Version)
	if err != nil {
		return nil, err
	}
	if err := e.reconcile(ctx, t, IntentFinish); err != nil {
		return nil, err
	}
	to, err := next(t.state.Phase, IntentFinish)
	if err != nil {
		return nil, err
	}

	n, commits, err := t.obs.Promotion()
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "finishing release", "version", t.state.Version.String(),
		"from", t.state.Version.WithCandidate(n).Tag())
	res, err := e.coord.FinalRound(ctx, coordinator.FinalRequest{
		Version: t.state.Version,
		Commits: commits,
		Notes:   req.Notes,
	})
	if err != nil {
		return nil, err
	}

	applyRound(t.state, res)
	if err := t.state.Advance(to, e.now()); err != nil {
		return nil, err
	}
	archived, err := e.commit(ctx, t)
	if err != nil {
		return nil, err
	}
	out := &Outcome{State: t.state, Tags: res.Tags, Adopted: t.adopted, Archived: archived}

	if req.Archive {
		key, err := e.archive(ctx, t.state)
		if err != nil {
			return out, err
		}
		out.Archived = key
	}
	return out, nil
}
