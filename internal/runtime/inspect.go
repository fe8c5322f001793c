package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/aretw0/ratchet/internal/coordinator"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/ports"
)

// Report is a read-only view of a release.
type Report struct {
	// Local is the workspace's persisted state, nil when there is none.
	Local *domain.ReleaseState
	// State is the release as the next intent would see it after
	// reconciliation. It is never persisted.
	State       *domain.ReleaseState
	Observation coordinator.Observation
	Adopted     bool
	// Next is the candidate number the next round would use.
	Next uint64
	// Problems lists what would stop the next intent.
	Problems []error
}

// Status reports the local state next to the live remotes. Nothing is
// mutated. Without a version and without a local state the report is empty.
func (e *Engine) Status(ctx context.Context, version *domain.Version) (*Report, error) {
	local, err := e.loadCurrent(ctx)
	if err != nil {
		return nil, err
	}
	r := &Report{Local: local}
	if version == nil && local == nil {
		return r, nil
	}

	t, err := e.resolve(ctx, version)
	switch {
	case errors.Is(err, domain.ErrNotStarted):
		// Nothing exists for this version yet.
		obs, oerr := e.coord.Observe(ctx, version.Release())
		if oerr != nil {
			return nil, oerr
		}
		r.State = domain.NewReleaseState(*version, e.actor, e.now())
		r.Observation = obs
		r.Next = domain.NextCandidate(obs.Candidates())
		if obs.Released() {
			r.Problems = append(r.Problems, fmt.Errorf("release %s: %w", r.State.Version, domain.ErrAlreadyReleased))
		}
		return r, nil
	case err != nil:
		return nil, err
	}

	intent := IntentContinue
	if t.state.Phase == domain.PhaseFinished {
		intent = IntentFinish
	}
	if err := e.reconcile(ctx, t, intent); err != nil {
		r.Problems = append(r.Problems, err)
		e.refresh(ctx, t.state, t.obs)
	}
	r.State = t.state
	r.Observation = t.obs
	r.Adopted = t.adopted
	r.Next = nextCandidate(t.state, t.obs)
	return r, nil
}

// PlannedOp is one mutation an intent would perform.
type PlannedOp struct {
	Repo   string
	Action string
	Ref    string
	// Commit is empty when it is only known once earlier operations ran.
	Commit string
	Detail string
}

// Plan is the dry run of an intent.
type Plan struct {
	Intent  Intent
	Version domain.Version
	From    domain.Phase
	To      domain.Phase
	Adopted bool
	Ops     []PlannedOp
}

// Plan computes what intent would do without touching any remote ref or the
// store. It fails with the same errors the intent itself would.
func (e *Engine) Plan(ctx context.Context, intent Intent, version *domain.Version) (*Plan, error) {
	switch intent {
	case IntentStart:
		if version == nil {
			return nil, fmt.Errorf("start: %w", domain.ErrAmbiguousTarget)
		}
		if version.IsCandidate() {
			return nil, &domain.ParseError{Input: version.String(), Reason: "start takes a release version, not a candidate"}
		}
		t, err := e.prepareStart(ctx, version.Release())
		if err != nil {
			return nil, err
		}
		p := &Plan{Intent: intent, From: t.state.Phase, To: domain.PhaseCandidateInProgress}
		for _, r := range t.obs.Repos {
			if !r.BranchExists {
				p.Ops = append(p.Ops, PlannedOp{Repo: r.Repo.Name, Action: ports.ActionBranchCreate, Ref: r.Branch})
			}
		}
		p.Version = t.state.Version.WithCandidate(domain.NextCandidate(t.obs.Candidates()))
		p.Ops = append(p.Ops, e.roundOps(t.obs, p.Version)...)
		return p, nil

	case IntentContinue, IntentFinish:
		t, err := e.resolve(ctx, version)
		if err != nil {
			return nil, err
		}
		if intent == IntentContinue {
			if _, err := next(t.state.Phase, intent); err != nil {
				return nil, err
			}
		}
		if err := e.reconcile(ctx, t, intent); err != nil {
			return nil, err
		}
		to, err := next(t.state.Phase, intent)
		if err != nil {
			return nil, err
		}
		p := &Plan{Intent: intent, From: t.state.Phase, To: to, Adopted: t.adopted}
		if intent == IntentContinue {
			p.Version = t.state.Version.WithCandidate(nextCandidate(t.state, t.obs))
			p.Ops = e.roundOps(t.obs, p.Version)
			return p, nil
		}
		p.Version = t.state.Version
		ops, err := finalOps(t.obs)
		if err != nil {
			return nil, err
		}
		p.Ops = ops
		return p, nil
	}
	return nil, fmt.Errorf("unknown intent %q", intent)
}

func (e *Engine) roundOps(obs coordinator.Observation, candidate domain.Version) []PlannedOp {
	var ops []PlannedOp
	umbrella := e.coord.Registry().Umbrella()
	for _, r := range obs.Repos {
		if r.Repo.IsUmbrella() {
			continue
		}
		ops = append(ops, PlannedOp{Repo: r.Repo.Name, Action: ports.ActionTagCreate, Ref: candidate.Tag(), Commit: r.BranchHead})
	}
	ops = append(ops,
		PlannedOp{Repo: umbrella.Name, Action: ports.ActionUmbrellaCommit, Ref: candidate.Names().BaseBranch, Detail: "update submodules"},
		PlannedOp{Repo: umbrella.Name, Action: ports.ActionTagCreate, Ref: candidate.Tag()},
	)
	return ops
}

func finalOps(obs coordinator.Observation) ([]PlannedOp, error) {
	final := obs.Version.Tag()
	var ops []PlannedOp
	_, commits, err := obs.Promotion()
	if err != nil {
		return nil, err
	}
	for _, r := range obs.Repos {
		commit := commits[r.Repo.Name]
		op := PlannedOp{Repo: r.Repo.Name, Action: ports.ActionTagCreate, Ref: final, Commit: commit}
		if r.FinalCommit == commit {
			op.Detail = "already tagged"
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// ReleaseSummary is one release visible on the umbrella remote.
type ReleaseSummary struct {
	Version    domain.Version
	Candidates []uint64
	Final      bool
}

// List groups the umbrella's remote tags by release, newest first.
func (e *Engine) List(ctx context.Context) ([]ReleaseSummary, error) {
	refs, err := e.coord.RemoteRefs(ctx, e.coord.Registry().Umbrella())
	if err != nil {
		return nil, err
	}

	byRelease := make(map[string]*ReleaseSummary)
	for _, name := range refs.TagNames() {
		v, err := domain.ParseTag(name)
		if err != nil {
			continue
		}
		key := v.Release().String()
		s, ok := byRelease[key]
		if !ok {
			s = &ReleaseSummary{Version: v.Release()}
			byRelease[key] = s
		}
		if v.Candidate != nil {
			s.Candidates = append(s.Candidates, *v.Candidate)
		} else {
			s.Final = true
		}
	}

	out := make([]ReleaseSummary, 0, len(byRelease))
	for _, s := range byRelease {
		slices.Sort(s.Candidates)
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b ReleaseSummary) int {
		return domain.Compare(b.Version, a.Version)
	})
	return out, nil
}

// Archive moves the workspace's state out of the current slot.
func (e *Engine) Archive(ctx context.Context) (string, error) {
	local, err := e.loadCurrent(ctx)
	if err != nil {
		return "", err
	}
	if local == nil {
		return "", domain.ErrStateNotFound
	}
	return e.archive(ctx, local)
}
