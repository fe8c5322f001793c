package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/ratchet/internal/coordinator"
	"github.com/aretw0/ratchet/pkg/domain"
)

// target is the release an intent acts on.
type target struct {
	// state is a working copy; the store is untouched until commit.
	state *domain.ReleaseState
	// previous is a local state for another release that the adopted one
	// replaces once the step succeeds.
	previous *domain.ReleaseState
	obs      coordinator.Observation
	adopted  bool
}

// resolve picks the release to act on. Without a version the workspace's
// state is used. A version matching the workspace's state selects it; any
// other version is adopted from the remotes, which must already carry
// candidates for it.
func (e *Engine) resolve(ctx context.Context, version *domain.Version) (*target, error) {
	local, err := e.loadCurrent(ctx)
	if err != nil {
		return nil, err
	}

	if version == nil {
		if local == nil {
			return nil, domain.ErrAmbiguousTarget
		}
		obs, err := e.coord.Observe(ctx, local.Version)
		if err != nil {
			return nil, err
		}
		return &target{state: local.Clone(), obs: obs}, nil
	}

	release := version.Release()
	if local != nil && local.Version.Equal(release) {
		obs, err := e.coord.Observe(ctx, release)
		if err != nil {
			return nil, err
		}
		return &target{state: local.Clone(), obs: obs}, nil
	}

	obs, err := e.coord.Observe(ctx, release)
	if err != nil {
		return nil, err
	}
	if !obs.Started() {
		return nil, fmt.Errorf("release %s: %w", release, domain.ErrNotStarted)
	}

	e.logger.InfoContext(ctx, "adopting release from remotes", "version", release.String(), "candidates", obs.Candidates())
	state := domain.NewReleaseState(release, e.actor, e.now())
	state.Phase = domain.PhaseCandidateInProgress
	return &target{state: state, previous: local, obs: obs, adopted: true}, nil
}

// reconcile checks the remotes against the working state and refreshes it
// from live truth. Candidate numbers are only ever raised.
func (e *Engine) reconcile(ctx context.Context, t *target, intent Intent) error {
	if intent != IntentFinish {
		if t.obs.Released() {
			return fmt.Errorf("release %s: %w", t.state.Version, domain.ErrAlreadyReleased)
		}
		bases := make(map[string]string, len(t.state.Repos))
		for name, p := range t.state.Repos {
			bases[name] = p.BranchBase
		}
		if err := e.coord.VerifyBases(ctx, t.obs, bases); err != nil {
			return err
		}
		if err := e.coord.CheckSubmoduleDrift(ctx, t.obs); err != nil {
			return err
		}
	}
	e.refresh(ctx, t.state, t.obs)
	return nil
}

// refresh folds the observation into s. A finished state keeps its final
// tags.
func (e *Engine) refresh(ctx context.Context, s *domain.ReleaseState, obs coordinator.Observation) {
	for _, r := range obs.Repos {
		name := r.Repo.Name
		p := s.Repos[name]

		if r.BranchExists && !p.BranchCut {
			p.BranchCut = true
			if p.BranchBase == "" {
				p.BranchBase = r.BranchHead
			}
		}

		if n, commit, ok := r.Latest(); ok && s.Phase != domain.PhaseFinished {
			local := candidateOf(p.LastTag)
			if n > local {
				if local > 0 {
					e.logger.InfoContext(ctx, "remote is ahead of local state",
						"repo", name, "local", p.LastTag, "remote", obs.Version.WithCandidate(n).Tag())
				}
				p.LastTag = obs.Version.WithCandidate(n).Tag()
				p.LastCommit = commit
				p.BranchBase = commit
			}
		}
		s.Repos[name] = p
	}

	if s.Phase == domain.PhaseBranchCut && obs.Started() {
		s.Phase = domain.PhaseCandidateInProgress
		s.UpdatedAt = e.now()
	}
}

func candidateOf(tag string) uint64 {
	if tag == "" {
		return 0
	}
	v, err := domain.ParseTag(tag)
	if err != nil || v.Candidate == nil {
		return 0
	}
	return *v.Candidate
}

// applyRound records the tags of a successful round.
func applyRound(s *domain.ReleaseState, res coordinator.RoundResult) {
	for _, t := range res.Tags {
		p := s.Repos[t.Repo]
		p.BranchCut = true
		p.LastTag = t.Tag
		p.LastCommit = t.Commit
		p.BranchBase = t.Commit
		s.Repos[t.Repo] = p
	}
}

// nextCandidate never reuses a number seen either live or locally.
func nextCandidate(s *domain.ReleaseState, obs coordinator.Observation) uint64 {
	seen := obs.Candidates()
	if last := s.LastCandidate(); last > 0 {
		seen = append(seen, last)
	}
	return domain.NextCandidate(seen)
}

// commit persists a successful step. An adopted release first moves the
// workspace's previous state out of the way.
func (e *Engine) commit(ctx context.Context, t *target) (string, error) {
	var archived string
	if t.previous != nil {
		key, err := e.archive(ctx, t.previous)
		if err != nil {
			return "", err
		}
		archived = key
		t.previous = nil
	}
	return archived, e.save(ctx, t.state)
}
