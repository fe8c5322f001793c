package coordinator

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/aretw0/ratchet/pkg/domain"
)

// RepoObservation is the live remote view of one repository for a release.
type RepoObservation struct {
	Repo         domain.Repository
	Branch       string
	BranchExists bool
	BranchHead   string

	// Candidates maps candidate number to the commit its tag points at.
	Candidates map[uint64]string

	// FinalCommit is the commit of the final tag, empty when unreleased.
	FinalCommit string
}

// Latest returns the highest candidate number and its commit.
func (o RepoObservation) Latest() (uint64, string, bool) {
	if len(o.Candidates) == 0 {
		return 0, "", false
	}
	n := slices.Max(slices.Collect(maps.Keys(o.Candidates)))
	return n, o.Candidates[n], true
}

// Observation is a snapshot of every repository for one release.
type Observation struct {
	Version domain.Version
	Repos   []RepoObservation // registry order
}

// Get returns the observation for a repository by name.
func (o Observation) Get(name string) (RepoObservation, bool) {
	for _, r := range o.Repos {
		if r.Repo.Name == name {
			return r, true
		}
	}
	return RepoObservation{}, false
}

// Candidates returns the union of candidate numbers across repositories.
func (o Observation) Candidates() []uint64 {
	var all []uint64
	for _, r := range o.Repos {
		for n := range r.Candidates {
			all = append(all, n)
		}
	}
	slices.Sort(all)
	return slices.Compact(all)
}

// Started reports whether any repository carries a candidate tag.
func (o Observation) Started() bool {
	for _, r := range o.Repos {
		if len(r.Candidates) > 0 {
			return true
		}
	}
	return false
}

// Released reports whether any repository carries the final tag.
func (o Observation) Released() bool {
	for _, r := range o.Repos {
		if r.FinalCommit != "" {
			return true
		}
	}
	return false
}

// Promotion returns the candidate the final release is cut from and the
// commit that candidate tags in every repository. The umbrella is tagged
// last in a round, so its latest candidate is the newest one present
// everywhere. A repository missing it is a *domain.BranchConflictError.
func (o Observation) Promotion() (uint64, map[string]string, error) {
	var (
		n  uint64
		ok bool
	)
	for _, r := range o.Repos {
		if r.Repo.IsUmbrella() {
			n, _, ok = r.Latest()
		}
	}
	if !ok {
		return 0, nil, fmt.Errorf("umbrella has no candidate for %s: %w", o.Version, domain.ErrNotStarted)
	}

	tag := o.Version.WithCandidate(n).Tag()
	commits := make(map[string]string, len(o.Repos))
	for _, r := range o.Repos {
		commit := r.Candidates[n]
		if commit == "" {
			return 0, nil, &domain.BranchConflictError{
				Repo:     r.Repo.Name,
				Branch:   r.Branch,
				Expected: tag,
				Detail:   "the umbrella's latest candidate is missing here",
			}
		}
		commits[r.Repo.Name] = commit
	}
	return n, commits, nil
}

// Observe fetches every repository and reads its remote refs for version's
// release, in parallel on the bounded worker pool.
func (c *Coordinator) Observe(ctx context.Context, version domain.Version) (Observation, error) {
	release := version.Release()
	names := release.Names()
	repos := c.repos.All()
	out := make([]RepoObservation, len(repos))

	err := forEach(ctx, c.parallelism, len(repos), func(ctx context.Context, i int) error {
		repo := repos[i]
		if err := c.fetch(ctx, repo); err != nil {
			return err
		}
		refs, err := c.RemoteRefs(ctx, repo)
		if err != nil {
			return err
		}

		obs := RepoObservation{
			Repo:        repo,
			Branch:      names.BaseBranch,
			Candidates:  make(map[uint64]string),
			FinalCommit: refs.Tags[names.FinalTag],
		}
		obs.BranchHead, obs.BranchExists = refs.Branches[names.BaseBranch]
		for _, n := range domain.CandidatesFor(release, refs.TagNames()) {
			obs.Candidates[n] = refs.Tags[release.WithCandidate(n).Tag()]
		}
		out[i] = obs
		return nil
	})
	if err != nil {
		return Observation{}, err
	}
	return Observation{Version: release, Repos: out}, nil
}

// VerifyBases checks, in parallel, that every recorded branch base is still
// an ancestor of the observed branch head.
func (c *Coordinator) VerifyBases(ctx context.Context, obs Observation, bases map[string]string) error {
	return forEach(ctx, c.parallelism, len(obs.Repos), func(ctx context.Context, i int) error {
		r := obs.Repos[i]
		base := bases[r.Repo.Name]
		if base == "" {
			return nil
		}
		if !r.BranchExists {
			return &domain.BranchConflictError{
				Repo: r.Repo.Name, Branch: r.Branch, Expected: base,
				Detail: "release branch was deleted on the remote",
			}
		}
		return c.verifyBase(ctx, r.Repo, r.Branch, base, r.BranchHead)
	})
}

// CheckSubmoduleDrift verifies that the umbrella's release branch head still
// points every submodule at the commit the matching leaf candidate was
// tagged at. A pointer moved by hand is a *domain.BranchConflictError.
func (c *Coordinator) CheckSubmoduleDrift(ctx context.Context, obs Observation) error {
	umbrella := c.repos.Umbrella()
	u, ok := obs.Get(umbrella.Name)
	if !ok || !u.BranchExists {
		return nil
	}
	n, _, ok := u.Latest()
	if !ok {
		return nil
	}

	for _, leaf := range c.repos.Leaves() {
		l, _ := obs.Get(leaf.Name)
		want := l.Candidates[n]
		if want == "" {
			continue
		}
		var got string
		err := c.local(ctx, umbrella, "ls-tree", leaf.SubmodulePath, func(ctx context.Context) error {
			var err error
			got, err = c.git.SubmoduleCommit(ctx, umbrella, u.BranchHead, leaf.SubmodulePath)
			return err
		})
		if err != nil {
			return err
		}
		if got != want {
			return &domain.BranchConflictError{
				Repo:     umbrella.Name,
				Branch:   u.Branch,
				Expected: want,
				Actual:   got,
				Detail: fmt.Sprintf("submodule %s no longer matches %s %s",
					leaf.SubmodulePath, leaf.Name, obs.Version.WithCandidate(n).Tag()),
			}
		}
	}
	return nil
}
