package domain

import (
	"fmt"
	"time"
)

// Phase is the release lifecycle position. Phases only move forward.
type Phase string

const (
	PhaseUninitialized       Phase = "uninitialized"
	PhaseBranchCut           Phase = "branch_cut"
	PhaseCandidateInProgress Phase = "candidate_in_progress"
	PhaseFinished            Phase = "finished"
)

var phaseRank = map[Phase]int{
	PhaseUninitialized:       0,
	PhaseBranchCut:           1,
	PhaseCandidateInProgress: 2,
	PhaseFinished:            3,
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	_, ok := phaseRank[p]
	return ok
}

// Before reports whether p precedes o in the lifecycle.
func (p Phase) Before(o Phase) bool {
	return phaseRank[p] < phaseRank[o]
}

// Actor identifies the operator driving a release.
type Actor struct {
	Name         string `yaml:"name" json:"name"`
	Email        string `yaml:"email" json:"email"`
	SigningKeyID string `yaml:"signing_key" json:"signing_key"`
}

func (a Actor) String() string {
	if a.Email == "" {
		return a.Name
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// RepoProgress records what has been done to one repository.
type RepoProgress struct {
	BranchCut bool `json:"branch_cut"`

	// BranchBase is the last known-good head of the release branch.
	BranchBase string `json:"branch_base,omitempty"`

	// LastTag is the most recent tag created for this release.
	LastTag string `json:"last_tag,omitempty"`

	// LastCommit is the commit LastTag points at.
	LastCommit string `json:"last_commit,omitempty"`
}

// ReleaseState is the persisted aggregate describing a release in progress.
type ReleaseState struct {
	Version   Version                 `json:"version"`
	Phase     Phase                   `json:"phase"`
	Repos     map[string]RepoProgress `json:"repos"`
	CreatedBy Actor                   `json:"created_by"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// NewReleaseState creates an uninitialized state for version.
func NewReleaseState(version Version, actor Actor, now time.Time) *ReleaseState {
	return &ReleaseState{
		Version:   version.Release(),
		Phase:     PhaseUninitialized,
		Repos:     make(map[string]RepoProgress),
		CreatedBy: actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of s.
func (s *ReleaseState) Clone() *ReleaseState {
	if s == nil {
		return nil
	}
	c := *s
	if s.Version.Candidate != nil {
		n := *s.Version.Candidate
		c.Version.Candidate = &n
	}
	c.Repos = make(map[string]RepoProgress, len(s.Repos))
	for k, v := range s.Repos {
		c.Repos[k] = v
	}
	return &c
}

// Advance moves s to phase next. Regressions are rejected.
func (s *ReleaseState) Advance(next Phase, now time.Time) error {
	if next.Before(s.Phase) {
		return fmt.Errorf("phase cannot regress from %s to %s", s.Phase, next)
	}
	s.Phase = next
	s.UpdatedAt = now
	return nil
}

// LastCandidate returns the highest candidate number recorded across repos.
func (s *ReleaseState) LastCandidate() uint64 {
	var last uint64
	for _, p := range s.Repos {
		if p.LastTag == "" {
			continue
		}
		v, err := ParseTag(p.LastTag)
		if err != nil || v.Candidate == nil {
			continue
		}
		if *v.Candidate > last {
			last = *v.Candidate
		}
	}
	return last
}

// Validate checks internal consistency of a loaded state.
func (s *ReleaseState) Validate() error {
	if !s.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	if s.Version.Candidate != nil {
		return fmt.Errorf("state version %s must not carry a candidate", s.Version)
	}
	for name, p := range s.Repos {
		if p.LastTag == "" {
			continue
		}
		v, err := ParseTag(p.LastTag)
		if err != nil {
			return fmt.Errorf("repo %s: %w", name, err)
		}
		if !v.SameRelease(s.Version) {
			return fmt.Errorf("repo %s: tag %s does not belong to release %s", name, p.LastTag, s.Version)
		}
	}
	return nil
}
