package coordinator

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/ports"
)

// Step names reported to hooks and logs.
const (
	StepBranchCut      = "branch_cut"
	StepCandidateRound = "candidate_round"
	StepFinalRound     = "final_round"
)

// TagResult is one tag produced (or found already in place) by a round.
type TagResult struct {
	Repo    string
	Tag     string
	Commit  string
	Skipped bool
}

// RoundResult is the outcome of a successful round, in registry order.
type RoundResult struct {
	Version        domain.Version
	Tags           []TagResult
	UmbrellaCommit string
}

// Commit returns the tagged commit for repo.
func (r RoundResult) Commit(repo string) string {
	for _, t := range r.Tags {
		if t.Repo == repo {
			return t.Commit
		}
	}
	return ""
}

// RoundRequest describes one candidate round.
type RoundRequest struct {
	// Version carries the candidate number to create.
	Version domain.Version
	Notes   string
	// Bases holds the last known-good release branch head per repository.
	Bases map[string]string
}

// FinalRequest describes the promotion of the latest candidates.
type FinalRequest struct {
	Version domain.Version
	// Commits holds the latest candidate commit per repository.
	Commits map[string]string
	Notes   string
}

// BranchCut ensures the release branch on every repository, leaves first.
// Branches are idempotent and are not rolled back.
func (c *Coordinator) BranchCut(ctx context.Context, version domain.Version, bases map[string]string) (map[string]Branch, error) {
	c.stepStart(ctx, StepBranchCut, version)
	branch := version.Names().BaseBranch
	out := make(map[string]Branch)
	for _, repo := range c.repos.All() {
		b, err := c.EnsureBranch(ctx, repo, branch, bases[repo.Name])
		if err != nil {
			c.stepEnd(ctx, StepBranchCut, version, err)
			return nil, err
		}
		out[repo.Name] = b
	}
	c.stepEnd(ctx, StepBranchCut, version, nil)
	return out, nil
}

// CandidateRound tags every leaf with req.Version's candidate tag in
// registry order. Only when all leaves succeeded is the umbrella updated to
// point at them, committed, tagged and pushed. Any failure removes the tags
// created by this round and leaves the umbrella untouched on the remote.
func (c *Coordinator) CandidateRound(ctx context.Context, req RoundRequest) (RoundResult, error) {
	if !req.Version.IsCandidate() {
		return RoundResult{}, fmt.Errorf("candidate round needs a candidate version, got %s", req.Version)
	}
	c.stepStart(ctx, StepCandidateRound, req.Version)
	res, err := c.candidateRound(ctx, req)
	c.stepEnd(ctx, StepCandidateRound, req.Version, err)
	return res, err
}

func (c *Coordinator) candidateRound(ctx context.Context, req RoundRequest) (RoundResult, error) {
	step := c.Begin(StepCandidateRound)
	tag := req.Version.Tag()
	branch := req.Version.Names().BaseBranch
	res := RoundResult{Version: req.Version}

	for _, leaf := range c.repos.Leaves() {
		commit, err := c.tagLeaf(ctx, step, leaf, branch, tag, req.Bases[leaf.Name], candidateMessage(req.Version, req.Notes))
		if err != nil {
			return RoundResult{}, c.Abort(ctx, step, err)
		}
		res.Tags = append(res.Tags, TagResult{Repo: leaf.Name, Tag: tag, Commit: commit})
	}

	commit, err := c.tagUmbrella(ctx, step, req, res.Tags)
	if err != nil {
		return RoundResult{}, c.Abort(ctx, step, err)
	}
	res.UmbrellaCommit = commit
	res.Tags = append(res.Tags, TagResult{Repo: c.repos.Umbrella().Name, Tag: tag, Commit: commit})
	return res, nil
}

func (c *Coordinator) tagLeaf(ctx context.Context, step *Step, leaf domain.Repository, branch, tag, base, message string) (string, error) {
	refs, err := c.RemoteRefs(ctx, leaf)
	if err != nil {
		return "", err
	}
	if existing, taken := refs.Tags[tag]; taken {
		return "", &domain.RemoteRejectedError{
			Repo: leaf.Name, Ref: "refs/tags/" + tag, Actual: existing,
			Detail: "tag was created concurrently by another workspace",
		}
	}
	b, err := c.ensureBranch(ctx, leaf, refs, branch, base)
	if err != nil {
		return "", err
	}
	return c.CreateTag(ctx, step, leaf, TagSpec{Name: tag, Commit: b.Head, Message: message})
}

func (c *Coordinator) tagUmbrella(ctx context.Context, step *Step, req RoundRequest, leaves []TagResult) (string, error) {
	umbrella := c.repos.Umbrella()
	tag := req.Version.Tag()

	refs, err := c.RemoteRefs(ctx, umbrella)
	if err != nil {
		return "", err
	}
	if existing, taken := refs.Tags[tag]; taken {
		return "", &domain.RemoteRejectedError{
			Repo: umbrella.Name, Ref: "refs/tags/" + tag, Actual: existing,
			Detail: "tag was created concurrently by another workspace",
		}
	}
	b, err := c.ensureBranch(ctx, umbrella, refs, req.Version.Names().BaseBranch, req.Bases[umbrella.Name])
	if err != nil {
		return "", err
	}
	if err := c.fetch(ctx, umbrella); err != nil {
		return "", err
	}
	if err := c.local(ctx, umbrella, "checkout", b.Name, func(ctx context.Context) error {
		return c.git.CheckoutBranch(ctx, umbrella, b.Name, b.Head)
	}); err != nil {
		return "", err
	}

	commit, err := c.commitUmbrella(ctx, umbrella, req, leaves)
	if err == nil {
		err = c.pushUmbrella(ctx, umbrella, b.Name, TagSpec{Name: tag, Commit: commit, Message: candidateMessage(req.Version, req.Notes)})
	}
	if err != nil {
		c.resetUmbrella(ctx, umbrella, b, tag)
		return "", err
	}

	step.add(umbrella, tag)
	return commit, nil
}

// commitUmbrella stages the leaf pointers and the release notes and commits.
func (c *Coordinator) commitUmbrella(ctx context.Context, umbrella domain.Repository, req RoundRequest, leaves []TagResult) (string, error) {
	for _, l := range leaves {
		if err := c.UpdateSubmodulePointer(ctx, umbrella, l.Repo, l.Commit); err != nil {
			return "", err
		}
	}

	if req.Notes != "" {
		notesPath := path.Join(c.notesDir, fmt.Sprintf("%s-%s.md", umbrella.Name, req.Version.Release().Tag()))
		if err := c.local(ctx, umbrella, "write", notesPath, func(ctx context.Context) error {
			return c.git.WriteFile(ctx, umbrella, notesPath, []byte(req.Notes))
		}); err != nil {
			return "", err
		}
		if err := c.local(ctx, umbrella, "add", notesPath, func(ctx context.Context) error {
			return c.git.Stage(ctx, umbrella, notesPath)
		}); err != nil {
			return "", err
		}
	}

	var commit string
	err := c.local(ctx, umbrella, "commit", req.Version.Tag(), func(ctx context.Context) error {
		var err error
		commit, err = c.git.Commit(ctx, umbrella, ports.CommitRequest{
			Message:    c.umbrellaCommitMessage(req.Version, leaves),
			SigningKey: c.actor.SigningKeyID,
			Author:     c.actor,
		})
		return err
	})
	if err != nil {
		return "", err
	}
	c.record(ctx, umbrella.Name, ports.ActionUmbrellaCommit, req.Version.Names().BaseBranch, commit, "")
	return commit, nil
}

// pushUmbrella tags the umbrella commit and pushes branch and tag together.
func (c *Coordinator) pushUmbrella(ctx context.Context, umbrella domain.Repository, branch string, spec TagSpec) error {
	if err := c.local(ctx, umbrella, "tag-delete", spec.Name, func(ctx context.Context) error {
		return c.git.DeleteLocalTag(ctx, umbrella, spec.Name)
	}); err != nil {
		return err
	}
	if err := c.createLocalTag(ctx, umbrella, spec); err != nil {
		return err
	}
	req := ports.PushRequest{
		Refspecs: []string{
			"refs/heads/" + branch + ":refs/heads/" + branch,
			"refs/tags/" + spec.Name + ":refs/tags/" + spec.Name,
		},
		Atomic: true,
	}
	err := c.network(ctx, umbrella, "push", spec.Name, func(ctx context.Context) error {
		return c.git.Push(ctx, umbrella, req)
	})
	if err != nil {
		return c.describeRejection(ctx, umbrella, "refs/tags/"+spec.Name, spec.Commit, err)
	}
	c.logger.InfoContext(ctx, "created tag", "repo", umbrella.Name, "tag", spec.Name, "commit", spec.Commit)
	c.record(ctx, umbrella.Name, ports.ActionTagCreate, spec.Name, spec.Commit, "")
	return nil
}

// resetUmbrella discards a local umbrella commit that never reached the remote.
func (c *Coordinator) resetUmbrella(ctx context.Context, umbrella domain.Repository, b Branch, tag string) {
	ctx = context.WithoutCancel(ctx)
	c.dropLocalTag(ctx, umbrella, tag)
	if err := c.git.CheckoutBranch(ctx, umbrella, b.Name, b.Head); err != nil {
		c.logger.ErrorContext(ctx, "could not reset umbrella branch", "branch", b.Name, "commit", b.Head, "err", err)
		return
	}
	c.record(ctx, umbrella.Name, ports.ActionUmbrellaReverted, b.Name, b.Head, "")
}

// FinalRound tags req.Commits, one promoted candidate per repository, with the
// final tag, leaves first. A final tag already present at the same commit is kept
// as is; one at another commit is a *domain.RemoteRejectedError.
func (c *Coordinator) FinalRound(ctx context.Context, req FinalRequest) (RoundResult, error) {
	version := req.Version.Release()
	c.stepStart(ctx, StepFinalRound, version)
	res, err := c.finalRound(ctx, version, req)
	c.stepEnd(ctx, StepFinalRound, version, err)
	return res, err
}

func (c *Coordinator) finalRound(ctx context.Context, version domain.Version, req FinalRequest) (RoundResult, error) {
	step := c.Begin(StepFinalRound)
	tag := version.Names().FinalTag
	res := RoundResult{Version: version}

	for _, repo := range c.repos.All() {
		commit := req.Commits[repo.Name]
		if commit == "" {
			return RoundResult{}, c.Abort(ctx, step, fmt.Errorf("%s: no candidate to promote: %w", repo.Name, domain.ErrNotStarted))
		}

		refs, err := c.RemoteRefs(ctx, repo)
		if err != nil {
			return RoundResult{}, c.Abort(ctx, step, err)
		}
		if existing, ok := refs.Tags[tag]; ok {
			if existing != commit {
				return RoundResult{}, c.Abort(ctx, step, &domain.RemoteRejectedError{
					Repo: repo.Name, Ref: "refs/tags/" + tag, Expected: commit, Actual: existing,
					Detail: "final tag exists at a different commit",
				})
			}
			c.logger.InfoContext(ctx, "final tag already in place", "repo", repo.Name, "tag", tag)
			res.Tags = append(res.Tags, TagResult{Repo: repo.Name, Tag: tag, Commit: commit, Skipped: true})
			continue
		}

		if err := c.fetch(ctx, repo); err != nil {
			return RoundResult{}, c.Abort(ctx, step, err)
		}
		if _, err := c.CreateTag(ctx, step, repo, TagSpec{Name: tag, Commit: commit, Message: finalMessage(version, req.Notes)}); err != nil {
			return RoundResult{}, c.Abort(ctx, step, err)
		}
		res.Tags = append(res.Tags, TagResult{Repo: repo.Name, Tag: tag, Commit: commit})
	}
	res.UmbrellaCommit = res.Commit(c.repos.Umbrella().Name)
	return res, nil
}

func candidateMessage(v domain.Version, notes string) string {
	msg := fmt.Sprintf("Release Candidate %d for %s", *v.Candidate, v.Release().Tag())
	return withNotes(msg, notes)
}

func finalMessage(v domain.Version, notes string) string {
	return withNotes("Release "+v.Tag(), notes)
}

func withNotes(subject, notes string) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return subject + "\n"
	}
	return subject + "\n\n" + notes + "\n"
}

func (c *Coordinator) umbrellaCommitMessage(v domain.Version, leaves []TagResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Release Candidate %d for %s\n\n", *v.Candidate, v.Release().Tag())
	for _, l := range leaves {
		sub := l.Repo
		if d, err := c.repos.Resolve(l.Repo); err == nil {
			sub = d.SubmodulePath
		}
		fmt.Fprintf(&b, "%s: %s (%s)\n", sub, l.Tag, shortSHA(l.Commit))
	}
	return b.String()
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
