package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/ports"
)

// TagSpec describes a tag to create and push.
type TagSpec struct {
	Name    string
	Commit  string
	Message string
}

// Branch is the outcome of EnsureBranch.
type Branch struct {
	Name    string
	Head    string
	Created bool
}

// RemoteRefs lists the remote's branches and tags.
func (c *Coordinator) RemoteRefs(ctx context.Context, repo domain.Repository) (ports.RemoteRefs, error) {
	var refs ports.RemoteRefs
	err := c.network(ctx, repo, "ls-remote", "", func(ctx context.Context) error {
		var err error
		refs, err = c.git.ListRemote(ctx, repo)
		return err
	})
	return refs, err
}

func (c *Coordinator) fetch(ctx context.Context, repo domain.Repository) error {
	return c.network(ctx, repo, "fetch", "", func(ctx context.Context) error {
		return c.git.Fetch(ctx, repo)
	})
}

// ListCandidateTags returns the candidate numbers that exist on the remote
// for version's release, ascending.
func (c *Coordinator) ListCandidateTags(ctx context.Context, repo domain.Repository, version domain.Version) ([]uint64, error) {
	refs, err := c.RemoteRefs(ctx, repo)
	if err != nil {
		return nil, err
	}
	return domain.CandidatesFor(version.Release(), refs.TagNames()), nil
}

// EnsureBranch makes sure branch exists on the remote.
//
// An existing branch is left alone when expectedBase is empty or is an
// ancestor of its head. An absent branch is created from the repository's
// integration branch and pushed. An existing branch whose head no longer
// descends from expectedBase is a *domain.BranchConflictError.
func (c *Coordinator) EnsureBranch(ctx context.Context, repo domain.Repository, branch, expectedBase string) (Branch, error) {
	refs, err := c.RemoteRefs(ctx, repo)
	if err != nil {
		return Branch{}, err
	}
	return c.ensureBranch(ctx, repo, refs, branch, expectedBase)
}

func (c *Coordinator) ensureBranch(ctx context.Context, repo domain.Repository, refs ports.RemoteRefs, branch, expectedBase string) (Branch, error) {
	if head, ok := refs.Branches[branch]; ok {
		if err := c.verifyBase(ctx, repo, branch, expectedBase, head); err != nil {
			return Branch{}, err
		}
		return Branch{Name: branch, Head: head}, nil
	}

	if expectedBase != "" {
		return Branch{}, &domain.BranchConflictError{
			Repo: repo.Name, Branch: branch, Expected: expectedBase,
			Detail: "release branch was deleted on the remote",
		}
	}

	var integration string
	err := c.local(ctx, repo, "default-branch", "", func(ctx context.Context) error {
		var err error
		integration, err = c.git.DefaultBranch(ctx, repo)
		return err
	})
	if err != nil {
		return Branch{}, err
	}
	base, ok := refs.Branches[integration]
	if !ok {
		return Branch{}, fmt.Errorf("%s: integration branch %q not found on remote", repo.Name, integration)
	}

	if err := c.fetch(ctx, repo); err != nil {
		return Branch{}, err
	}
	if err := c.local(ctx, repo, "checkout", branch, func(ctx context.Context) error {
		return c.git.CheckoutBranch(ctx, repo, branch, base)
	}); err != nil {
		return Branch{}, err
	}
	refspec := "refs/heads/" + branch + ":refs/heads/" + branch
	if err := c.network(ctx, repo, "push", branch, func(ctx context.Context) error {
		return c.git.Push(ctx, repo, ports.PushRequest{Refspecs: []string{refspec}})
	}); err != nil {
		return Branch{}, err
	}

	c.logger.InfoContext(ctx, "created release branch", "repo", repo.Name, "branch", branch, "from", integration, "commit", base)
	c.record(ctx, repo.Name, ports.ActionBranchCreate, branch, base, "from "+integration)
	return Branch{Name: branch, Head: base, Created: true}, nil
}

// verifyBase checks that head still descends from the last known-good base.
func (c *Coordinator) verifyBase(ctx context.Context, repo domain.Repository, branch, expectedBase, head string) error {
	if expectedBase == "" || expectedBase == head {
		return nil
	}
	var ok bool
	err := c.local(ctx, repo, "merge-base", branch, func(ctx context.Context) error {
		var err error
		ok, err = c.git.IsAncestor(ctx, repo, expectedBase, head)
		return err
	})
	if err != nil {
		return err
	}
	if !ok {
		return &domain.BranchConflictError{
			Repo: repo.Name, Branch: branch, Expected: expectedBase, Actual: head,
			Detail: "recorded base is not an ancestor of the remote head",
		}
	}
	return nil
}

// CreateTag creates an annotated tag at spec.Commit, signed with the actor's
// key when one is configured, and pushes it. The tag is added to step so a
// later failure in the same step removes it again.
func (c *Coordinator) CreateTag(ctx context.Context, step *Step, repo domain.Repository, spec TagSpec) (string, error) {
	// The remote was checked for this name; a local leftover is stale.
	if err := c.local(ctx, repo, "tag-delete", spec.Name, func(ctx context.Context) error {
		return c.git.DeleteLocalTag(ctx, repo, spec.Name)
	}); err != nil {
		return "", err
	}

	if err := c.createLocalTag(ctx, repo, spec); err != nil {
		return "", err
	}

	refspec := "refs/tags/" + spec.Name + ":refs/tags/" + spec.Name
	err := c.network(ctx, repo, "push", spec.Name, func(ctx context.Context) error {
		return c.git.Push(ctx, repo, ports.PushRequest{Refspecs: []string{refspec}})
	})
	if err != nil {
		c.dropLocalTag(ctx, repo, spec.Name)
		return "", c.describeRejection(ctx, repo, "refs/tags/"+spec.Name, spec.Commit, err)
	}

	step.add(repo, spec.Name)
	c.logger.InfoContext(ctx, "created tag", "repo", repo.Name, "tag", spec.Name, "commit", spec.Commit)
	c.record(ctx, repo.Name, ports.ActionTagCreate, spec.Name, spec.Commit, "")
	return spec.Commit, nil
}

func (c *Coordinator) createLocalTag(ctx context.Context, repo domain.Repository, spec TagSpec) error {
	return c.local(ctx, repo, "tag", spec.Name, func(ctx context.Context) error {
		return c.git.CreateTag(ctx, repo, ports.TagRequest{
			Name:       spec.Name,
			Commit:     spec.Commit,
			Message:    spec.Message,
			SigningKey: c.actor.SigningKeyID,
			Tagger:     c.actor,
		})
	})
}

func (c *Coordinator) dropLocalTag(ctx context.Context, repo domain.Repository, tag string) {
	ctx = context.WithoutCancel(ctx)
	if err := c.git.DeleteLocalTag(ctx, repo, tag); err != nil {
		c.logger.WarnContext(ctx, "could not remove local tag", "repo", repo.Name, "tag", tag, "err", err)
	}
}

// describeRejection fills in the remote's view of ref on a refused push.
func (c *Coordinator) describeRejection(ctx context.Context, repo domain.Repository, ref, expected string, err error) error {
	var rejected *domain.RemoteRejectedError
	if !errors.As(err, &rejected) || rejected.Actual != "" {
		return err
	}
	rejected.Ref = ref
	rejected.Expected = expected
	refs, lerr := c.git.ListRemote(context.WithoutCancel(ctx), repo)
	if lerr != nil {
		return err
	}
	if tag, ok := strings.CutPrefix(ref, "refs/tags/"); ok {
		rejected.Actual = refs.Tags[tag]
	} else if branch, ok := strings.CutPrefix(ref, "refs/heads/"); ok {
		rejected.Actual = refs.Branches[branch]
	}
	return err
}

// UpdateSubmodulePointer stages the umbrella's gitlink for leafName at
// leafCommit. It neither commits nor pushes.
func (c *Coordinator) UpdateSubmodulePointer(ctx context.Context, umbrella domain.Repository, leafName, leafCommit string) error {
	leaf, err := c.repos.Resolve(leafName)
	if err != nil {
		return err
	}
	return c.local(ctx, umbrella, "update-index", leaf.SubmodulePath, func(ctx context.Context) error {
		return c.git.SetSubmodule(ctx, umbrella, leaf.SubmodulePath, leafCommit)
	})
}
