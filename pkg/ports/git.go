package ports

import (
	"context"

	"github.com/aretw0/ratchet/pkg/domain"
)

// RemoteRefs is a snapshot of a remote's branch and tag namespace.
// Tag values are peeled: they name the tagged commit, not the tag object.
type RemoteRefs struct {
	Branches map[string]string
	Tags     map[string]string
}

// TagNames returns the tag names present in the snapshot.
func (r RemoteRefs) TagNames() []string {
	names := make([]string, 0, len(r.Tags))
	for name := range r.Tags {
		names = append(names, name)
	}
	return names
}

// TagRequest describes an annotated tag to create locally.
type TagRequest struct {
	Name       string
	Commit     string
	Message    string
	SigningKey string
	Tagger     domain.Actor
}

// CommitRequest describes a commit of the staged index.
type CommitRequest struct {
	Message    string
	SigningKey string
	Author     domain.Actor
}

// PushRequest lists refspecs to push to the repository's remote.
// With Atomic set, either every ref is updated or none is.
type PushRequest struct {
	Refspecs []string
	Atomic   bool
}

// Git is the driven port for git plumbing against one repository at a time.
//
// Network operations (Fetch, ListRemote, Push, DeleteRemoteTag) report
// transient failures as *domain.NetworkError or *domain.TimeoutError so the
// coordinator can retry them. Refused pushes are *domain.RemoteRejectedError
// and signing failures *domain.SigningError.
type Git interface {
	Fetch(ctx context.Context, repo domain.Repository) error
	ListRemote(ctx context.Context, repo domain.Repository) (RemoteRefs, error)
	Push(ctx context.Context, repo domain.Repository, req PushRequest) error
	DeleteRemoteTag(ctx context.Context, repo domain.Repository, tag string) error

	DefaultBranch(ctx context.Context, repo domain.Repository) (string, error)
	IsAncestor(ctx context.Context, repo domain.Repository, ancestor, descendant string) (bool, error)

	// CheckoutBranch points branch at commit and checks it out, discarding
	// whatever the local branch pointed at before.
	CheckoutBranch(ctx context.Context, repo domain.Repository, branch, commit string) error

	CreateTag(ctx context.Context, repo domain.Repository, req TagRequest) error
	DeleteLocalTag(ctx context.Context, repo domain.Repository, tag string) error

	// SubmoduleCommit returns the commit recorded for path in the tree of ref.
	SubmoduleCommit(ctx context.Context, repo domain.Repository, ref, path string) (string, error)
	// SetSubmodule stages a gitlink update of path to commit.
	SetSubmodule(ctx context.Context, repo domain.Repository, path, commit string) error

	WriteFile(ctx context.Context, repo domain.Repository, path string, data []byte) error
	Stage(ctx context.Context, repo domain.Repository, paths ...string) error
	Commit(ctx context.Context, repo domain.Repository, req CommitRequest) (string, error)
}
