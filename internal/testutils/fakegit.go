package testutils

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/ports"
)

// Fault makes the Nth call (1-based, counted per repository and operation)
// of a FakeGit operation fail. Times extends the failure to that many
// consecutive calls; a negative Times fails every call from Nth on.
type Fault struct {
	Repo  string
	Op    string
	Nth   int
	Times int
	Err   error
}

type commitObj struct {
	parent   string
	message  string
	gitlinks map[string]string
	files    map[string]string
}

type localTag struct {
	commit     string
	message    string
	signingKey string
}

type fakeRepo struct {
	defaultBranch string

	remoteBranches map[string]string
	remoteTags     map[string]string

	branches map[string]string
	tags     map[string]localTag
	head     string

	index    map[string]string // gitlinks staged for the next commit
	worktree map[string]string
	staged   map[string]string
}

// FakeGit is an in-memory ports.Git. Every repository has a local clone and
// a remote; commits live in one graph shared by all repositories.
type FakeGit struct {
	mu        sync.Mutex
	seq       int
	commits   map[string]*commitObj
	repos     map[string]*fakeRepo
	faults    []Fault
	calls     map[string]int
	mutations []string
	badKeys   map[string]bool
}

var _ ports.Git = (*FakeGit)(nil)

// NewFakeGit creates an empty fake.
func NewFakeGit() *FakeGit {
	return &FakeGit{
		commits: make(map[string]*commitObj),
		repos:   make(map[string]*fakeRepo),
		calls:   make(map[string]int),
		badKeys: make(map[string]bool),
	}
}

// Seed creates every repository with one commit on main, pushed. The
// umbrella's first commit points each leaf's submodule path at that leaf's
// initial commit.
func (f *FakeGit) Seed(repos []domain.Repository) {
	f.mu.Lock()
	defer f.mu.Unlock()

	links := make(map[string]string)
	var umbrella *domain.Repository
	for i := range repos {
		r := repos[i]
		if r.IsUmbrella() {
			umbrella = &r
			continue
		}
		sha := f.newCommitLocked("", "initial "+r.Name, nil, nil)
		f.addRepoLocked(r, sha)
		if r.SubmodulePath != "" {
			links[r.SubmodulePath] = sha
		}
	}
	if umbrella != nil {
		sha := f.newCommitLocked("", "initial "+umbrella.Name, links, nil)
		f.addRepoLocked(*umbrella, sha)
	}
}

func (f *FakeGit) addRepoLocked(r domain.Repository, sha string) {
	branch := r.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	f.repos[r.Name] = &fakeRepo{
		defaultBranch:  branch,
		remoteBranches: map[string]string{branch: sha},
		remoteTags:     make(map[string]string),
		branches:       map[string]string{branch: sha},
		tags:           make(map[string]localTag),
		head:           branch,
		index:          maps.Clone(f.commits[sha].gitlinks),
		worktree:       make(map[string]string),
		staged:         make(map[string]string),
	}
}

func (f *FakeGit) newCommitLocked(parent, message string, gitlinks, files map[string]string) string {
	f.seq++
	sha := fmt.Sprintf("%040x", f.seq)
	if gitlinks == nil {
		gitlinks = make(map[string]string)
	}
	if files == nil {
		files = make(map[string]string)
	}
	f.commits[sha] = &commitObj{parent: parent, message: message, gitlinks: gitlinks, files: files}
	return sha
}

// Inject registers a fault.
func (f *FakeGit) Inject(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fault.Nth == 0 {
		fault.Nth = 1
	}
	if fault.Times == 0 {
		fault.Times = 1
	}
	f.faults = append(f.faults, fault)
}

// RejectSigningKey makes every tag or commit signed with key fail.
func (f *FakeGit) RejectSigningKey(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.badKeys[key] = true
}

// PushCommit simulates another developer pushing a new commit onto a remote
// branch. The new commit inherits the parent's gitlinks.
func (f *FakeGit) PushCommit(repo, branch, message string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.mustRepo(repo)
	parent := r.remoteBranches[branch]
	var links map[string]string
	if c, ok := f.commits[parent]; ok {
		links = maps.Clone(c.gitlinks)
	}
	sha := f.newCommitLocked(parent, message, links, nil)
	r.remoteBranches[branch] = sha
	return sha
}

// ForcePushCommit replaces a remote branch with an unrelated commit.
func (f *FakeGit) ForcePushCommit(repo, branch string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha := f.newCommitLocked("", "rewritten history", nil, nil)
	f.mustRepo(repo).remoteBranches[branch] = sha
	return sha
}

// PushGitlink simulates a manual umbrella commit moving a submodule pointer.
func (f *FakeGit) PushGitlink(repo, branch, path, commit string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.mustRepo(repo)
	parent := r.remoteBranches[branch]
	links := maps.Clone(f.commits[parent].gitlinks)
	links[path] = commit
	sha := f.newCommitLocked(parent, "manual submodule bump", links, nil)
	r.remoteBranches[branch] = sha
	return sha
}

// SetRemoteTag creates or moves a tag on the remote, bypassing any local clone.
func (f *FakeGit) SetRemoteTag(repo, tag, commit string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mustRepo(repo).remoteTags[tag] = commit
}

// RemoteTags returns a copy of the remote tag namespace.
func (f *FakeGit) RemoteTags(repo string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.mustRepo(repo).remoteTags)
}

// RemoteBranch returns the remote head of branch, or "".
func (f *FakeGit) RemoteBranch(repo, branch string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mustRepo(repo).remoteBranches[branch]
}

// LocalTags returns the local tag names of repo, sorted.
func (f *FakeGit) LocalTags(repo string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Sorted(maps.Keys(f.mustRepo(repo).tags))
}

// TagSigningKey returns the key a local tag was signed with.
func (f *FakeGit) TagSigningKey(repo, tag string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mustRepo(repo).tags[tag].signingKey
}

// TagMessage returns the annotation of a local tag.
func (f *FakeGit) TagMessage(repo, tag string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mustRepo(repo).tags[tag].message
}

// Gitlinks returns the submodule pointers recorded in commit.
func (f *FakeGit) Gitlinks(commit string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.commits[commit]; ok {
		return maps.Clone(c.gitlinks)
	}
	return nil
}

// File returns a file's content as committed in commit.
func (f *FakeGit) File(commit, path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.commits[commit]
	if !ok {
		return "", false
	}
	content, ok := c.files[path]
	return content, ok
}

// Mutations returns every state-changing call in order, e.g.
// "push s3gw-ui refs/tags/v0.99.0-rc1".
func (f *FakeGit) Mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.mutations)
}

// RemoteMutations returns the mutations that reached a remote.
func (f *FakeGit) RemoteMutations() []string {
	var out []string
	for _, m := range f.Mutations() {
		if strings.HasPrefix(m, "push ") || strings.HasPrefix(m, "delete-remote-tag ") {
			out = append(out, m)
		}
	}
	return out
}

// Calls returns how many times op was invoked on repo.
func (f *FakeGit) Calls(repo, op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[repo+"/"+op]
}

func (f *FakeGit) mustRepo(name string) *fakeRepo {
	r, ok := f.repos[name]
	if !ok {
		panic("fakegit: unknown repository " + name)
	}
	return r
}

// enter counts the call and returns the matching injected fault, if any.
func (f *FakeGit) enter(ctx context.Context, repo domain.Repository, op string) (*fakeRepo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := repo.Name + "/" + op
	f.calls[key]++
	n := f.calls[key]
	for _, fl := range f.faults {
		if fl.Repo != repo.Name || fl.Op != op {
			continue
		}
		if n >= fl.Nth && (fl.Times < 0 || n < fl.Nth+fl.Times) {
			return nil, fl.Err
		}
	}
	r, ok := f.repos[repo.Name]
	if !ok {
		return nil, &domain.GitError{Repo: repo.Name, Op: op, Err: fmt.Errorf("no such repository")}
	}
	return r, nil
}

func (f *FakeGit) record(format string, args ...any) {
	f.mutations = append(f.mutations, fmt.Sprintf(format, args...))
}

func (f *FakeGit) isAncestorLocked(ancestor, descendant string) bool {
	for c := descendant; c != ""; {
		if c == ancestor {
			return true
		}
		obj, ok := f.commits[c]
		if !ok {
			return false
		}
		c = obj.parent
	}
	return false
}

func (f *FakeGit) resolveLocked(r *fakeRepo, ref string) (string, bool) {
	switch {
	case ref == "HEAD":
		sha, ok := r.branches[r.head]
		return sha, ok
	case strings.HasPrefix(ref, "refs/heads/"):
		sha, ok := r.branches[strings.TrimPrefix(ref, "refs/heads/")]
		return sha, ok
	case strings.HasPrefix(ref, "refs/tags/"):
		t, ok := r.tags[strings.TrimPrefix(ref, "refs/tags/")]
		return t.commit, ok
	case strings.HasPrefix(ref, "refs/remotes/origin/"):
		sha, ok := r.remoteBranches[strings.TrimPrefix(ref, "refs/remotes/origin/")]
		return sha, ok
	}
	if _, ok := f.commits[ref]; ok {
		return ref, true
	}
	if sha, ok := r.branches[ref]; ok {
		return sha, true
	}
	if t, ok := r.tags[ref]; ok {
		return t.commit, true
	}
	return "", false
}

func (f *FakeGit) Fetch(ctx context.Context, repo domain.Repository) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.enter(ctx, repo, "fetch")
	if err != nil {
		return err
	}
	for name, sha := range r.remoteTags {
		t := r.tags[name]
		if t.commit != sha {
			r.tags[name] = localTag{commit: sha}
		}
	}
	return nil
}

func (f *FakeGit) ListRemote(ctx context.Context, repo domain.Repository) (ports.RemoteRefs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.enter(ctx, repo, "ls-remote")
	if err != nil {
		return ports.RemoteRefs{}, err
	}
	return ports.RemoteRefs{
		Branches: maps.Clone(r.remoteBranches),
		Tags:     maps.Clone(r.remoteTags),
	}, nil
}

type refUpdate struct {
	dst    string
	commit string
}

func (f *FakeGit) Push(ctx context.Context, repo domain.Repository, req ports.PushRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.enter(ctx, repo, "push")
	if err != nil {
		return err
	}

	var updates []refUpdate
	for _, spec := range req.Refspecs {
		src, dst, ok := strings.Cut(spec, ":")
		if !ok {
			dst = src
		}
		sha, found := f.resolveLocked(r, src)
		if !found {
			return &domain.GitError{Repo: repo.Name, Op: "push", Err: fmt.Errorf("src refspec %s does not match any", src)}
		}
		if err := f.checkUpdateLocked(repo.Name, r, dst, sha); err != nil {
			if req.Atomic {
				return err
			}
			f.applyLocked(repo.Name, r, updates)
			return err
		}
		updates = append(updates, refUpdate{dst: dst, commit: sha})
	}
	f.applyLocked(repo.Name, r, updates)
	return nil
}

func (f *FakeGit) checkUpdateLocked(name string, r *fakeRepo, dst, sha string) error {
	switch {
	case strings.HasPrefix(dst, "refs/tags/"):
		tag := strings.TrimPrefix(dst, "refs/tags/")
		if cur, ok := r.remoteTags[tag]; ok && cur != sha {
			return &domain.RemoteRejectedError{Repo: name, Ref: dst, Expected: sha, Actual: cur, Detail: "tag already exists"}
		}
	case strings.HasPrefix(dst, "refs/heads/"):
		branch := strings.TrimPrefix(dst, "refs/heads/")
		if cur, ok := r.remoteBranches[branch]; ok && !f.isAncestorLocked(cur, sha) {
			return &domain.RemoteRejectedError{Repo: name, Ref: dst, Expected: sha, Actual: cur, Detail: "non-fast-forward"}
		}
	default:
		return &domain.GitError{Repo: name, Op: "push", Err: fmt.Errorf("unsupported destination %s", dst)}
	}
	return nil
}

func (f *FakeGit) applyLocked(name string, r *fakeRepo, updates []refUpdate) {
	for _, u := range updates {
		if tag, ok := strings.CutPrefix(u.dst, "refs/tags/"); ok {
			r.remoteTags[tag] = u.commit
		} else {
			r.remoteBranches[strings.TrimPrefix(u.dst, "refs/heads/")] = u.commit
		}
		f.record("push %s %s", name, u.dst)
	}
}

func (f *FakeGit) DeleteRemoteTag(ctx context.Context, repo domain.Repository, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.enter(ctx, repo, "delete-remote-tag")
	if err != nil {
		return err
	}
	if _, ok := r.remoteTags[tag]; ok {
		delete(r.remoteTags, tag)
		f.record("delete-remote-tag %s %s", repo.Name, tag)
	}
	return nil
}

func (f *FakeGit) DefaultBranch(ctx context.Context, repo domain.Repository) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.enter(ctx, repo, "default-branch")
	if err != nil {
		return "", err
	}
	return r.defaultBranch, nil
}

func (f *FakeGit) IsAncestor(ctx context.Context, repo domain.Repository, ancestor, descendant string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.enter(ctx, repo, "merge-base"); err != nil {
		return false, err
	}
	if _, ok := f.commits[descendant]; !ok {
		return false, &domain.GitError{Repo: repo.Name, Op: "merge-base", Err: fmt.Errorf("unknown commit %s", descendant)}
	}
	return f.isAncestorLocked(ancestor, descendant), nil
}

func (f *FakeGit) CheckoutBranch(ctx context.Context, repo domain.Repository, branch, commit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.enter(ctx, repo, "checkout")
	if err != nil {
		return err
	}
	c, ok := f.commits[commit]
	if !ok {
		return &domain.GitError{Repo: repo.Name, Op: "checkout", Err: fmt.Errorf("unknown commit %s", commit)}
	}
	r.branches[branch] = commit
	r.head = branch
	r.index = maps.Clone(c.gitlinks)
	r.worktree = make(map[string]string)
	r.staged = make(map[string]string)
	f.record("checkout %s %s", repo.Name, branch)
	return nil
}

func (f *FakeGit) CreateTag(ctx context.Context, repo domain.Repository, req ports.TagRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.enter(ctx, repo, "tag")
	if err != nil {
		return err
	}
	if f.badKeys[req.SigningKey] {
		return &domain.SigningError{Repo: repo.Name, KeyID: req.SigningKey, Err: fmt.Errorf("secret key not available")}
	}
	if _, ok := f.commits[req.Commit]; !ok {
		return &domain.GitError{Repo: repo.Name, Op: "tag", Err: fmt.Errorf("unknown commit %s", req.Commit)}
	}
	if _, ok := r.tags[req.Name]; ok {
		return &domain.GitError{Repo: repo.Name, Op: "tag", Err: fmt.Errorf("tag '%s' already exists", req.Name)}
	}
	r.tags[req.Name] = localTag{commit: req.Commit, message: req.Message, signingKey: req.SigningKey}
	f.record("tag %s %s", repo.Name, req.Name)
	return nil
}

func (f *FakeGit) DeleteLocalTag(ctx context.Context, repo domain.Repository, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.enter(ctx, repo, "tag-delete")
	if err != nil {
		return err
	}
	if _, ok := r.tags[tag]; ok {
		delete(r.tags, tag)
		f.record("tag-delete %s %s", repo.Name, tag)
	}
	return nil
}

func (f *FakeGit) SubmoduleCommit(ctx context.Context, repo domain.Repository, ref, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.enter(ctx, repo, "ls-tree")
	if err != nil {
		return "", err
	}
	sha, ok := f.resolveLocked(r, ref)
	if !ok {
		return "", &domain.GitError{Repo: repo.Name, Op: "ls-tree", Err: fmt.Errorf("unknown ref %s", ref)}
	}
	link, ok := f.commits[sha].gitlinks[path]
	if !ok {
		return "", &domain.GitError{Repo: repo.Name, Op: "ls-tree", Err: fmt.Errorf("%s is not a submodule at %s", path, ref)}
	}
	return link, nil
}

func (f *FakeGit) SetSubmodule(ctx context.Context, repo domain.Repository, path, commit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.enter(ctx, repo, "update-index")
	if err != nil {
		return err
	}
	r.index[path] = commit
	return nil
}

func (f *FakeGit) WriteFile(ctx context.Context, repo domain.Repository, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.enter(ctx, repo, "write")
	if err != nil {
		return err
	}
	r.worktree[path] = string(data)
	return nil
}

func (f *FakeGit) Stage(ctx context.Context, repo domain.Repository, paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.enter(ctx, repo, "add")
	if err != nil {
		return err
	}
	for _, p := range paths {
		content, ok := r.worktree[p]
		if !ok {
			return &domain.GitError{Repo: repo.Name, Op: "add", Err: fmt.Errorf("pathspec '%s' did not match any files", p)}
		}
		r.staged[p] = content
	}
	return nil
}

func (f *FakeGit) Commit(ctx context.Context, repo domain.Repository, req ports.CommitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.enter(ctx, repo, "commit")
	if err != nil {
		return "", err
	}
	if f.badKeys[req.SigningKey] {
		return "", &domain.SigningError{Repo: repo.Name, KeyID: req.SigningKey, Err: fmt.Errorf("secret key not available")}
	}
	parent := r.branches[r.head]
	files := make(map[string]string)
	if c, ok := f.commits[parent]; ok {
		maps.Copy(files, c.files)
	}
	maps.Copy(files, r.staged)
	sha := f.newCommitLocked(parent, req.Message, maps.Clone(r.index), files)
	r.branches[r.head] = sha
	r.staged = make(map[string]string)
	f.record("commit %s %s", repo.Name, r.head)
	return sha, nil
}
