package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/ratchet/internal/logging"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/ports"
)

// Driver implements ports.Git by executing the git binary.
type Driver struct {
	binary  string
	remote  string
	timeout time.Duration
	env     []string
	logger  *slog.Logger
}

// Option configures the driver.
type Option func(*Driver)

// WithBinary sets the git executable (default "git").
func WithBinary(path string) Option {
	return func(d *Driver) {
		d.binary = path
	}
}

// WithRemote sets the remote name (default "origin").
func WithRemote(name string) Option {
	return func(d *Driver) {
		d.remote = name
	}
}

// WithNetworkTimeout bounds every fetch, ls-remote and push.
func WithNetworkTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		d.timeout = timeout
	}
}

// WithEnv appends KEY=VALUE pairs to the environment of every command.
func WithEnv(env ...string) Option {
	return func(d *Driver) {
		d.env = append(d.env, env...)
	}
}

// WithLogger configures a logger for command tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// New creates a git driver.
func New(opts ...Option) *Driver {
	d := &Driver{
		binary:  "git",
		remote:  "origin",
		timeout: 2 * time.Minute,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ ports.Git = (*Driver)(nil)

type invocation struct {
	repo    domain.Repository
	op      string
	network bool
	stdin   string
	args    []string
}

// run executes git inside the repository's working tree.
func (d *Driver) run(ctx context.Context, inv invocation) (string, error) {
	if inv.network && d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, d.binary, inv.args...)
	cmd.Dir = inv.repo.LocalPath
	// Prompts would hang a non-interactive run; C locale keeps messages stable for classification.
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	cmd.Env = append(cmd.Env, d.env...)
	if inv.stdin != "" {
		cmd.Stdin = strings.NewReader(inv.stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	d.logger.DebugContext(ctx, "git",
		"repo", inv.repo.Name,
		"op", inv.op,
		"args", strings.Join(inv.args, " "),
		"duration", time.Since(start),
		"err", err,
	)
	if err != nil {
		return stdout.String(), d.classify(ctx, inv, err, stdout.String()+stderr.String())
	}
	return stdout.String(), nil
}

var (
	signingMarkers = []string{
		"gpg failed to sign",
		"failed to sign the data",
		"secret key not available",
		"no secret key",
		"unusable secret key",
		"error: gpg",
		"ssh-keygen",
	}
	rejectedMarkers = []string{
		"[rejected]",
		"[remote rejected]",
		"already exists",
		"non-fast-forward",
		"atomic push failed",
	}
	networkMarkers = []string{
		"could not resolve host",
		"connection timed out",
		"connection refused",
		"connection reset",
		"operation timed out",
		"early eof",
		"the remote end hung up",
		"unable to access",
		"could not read from remote repository",
		"network is unreachable",
		"tls connection was non-properly terminated",
	}
)

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// classify maps a failed command onto the domain error taxonomy.
func (d *Driver) classify(ctx context.Context, inv invocation, err error, output string) error {
	if inv.network && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.TimeoutError{Repo: inv.repo.Name, Op: inv.op, After: d.timeout}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %s: %w", inv.repo.Name, inv.op, ctx.Err())
	}

	lower := strings.ToLower(output)
	switch {
	case containsAny(lower, signingMarkers):
		return &domain.SigningError{Repo: inv.repo.Name, Err: errors.New(strings.TrimSpace(output))}
	case inv.network && containsAny(lower, rejectedMarkers):
		return &domain.RemoteRejectedError{Repo: inv.repo.Name, Ref: strings.Join(inv.args[len(inv.args)-1:], " "), Detail: strings.TrimSpace(output)}
	case inv.network && containsAny(lower, networkMarkers):
		return &domain.NetworkError{Repo: inv.repo.Name, Op: inv.op, Err: errors.New(strings.TrimSpace(output))}
	}
	return &domain.GitError{Repo: inv.repo.Name, Op: inv.op, Args: inv.args, Stderr: output, Err: err}
}

// Fetch updates remote-tracking branches and tags.
func (d *Driver) Fetch(ctx context.Context, repo domain.Repository) error {
	_, err := d.run(ctx, invocation{repo: repo, op: "fetch", network: true,
		args: []string{"fetch", "--force", "--tags", "--quiet", d.remote}})
	return err
}

// ListRemote reads the remote's branches and peeled tags via ls-remote.
func (d *Driver) ListRemote(ctx context.Context, repo domain.Repository) (ports.RemoteRefs, error) {
	out, err := d.run(ctx, invocation{repo: repo, op: "ls-remote", network: true,
		args: []string{"ls-remote", "--heads", "--tags", d.remote}})
	if err != nil {
		return ports.RemoteRefs{}, err
	}
	return ParseLsRemote(out), nil
}

// ParseLsRemote parses `git ls-remote` output. Peeled entries ("^{}") win
// over the tag object they dereference.
func ParseLsRemote(out string) ports.RemoteRefs {
	refs := ports.RemoteRefs{
		Branches: make(map[string]string),
		Tags:     make(map[string]string),
	}
	peeled := make(map[string]bool)

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		sha, name := fields[0], fields[1]
		switch {
		case strings.HasPrefix(name, "refs/heads/"):
			refs.Branches[strings.TrimPrefix(name, "refs/heads/")] = sha
		case strings.HasPrefix(name, "refs/tags/") && strings.HasSuffix(name, "^{}"):
			tag := strings.TrimSuffix(strings.TrimPrefix(name, "refs/tags/"), "^{}")
			refs.Tags[tag] = sha
			peeled[tag] = true
		case strings.HasPrefix(name, "refs/tags/"):
			tag := strings.TrimPrefix(name, "refs/tags/")
			if !peeled[tag] {
				refs.Tags[tag] = sha
			}
		}
	}
	return refs
}

// Push pushes refspecs to the remote.
func (d *Driver) Push(ctx context.Context, repo domain.Repository, req ports.PushRequest) error {
	args := []string{"push", "--porcelain"}
	if req.Atomic {
		args = append(args, "--atomic")
	}
	args = append(args, d.remote)
	args = append(args, req.Refspecs...)
	_, err := d.run(ctx, invocation{repo: repo, op: "push", network: true, args: args})
	return err
}

// DeleteRemoteTag removes a tag from the remote. A tag that is already gone is not an error.
func (d *Driver) DeleteRemoteTag(ctx context.Context, repo domain.Repository, tag string) error {
	_, err := d.run(ctx, invocation{repo: repo, op: "delete-remote-tag", network: true,
		args: []string{"push", "--porcelain", d.remote, ":refs/tags/" + tag}})
	var gitErr *domain.GitError
	if errors.As(err, &gitErr) && strings.Contains(strings.ToLower(gitErr.Stderr), "remote ref does not exist") {
		return nil
	}
	return err
}

// DefaultBranch returns the integration branch: the descriptor override, the
// remote HEAD, or "main".
func (d *Driver) DefaultBranch(ctx context.Context, repo domain.Repository) (string, error) {
	if repo.DefaultBranch != "" {
		return repo.DefaultBranch, nil
	}
	out, err := d.run(ctx, invocation{repo: repo, op: "default-branch",
		args: []string{"symbolic-ref", "--short", "refs/remotes/" + d.remote + "/HEAD"}})
	if err != nil {
		d.logger.DebugContext(ctx, "remote HEAD unknown, assuming main", "repo", repo.Name)
		return "main", nil
	}
	return strings.TrimPrefix(strings.TrimSpace(out), d.remote+"/"), nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (d *Driver) IsAncestor(ctx context.Context, repo domain.Repository, ancestor, descendant string) (bool, error) {
	_, err := d.run(ctx, invocation{repo: repo, op: "merge-base",
		args: []string{"merge-base", "--is-ancestor", ancestor, descendant}})
	if err == nil {
		return true, nil
	}
	var gitErr *domain.GitError
	var exitErr *exec.ExitError
	if errors.As(err, &gitErr) && errors.As(gitErr.Err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}

// CheckoutBranch resets branch to commit and checks it out.
func (d *Driver) CheckoutBranch(ctx context.Context, repo domain.Repository, branch, commit string) error {
	_, err := d.run(ctx, invocation{repo: repo, op: "checkout",
		args: []string{"checkout", "--quiet", "-B", branch, commit}})
	return err
}

func identity(a domain.Actor) []string {
	var args []string
	if a.Name != "" {
		args = append(args, "-c", "user.name="+a.Name)
	}
	if a.Email != "" {
		args = append(args, "-c", "user.email="+a.Email)
	}
	return args
}

// CreateTag creates an annotated tag, signed when a key is given.
func (d *Driver) CreateTag(ctx context.Context, repo domain.Repository, req ports.TagRequest) error {
	args := identity(req.Tagger)
	args = append(args, "tag", "--cleanup=verbatim", "-F", "-")
	if req.SigningKey != "" {
		args = append(args, "-u", req.SigningKey)
	} else {
		args = append(args, "-a")
	}
	args = append(args, req.Name, req.Commit)

	_, err := d.run(ctx, invocation{repo: repo, op: "tag", stdin: req.Message, args: args})
	var signErr *domain.SigningError
	if errors.As(err, &signErr) {
		signErr.KeyID = req.SigningKey
	}
	return err
}

// DeleteLocalTag removes a local tag. A missing tag is not an error.
func (d *Driver) DeleteLocalTag(ctx context.Context, repo domain.Repository, tag string) error {
	_, err := d.run(ctx, invocation{repo: repo, op: "tag-delete", args: []string{"tag", "-d", tag}})
	var gitErr *domain.GitError
	if errors.As(err, &gitErr) && strings.Contains(gitErr.Stderr, "not found") {
		return nil
	}
	return err
}

// SubmoduleCommit reads the gitlink recorded for path in ref's tree.
func (d *Driver) SubmoduleCommit(ctx context.Context, repo domain.Repository, ref, path string) (string, error) {
	out, err := d.run(ctx, invocation{repo: repo, op: "ls-tree", args: []string{"ls-tree", ref, "--", path}})
	if err != nil {
		return "", err
	}
	// <mode> SP <type> SP <object> TAB <file>
	fields := strings.Fields(out)
	if len(fields) < 3 || fields[1] != "commit" {
		return "", &domain.GitError{Repo: repo.Name, Op: "ls-tree", Stderr: fmt.Sprintf("%s is not a submodule at %s", path, ref), Err: errors.New("no gitlink")}
	}
	return fields[2], nil
}

// SetSubmodule stages a gitlink pointing path at commit, adding it to the
// index when absent.
func (d *Driver) SetSubmodule(ctx context.Context, repo domain.Repository, path, commit string) error {
	_, err := d.run(ctx, invocation{repo: repo, op: "update-index",
		args: []string{"update-index", "--add", "--cacheinfo", "160000," + commit + "," + path}})
	return err
}

// WriteFile writes data at a path relative to the working tree.
func (d *Driver) WriteFile(ctx context.Context, repo domain.Repository, path string, data []byte) error {
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s: path %q escapes the working tree", repo.Name, path)
	}
	full := filepath.Join(repo.LocalPath, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("%s: %w", repo.Name, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("%s: %w", repo.Name, err)
	}
	return nil
}

// Stage adds paths to the index.
func (d *Driver) Stage(ctx context.Context, repo domain.Repository, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "--"}, paths...)
	_, err := d.run(ctx, invocation{repo: repo, op: "add", args: args})
	return err
}

// Commit records the index and returns the new HEAD. Empty commits are
// allowed so every candidate round leaves a distinct umbrella commit.
func (d *Driver) Commit(ctx context.Context, repo domain.Repository, req ports.CommitRequest) (string, error) {
	args := identity(req.Author)
	args = append(args, "commit", "--quiet", "--allow-empty", "--cleanup=verbatim", "-F", "-")
	if req.SigningKey != "" {
		args = append(args, "-S"+req.SigningKey)
	}
	if _, err := d.run(ctx, invocation{repo: repo, op: "commit", stdin: req.Message, args: args}); err != nil {
		var signErr *domain.SigningError
		if errors.As(err, &signErr) {
			signErr.KeyID = req.SigningKey
		}
		return "", err
	}
	out, err := d.run(ctx, invocation{repo: repo, op: "rev-parse", args: []string{"rev-parse", "HEAD"}})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
