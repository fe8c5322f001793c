package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrStateNotFound is returned when no release state is stored under a key.
var ErrStateNotFound = errors.New("release state not found")

// ErrAmbiguousTarget is returned when neither a local state nor an explicit
// version identifies the release to act on.
var ErrAmbiguousTarget = errors.New("no release in progress in this workspace and no version given")

// ErrNotStarted is returned when acting on a release that has no candidates.
var ErrNotStarted = errors.New("release has not been started")

// ErrAlreadyReleased is returned when the final tag already exists upstream.
var ErrAlreadyReleased = errors.New("release already published")

// ErrWorkspaceBusy is returned by start while another release is tracked.
var ErrWorkspaceBusy = errors.New("another release is in progress in this workspace; finish or archive it first")

// ParseError reports malformed version input.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid version %q: %s", e.Input, e.Reason)
}

// NotFoundError reports an unknown repository name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("repository %q is not part of the release set", e.Name)
}

// AlreadyStartedError is returned by start when the base version is taken.
type AlreadyStartedError struct {
	Version Version
	Phase   Phase
	Where   string // "workspace" or "remote"
}

func (e *AlreadyStartedError) Error() string {
	return fmt.Sprintf("release %s already started (%s, phase %s); use continue", e.Version, e.Where, e.Phase)
}

// InvalidTransitionError is returned for an intent the current phase forbids.
type InvalidTransitionError struct {
	From   Phase
	Intent string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a release in phase %s", e.Intent, e.From)
}

// NetworkError is a transient failure talking to a remote.
type NetworkError struct {
	Repo string
	Op   string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s: network failure: %v", e.Repo, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError is a network operation that exceeded its deadline.
type TimeoutError struct {
	Repo  string
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s: timed out after %s", e.Repo, e.Op, e.After)
}

// BranchConflictError reports a branch whose state diverges from expectation.
type BranchConflictError struct {
	Repo     string
	Branch   string
	Expected string
	Actual   string
	Detail   string
}

func (e *BranchConflictError) Error() string {
	msg := fmt.Sprintf("%s: branch %s diverged: expected %s, found %s",
		e.Repo, e.Branch, shortRef(e.Expected), shortRef(e.Actual))
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// RemoteRejectedError reports a push refused by the remote, typically
// because another operator created the same ref first.
type RemoteRejectedError struct {
	Repo     string
	Ref      string
	Expected string
	Actual   string
	Detail   string
}

func (e *RemoteRejectedError) Error() string {
	msg := fmt.Sprintf("%s: remote rejected %s", e.Repo, e.Ref)
	if e.Expected != "" || e.Actual != "" {
		msg += fmt.Sprintf(": expected %s, remote has %s", shortRef(e.Expected), shortRef(e.Actual))
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// SigningError reports an unusable signing key.
type SigningError struct {
	Repo  string
	KeyID string
	Err   error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("%s: unable to sign with key %q: %v", e.Repo, e.KeyID, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// StateCorruptionError reports an unreadable or inconsistent state record.
type StateCorruptionError struct {
	Location string
	Err      error
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("release state at %s is corrupted, inspect it manually: %v", e.Location, e.Err)
}

func (e *StateCorruptionError) Unwrap() error { return e.Err }

// GitError is a git command failure that matched no other category.
type GitError struct {
	Repo   string
	Op     string
	Args   []string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("%s: %s failed: %v", e.Repo, e.Op, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *GitError) Unwrap() error { return e.Err }

// RollbackItem is one artifact a rollback could not remove.
type RollbackItem struct {
	Repo string
	Ref  string
	Err  error
}

// RollbackFailure is returned when compensation itself fails. Items lists
// the refs that may now exist without a matching release state.
type RollbackFailure struct {
	Cause error
	Items []RollbackItem
}

func (e *RollbackFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rollback incomplete after: %v\n", e.Cause)
	fmt.Fprintf(&b, "%d artifact(s) may be inconsistent:\n", len(e.Items))
	for i, it := range e.Items {
		fmt.Fprintf(&b, "  %d. %s %s: %v\n", i+1, it.Repo, it.Ref, it.Err)
	}
	return b.String()
}

func (e *RollbackFailure) Unwrap() error { return e.Cause }

// IsRetryable reports whether err is a transient network condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr *NetworkError
	var toErr *TimeoutError
	return errors.As(err, &netErr) || errors.As(err, &toErr)
}

func shortRef(ref string) string {
	if ref == "" {
		return "<none>"
	}
	if len(ref) == 40 {
		return ref[:12]
	}
	return ref
}
