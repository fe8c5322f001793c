package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/aretw0/ratchet/internal/logging"
	"github.com/aretw0/ratchet/pkg/domain"
)

// SignalContext wraps a context and captures the signal that cancelled it.
type SignalContext struct {
	context.Context
	Cancel func()
	start  sync.Once
	stop   sync.Once
	sigCh  chan os.Signal
	sigVal os.Signal
	mu     sync.Mutex
}

// NewSignalContext creates a context that is cancelled on SIGINT or SIGTERM.
// It acts as a drop-in replacement for signal.NotifyContext but allows retrieving the signal.
func NewSignalContext(parent context.Context) *SignalContext {
	ctx, cancel := context.WithCancel(parent)
	sc := &SignalContext{
		Context: ctx,
		Cancel:  cancel,
		sigCh:   make(chan os.Signal, 1),
	}

	sc.start.Do(func() {
		signal.Notify(sc.sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			select {
			case sig := <-sc.sigCh:
				sc.mu.Lock()
				sc.sigVal = sig
				sc.mu.Unlock()
				sc.Cancel()
			case <-sc.Context.Done():
			}
			sc.stop.Do(func() {
				signal.Stop(sc.sigCh)
			})
		}()
	})

	return sc
}

// Signal returns the signal that caused the context to be cancelled, or nil.
func (sc *SignalContext) Signal() os.Signal {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sigVal
}

// NewLogger configures the application logger. Logs go to Stderr so that
// Stdout only carries command output.
func NewLogger(debug, jsonMode bool) *slog.Logger {
	level := logging.Level(debug)
	if jsonMode {
		return logging.NewJSON(level)
	}
	return logging.New(level)
}

// DebugHooks logs every step, git operation and rollback at debug level.
func DebugHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepStart: func(ctx context.Context, e *domain.StepEvent) {
			logger.Debug("Step Start", "step", e.Step, "version", e.Version)
		},
		OnStepEnd: func(ctx context.Context, e *domain.StepEvent) {
			if e.Err != nil {
				logger.Debug("Step Failed", "step", e.Step, "version", e.Version, "err", e.Err)
				return
			}
			logger.Debug("Step Done", "step", e.Step, "version", e.Version)
		},
		OnGitOp: func(ctx context.Context, e *domain.GitEvent) {
			logger.Debug("Git", "repo", e.Repo, "op", e.Op, "ref", e.Ref,
				"attempt", e.Attempt, "duration", e.Duration, "err", e.Err)
		},
		OnRollback: func(ctx context.Context, e *domain.RollbackEvent) {
			logger.Debug("Rollback", "repo", e.Repo, "ref", e.Ref, "err", e.Err)
		},
	}
}

// ReadNotes loads release notes from path, or from stdin when path is "-".
// An empty path yields empty notes.
func ReadNotes(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	switch path {
	case "":
		return "", nil
	case "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading release notes: %w", err)
	}
	return strings.TrimSpace(string(data)) + "\n", nil
}

// IsInterrupted reports whether err stems from a cancelled context whose
// partial work was fully rolled back. A *domain.RollbackFailure is never an
// interruption, even when its cause is.
func IsInterrupted(err error) bool {
	var rf *domain.RollbackFailure
	if errors.As(err, &rf) {
		return false
	}
	return errors.Is(err, context.Canceled)
}

// PrintSystemMessage prints a standardized system message to w.
func PrintSystemMessage(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, ">>> %s\n", fmt.Sprintf(format, args...))
}
