package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
)

// DebugEnv enables debug logging when set to a true value.
const DebugEnv = "RATCHET_DEBUG"

func options(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Standardize 'error' key to 'err'
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}
}

// New creates a configured application logger.
// It writes to Stderr to keep Stdout for command output.
// It standardizes common keys (e.g., "error" -> "err").
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, options(level)))
}

// NewJSON is New with one JSON object per record, for --json runs.
func NewJSON(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, options(level)))
}

// NewNop returns a no-op logger.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Level picks debug when the flag is set or DebugEnv is true, info otherwise.
func Level(debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	if on, err := strconv.ParseBool(os.Getenv(DebugEnv)); err == nil && on {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
