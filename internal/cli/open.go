package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/aretw0/ratchet"
	"github.com/aretw0/ratchet/internal/config"
	"github.com/aretw0/ratchet/internal/presentation/tui"
	"github.com/spf13/viper"
)

// Options holds the global flags shared by every command.
type Options struct {
	Workspace string
	Debug     bool
	JSON      bool
}

// OptionsFrom reads the global flags bound in v.
func OptionsFrom(v *viper.Viper) Options {
	return Options{
		Workspace: v.GetString("workspace"),
		Debug:     v.GetBool("debug"),
		JSON:      v.GetBool("json"),
	}
}

// Open loads the workspace configuration, applies the overrides bound in v
// and builds a Ratchet with the CLI's logger and debug hooks.
func Open(opts Options, v *viper.Viper) (*ratchet.Ratchet, error) {
	cfg, err := config.Load(opts.Workspace)
	if err != nil {
		return nil, err
	}
	cfg.Overlay(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := NewLogger(opts.Debug, opts.JSON)
	r, err := ratchet.New(opts.Workspace,
		ratchet.WithConfig(cfg),
		ratchet.WithLogger(logger),
		ratchet.WithLifecycleHooks(DebugHooks(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("error opening workspace: %w", err)
	}
	logger.Debug("Workspace Opened", "workspace", opts.Workspace, "invocation_id", r.InvocationID(),
		"backend", cfg.State.Backend)
	return r, nil
}

// Emit writes v as indented JSON in JSON mode, and calls human otherwise.
func Emit(w io.Writer, jsonMode bool, v any, human func(*tui.Printer) error) error {
	if jsonMode {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return human(tui.NewPrinter(w))
}
