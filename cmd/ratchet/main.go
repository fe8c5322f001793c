package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/ratchet"
	"github.com/aretw0/ratchet/internal/cli"
	"github.com/aretw0/ratchet/internal/config"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "ratchet",
	Short: "Ratchet releases a multi-repository product",
	Long: `Ratchet cuts release branches, publishes release candidates and final tags
across a set of leaf repositories and the umbrella repository that pins them as
submodules. Each step happens in every repository or in none.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()

	sc := cli.NewSignalContext(context.Background())
	defer sc.Cancel()

	if err := rootCmd.ExecuteContext(sc); err != nil {
		os.Exit(report(os.Stderr, err, sc.Signal()))
	}
}

// report prints err and returns the exit code. A rollback failure is always
// printed in full, since it lists the refs left behind.
func report(w io.Writer, err error, sig os.Signal) int {
	fmt.Fprintln(w, "error:", err)
	if sig != nil && cli.IsInterrupted(err) {
		cli.PrintSystemMessage(w, "Interrupted by %s. Partial work was rolled back.", sig)
		return 130
	}
	return exitCode(err)
}

func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(config.EnvKeyReplacer)
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory holding ratchet.yaml")
	flags.Bool("json", false, "output JSON")
	flags.Bool("debug", false, "log every git operation to stderr")
	flags.String("remote", "", "git remote to publish to (overrides git.remote)")
	flags.String("state-backend", "", "state backend: file or redis (overrides state.backend)")
	_ = viper.BindPFlag("workspace", flags.Lookup("workspace"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("git.remote", flags.Lookup("remote"))
	_ = viper.BindPFlag("state.backend", flags.Lookup("state-backend"))
}

func registerCommands() {
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(continueCmd())
	rootCmd.AddCommand(finishCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(journalCmd())
	rootCmd.AddCommand(versionCmd())
}

// withRatchet opens the workspace for the duration of fn.
func withRatchet(cmd *cobra.Command, fn func(context.Context, *ratchet.Ratchet, cli.Options) error) (err error) {
	opts := cli.OptionsFrom(viper.GetViper())
	r, err := cli.Open(opts, viper.GetViper())
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, r.Close())
	}()
	return fn(cmd.Context(), r, opts)
}

// versionFlag parses an optional --version flag.
func versionFlag(cmd *cobra.Command) (*domain.Version, error) {
	text, _ := cmd.Flags().GetString("version")
	if text == "" {
		return nil, nil
	}
	v, err := domain.ParseVersion(text)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// exitCode separates operator mistakes from failures of the remotes. A
// failed rollback gets its own code: the remotes may need manual cleanup.
func exitCode(err error) int {
	var (
		cerr *config.ConfigError
		perr *domain.ParseError
		terr *domain.InvalidTransitionError
		aerr *domain.AlreadyStartedError
		rerr *domain.RollbackFailure
	)
	switch {
	case errors.As(err, &rerr):
		return 4
	case errors.As(err, &cerr), errors.As(err, &perr), errors.As(err, &terr):
		return 2
	case errors.As(err, &aerr), errors.Is(err, domain.ErrAlreadyReleased), errors.Is(err, domain.ErrNotStarted),
		errors.Is(err, domain.ErrAmbiguousTarget), errors.Is(err, domain.ErrWorkspaceBusy):
		return 3
	}
	return 1
}
