package main

import (
	"context"

	"github.com/aretw0/ratchet"
	"github.com/aretw0/ratchet/internal/cli"
	"github.com/aretw0/ratchet/internal/presentation/tui"
	"github.com/aretw0/ratchet/internal/runtime"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/spf13/cobra"
)

func addNotesFlag(cmd *cobra.Command) {
	cmd.Flags().String("notes", "", "release notes markdown file, or - for stdin")
}

func notesFlag(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("notes")
	return cli.ReadNotes(path, cmd.InOrStdin())
}

// printOutcome shows what a lifecycle step published, followed by its notes.
func printOutcome(cmd *cobra.Command, opts cli.Options, intent runtime.Intent, out *ratchet.Outcome, notes string) error {
	return cli.Emit(cmd.OutOrStdout(), opts.JSON, out, func(p *tui.Printer) error {
		p.Outcome(intent, out)
		if notes == "" {
			return nil
		}
		return p.Notes(notes)
	})
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <version>",
		Short: "Cut the release branches and publish the first candidate",
		Long: `Creates the release branch in every repository from its default branch and
tags rc1 everywhere. The version must be a final version such as 0.99.0.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := domain.ParseVersion(args[0])
			if err != nil {
				return err
			}
			notes, err := notesFlag(cmd)
			if err != nil {
				return err
			}
			return withRatchet(cmd, func(ctx context.Context, r *ratchet.Ratchet, opts cli.Options) error {
				out, err := r.Start(ctx, ratchet.StartRequest{Version: version, Notes: notes})
				if err != nil {
					return err
				}
				return printOutcome(cmd, opts, runtime.IntentStart, out, notes)
			})
		},
	}
	addNotesFlag(cmd)
	return cmd
}

func continueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "continue",
		Short: "Publish the next release candidate",
		Long: `Tags the current head of every release branch with the next candidate number.
Without --version the release in progress in this workspace is continued.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := versionFlag(cmd)
			if err != nil {
				return err
			}
			notes, err := notesFlag(cmd)
			if err != nil {
				return err
			}
			return withRatchet(cmd, func(ctx context.Context, r *ratchet.Ratchet, opts cli.Options) error {
				out, err := r.Continue(ctx, ratchet.ContinueRequest{Version: version, Notes: notes})
				if err != nil {
					return err
				}
				return printOutcome(cmd, opts, runtime.IntentContinue, out, notes)
			})
		},
	}
	cmd.Flags().String("version", "", "release to continue, e.g. 0.99.0")
	addNotesFlag(cmd)
	return cmd
}

func finishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finish",
		Short: "Promote the latest candidates to the final release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := versionFlag(cmd)
			if err != nil {
				return err
			}
			notes, err := notesFlag(cmd)
			if err != nil {
				return err
			}
			archive, _ := cmd.Flags().GetBool("archive")
			return withRatchet(cmd, func(ctx context.Context, r *ratchet.Ratchet, opts cli.Options) error {
				out, err := r.Finish(ctx, ratchet.FinishRequest{Version: version, Notes: notes, Archive: archive})
				if err != nil {
					return err
				}
				return printOutcome(cmd, opts, runtime.IntentFinish, out, notes)
			})
		},
	}
	cmd.Flags().String("version", "", "release to finish, e.g. 0.99.0")
	cmd.Flags().Bool("archive", false, "archive the release state once finished")
	addNotesFlag(cmd)
	return cmd
}
