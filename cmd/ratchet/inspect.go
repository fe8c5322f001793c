package main

import (
	"context"
	"fmt"

	"github.com/aretw0/ratchet"
	"github.com/aretw0/ratchet/internal/cli"
	"github.com/aretw0/ratchet/internal/presentation/tui"
	"github.com/aretw0/ratchet/internal/runtime"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the release next to what the remotes hold",
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
			return withRatchet(cmd, func(ctx context.Context, r *ratchet.Ratchet, opts cli.Options) error {
				report, err := r.Status(ctx, version)
				if err != nil {
					return err
				}
				return cli.Emit(cmd.OutOrStdout(), opts.JSON, report, func(p *tui.Printer) error {
					p.Status(report)
					if notes == "" {
						return nil
					}
					return p.Notes(notes)
				})
			})
		},
	}
	cmd.Flags().String("version", "", "release to inspect, e.g. 0.99.0")
	cmd.Flags().String("notes", "", "preview a release notes markdown file")
	return cmd
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <start|continue|finish> [version]",
		Short: "Show what a step would do without touching the remotes",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			intent, err := runtime.ParseIntent(args[0])
			if err != nil {
				return err
			}
			var version *domain.Version
			if len(args) == 2 {
				v, err := domain.ParseVersion(args[1])
				if err != nil {
					return err
				}
				version = &v
			}
			return withRatchet(cmd, func(ctx context.Context, r *ratchet.Ratchet, opts cli.Options) error {
				plan, err := r.Plan(ctx, intent, version)
				if err != nil {
					return err
				}
				return cli.Emit(cmd.OutOrStdout(), opts.JSON, plan, func(p *tui.Printer) error {
					p.Plan(plan)
					return nil
				})
			})
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List releases and candidates published on the umbrella",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRatchet(cmd, func(ctx context.Context, r *ratchet.Ratchet, opts cli.Options) error {
				releases, err := r.List(ctx)
				if err != nil {
					return err
				}
				return cli.Emit(cmd.OutOrStdout(), opts.JSON, releases, func(p *tui.Printer) error {
					p.Releases(releases)
					return nil
				})
			})
		},
	}
}

func archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Move this workspace's release state aside",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRatchet(cmd, func(ctx context.Context, r *ratchet.Ratchet, opts cli.Options) error {
				key, err := r.Archive(ctx)
				if err != nil {
					return err
				}
				return cli.Emit(cmd.OutOrStdout(), opts.JSON, map[string]string{"archived": key}, func(p *tui.Printer) error {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "state archived as %s\n", key)
					return err
				})
			})
		},
	}
}

func journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show the audit journal of git mutations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withRatchet(cmd, func(ctx context.Context, r *ratchet.Ratchet, opts cli.Options) error {
				entries, err := r.Journal(ctx, limit)
				if err != nil {
					return err
				}
				return cli.Emit(cmd.OutOrStdout(), opts.JSON, entries, func(p *tui.Printer) error {
					p.Journal(entries)
					return nil
				})
			})
		},
	}
	cmd.Flags().Int("limit", 50, "number of entries to show, 0 for all")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ratchet",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			tui.PrintBanner(w, ratchet.Version, tui.IsTerminal(w))
		},
	}
}
