package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/metalagman/bendover/internal/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage bendover runs",
	}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsPruneCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repoRoot, err := os.Getwd()
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(repoRoot)
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tCREATED\tSTATUS\tSTEPS\tGOAL")
			for _, r := range runs {
				created := "-"
				if !r.CreatedAt.IsZero() {
					created = r.CreatedAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n", r.RunID, created, r.Status, r.Attempts, r.MaxSteps, truncate(r.Goal, 60))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show (0 for all)")
	return cmd
}

func runsPruneCmd() *cobra.Command {
	var keepLast int
	var keepDays int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune old runs from disk and database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repoRoot, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(repoRoot)
			if err != nil {
				return err
			}

			policy := run.RetentionPolicy{KeepLast: keepLast, KeepDays: keepDays}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				policy = run.RetentionPolicy{
					KeepLast: cfg.Retention.KeepLast,
					KeepDays: cfg.Retention.KeepDays,
				}
			}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				return fmt.Errorf("set --keep-last or --keep-days (or configure retention in %s)", defaultConfigPath)
			}

			lock, err := run.AcquireLock(stateDir(repoRoot))
			if err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()

			store, closeFn, err := openStore(repoRoot)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := run.PruneRuns(cmd.Context(), store, runsDir(repoRoot), policy, dryRun)
			if err != nil {
				return err
			}
			mode := "deleted"
			if dryRun {
				mode = "would delete"
			}
			log.Info().Msgf("%s %d runs (kept %d, skipped %d)", mode, res.Deleted, res.Kept, res.Skipped)

			if !dryRun {
				removed, err := run.PruneWorktrees(cmd.Context(), repoRoot, sandboxRoot(repoRoot, cfg))
				if err != nil {
					return err
				}
				if removed > 0 {
					log.Info().Int("worktrees", removed).Msg("removed leftover sandbox worktrees")
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep the newest N runs")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "keep runs newer than N days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be pruned without deleting")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
