package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/metalagman/bendover/internal/config"
	"github.com/metalagman/bendover/internal/db"
	"github.com/metalagman/bendover/internal/generator"
	"github.com/metalagman/bendover/internal/git"
	"github.com/metalagman/bendover/internal/metrics"
	"github.com/metalagman/bendover/internal/practice"
	"github.com/metalagman/bendover/internal/recorder"
	"github.com/metalagman/bendover/internal/run"
	"github.com/metalagman/bendover/internal/sandbox"
	"github.com/metalagman/bendover/internal/turn"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type runOptions struct {
	goal      string
	base      string
	apply     bool
	noCapture bool
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one agentic edit loop for a goal",
		Long: "Run one agentic edit loop: mount a sandbox worktree at the base commit, let the generator " +
			"take validated steps until it completes or the step budget runs out, then record the diff.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.goal) == "" {
				return fmt.Errorf("--goal is required")
			}
			repoRoot, err := os.Getwd()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return executeRun(ctx, cmd.OutOrStdout(), repoRoot, opts)
		},
	}
	cmd.Flags().StringVar(&opts.goal, "goal", "", "what the run should achieve")
	cmd.Flags().StringVar(&opts.base, "base", "HEAD", "base commit the sandbox starts from")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "apply the final diff to the working tree")
	cmd.Flags().BoolVar(&opts.noCapture, "no-capture", false, "do not record full prompts")
	return cmd
}

func executeRun(ctx context.Context, out io.Writer, repoRoot string, opts runOptions) error {
	if !git.Available(ctx, repoRoot) {
		return fmt.Errorf("current directory is not a git repository")
	}
	cfg, err := loadConfig(repoRoot)
	if err != nil {
		return err
	}

	lock, ok, err := run.TryAcquireLock(stateDir(repoRoot))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("another bendover run holds %s", filepath.Join(stateDir(repoRoot), "locks", "run.lock"))
	}
	defer func() { _ = lock.Release() }()

	store, closeStore, err := openStore(repoRoot)
	if err != nil {
		return err
	}
	defer closeStore()
	if n, err := store.MarkInterrupted(ctx); err != nil {
		return err
	} else if n > 0 {
		log.Warn().Int("runs", n).Msg("marked interrupted runs as failed")
	}

	baseCommit, err := git.ResolveCommit(ctx, repoRoot, opts.base)
	if err != nil {
		return err
	}

	practices := &practice.FileSource{
		Root:     practicesRoot(repoRoot, cfg),
		BundleID: cfg.Practices.Bundle,
		Role:     cfg.Practices.Role,
		Names:    cfg.Practices.Names,
	}
	bundle, err := practices.ResolveBundle()
	if err != nil {
		return err
	}

	gen, err := generator.NewOpenAI(generator.Config{
		Model:           cfg.Generator.Model,
		BaseURL:         cfg.Generator.BaseURL,
		APIKey:          cfg.Generator.APIKey,
		APIKeyEnv:       cfg.Generator.APIKeyEnv,
		Timeout:         cfg.Generator.Timeout,
		MaxOutputTokens: cfg.Generator.MaxOutputTokens,
	}, nil)
	if err != nil {
		return err
	}

	runID := newRunID(time.Now())
	runDir := filepath.Join(runsDir(repoRoot), runID)
	rec, err := recorder.New(runDir, !opts.noCapture)
	if err != nil {
		return err
	}

	settings := runSettings(cfg)
	metricsObs := metrics.NewObserver()
	journal := run.NewJournal(store, db.RunRecord{
		RunID:      runID,
		Goal:       opts.goal,
		MaxSteps:   settings.MaxSteps,
		BaseCommit: baseCommit,
		BundleID:   bundle.ID,
		RunDir:     runDir,
	})

	orch, err := run.New(run.Deps{
		Sandbox: sandbox.NewLocal(sandbox.LocalConfig{
			Root:           sandboxRoot(repoRoot, cfg),
			Shell:          cfg.Sandbox.Shell,
			CommandTimeout: cfg.Sandbox.CommandTimeout,
			KeepWorkspace:  cfg.Sandbox.KeepWorkspace,
		}),
		Generator: gen,
		Practices: practices,
		Recorder:  rec,
		Applier: git.NewApplier(repoRoot, git.Budgets{
			MaxPatchKB:      cfg.Budgets.MaxPatchKB,
			MaxChangedFiles: cfg.Budgets.MaxChangedFiles,
		}),
		Observers: []run.Observer{journal, metricsObs, run.LogObserver{}},
	}, settings)
	if err != nil {
		return err
	}

	log.Info().Str("run_id", runID).Str("base", baseCommit).Str("dir", runDir).Msg("starting run")
	res, runErr := orch.Run(ctx, run.Context{
		RunID:      runID,
		OutputDir:  runDir,
		Capture:    !opts.noCapture,
		WorkingDir: repoRoot,
		BaseCommit: baseCommit,
		BundleID:   bundle.ID,
		ApplyPatch: opts.apply,
	}, opts.goal)
	if err := metricsObs.WriteFile(runDir); err != nil {
		log.Warn().Err(err).Msg("failed to write metrics")
	}
	if runErr != nil {
		var failure *run.Error
		if errors.As(runErr, &failure) {
			fmt.Fprintf(out, "run %s failed after %d step(s): %s\n", runID, failure.Attempts, failure.Reason)
			fmt.Fprintf(out, "artifacts: %s\n", runDir)
		}
		return runErr
	}

	fmt.Fprintf(out, "run %s completed in %d step(s)\n", runID, res.Attempts)
	if len(res.ChangedFiles) == 0 {
		fmt.Fprintln(out, "no files changed")
	} else {
		fmt.Fprintf(out, "changed files: %s\n", strings.Join(res.ChangedFiles, ", "))
	}
	fmt.Fprintf(out, "diff: %s\n", filepath.Join(runDir, run.ArtifactDiff))
	return nil
}

func runSettings(cfg config.Config) run.Settings {
	return run.Settings{
		MaxSteps:     cfg.Budgets.MaxSteps,
		HistoryDepth: cfg.Budgets.HistoryDepth,
		TailLines:    cfg.Budgets.TailLines,
		Completion:   run.CompletionPolicy(cfg.Completion.Policy),
		Turn: turn.Settings{
			BuildCommand: cfg.Verification.BuildCommand,
			TestCommand:  cfg.Verification.TestCommand,
		},
	}
}

// newRunID sorts by start time and stays unique within one second.
func newRunID(now time.Time) string {
	return now.UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}
