package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/metalagman/bendover/internal/db"
	"github.com/metalagman/bendover/internal/git"
	"github.com/rs/zerolog/log"
)

// RetentionPolicy controls run cleanup.
type RetentionPolicy struct {
	KeepLast int
	KeepDays int
}

// PruneResult summarizes a prune operation.
type PruneResult struct {
	Considered int
	Kept       int
	Deleted    int
	Skipped    int
}

// PruneRuns deletes run records and output directories outside the policy.
// Running runs and runs with an unknown creation time are always kept.
func PruneRuns(ctx context.Context, store *db.Store, runsDir string, policy RetentionPolicy, dryRun bool) (PruneResult, error) {
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return PruneResult{}, nil
	}
	cutoff := time.Time{}
	if policy.KeepDays > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(policy.KeepDays) * 24 * time.Hour)
	}
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		return PruneResult{}, err
	}

	res := PruneResult{Considered: len(runs)}
	for idx, row := range runs {
		keep := row.Status == db.StatusRunning
		if !keep && policy.KeepLast > 0 && idx < policy.KeepLast {
			keep = true
		}
		if !keep && policy.KeepDays > 0 && (row.CreatedAt.IsZero() || row.CreatedAt.After(cutoff)) {
			keep = true
		}
		if keep {
			res.Kept++
			continue
		}
		if dryRun {
			res.Deleted++
			continue
		}
		targetDir := row.RunDir
		if targetDir == "" {
			targetDir = filepath.Join(runsDir, row.RunID)
		}
		if err := os.RemoveAll(targetDir); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("run_id", row.RunID).Msg("failed to remove run dir")
			res.Skipped++
			continue
		}
		if err := store.DeleteRun(ctx, row.RunID); err != nil {
			return res, err
		}
		res.Deleted++
	}
	return res, nil
}

// PruneWorktrees removes sandbox worktrees left under sandboxRoot by kept or crashed runs.
func PruneWorktrees(ctx context.Context, repoRoot, sandboxRoot string) (int, error) {
	if _, err := git.Run(ctx, repoRoot, "worktree", "prune"); err != nil {
		log.Debug().Err(err).Msg("git worktree prune failed")
	}

	root, err := filepath.Abs(sandboxRoot)
	if err != nil {
		return 0, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	worktrees, err := git.ListWorktrees(ctx, repoRoot)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, wt := range worktrees {
		rel, err := filepath.Rel(root, wt)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		log.Info().Str("worktree", wt).Msg("pruning sandbox worktree")
		if err := git.RemoveWorktree(ctx, repoRoot, wt); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
