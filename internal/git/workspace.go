package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// AddDetachedWorktree checks out baseCommit into dir without creating a branch.
func AddDetachedWorktree(ctx context.Context, repoRoot, dir, baseCommit string) error {
	if !Available(ctx, repoRoot) {
		return fmt.Errorf("not a git repository: %s", repoRoot)
	}
	// Stale registrations block reuse of a path.
	if _, err := Run(ctx, repoRoot, "worktree", "prune"); err != nil {
		log.Debug().Err(err).Msg("git worktree prune failed")
	}
	if baseCommit == "" {
		baseCommit = "HEAD"
	}
	if _, err := Run(ctx, repoRoot, "worktree", "add", "--detach", dir, baseCommit); err != nil {
		return err
	}
	return nil
}

// RemoveWorktree force-removes a worktree and its registration.
func RemoveWorktree(ctx context.Context, repoRoot, dir string) error {
	if _, err := Run(ctx, repoRoot, "worktree", "remove", "--force", dir); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("failed to remove git worktree")
		return err
	}
	return nil
}

// ListWorktrees returns the paths of every worktree registered in repoRoot,
// the main one first.
func ListWorktrees(ctx context.Context, repoRoot string) ([]string, error) {
	out, err := Run(ctx, repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if p, ok := strings.CutPrefix(strings.TrimSpace(line), "worktree "); ok {
			paths = append(paths, p)
		}
	}
	return paths, nil
}
