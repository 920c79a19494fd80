// Package git wraps the git command line used by the sandbox and the host patch applier.
package git

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Available reports whether dir is inside a git work tree.
func Available(ctx context.Context, dir string) bool {
	_, err := Run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// Run runs git with args in dir and returns its combined output.
// A failure carries the trimmed output in the error.
func Run(ctx context.Context, dir string, args ...string) (string, error) {
	return RunWithInput(ctx, dir, nil, args...)
}

// RunWithInput is Run with stdin attached.
func RunWithInput(ctx context.Context, dir string, stdin io.Reader, args ...string) (string, error) {
	log.Debug().Str("dir", dir).Strs("args", args).Msg("git")
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdin = stdin
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// ResolveCommit returns the full hash for rev. Empty rev means HEAD.
func ResolveCommit(ctx context.Context, repoRoot, rev string) (string, error) {
	if rev == "" {
		rev = "HEAD"
	}
	if !Available(ctx, repoRoot) {
		return "", fmt.Errorf("not a git repository: %s", repoRoot)
	}
	out, err := Run(ctx, repoRoot, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", rev, err)
	}
	return strings.TrimSpace(out), nil
}
