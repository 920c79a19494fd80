// Package gittest builds throwaway git repositories for tests.
package gittest

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"

	"github.com/metalagman/bendover/internal/git"
	"github.com/stretchr/testify/require"
)

// InitRepo creates a repository in a temp dir with files committed once and
// returns its path and the commit hash. The test is skipped without git.
func InitRepo(t *testing.T, files map[string]string) (string, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	ctx := context.Background()
	dir := t.TempDir()
	Run(t, dir, "init")
	Run(t, dir, "config", "user.email", "test@example.com")
	Run(t, dir, "config", "user.name", "test")

	if len(files) == 0 {
		files = map[string]string{"README.md": "hello\n"}
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(files[name]), 0o644))
	}
	Run(t, dir, append([]string{"add", "--"}, names...)...)
	Run(t, dir, "commit", "-m", "initial commit")

	head, err := git.ResolveCommit(ctx, dir, "HEAD")
	require.NoError(t, err)
	return dir, head
}

// Run runs git in dir and fails the test on error.
func Run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := git.Run(context.Background(), dir, args...)
	require.NoError(t, err)
	return out
}
