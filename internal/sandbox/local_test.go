package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metalagman/bendover/internal/git/gittest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) string {
	t.Helper()
	repo, _ := gittest.InitRepo(t, nil)
	return repo
}

func startLocal(t *testing.T, cfg LocalConfig) *Local {
	t.Helper()
	repo := setupTestRepo(t)
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	sb := NewLocal(cfg)
	require.NoError(t, sb.Start(context.Background(), Settings{WorkingDir: repo}))
	t.Cleanup(func() { _ = sb.Stop(context.Background()) })
	return sb
}

func TestLocal_RunCommandCapturesStreams(t *testing.T) {
	sb := startLocal(t, LocalConfig{})

	res, err := sb.RunCommand(context.Background(), "cat README.md; echo oops >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Contains(t, res.Combined, "hello")
	assert.Contains(t, res.Combined, "oops")
}

func TestLocal_RunCommandTimeoutIsAFailedResult(t *testing.T) {
	sb := startLocal(t, LocalConfig{CommandTimeout: 200 * time.Millisecond})

	res, err := sb.RunCommand(context.Background(), "sleep 5")
	require.NoError(t, err)
	assert.Equal(t, timeoutExitCode, res.ExitCode)
	assert.Contains(t, res.Stderr, "timed out")
}

func TestLocal_RunScriptWritesIntoWorktree(t *testing.T) {
	sb := startLocal(t, LocalConfig{})

	res, err := sb.RunScript(context.Background(), `write_file("docs/notes.md", read_file("README.md") + "marker\n")`)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode, res.Combined)

	data, err := os.ReadFile(filepath.Join(sb.Dir(), "docs", "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello\nmarker\n", string(data))

	diff, err := sb.RunCommand(context.Background(), "git add -A && git diff --cached --name-only")
	require.NoError(t, err)
	assert.Equal(t, "docs/notes.md\n", diff.Stdout)
}

func TestLocal_RunScriptErrorsBecomeExitCodeOne(t *testing.T) {
	sb := startLocal(t, LocalConfig{})

	cases := map[string]string{
		"missing file": `read_file("nope.txt")`,
		"escape":       `write_file("../outside.txt", "x")`,
		"git dir":      `write_file(".git/config", "x")`,
		"policy":       `sh("rm README.md")`,
		"runtime":      `x = 1 + "a"`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := sb.RunScript(context.Background(), body)
			require.NoError(t, err)
			assert.Equal(t, 1, res.ExitCode)
			assert.NotEmpty(t, res.Stderr)
		})
	}

	_, err := os.Stat(filepath.Join(sb.Dir(), "README.md"))
	require.NoError(t, err)
}

func TestLocal_RunScriptShellAndPrint(t *testing.T) {
	sb := startLocal(t, LocalConfig{})

	res, err := sb.RunScript(context.Background(), `out = sh("wc -l README.md")
print("lines:", out.strip())
print(list_files())
complete(summary="done")
`)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode, res.Combined)
	assert.Contains(t, res.Stdout, "lines: 1 README.md")
	assert.Contains(t, res.Stdout, `["README.md"]`)
	assert.Contains(t, res.Stdout, "complete: done")
}

func TestLocal_NotStarted(t *testing.T) {
	sb := NewLocal(LocalConfig{})

	_, err := sb.RunCommand(context.Background(), "ls")
	require.Error(t, err)
	_, err = sb.RunScript(context.Background(), "x = 1")
	require.Error(t, err)
	assert.NoError(t, sb.Stop(context.Background()))
}

func TestLocal_StopRemovesWorktree(t *testing.T) {
	repo := setupTestRepo(t)
	sb := NewLocal(LocalConfig{Root: t.TempDir()})
	ctx := context.Background()
	require.NoError(t, sb.Start(ctx, Settings{WorkingDir: repo}))
	dir := sb.Dir()
	require.DirExists(t, dir)

	require.Error(t, sb.Start(ctx, Settings{WorkingDir: repo}))
	require.NoError(t, sb.Stop(ctx))
	assert.NoDirExists(t, dir)
	assert.Empty(t, sb.Dir())
}

func TestResult_Skipped(t *testing.T) {
	t.Parallel()

	assert.True(t, Skipped().WasSkipped())
	assert.False(t, Skipped().Succeeded())
	assert.True(t, Result{}.Succeeded())
}

func TestLocal_RunScriptDefersVerificationCommands(t *testing.T) {
	sb := startLocal(t, LocalConfig{})

	res, err := sb.RunScript(context.Background(), `out = sh("make test")
print("inline:", repr(out))
`)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode, res.Combined)
	assert.Contains(t, res.Stdout, `sh: "make test" deferred to verification`)
	assert.Contains(t, res.Stdout, `inline: ""`)
}
