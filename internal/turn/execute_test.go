package turn

import (
	"context"
	"errors"
	"testing"

	"github.com/metalagman/bendover/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSandbox struct {
	script   sandbox.Result
	results  map[string]sandbox.Result
	errOn    string
	scripts  []string
	commands []string
}

func (f *fakeSandbox) Start(context.Context, sandbox.Settings) error { return nil }
func (f *fakeSandbox) Stop(context.Context) error                    { return nil }

func (f *fakeSandbox) RunScript(_ context.Context, body string) (sandbox.Result, error) {
	f.scripts = append(f.scripts, body)
	return f.script, nil
}

func (f *fakeSandbox) RunCommand(_ context.Context, command string) (sandbox.Result, error) {
	f.commands = append(f.commands, command)
	if command == f.errOn {
		return sandbox.Result{}, errors.New("sandbox unavailable")
	}
	return f.results[command], nil
}

func TestExecuteTurn_ScriptFailureShortCircuits(t *testing.T) {
	t.Parallel()

	sb := &fakeSandbox{script: sandbox.Result{ExitCode: 1, Stderr: "boom"}}
	obs, err := ExecuteTurn(context.Background(), sb, `sh("go test ./...")`, Settings{})
	require.NoError(t, err)

	assert.Len(t, sb.scripts, 1)
	assert.Empty(t, sb.commands)
	assert.False(t, obs.ScriptSucceeded())
	assert.True(t, obs.Diff.WasSkipped())
	assert.True(t, obs.ChangedFilesResult.WasSkipped())
	assert.True(t, obs.Verification.WasSkipped())
	assert.False(t, obs.BuildPassed)
	assert.False(t, obs.HasChanges)
	assert.Equal(t, ActionVerificationTest, obs.Action)
}

func TestExecuteTurn_MutationDoesNotVerify(t *testing.T) {
	t.Parallel()

	sb := &fakeSandbox{results: map[string]sandbox.Result{
		DefaultDiffCommand:         {Stdout: "diff --git a/x b/x\n"},
		DefaultChangedFilesCommand: {Stdout: "x\nx\ny\n"},
	}}
	obs, err := ExecuteTurn(context.Background(), sb, `write_file("x", "1")`, Settings{BuildCommand: "go build ./..."})
	require.NoError(t, err)

	assert.Equal(t, []string{DefaultDiffCommand, DefaultChangedFilesCommand}, sb.commands)
	assert.Equal(t, ActionMutationWrite, obs.Action)
	assert.Equal(t, "write_file x", obs.Command)
	assert.True(t, obs.HasChanges)
	assert.Equal(t, []string{"x", "y"}, obs.ChangedFiles)
	assert.True(t, obs.Verification.WasSkipped())
	assert.False(t, obs.BuildPassed)
}

func TestExecuteTurn_DiscoveryDoesNotVerify(t *testing.T) {
	t.Parallel()

	sb := &fakeSandbox{}
	obs, err := ExecuteTurn(context.Background(), sb, `print(sh("rg -n \"a|b\" README.md"))`, Settings{TestCommand: "go test ./..."})
	require.NoError(t, err)

	assert.Equal(t, ActionDiscoveryShell, obs.Action)
	assert.Len(t, sb.commands, 2)
	assert.False(t, obs.HasChanges)
}

func TestExecuteTurn_VerificationRunsMatchingKind(t *testing.T) {
	t.Parallel()

	t.Run("configured test command", func(t *testing.T) {
		sb := &fakeSandbox{results: map[string]sandbox.Result{"make check": {ExitCode: 0}}}
		obs, err := ExecuteTurn(context.Background(), sb, `sh("go test ./...")`, Settings{
			BuildCommand: "make build",
			TestCommand:  "make check",
		})
		require.NoError(t, err)
		assert.Equal(t, ActionVerificationTest, obs.Action)
		assert.Equal(t, "make check", sb.commands[len(sb.commands)-1])
		assert.Len(t, sb.commands, 3)
		assert.True(t, obs.BuildPassed)
	})

	t.Run("originating build command", func(t *testing.T) {
		sb := &fakeSandbox{results: map[string]sandbox.Result{"go build ./...": {ExitCode: 2}}}
		obs, err := ExecuteTurn(context.Background(), sb, `sh("go build ./...")`, Settings{})
		require.NoError(t, err)
		assert.Equal(t, ActionVerificationBuild, obs.Action)
		assert.Equal(t, "go build ./...", sb.commands[2])
		assert.False(t, obs.BuildPassed)
		assert.True(t, obs.VerificationRan())
	})
}

func TestExecuteTurn_SandboxErrorIsReturned(t *testing.T) {
	t.Parallel()

	sb := &fakeSandbox{errOn: DefaultDiffCommand}
	_, err := ExecuteTurn(context.Background(), sb, `write_file("x", "1")`, Settings{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture diff")
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		body string
		kind ActionKind
		cmd  string
	}{
		{`complete(summary="done")`, ActionComplete, "complete"},
		{`write_file("a", "b")
complete()`, ActionComplete, "complete"},
		{`delete_file("old.txt")`, ActionMutationDelete, "delete_file old.txt"},
		{`sh("go build ./...")
sh("go test ./...")`, ActionVerificationTest, "go test ./..."},
		{`sh("cd app && dotnet build")`, ActionVerificationBuild, "cd app && dotnet build"},
		{`read_file("go.mod")`, ActionDiscoveryShell, "read_file go.mod"},
		{`list_files()`, ActionDiscoveryShell, "list_files"},
		{`w = write_file
w("notes.md", "marker")`, ActionMutationWrite, "write_file notes.md"},
		{`sh("rm -rf build")`, ActionUnknown, "rm -rf build"},
		{`x = 1`, ActionUnknown, ""},
		{`def f(:`, ActionUnknown, ""},
	}
	for _, tc := range cases {
		got := Classify(tc.body)
		assert.Equal(t, tc.kind, got.Kind, tc.body)
		assert.Equal(t, tc.cmd, got.Command, tc.body)
	}
}

func TestParseChangedFiles(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"b.go", "a.go"}, ParseChangedFiles(" b.go\n\na.go\nb.go\n"))
	assert.Nil(t, ParseChangedFiles(""))
}

func TestObservation_Summary(t *testing.T) {
	t.Parallel()

	obs := Observation{
		Action:       ActionMutationWrite,
		Command:      "write_file x",
		Verification: sandbox.Skipped(),
		ChangedFiles: []string{"x"},
	}
	assert.Equal(t, `action=mutation_write script_exit=0 command="write_file x" changed=x`, obs.Summary())
}
