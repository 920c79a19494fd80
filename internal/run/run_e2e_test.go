package run_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/metalagman/bendover/internal/db"
	"github.com/metalagman/bendover/internal/git"
	"github.com/metalagman/bendover/internal/git/gittest"
	"github.com/metalagman/bendover/internal/recorder"
	"github.com/metalagman/bendover/internal/run"
	"github.com/metalagman/bendover/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type turnScript []string

func (s *turnScript) Generate(context.Context, []run.Message) (string, error) {
	body := (*s)[0]
	if len(*s) > 1 {
		*s = (*s)[1:]
	}
	return body, nil
}

func TestRun_RejectThenWriteThenComplete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, base := gittest.InitRepo(t, map[string]string{"notes.md": "# notes\n"})
	runDir := filepath.Join(t.TempDir(), "run-e2e")
	rec, err := recorder.New(runDir, true)
	require.NoError(t, err)

	conn, err := db.Open(db.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	store := db.NewStore(conn)

	gen := &turnScript{
		"def helper():\n    return 1\n",
		`write_file("notes.md", "# notes\nmarker\n")`,
		`complete(summary="marker appended")`,
	}
	rc := run.Context{RunID: "run-e2e", OutputDir: runDir, Capture: true, WorkingDir: repo, BaseCommit: base, ApplyPatch: true}

	o, err := run.New(run.Deps{
		Sandbox:   sandbox.NewLocal(sandbox.LocalConfig{Root: t.TempDir()}),
		Generator: gen,
		Recorder:  rec,
		Applier:   git.NewApplier(repo, git.Budgets{}),
		Observers: []run.Observer{run.NewJournal(store, db.RunRecord{RunID: rc.RunID, Goal: "append a marker", RunDir: runDir})},
	}, run.Settings{})
	require.NoError(t, err)

	res, err := o.Run(ctx, rc, "append a marker")
	require.NoError(t, err)
	assert.Equal(t, run.StateCompleted, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []string{"notes.md"}, res.ChangedFiles)

	diff, err := os.ReadFile(filepath.Join(runDir, run.ArtifactDiff))
	require.NoError(t, err)
	assert.Contains(t, string(diff), "+marker")

	data, err := os.ReadFile(filepath.Join(runDir, run.ArtifactResult))
	require.NoError(t, err)
	var outcome run.Outcome
	require.NoError(t, json.Unmarshal(data, &outcome))
	assert.Equal(t, run.StateCompleted, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)

	outputs, err := os.ReadFile(filepath.Join(runDir, "outputs.json"))
	require.NoError(t, err)
	assert.Contains(t, string(outputs), "contains namespace/type/member declarations")
	assert.Contains(t, string(outputs), "mutation_write")

	applied, err := os.ReadFile(filepath.Join(repo, "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "# notes\nmarker\n", string(applied))

	status, err := store.GetRunStatus(ctx, rc.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusCompleted, status)
	steps, err := store.Steps(ctx, rc.RunID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, run.StepStatusRejected, steps[0].Status)
	assert.Equal(t, "mutation_write", steps[1].ActionKind)
	assert.Equal(t, run.StepStatusCompleted, steps[2].Status)
}

func TestRun_VerificationRunsOnceAndFailsAsVerification(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("make"); err != nil {
		t.Skip("make not available")
	}

	counter := filepath.Join(t.TempDir(), "test-runs.log")
	makefile := fmt.Sprintf("test:\n\techo ran >> %s\n\techo FAIL marker\n\texit 1\n", counter)
	repo, base := gittest.InitRepo(t, map[string]string{"Makefile": makefile})
	runDir := filepath.Join(t.TempDir(), "run-verify")
	rec, err := recorder.New(runDir, true)
	require.NoError(t, err)

	gen := &turnScript{`sh("make test")`}
	o, err := run.New(run.Deps{
		Sandbox:   sandbox.NewLocal(sandbox.LocalConfig{Root: t.TempDir()}),
		Generator: gen,
		Recorder:  rec,
	}, run.Settings{MaxSteps: 1})
	require.NoError(t, err)

	rc := run.Context{RunID: "run-verify", OutputDir: runDir, WorkingDir: repo, BaseCommit: base}
	_, err = o.Run(context.Background(), rc, "make the tests pass")
	require.Error(t, err)

	var runErr *run.Error
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, run.ReasonBudgetExhausted, runErr.Reason)
	assert.Contains(t, runErr.Digest, "[verification_failed]")
	assert.Contains(t, runErr.Digest, "FAIL marker")

	runs, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(runs), "ran"))
}
