package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metalagman/bendover/internal/run"
	"github.com/metalagman/bendover/internal/turn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserver_CountsStepsAndRuns(t *testing.T) {
	t.Parallel()

	o := NewObserver()
	events := []run.Event{
		{Type: run.EventRunStarted},
		{Type: run.EventStepRejected, ActionKind: turn.ActionUnknown, Status: run.StepStatusRejected},
		{Type: run.EventStepObserved, ActionKind: turn.ActionMutationWrite, Status: run.StepStatusOK, Duration: time.Second},
		{Type: run.EventStepObserved, ActionKind: turn.ActionMutationWrite, Status: run.StepStatusOK, Duration: 2 * time.Second},
		{Type: run.EventStepObserved, ActionKind: turn.ActionComplete, Status: run.StepStatusCompleted},
		{Type: run.EventPatchApplied},
		{Type: run.EventRunCompleted, Status: string(run.StateCompleted)},
	}
	for _, ev := range events {
		require.NoError(t, o.Notify(ev))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(o.steps.WithLabelValues("unknown", run.StepStatusRejected)))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.steps.WithLabelValues("mutation_write", run.StepStatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.runs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.patches))
	assert.Equal(t, 1, testutil.CollectAndCount(o.stepDuration))
}

func TestObserver_WriteFile(t *testing.T) {
	t.Parallel()

	o := NewObserver()
	require.NoError(t, o.Notify(run.Event{Type: run.EventRunFailed, Status: string(run.StateFailed)}))

	dir := t.TempDir()
	require.NoError(t, o.WriteFile(dir))
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# TYPE bendover_runs_total counter")
	assert.Contains(t, string(data), `bendover_runs_total{status="failed"} 1`)
}
