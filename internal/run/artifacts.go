package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Artifact file names written through the recorder.
const (
	ArtifactGoal       = "goal.txt"
	ArtifactBaseCommit = "base_commit.txt"
	ArtifactBundleID   = "bundle_id.txt"
	ArtifactMeta       = "run_meta.json"
	ArtifactDiff       = "git_diff.patch"
	ArtifactBuild      = "build.txt"
	ArtifactTest       = "test.txt"
	ArtifactResult     = "run_result.json"
)

// Meta is the content of run_meta.json.
type Meta struct {
	RunID            string           `json:"run_id"`
	Goal             string           `json:"goal"`
	BaseCommit       string           `json:"base_commit"`
	BundleID         string           `json:"bundle_id,omitempty"`
	MaxSteps         int              `json:"max_steps"`
	CompletionPolicy CompletionPolicy `json:"completion_policy"`
	Capture          bool             `json:"capture"`
	ApplyPatch       bool             `json:"apply_patch"`
	StartedAt        time.Time        `json:"started_at"`
}

// Outcome is the content of run_result.json.
type Outcome struct {
	RunID        string    `json:"run_id"`
	Status       State     `json:"status"`
	Attempts     int       `json:"attempts"`
	Reason       string    `json:"reason,omitempty"`
	ChangedFiles []string  `json:"changed_files"`
	CompletedAt  time.Time `json:"completed_at"`
}

func (o *Orchestrator) writeMetadata(rc Context, goal string, startedAt time.Time) error {
	rec := o.deps.Recorder
	if err := rec.RecordArtifact(ArtifactGoal, goal+"\n"); err != nil {
		return err
	}
	if err := rec.RecordArtifact(ArtifactBaseCommit, rc.BaseCommit+"\n"); err != nil {
		return err
	}
	if rc.BundleID != "" {
		if err := rec.RecordArtifact(ArtifactBundleID, rc.BundleID+"\n"); err != nil {
			return err
		}
	}
	return recordJSON(rec, ArtifactMeta, Meta{
		RunID:            rc.RunID,
		Goal:             goal,
		BaseCommit:       rc.BaseCommit,
		BundleID:         rc.BundleID,
		MaxSteps:         o.settings.MaxSteps,
		CompletionPolicy: o.settings.Completion,
		Capture:          rc.Capture,
		ApplyPatch:       rc.ApplyPatch,
		StartedAt:        startedAt.UTC(),
	})
}

func (o *Orchestrator) writeResult(rc Context, status State, attempts int, reason string, changed []string) error {
	if changed == nil {
		changed = []string{}
	}
	return recordJSON(o.deps.Recorder, ArtifactResult, Outcome{
		RunID:        rc.RunID,
		Status:       status,
		Attempts:     attempts,
		Reason:       reason,
		ChangedFiles: changed,
		CompletedAt:  time.Now().UTC(),
	})
}

func recordJSON(rec Recorder, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return rec.RecordArtifact(name, string(data)+"\n")
}

// applyPatch replays diff onto the host tree: a dry-run check, then the real apply.
func (o *Orchestrator) applyPatch(ctx context.Context, diff string) *Error {
	if strings.TrimSpace(diff) == "" {
		log.Info().Msg("completed with an empty diff, nothing to apply")
		return nil
	}
	if o.deps.Applier == nil {
		return &Error{Reason: ReasonPatchCheck, Err: errors.New("no patch applier configured")}
	}
	if out, err := o.deps.Applier.CheckApply(ctx, diff); err != nil {
		return &Error{Reason: ReasonPatchCheck, Err: withOutput(err, out)}
	}
	if out, err := o.deps.Applier.Apply(ctx, diff); err != nil {
		return &Error{Reason: ReasonPatchApply, Err: withOutput(err, out)}
	}
	return nil
}

func (e *Error) withAttempts(n int) *Error {
	e.Attempts = n
	return e
}

func withOutput(err error, out string) error {
	out = strings.TrimSpace(out)
	if out == "" || strings.Contains(err.Error(), out) {
		return err
	}
	return fmt.Errorf("%w\n%s", err, out)
}
