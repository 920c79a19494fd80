package run

import (
	"context"
	"fmt"
	"time"

	"github.com/metalagman/bendover/internal/db"
)

const journalTimeout = 5 * time.Second

// Journal is an Observer that mirrors run progress into the sqlite run index.
type Journal struct {
	store *db.Store
	run   db.RunRecord
}

// NewJournal returns a journal for the run described by rec.
func NewJournal(store *db.Store, rec db.RunRecord) *Journal {
	return &Journal{store: store, run: rec}
}

func (j *Journal) Notify(ev Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	switch ev.Type {
	case EventRunStarted:
		rec := j.run
		rec.CreatedAt = ev.Time
		return j.store.CreateRun(ctx, rec)
	case EventStepObserved, EventStepFailed, EventStepRejected:
		started := ev.Time.Add(-ev.Duration)
		step := db.StepRecord{
			RunID:      ev.RunID,
			StepIndex:  ev.Step,
			ActionKind: string(ev.ActionKind),
			Status:     ev.Status,
			StartedAt:  started,
			EndedAt:    ev.Time,
			Summary:    ev.Message,
		}
		return j.store.CommitStep(ctx, step, []db.Event{{Type: string(ev.Type), Message: ev.Message}})
	case EventPatchApplied:
		return j.store.AppendEvent(ctx, ev.RunID, db.Event{Type: string(ev.Type), Message: ev.Message})
	case EventRunCompleted:
		return j.store.FinishRun(ctx, ev.RunID, db.StatusCompleted, "", ev.Step)
	case EventRunFailed:
		return j.store.FinishRun(ctx, ev.RunID, db.StatusFailed, ev.Message, ev.Step)
	default:
		return fmt.Errorf("journal: unhandled event %q", ev.Type)
	}
}
