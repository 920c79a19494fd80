package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run statuses stored in runs.status.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Store provides persistence for runs and steps.
type Store struct {
	db *sql.DB
}

// NewStore creates a store for run/step persistence.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	RunID      string
	CreatedAt  time.Time
	Goal       string
	Status     string
	Attempts   int
	MaxSteps   int
	BaseCommit string
	BundleID   string
	Reason     string
	RunDir     string
}

// StepRecord represents a committed step in the database.
type StepRecord struct {
	RunID      string
	StepIndex  int
	ActionKind string
	Status     string
	StartedAt  time.Time
	EndedAt    time.Time
	Summary    string
}

// Event represents a timeline event for a run.
type Event struct {
	Type     string
	Message  string
	DataJSON string
}

// CreateRun inserts a running run record and a run_started event.
func (s *Store) CreateRun(ctx context.Context, rec RunRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin create run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, goal, status, attempts, max_steps, base_commit, bundle_id, reason, run_dir)
		VALUES(?, ?, ?, ?, 0, ?, ?, ?, NULL, ?)`,
		rec.RunID, formatTime(rec.CreatedAt), rec.Goal, StatusRunning, rec.MaxSteps, rec.BaseCommit, rec.BundleID, rec.RunDir); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}
	if err := s.insertEvent(ctx, tx, rec.RunID, Event{Type: "run_started", Message: "run started"}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create run: %w", err)
	}
	return nil
}

// CommitStep inserts the step record and its events and bumps the run's attempt count in one transaction.
func (s *Store) CommitStep(ctx context.Context, step StepRecord, events []Event) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin commit step: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO steps(run_id, step_index, action_kind, status, started_at, ended_at, summary)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		step.RunID, step.StepIndex, step.ActionKind, step.Status, formatTime(step.StartedAt), formatTime(step.EndedAt), step.Summary); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert step: %w", err)
	}
	for _, ev := range events {
		if err := s.insertEvent(ctx, tx, step.RunID, ev); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET attempts=MAX(attempts, ?) WHERE run_id=?`, step.StepIndex, step.RunID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit step: %w", err)
	}
	return nil
}

// FinishRun records the terminal status of a run with a run_finished event.
func (s *Store) FinishRun(ctx context.Context, runID, status, reason string, attempts int) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin finish run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, reason=?, attempts=? WHERE run_id=?`,
		status, nullableString(reason), attempts, runID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update run: %w", err)
	}
	msg := "run " + status
	if reason != "" {
		msg += ": " + reason
	}
	if err := s.insertEvent(ctx, tx, runID, Event{Type: "run_finished", Message: msg}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish run: %w", err)
	}
	return nil
}

// AppendEvent adds a standalone event to the run journal.
func (s *Store) AppendEvent(ctx context.Context, runID string, ev Event) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin append event: %w", err)
	}
	if err := s.insertEvent(ctx, tx, runID, ev); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// MarkInterrupted fails every run still marked running. Callers hold the run lock.
func (s *Store) MarkInterrupted(ctx context.Context) (int, error) {
	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range runs {
		if r.Status != StatusRunning {
			continue
		}
		if err := s.FinishRun(ctx, r.RunID, StatusFailed, "interrupted", r.Attempts); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, runID string, ev Event) error {
	seq, err := s.nextSeq(ctx, tx, runID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(run_id, seq, ts, type, message, data_json) VALUES(?, ?, ?, ?, ?, ?)`,
		runID, seq, formatTime(time.Now()), ev.Type, ev.Message, nullableString(ev.DataJSON)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx, runID string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id=?`, runID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq + 1, nil
}

// GetRunStatus returns the status for a run id, or empty if missing.
func (s *Store) GetRunStatus(ctx context.Context, runID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id=?`, runID)
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("read run status: %w", err)
	}
	return status, nil
}

// ListRuns returns runs newest first. A non-positive limit returns all of them.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT run_id, created_at, goal, status, attempts, max_steps, base_commit, bundle_id, COALESCE(reason, ''), run_dir
		FROM runs ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var createdAt string
		if err := rows.Scan(&rec.RunID, &createdAt, &rec.Goal, &rec.Status, &rec.Attempts, &rec.MaxSteps,
			&rec.BaseCommit, &rec.BundleID, &rec.Reason, &rec.RunDir); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		// An unparsable timestamp leaves CreatedAt zero; retention treats that as "keep".
		rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// Steps returns the committed steps of a run in order.
func (s *Store) Steps(ctx context.Context, runID string) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT step_index, action_kind, status, started_at, ended_at, summary
		FROM steps WHERE run_id=? ORDER BY step_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StepRecord
	for rows.Next() {
		step := StepRecord{RunID: runID}
		var startedAt, endedAt string
		if err := rows.Scan(&step.StepIndex, &step.ActionKind, &step.Status, &startedAt, &endedAt, &step.Summary); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.StartedAt, _ = time.Parse(timeLayout, startedAt)
		step.EndedAt, _ = time.Parse(timeLayout, endedAt)
		out = append(out, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return out, nil
}

// EventTypes returns the journal event types of a run in sequence order.
func (s *Store) EventTypes(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type FROM events WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, typ)
	}
	return out, rows.Err()
}

// DeleteRun removes a run; steps and events cascade.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id=?`, runID); err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
