package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/metalagman/bendover/internal/candidate"
	"github.com/metalagman/bendover/internal/practice"
	"github.com/metalagman/bendover/internal/sandbox"
	"github.com/metalagman/bendover/internal/turn"
	"github.com/rs/zerolog/log"
)

// DefaultMaxSteps is the step budget of a run.
const DefaultMaxSteps = 24

// Step status values reported in events.
const (
	StepStatusOK        = "ok"
	StepStatusRejected  = "rejected"
	StepStatusFailed    = "failed"
	StepStatusCompleted = "completed"
)

// Settings tune the orchestrator loop.
type Settings struct {
	MaxSteps     int
	HistoryDepth int
	TailLines    int
	Completion   CompletionPolicy
	Turn         turn.Settings
	NotifyQueue  int
}

func (s Settings) withDefaults() Settings {
	if s.MaxSteps <= 0 {
		s.MaxSteps = DefaultMaxSteps
	}
	if s.HistoryDepth <= 0 {
		s.HistoryDepth = DefaultHistoryDepth
	}
	if s.TailLines <= 0 {
		s.TailLines = DefaultTailLines
	}
	if s.Completion == "" {
		s.Completion = CompletionTrusted
	}
	if s.Turn.DiffCommand == "" {
		s.Turn.DiffCommand = turn.DefaultDiffCommand
	}
	if s.Turn.ChangedFilesCommand == "" {
		s.Turn.ChangedFilesCommand = turn.DefaultChangedFilesCommand
	}
	return s
}

// Deps are the collaborators of a run. Practices and Applier are optional.
type Deps struct {
	Sandbox   sandbox.Sandbox
	Generator Generator
	Practices PracticeSource
	Recorder  Recorder
	Applier   PatchApplier
	Observers []Observer
}

// Result summarizes a finished run.
type Result struct {
	RunID        string
	State        State
	Attempts     int
	Diff         string
	ChangedFiles []string
}

// Orchestrator drives one run at a time through the attempt loop.
type Orchestrator struct {
	deps     Deps
	settings Settings
}

// New validates deps and returns an Orchestrator.
func New(deps Deps, settings Settings) (*Orchestrator, error) {
	switch {
	case deps.Sandbox == nil:
		return nil, errors.New("sandbox is required")
	case deps.Generator == nil:
		return nil, errors.New("generator is required")
	case deps.Recorder == nil:
		return nil, errors.New("recorder is required")
	}
	if !settings.Completion.Valid() {
		return nil, fmt.Errorf("unknown completion policy %q", settings.Completion)
	}
	return &Orchestrator{deps: deps, settings: settings.withDefaults()}, nil
}

// Settings returns the effective settings.
func (o *Orchestrator) Settings() Settings {
	return o.settings
}

// attempt is the outcome of one loop iteration.
type attempt struct {
	obs       *turn.Observation
	digest    *Digest
	event     EventType
	completed bool
	abort     error
}

// loopState is what the loop carries between iterations.
type loopState struct {
	rc        Context
	goal      string
	practices []practice.Practice
	history   *History
	notify    *notifier
	digest    string
}

// Run executes one run for goal. A terminal failure is returned as *Error,
// possibly joined with artifact persistence errors.
func (o *Orchestrator) Run(ctx context.Context, rc Context, goal string) (res Result, err error) {
	res = Result{RunID: rc.RunID, State: StateSelecting}
	startedAt := time.Now()

	ls := &loopState{rc: rc, goal: goal, notify: newNotifier(o.deps.Observers, o.settings.NotifyQueue)}
	defer ls.notify.close()
	defer func() {
		event := log.Info().
			Str("run_id", rc.RunID).
			Str("status", string(res.State)).
			Int("attempts", res.Attempts).
			Dur("duration", time.Since(startedAt))
		if err != nil {
			event = event.Err(err)
		}
		event.Msg("run finished")
	}()
	defer func() {
		if ferr := o.deps.Recorder.Finalize(); ferr != nil {
			err = errors.Join(err, fmt.Errorf("finalize recorder: %w", ferr))
		}
	}()

	ls.notify.publish(Event{Type: EventRunStarted, RunID: rc.RunID, Message: goal})

	if err := o.writeMetadata(rc, goal, startedAt); err != nil {
		return res, o.fail(ls, &res, &Error{Reason: "write run metadata", Err: err}, "")
	}
	if o.deps.Practices != nil {
		practices, err := o.deps.Practices.Load(ctx)
		if err != nil {
			return res, o.fail(ls, &res, &Error{Reason: "select practices", Err: err}, "")
		}
		ls.practices = practices
	}
	log.Debug().Str("run_id", rc.RunID).Int("practices", len(ls.practices)).Msg("practices selected")

	sb := o.deps.Sandbox
	if err := sb.Start(ctx, sandbox.Settings{WorkingDir: rc.WorkingDir, BaseCommit: rc.BaseCommit}); err != nil {
		return res, o.fail(ls, &res, &Error{Reason: "start sandbox", Err: err}, "")
	}
	defer func() {
		if serr := sb.Stop(context.WithoutCancel(ctx)); serr != nil {
			err = errors.Join(err, fmt.Errorf("stop sandbox: %w", serr))
		}
	}()

	res.State = StateLooping
	ls.history = NewHistory(o.settings.HistoryDepth)
	for step := 1; step <= o.settings.MaxSteps; step++ {
		res.Attempts = step
		stepStarted := time.Now()

		out := o.attempt(ctx, ls, step)
		if out.abort != nil {
			runErr := &Error{Reason: ReasonCancelled, Attempts: step, Digest: ls.digest, Err: out.abort}
			diff, diffErr := o.captureDiff(ctx)
			return res, o.fail(ls, &res, runErr, diff, diffErr)
		}

		if out.digest != nil {
			o.recordFailure(ls, step, *out.digest)
			status := StepStatusFailed
			if out.event == EventStepRejected {
				status = StepStatusRejected
			}
			ls.notify.publish(Event{
				Type: out.event, RunID: rc.RunID, Step: step, ActionKind: out.digest.Action,
				Status: status, Message: string(out.digest.Tag), Duration: time.Since(stepStarted),
			})
			continue
		}

		if out.completed {
			ls.notify.publish(Event{
				Type: EventStepObserved, RunID: rc.RunID, Step: step, ActionKind: out.obs.Action,
				Status: StepStatusCompleted, Message: out.obs.Summary(), Duration: time.Since(stepStarted),
			})
			return res, o.complete(ctx, ls, &res, *out.obs)
		}

		ls.history.Add(Entry{Step: step, Text: o.successText(*out.obs)})
		ls.notify.publish(Event{
			Type: EventStepObserved, RunID: rc.RunID, Step: step, ActionKind: out.obs.Action,
			Status: StepStatusOK, Message: out.obs.Summary(), Duration: time.Since(stepStarted),
		})
	}

	runErr := &Error{Reason: ReasonBudgetExhausted, Attempts: o.settings.MaxSteps, Digest: ls.digest}
	diff, diffErr := o.captureDiff(ctx)
	return res, o.fail(ls, &res, runErr, diff, diffErr)
}

func (o *Orchestrator) attempt(ctx context.Context, ls *loopState, step int) attempt {
	unknown := turn.Action{Kind: turn.ActionUnknown}
	phase := fmt.Sprintf("engineer_step_%d", step)

	messages, err := BuildPrompt(PromptInput{
		Goal:      ls.goal,
		Step:      step,
		MaxSteps:  o.settings.MaxSteps,
		Practices: ls.practices,
		History:   ls.history.Entries(),
	})
	if err != nil {
		return o.exception(ctx, step, "build prompt", err, unknown)
	}
	if err := o.deps.Recorder.RecordPrompt(phase, messages); err != nil {
		return o.exception(ctx, step, "record prompt", err, unknown)
	}

	body, err := o.deps.Generator.Generate(ctx, messages)
	if err != nil {
		return o.exception(ctx, step, "generate candidate", err, unknown)
	}
	if err := o.deps.Recorder.RecordOutput(phase, body); err != nil {
		return o.exception(ctx, step, "record candidate", err, unknown)
	}

	action := turn.Classify(body)
	if v := candidate.Validate(body); !v.Accepted() {
		d := validationDigest(step, v.Reasons, action)
		return attempt{digest: &d, event: EventStepRejected}
	}

	obs, err := turn.ExecuteTurn(ctx, o.deps.Sandbox, body, o.settings.Turn)
	if err != nil {
		return o.exception(ctx, step, "execute turn", err, action)
	}
	if err := o.recordObservation(step, obs); err != nil {
		return o.exception(ctx, step, "record observation", err, action)
	}

	switch {
	case !obs.ScriptSucceeded():
		d := observationDigest(step, TagScriptExitNonZero, fmt.Sprintf("script exited with code %d", obs.Script.ExitCode), obs, o.settings.TailLines)
		return attempt{obs: &obs, digest: &d, event: EventStepFailed}
	case obs.Action == turn.ActionComplete:
		gated, d, err := o.gate(ctx, step, obs)
		if err != nil {
			return o.exception(ctx, step, "completion gate", err, action)
		}
		if d != nil {
			return attempt{obs: &gated, digest: d, event: EventStepFailed}
		}
		return attempt{obs: &gated, completed: true}
	case obs.VerificationRan() && !obs.BuildPassed:
		check := fmt.Sprintf("%s exited with code %d", obs.Action, obs.Verification.ExitCode)
		d := observationDigest(step, TagVerificationFailed, check, obs, o.settings.TailLines)
		return attempt{obs: &obs, digest: &d, event: EventStepFailed}
	}
	return attempt{obs: &obs}
}

// gate applies the completion policy to a successful completion.
func (o *Orchestrator) gate(ctx context.Context, step int, obs turn.Observation) (turn.Observation, *Digest, error) {
	if o.settings.Completion != CompletionGated {
		return obs, nil, nil
	}
	if !obs.HasChanges {
		d := observationDigest(step, TagEmptyDiff, "completion requires a non-empty diff", obs, o.settings.TailLines)
		return obs, &d, nil
	}
	if o.settings.Turn.TestCommand == "" {
		return obs, nil, nil
	}
	res, err := o.deps.Sandbox.RunCommand(ctx, o.settings.Turn.TestCommand)
	if err != nil {
		return obs, nil, err
	}
	obs.Verification = res
	obs.BuildPassed = res.ExitCode == 0
	if !obs.BuildPassed {
		check := fmt.Sprintf("test command exited with code %d", res.ExitCode)
		d := observationDigest(step, TagVerificationFailed, check, obs, o.settings.TailLines)
		return obs, &d, nil
	}
	return obs, nil, nil
}

// exception converts an infrastructure error into a digest, or aborts on cancellation.
func (o *Orchestrator) exception(ctx context.Context, step int, where string, err error, action turn.Action) attempt {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return attempt{abort: fmt.Errorf("%s: %w", where, ctxErr)}
	}
	log.Warn().Err(err).Int("step", step).Str("where", where).Msg("step raised an exception")
	d := exceptionDigest(step, where, err, action)
	return attempt{digest: &d, event: EventStepFailed}
}

func (o *Orchestrator) recordObservation(step int, obs turn.Observation) error {
	data, err := json.MarshalIndent(obs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal observation: %w", err)
	}
	return o.deps.Recorder.RecordOutput(fmt.Sprintf("agentic_step_observation_%d", step), string(data))
}

// successText is the history entry of a step that neither failed nor completed.
func (o *Orchestrator) successText(obs turn.Observation) string {
	text := obs.Summary()
	if out := Tail(obs.Script.Combined, o.settings.TailLines); out != "" {
		text += "\noutput:\n" + out
	}
	return text
}

// recordFailure adds d to the history and the transcript. A transcript write
// failure is itself digested so the next prompt sees it.
func (o *Orchestrator) recordFailure(ls *loopState, step int, d Digest) {
	ls.digest = d.String()
	ls.history.Add(Entry{Step: step, Failure: true, Text: ls.digest})
	err := o.deps.Recorder.RecordOutput(fmt.Sprintf("engineer_step_failure_%d", step), ls.digest)
	if err == nil {
		return
	}
	log.Error().Err(err).Int("step", step).Msg("failed to record failure digest")
	ex := exceptionDigest(step, "record failure digest", err, turn.Action{Kind: d.Action, Command: d.Command})
	ls.digest = ex.String()
	ls.history.Add(Entry{Step: step, Failure: true, Text: ls.digest})
}

// captureDiff returns the sandbox diff for best-effort persistence after a failure.
func (o *Orchestrator) captureDiff(ctx context.Context) (string, error) {
	res, err := o.deps.Sandbox.RunCommand(context.WithoutCancel(ctx), o.settings.Turn.DiffCommand)
	if err != nil {
		return "", fmt.Errorf("capture final diff: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("capture final diff: exit code %d: %s", res.ExitCode, Tail(res.Stderr, 5))
	}
	return res.Stdout, nil
}

func (o *Orchestrator) complete(ctx context.Context, ls *loopState, res *Result, obs turn.Observation) error {
	rc := ls.rc
	diff := obs.Diff.Stdout
	res.Diff = diff
	res.ChangedFiles = obs.ChangedFiles

	if err := o.deps.Recorder.RecordArtifact(ArtifactDiff, diff); err != nil {
		return o.fail(ls, res, &Error{Reason: "persist artifacts", Attempts: res.Attempts, Err: err}, "")
	}
	if err := o.recordVerificationArtifacts(ctx, obs); err != nil {
		if ctx.Err() != nil {
			return o.fail(ls, res, &Error{Reason: ReasonCancelled, Attempts: res.Attempts, Err: err}, "")
		}
		return o.fail(ls, res, &Error{Reason: "persist artifacts", Attempts: res.Attempts, Err: err}, "")
	}

	if rc.ApplyPatch {
		if err := o.applyPatch(ctx, diff); err != nil {
			return o.fail(ls, res, err.withAttempts(res.Attempts), "")
		}
		if strings.TrimSpace(diff) != "" {
			ls.notify.publish(Event{Type: EventPatchApplied, RunID: rc.RunID, Message: fmt.Sprintf("%d file(s) changed", len(obs.ChangedFiles))})
		}
	}

	res.State = StateCompleted
	if err := o.writeResult(rc, StateCompleted, res.Attempts, "", obs.ChangedFiles); err != nil {
		return fmt.Errorf("write run result: %w", err)
	}
	ls.notify.publish(Event{Type: EventRunCompleted, RunID: rc.RunID, Step: res.Attempts, Status: string(StateCompleted), Message: "run completed"})
	return nil
}

// recordVerificationArtifacts writes build.txt and test.txt. Configured commands run
// fresh; otherwise the completing turn's own verification output is used.
func (o *Orchestrator) recordVerificationArtifacts(ctx context.Context, obs turn.Observation) error {
	kinds := []struct {
		name    string
		command string
		kind    turn.ActionKind
	}{
		{ArtifactBuild, o.settings.Turn.BuildCommand, turn.ActionVerificationBuild},
		{ArtifactTest, o.settings.Turn.TestCommand, turn.ActionVerificationTest},
	}
	for _, k := range kinds {
		var (
			command string
			result  sandbox.Result
		)
		switch {
		case k.kind == turn.ActionVerificationTest && o.settings.Completion == CompletionGated && k.command != "" && obs.VerificationRan():
			command, result = k.command, obs.Verification
		case k.command != "":
			r, err := o.deps.Sandbox.RunCommand(ctx, k.command)
			if err != nil {
				return fmt.Errorf("run %s: %w", k.name, err)
			}
			command, result = k.command, r
		case obs.Action == k.kind && obs.VerificationRan():
			command, result = obs.Command, obs.Verification
		default:
			continue
		}
		content := fmt.Sprintf("$ %s\nexit code: %d\n\n%s", command, result.ExitCode, result.Combined)
		if err := o.deps.Recorder.RecordArtifact(k.name, content); err != nil {
			return err
		}
	}
	return nil
}

// fail records the failed state and returns runErr, joined with any persistence errors.
func (o *Orchestrator) fail(ls *loopState, res *Result, runErr *Error, diff string, extra ...error) error {
	res.State = StateFailed
	if runErr.Attempts == 0 {
		runErr.Attempts = res.Attempts
	}
	errs := []error{runErr}
	for _, err := range extra {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if diff != "" {
		if err := o.deps.Recorder.RecordArtifact(ArtifactDiff, diff); err != nil {
			errs = append(errs, fmt.Errorf("persist diff: %w", err))
		}
	}
	if err := o.writeResult(ls.rc, StateFailed, runErr.Attempts, runErr.Reason, nil); err != nil {
		errs = append(errs, fmt.Errorf("write run result: %w", err))
	}
	ls.notify.publish(Event{
		Type: EventRunFailed, RunID: ls.rc.RunID, Step: runErr.Attempts,
		Status: string(StateFailed), Message: runErr.Reason,
	})
	if len(errs) == 1 {
		return runErr
	}
	return errors.Join(errs...)
}
