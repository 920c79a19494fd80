package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/metalagman/bendover/internal/sandbox"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDiffCommand         = "git add -A && git diff --cached"
	DefaultChangedFilesCommand = "git add -A && git diff --cached --name-only"
)

// Settings control the commands a turn issues after the script.
type Settings struct {
	DiffCommand         string
	ChangedFilesCommand string
	// BuildCommand and TestCommand replace the originating command for verification when set.
	BuildCommand string
	TestCommand  string
}

func (s Settings) withDefaults() Settings {
	if s.DiffCommand == "" {
		s.DiffCommand = DefaultDiffCommand
	}
	if s.ChangedFilesCommand == "" {
		s.ChangedFilesCommand = DefaultChangedFilesCommand
	}
	return s
}

// Observation is the outcome of one turn.
type Observation struct {
	Script             sandbox.Result `json:"script"`
	Diff               sandbox.Result `json:"diff"`
	ChangedFilesResult sandbox.Result `json:"changed_files_result"`
	Verification       sandbox.Result `json:"verification"`
	ChangedFiles       []string       `json:"changed_files"`
	HasChanges         bool           `json:"has_changes"`
	BuildPassed        bool           `json:"build_passed"`
	Action             ActionKind     `json:"action_kind"`
	Command            string         `json:"command"`
}

// ScriptSucceeded reports whether the candidate body itself ran cleanly.
func (o Observation) ScriptSucceeded() bool {
	return o.Script.ExitCode == 0
}

// VerificationRan reports whether a build or test command was issued.
func (o Observation) VerificationRan() bool {
	return !o.Verification.WasSkipped()
}

// Summary is a one-line description kept in the step history.
func (o Observation) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "action=%s script_exit=%d", o.Action, o.Script.ExitCode)
	if o.Command != "" {
		fmt.Fprintf(&b, " command=%q", o.Command)
	}
	if o.VerificationRan() {
		fmt.Fprintf(&b, " verification_exit=%d", o.Verification.ExitCode)
	}
	if len(o.ChangedFiles) > 0 {
		fmt.Fprintf(&b, " changed=%s", strings.Join(o.ChangedFiles, ","))
	} else {
		b.WriteString(" changed=none")
	}
	return b.String()
}

// ExecuteTurn runs body in sb and assembles an Observation. A failed script
// skips every follow-up command. Errors are sandbox infrastructure failures.
func ExecuteTurn(ctx context.Context, sb sandbox.Sandbox, body string, settings Settings) (Observation, error) {
	settings = settings.withDefaults()
	action := Classify(body)
	obs := Observation{
		Diff:               sandbox.Skipped(),
		ChangedFilesResult: sandbox.Skipped(),
		Verification:       sandbox.Skipped(),
		Action:             action.Kind,
		Command:            action.Command,
	}

	script, err := sb.RunScript(ctx, body)
	if err != nil {
		return obs, fmt.Errorf("run script: %w", err)
	}
	obs.Script = script
	if script.ExitCode != 0 {
		log.Debug().Str("action_kind", string(action.Kind)).Int("exit_code", script.ExitCode).Msg("script failed, skipping follow-up commands")
		return obs, nil
	}

	diff, err := sb.RunCommand(ctx, settings.DiffCommand)
	if err != nil {
		return obs, fmt.Errorf("capture diff: %w", err)
	}
	obs.Diff = diff
	obs.HasChanges = strings.TrimSpace(diff.Stdout) != ""

	changed, err := sb.RunCommand(ctx, settings.ChangedFilesCommand)
	if err != nil {
		return obs, fmt.Errorf("list changed files: %w", err)
	}
	obs.ChangedFilesResult = changed
	obs.ChangedFiles = ParseChangedFiles(changed.Stdout)

	if command := verificationCommand(action, settings); command != "" {
		verification, err := sb.RunCommand(ctx, command)
		if err != nil {
			return obs, fmt.Errorf("run verification: %w", err)
		}
		obs.Verification = verification
	}
	obs.BuildPassed = obs.VerificationRan() && obs.Verification.ExitCode == 0

	log.Debug().
		Str("action_kind", string(obs.Action)).
		Bool("has_changes", obs.HasChanges).
		Bool("build_passed", obs.BuildPassed).
		Int("changed_files", len(obs.ChangedFiles)).
		Msg("turn executed")
	return obs, nil
}

func verificationCommand(action Action, settings Settings) string {
	switch action.Kind {
	case ActionVerificationBuild:
		if settings.BuildCommand != "" {
			return settings.BuildCommand
		}
		return action.Command
	case ActionVerificationTest:
		if settings.TestCommand != "" {
			return settings.TestCommand
		}
		return action.Command
	default:
		return ""
	}
}

// ParseChangedFiles returns the non-empty lines of out, deduplicated in first-seen order.
func ParseChangedFiles(out string) []string {
	seen := make(map[string]struct{})
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		files = append(files, line)
	}
	return files
}
