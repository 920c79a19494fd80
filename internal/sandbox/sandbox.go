// Package sandbox defines the contract between the turn loop and the isolated
// environment that runs candidate bodies, plus a local git-worktree implementation.
package sandbox

import (
	"context"
	"time"
)

// SkippedExitCode marks a Result for a command that was never run.
const SkippedExitCode = -1

// Result is the outcome of one script or command run.
type Result struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	// Combined is stdout and stderr interleaved in arrival order.
	Combined string        `json:"combined"`
	Duration time.Duration `json:"duration"`
}

// Skipped returns the sentinel result for a command that was not run.
func Skipped() Result {
	return Result{ExitCode: SkippedExitCode}
}

// WasSkipped reports whether r is the skip sentinel.
func (r Result) WasSkipped() bool {
	return r.ExitCode == SkippedExitCode
}

// Succeeded reports whether the command ran and exited with zero.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Settings configure a sandbox session.
type Settings struct {
	// WorkingDir is the source tree the session mirrors.
	WorkingDir string
	// BaseCommit is the revision the session starts from. Empty means HEAD.
	BaseCommit string
}

// Sandbox runs candidate bodies and shell commands for exactly one run.
// Implementations report per-command timeouts as failed Results.
type Sandbox interface {
	Start(ctx context.Context, settings Settings) error
	RunScript(ctx context.Context, body string) (Result, error)
	RunCommand(ctx context.Context, command string) (Result, error)
	Stop(ctx context.Context) error
}
