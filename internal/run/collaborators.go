// Package run implements the orchestrator for one agentic run: select practices,
// loop generate/validate/execute/decide over a step budget, then persist or fail.
package run

import (
	"context"

	"github.com/metalagman/bendover/internal/practice"
)

// Role is the author of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prompt message sent to the generator.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Generator turns prompt messages into one candidate body.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// PracticeSource returns the practices selected for this run.
type PracticeSource interface {
	Load(ctx context.Context) ([]practice.Practice, error)
}

// Recorder persists prompts, outputs and artifacts of a run.
type Recorder interface {
	RecordPrompt(phase string, messages []Message) error
	RecordOutput(phase, text string) error
	RecordArtifact(name, content string) error
	Finalize() error
}

// PatchApplier replays a sandbox diff onto the host source tree.
type PatchApplier interface {
	CheckApply(ctx context.Context, diff string) (string, error)
	Apply(ctx context.Context, diff string) (string, error)
}

// Context is the immutable per-run configuration.
type Context struct {
	RunID     string
	OutputDir string
	// Capture keeps full prompts in the recorder transcript.
	Capture    bool
	WorkingDir string
	BaseCommit string
	BundleID   string
	ApplyPatch bool
}
