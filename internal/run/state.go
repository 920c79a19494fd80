package run

import (
	"fmt"
	"strings"
)

// State is a phase of the run state machine.
type State string

const (
	StateSelecting State = "selecting"
	StateLooping   State = "looping"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Reasons carried by Error.
const (
	ReasonBudgetExhausted = "step budget exhausted"
	ReasonCancelled       = "cancelled"
	ReasonPatchCheck      = "patch check failed"
	ReasonPatchApply      = "patch apply failed"
)

// Error is a terminal run failure. Digest is the last failure digest, if any.
type Error struct {
	Reason   string
	Attempts int
	Digest   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run failed after %d attempt(s): %s", e.Attempts, e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Digest != "" {
		b.WriteString("\nlast failure:\n")
		b.WriteString(e.Digest)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CompletionPolicy decides whether an explicit completion is accepted.
type CompletionPolicy string

const (
	// CompletionTrusted accepts any completion whose script succeeded.
	CompletionTrusted CompletionPolicy = "trusted"
	// CompletionGated also requires a non-empty diff and, with a test command configured, a passing test.
	CompletionGated CompletionPolicy = "gated"
)

// Valid reports whether p is a known policy. Empty counts as trusted.
func (p CompletionPolicy) Valid() bool {
	return p == "" || p == CompletionTrusted || p == CompletionGated
}
