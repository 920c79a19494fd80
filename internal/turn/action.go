// Package turn executes one candidate body against a sandbox and reports what happened.
package turn

import (
	"fmt"

	"github.com/metalagman/bendover/internal/candidate"
	"github.com/metalagman/bendover/internal/shellpolicy"
)

// ActionKind is the closed classification of what a turn attempted.
type ActionKind string

const (
	ActionMutationWrite     ActionKind = "mutation_write"
	ActionMutationDelete    ActionKind = "mutation_delete"
	ActionDiscoveryShell    ActionKind = "discovery_shell"
	ActionVerificationBuild ActionKind = "verification_build"
	ActionVerificationTest  ActionKind = "verification_test"
	ActionComplete          ActionKind = "complete"
	ActionUnknown           ActionKind = "unknown"
)

// IsVerification reports whether k runs a build or test.
func (k ActionKind) IsVerification() bool {
	return k == ActionVerificationBuild || k == ActionVerificationTest
}

// Action is a classified turn plus the command text it came from.
type Action struct {
	Kind    ActionKind
	Command string
}

// Classify derives the Action of a candidate body from its tool calls.
// A shell call the policy does not accept makes the whole turn unknown.
func Classify(body string) Action {
	calls, err := candidate.Calls(body)
	if err != nil || len(calls) == 0 {
		return Action{Kind: ActionUnknown}
	}

	var complete, remove, write, verify, discover *Action
	for _, c := range calls {
		switch c.Name {
		case candidate.ToolComplete:
			if complete == nil {
				complete = &Action{Kind: ActionComplete, Command: candidate.ToolComplete}
			}
		case candidate.ToolDeleteFile:
			if remove == nil {
				remove = &Action{Kind: ActionMutationDelete, Command: callText(c)}
			}
		case candidate.ToolWriteFile:
			if write == nil {
				write = &Action{Kind: ActionMutationWrite, Command: callText(c)}
			}
		case candidate.ToolReadFile, candidate.ToolListFiles:
			if discover == nil {
				discover = &Action{Kind: ActionDiscoveryShell, Command: callText(c)}
			}
		case candidate.ToolShell:
			if !c.Literal {
				return Action{Kind: ActionUnknown, Command: callText(c)}
			}
			cls := shellpolicy.Classify(c.Arg)
			switch cls.Kind {
			case shellpolicy.Verification:
				kind := ActionVerificationBuild
				if cls.Verification == shellpolicy.VerifyTest {
					kind = ActionVerificationTest
				}
				// test outranks build when a body runs both.
				if verify == nil || (verify.Kind == ActionVerificationBuild && kind == ActionVerificationTest) {
					verify = &Action{Kind: kind, Command: c.Arg}
				}
			case shellpolicy.ReadOnly:
				if discover == nil {
					discover = &Action{Kind: ActionDiscoveryShell, Command: c.Arg}
				}
			default:
				return Action{Kind: ActionUnknown, Command: c.Arg}
			}
		}
	}

	for _, a := range []*Action{complete, remove, write, verify, discover} {
		if a != nil {
			return *a
		}
	}
	return Action{Kind: ActionUnknown}
}

func callText(c candidate.Call) string {
	if c.Literal {
		return fmt.Sprintf("%s %s", c.Name, c.Arg)
	}
	return c.Name
}
