package run

import (
	"fmt"
	"strings"

	"github.com/metalagman/bendover/internal/turn"
)

// DefaultTailLines bounds the output tails carried in a digest.
const DefaultTailLines = 40

// Tag names the kind of failure a digest describes.
type Tag string

const (
	TagValidationRejected Tag = "validation_rejected"
	TagScriptExitNonZero  Tag = "script_exit_non_zero"
	TagVerificationFailed Tag = "verification_failed"
	TagEmptyDiff          Tag = "empty_diff"
	TagException          Tag = "exception"
)

// Digest is the bounded failure summary carried from one attempt to the next.
type Digest struct {
	Step             int
	Tag              Tag
	Checks           []string
	Action           turn.ActionKind
	Command          string
	ScriptTail       string
	VerificationTail string
	ChangedFiles     []string
}

func (d Digest) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %d failed [%s]\n", d.Step, d.Tag)
	fmt.Fprintf(&b, "failed checks: %s\n", strings.Join(d.Checks, "; "))
	fmt.Fprintf(&b, "action: %s\n", d.Action)
	fmt.Fprintf(&b, "command: %s\n", orNone(d.Command))
	fmt.Fprintf(&b, "script output tail:\n%s\n", orEmpty(d.ScriptTail))
	fmt.Fprintf(&b, "verification output tail:\n%s\n", orEmpty(d.VerificationTail))
	fmt.Fprintf(&b, "changed files: %s", orNone(strings.Join(d.ChangedFiles, ", ")))
	return b.String()
}

func validationDigest(step int, reasons []string, action turn.Action) Digest {
	return Digest{
		Step:    step,
		Tag:     TagValidationRejected,
		Checks:  reasons,
		Action:  action.Kind,
		Command: action.Command,
	}
}

func observationDigest(step int, tag Tag, check string, obs turn.Observation, tailLines int) Digest {
	return Digest{
		Step:             step,
		Tag:              tag,
		Checks:           []string{check},
		Action:           obs.Action,
		Command:          obs.Command,
		ScriptTail:       Tail(obs.Script.Combined, tailLines),
		VerificationTail: Tail(obs.Verification.Combined, tailLines),
		ChangedFiles:     obs.ChangedFiles,
	}
}

func exceptionDigest(step int, where string, err error, action turn.Action) Digest {
	return Digest{
		Step:    step,
		Tag:     TagException,
		Checks:  []string{fmt.Sprintf("%s: %v", where, err)},
		Action:  action.Kind,
		Command: action.Command,
	}
}

// Tail returns the last n lines of s without a trailing newline.
func Tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" || n <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func orEmpty(s string) string {
	if s == "" {
		return "(empty)"
	}
	return s
}
