package shellpolicy

import (
	"fmt"
	"path"
	"strings"
)

// Kind is the policy verdict for a command.
type Kind int

const (
	// Disallowed commands fall outside both allow-lists or cannot be parsed safely.
	Disallowed Kind = iota
	// ReadOnly commands only inspect the workspace.
	ReadOnly
	// Verification commands build or test the workspace.
	Verification
	// Mutating commands contain a fragment that changes files or history.
	Mutating
)

func (k Kind) String() string {
	switch k {
	case ReadOnly:
		return "read_only"
	case Verification:
		return "verification"
	case Mutating:
		return "mutating"
	default:
		return "disallowed"
	}
}

// VerificationKind distinguishes build from test verification.
type VerificationKind string

const (
	VerifyNone  VerificationKind = ""
	VerifyBuild VerificationKind = "build"
	VerifyTest  VerificationKind = "test"
)

// Classification is the result of Classify.
type Classification struct {
	Kind         Kind
	Verification VerificationKind
	// Reason names the rule that fired for Disallowed and Mutating verdicts.
	Reason string
}

// readOnlyPrefixes are matched token by token against the start of a
// segment, so "rg" accepts "rg" and "rg -n x" but never "rgx".
var readOnlyPrefixes = [][]string{
	{"ls"}, {"cat"}, {"head"}, {"tail"}, {"wc"}, {"sort"}, {"uniq"},
	{"rg"}, {"grep"}, {"find"}, {"tree"}, {"pwd"}, {"echo"}, {"printf"},
	{"stat"}, {"file"}, {"du"}, {"diff"}, {"cut"}, {"tr"}, {"nl"},
	{"basename"}, {"dirname"}, {"realpath"}, {"which"}, {"jq"}, {"true"},
	{"git", "status"}, {"git", "diff"}, {"git", "log"}, {"git", "show"},
	{"git", "ls-files"}, {"git", "grep"}, {"git", "rev-parse"}, {"git", "blame"},
	{"go", "list"}, {"go", "vet"}, {"go", "env"}, {"go", "doc"}, {"go", "version"},
	{"dotnet", "--info"}, {"dotnet", "--list-sdks"},
}

// buildTools accept "<tool> build ..." and "<tool> test ...".
var buildTools = map[string]bool{
	"go": true, "dotnet": true, "cargo": true, "make": true,
	"npm": true, "pnpm": true, "yarn": true, "mvn": true, "gradle": true,
}

var mutatingCommands = map[string]bool{
	"rm": true, "rmdir": true, "mv": true, "cp": true, "mkdir": true,
	"touch": true, "chmod": true, "chown": true, "chgrp": true, "ln": true,
	"tee": true, "dd": true, "truncate": true, "install": true, "shred": true,
	"unlink": true, "patch": true, "sudo": true, "su": true,
}

var mutatingGitSubcommands = map[string]bool{
	"commit": true, "push": true, "pull": true, "fetch": true, "reset": true,
	"rebase": true, "merge": true, "checkout": true, "switch": true,
	"restore": true, "clean": true, "stash": true, "cherry-pick": true,
	"revert": true, "am": true, "apply": true, "tag": true, "branch": true,
	"rm": true, "mv": true, "add": true, "init": true, "clone": true,
	"gc": true, "prune": true, "filter-branch": true, "update-ref": true,
	"worktree": true, "config": true, "notes": true, "reflog": true,
}

// mutatingFlags write, delete or spawn regardless of the command they are
// passed to (find -delete, find -exec).
var mutatingFlags = map[string]bool{
	"-delete": true, "-exec": true, "-execdir": true, "-ok": true, "-okdir": true,
	"-fprint": true, "-fprint0": true, "-fprintf": true, "-fls": true,
}

// outputFlags are per-command flags that name an output file or run another
// program. Single-letter flags also match inside a short-flag cluster
// ("-o", "-oFILE", "-uo FILE").
var outputFlags = map[string][]string{
	"sort": {"-o", "--output", "--compress-program"},
	"tree": {"-o"},
	"file": {"-C"},
	"git":  {"--output", "--ext-diff"},
	"rg":   {"--pre"},
}

// subcommandFlags are flags that mutate only under a given subcommand.
var subcommandFlags = map[string]map[string][]string{
	"go": {
		"env": {"-w", "-u"},
		"vet": {"-vettool"},
	},
}

type segmentKind int

const (
	segDisallowed segmentKind = iota
	segCd
	segReadOnly
	segVerification
	segMutating
)

type segmentVerdict struct {
	kind   segmentKind
	verify VerificationKind
	reason string
}

// Classify returns the policy verdict for a whole command chain. Mutating
// fragments win over everything else; a chain is read-only only when every
// segment is read-only or a cd.
func Classify(command string) Classification {
	if strings.TrimSpace(command) == "" {
		return Classification{Kind: Disallowed, Reason: "command is empty"}
	}
	segs, err := Split(command)
	if err != nil {
		return Classification{Kind: Disallowed, Reason: err.Error()}
	}
	if len(segs) == 0 {
		return Classification{Kind: Disallowed, Reason: "command is empty"}
	}

	var disallowed *segmentVerdict
	verify := VerifyNone
	for _, seg := range segs {
		v := classifySegment(seg)
		switch v.kind {
		case segMutating:
			return Classification{Kind: Mutating, Reason: v.reason}
		case segDisallowed:
			if disallowed == nil {
				disallowed = &v
			}
		case segVerification:
			// A chain that both builds and tests is a test run.
			if verify != VerifyTest {
				verify = v.verify
			}
		}
	}
	if disallowed != nil {
		return Classification{Kind: Disallowed, Reason: disallowed.reason}
	}
	if verify != VerifyNone {
		return Classification{Kind: Verification, Verification: verify}
	}
	return Classification{Kind: ReadOnly}
}

// TryValidateAllowedForEngineer reports whether the engineer may run the
// command. It fails closed: anything that is not read-only or a recognised
// verification command is rejected with the reason that fired.
func TryValidateAllowedForEngineer(command string) (bool, string) {
	c := Classify(command)
	switch c.Kind {
	case ReadOnly, Verification:
		return true, ""
	case Mutating:
		return false, "mutating command rejected: " + c.Reason
	default:
		return false, "command rejected: " + c.Reason
	}
}

func classifySegment(seg Segment) segmentVerdict {
	if seg.Substitution {
		return segmentVerdict{kind: segDisallowed, reason: fmt.Sprintf("command substitution is not allowed in %q", seg.Raw)}
	}
	for _, target := range seg.Redirects {
		if target != "/dev/null" {
			return segmentVerdict{kind: segMutating, reason: fmt.Sprintf("output redirection to %q is not allowed", target)}
		}
	}

	words := stripAssignments(seg.Words)
	if len(words) == 0 {
		return segmentVerdict{kind: segDisallowed, reason: fmt.Sprintf("segment %q has no command", seg.Raw)}
	}
	name := path.Base(words[0])

	if mutatingCommands[name] {
		return segmentVerdict{kind: segMutating, reason: fmt.Sprintf("command %q mutates the workspace", name)}
	}
	for _, w := range words[1:] {
		if mutatingFlags[w] || matchesFlag(outputFlags[name], w) {
			return segmentVerdict{kind: segMutating, reason: fmt.Sprintf("flag %q of %q mutates the workspace", w, name)}
		}
	}
	if len(words) > 2 {
		for _, w := range words[2:] {
			if matchesFlag(subcommandFlags[name][words[1]], w) {
				return segmentVerdict{kind: segMutating, reason: fmt.Sprintf("flag %q of %q %q mutates the workspace", w, name, words[1])}
			}
		}
	}
	if name == "uniq" && len(positionalArgs(words[1:], uniqValueFlags)) > 1 {
		return segmentVerdict{kind: segMutating, reason: `command "uniq" with an output file mutates the workspace`}
	}
	if name == "git" {
		if hasGitConfigOverride(words[1:]) {
			return segmentVerdict{kind: segMutating, reason: `git "-c" overrides can run external programs`}
		}
		if sub := gitSubcommand(words[1:]); mutatingGitSubcommands[sub] {
			return segmentVerdict{kind: segMutating, reason: fmt.Sprintf("git subcommand %q mutates history", sub)}
		}
	}

	if name == "cd" {
		if len(words) > 2 {
			return segmentVerdict{kind: segDisallowed, reason: fmt.Sprintf("cd takes a single path, got %q", seg.Raw)}
		}
		return segmentVerdict{kind: segCd}
	}
	if buildTools[name] && len(words) >= 2 {
		switch words[1] {
		case "build":
			return segmentVerdict{kind: segVerification, verify: VerifyBuild}
		case "test":
			return segmentVerdict{kind: segVerification, verify: VerifyTest}
		}
	}

	normalized := append([]string{name}, words[1:]...)
	for _, prefix := range readOnlyPrefixes {
		if hasPrefix(normalized, prefix) {
			return segmentVerdict{kind: segReadOnly}
		}
	}
	return segmentVerdict{kind: segDisallowed, reason: fmt.Sprintf("%q is not in the read-only or verification allow-list", name)}
}

func matchesFlag(flags []string, word string) bool {
	for _, flag := range flags {
		if word == flag || strings.HasPrefix(word, flag+"=") {
			return true
		}
		if len(flag) == 2 && inShortCluster(word, flag[1]) {
			return true
		}
	}
	return false
}

// inShortCluster reports whether letter appears in a "-abc" style cluster.
func inShortCluster(word string, letter byte) bool {
	if len(word) < 2 || word[0] != '-' || word[1] == '-' {
		return false
	}
	return strings.IndexByte(word[1:], letter) >= 0
}

// uniqValueFlags take a separate value argument.
var uniqValueFlags = map[string]bool{"-f": true, "-s": true, "-w": true}

// positionalArgs returns the non-flag arguments, skipping values of valueFlags.
func positionalArgs(args []string, valueFlags map[string]bool) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			return append(out, args[i+1:]...)
		case valueFlags[a]:
			i++
		case strings.HasPrefix(a, "-") && a != "-":
		default:
			out = append(out, a)
		}
	}
	return out
}

func hasPrefix(words, prefix []string) bool {
	if len(words) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if words[i] != p {
			return false
		}
	}
	return true
}

// stripAssignments drops leading NAME=value environment assignments.
func stripAssignments(words []string) []string {
	for len(words) > 0 && isAssignment(words[0]) {
		words = words[1:]
	}
	return words
}

func isAssignment(word string) bool {
	eq := strings.IndexByte(word, '=')
	if eq <= 0 {
		return false
	}
	for i, r := range word[:eq] {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

// hasGitConfigOverride reports a "-c key=value" global option before the subcommand.
func hasGitConfigOverride(args []string) bool {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-c" || strings.HasPrefix(a, "--config-env"):
			return true
		case a == "-C" || a == "--git-dir" || a == "--work-tree":
			i++
		case strings.HasPrefix(a, "-"):
		default:
			return false
		}
	}
	return false
}

// gitSubcommand skips global options such as "-C dir" and "-c k=v".
func gitSubcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-C" || a == "-c" || a == "--git-dir" || a == "--work-tree":
			i++
		case strings.HasPrefix(a, "-"):
		default:
			return a
		}
	}
	return ""
}
