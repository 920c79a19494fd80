// Package candidate statically checks candidate bodies before they reach the sandbox.
//
// A candidate body is a flat Starlark script that drives the workspace through
// a fixed set of tool builtins. It must not declare functions or load modules.
package candidate

import (
	"fmt"
	"strings"

	"github.com/metalagman/bendover/internal/shellpolicy"
	"go.starlark.net/syntax"
)

// Tool builtins available to candidate bodies.
const (
	ToolWriteFile  = "write_file"
	ToolDeleteFile = "delete_file"
	ToolReadFile   = "read_file"
	ToolListFiles  = "list_files"
	ToolShell      = "sh"
	ToolComplete   = "complete"
)

// FileOptions are the dialect options shared by validation and execution.
var FileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Rejection reasons.
const (
	ReasonEmpty        = "body is empty"
	ReasonCodeFence    = "contains markdown code fences"
	ReasonDirective    = "contains import/reference directives"
	ReasonDeclaration  = "contains namespace/type/member declarations"
	ReasonNoStatements = "contains no executable statements"
	ReasonMutations    = "contains multiple simultaneous mutations"
	ReasonLoopMutation = "contains a mutation inside a loop"
	ReasonShell        = "contains a disallowed shell command"
	ReasonToolRef      = "tool builtins may only be called directly"
	ReasonParse        = "does not parse"
)

// Result is the validator verdict. An empty Reasons list means accepted.
type Result struct {
	Reasons []string
}

// Accepted reports whether the body passed every check.
func (r Result) Accepted() bool {
	return len(r.Reasons) == 0
}

func (r *Result) reject(reason string, detail string) {
	if detail != "" {
		reason = reason + ": " + detail
	}
	r.Reasons = append(r.Reasons, reason)
}

// Validate checks a candidate body. All violations are reported, not just
// the first one found.
func Validate(body string) Result {
	var res Result
	if strings.TrimSpace(body) == "" {
		res.reject(ReasonEmpty, "")
		res.reject(ReasonNoStatements, "")
		return res
	}
	if strings.Contains(body, "```") {
		res.reject(ReasonCodeFence, "")
	}

	f, err := Parse(body)
	if err != nil {
		res.reject(ReasonParse, err.Error())
		return res
	}

	executable := 0
	for _, stmt := range f.Stmts {
		switch stmt.(type) {
		case *syntax.LoadStmt, *syntax.DefStmt:
		default:
			executable++
		}
	}
	var loads, defs []string
	syntax.Walk(f, func(n syntax.Node) bool {
		switch s := n.(type) {
		case *syntax.LoadStmt:
			loads = append(loads, fmt.Sprintf("load(%q)", s.ModuleName()))
		case *syntax.DefStmt:
			defs = append(defs, "def "+s.Name.Name)
		case *syntax.LambdaExpr:
			start, _ := s.Span()
			defs = append(defs, "lambda at "+start.String())
		}
		return true
	})
	if len(loads) > 0 {
		res.reject(ReasonDirective, strings.Join(loads, ", "))
	}
	if len(defs) > 0 {
		res.reject(ReasonDeclaration, strings.Join(defs, ", "))
	}
	if refs := indirectToolRefs(f); len(refs) > 0 {
		res.reject(ReasonToolRef, strings.Join(refs, ", "))
	}
	if executable == 0 {
		res.reject(ReasonNoStatements, "")
	}

	calls := toolCalls(f)
	mutations := 0
	for _, c := range calls {
		switch c.Name {
		case ToolWriteFile, ToolDeleteFile:
			mutations++
			if c.InLoop {
				res.reject(ReasonLoopMutation, fmt.Sprintf("%s at %s", c.Name, c.Pos))
			}
		case ToolShell:
			if !c.Literal {
				res.reject(ReasonShell, fmt.Sprintf("sh() at %s requires a string literal command", c.Pos))
				continue
			}
			if ok, reason := shellpolicy.TryValidateAllowedForEngineer(c.Arg); !ok {
				res.reject(ReasonShell, reason)
			}
		}
	}
	if mutations > 1 {
		res.reject(ReasonMutations, fmt.Sprintf("%d mutating calls", mutations))
	}
	return res
}

// Parse parses a body with the candidate dialect.
func Parse(body string) (*syntax.File, error) {
	return FileOptions.Parse("candidate.star", body, 0)
}
