package candidate

import (
	"fmt"

	"go.starlark.net/syntax"
)

// Call is one tool builtin invocation found in a body.
type Call struct {
	Name string
	// Arg is the first positional argument when it is a string literal.
	Arg string
	// Literal reports whether Arg came from a string literal.
	Literal bool
	InLoop  bool
	Pos     syntax.Position
}

var tools = map[string]bool{
	ToolWriteFile:  true,
	ToolDeleteFile: true,
	ToolReadFile:   true,
	ToolListFiles:  true,
	ToolShell:      true,
	ToolComplete:   true,
}

// Calls parses a body and returns its tool calls in source order.
func Calls(body string) ([]Call, error) {
	f, err := Parse(body)
	if err != nil {
		return nil, err
	}
	return toolCalls(f), nil
}

func toolCalls(f *syntax.File) []Call {
	loops := make(map[syntax.Node]bool)
	syntax.Walk(f, func(n syntax.Node) bool {
		switch l := n.(type) {
		case *syntax.ForStmt:
			markCalls(l.Body, loops)
		case *syntax.WhileStmt:
			markCalls(l.Body, loops)
		case *syntax.Comprehension:
			loops[l] = true
			syntax.Walk(l, func(inner syntax.Node) bool {
				if c, ok := inner.(*syntax.CallExpr); ok {
					loops[c] = true
				}
				return true
			})
		}
		return true
	})

	aliases := toolAliases(f)
	var calls []Call
	syntax.Walk(f, func(n syntax.Node) bool {
		c, ok := n.(*syntax.CallExpr)
		if !ok {
			return true
		}
		id, ok := c.Fn.(*syntax.Ident)
		if !ok {
			return true
		}
		name := id.Name
		if alias, ok := aliases[name]; ok {
			name = alias
		}
		if !tools[name] {
			return true
		}
		call := Call{Name: name, InLoop: loops[c], Pos: id.NamePos}
		if arg := firstPositional(c.Args); arg != nil {
			if lit, ok := arg.(*syntax.Literal); ok && lit.Token == syntax.STRING {
				call.Arg, call.Literal = lit.Value.(string)
			}
		}
		calls = append(calls, call)
		return true
	})
	return calls
}

// toolAliases maps names bound by "x = tool" assignments to the tool they alias.
func toolAliases(f *syntax.File) map[string]string {
	aliases := make(map[string]string)
	syntax.Walk(f, func(n syntax.Node) bool {
		a, ok := n.(*syntax.AssignStmt)
		if !ok || a.Op != syntax.EQ {
			return true
		}
		lhs, lok := a.LHS.(*syntax.Ident)
		rhs, rok := a.RHS.(*syntax.Ident)
		if !lok || !rok {
			return true
		}
		if tools[rhs.Name] {
			aliases[lhs.Name] = rhs.Name
		} else if target, ok := aliases[rhs.Name]; ok {
			aliases[lhs.Name] = target
		}
		return true
	})
	return aliases
}

// indirectToolRefs lists tool names used anywhere other than as the callee of
// a call expression, such as "w = write_file" or "f(write_file)".
func indirectToolRefs(f *syntax.File) []string {
	callees := make(map[*syntax.Ident]bool)
	syntax.Walk(f, func(n syntax.Node) bool {
		if c, ok := n.(*syntax.CallExpr); ok {
			if id, ok := c.Fn.(*syntax.Ident); ok {
				callees[id] = true
			}
		}
		return true
	})
	var refs []string
	syntax.Walk(f, func(n syntax.Node) bool {
		id, ok := n.(*syntax.Ident)
		if ok && tools[id.Name] && !callees[id] {
			refs = append(refs, fmt.Sprintf("%s at %s", id.Name, id.NamePos))
		}
		return true
	})
	return refs
}

func markCalls(body []syntax.Stmt, loops map[syntax.Node]bool) {
	for _, stmt := range body {
		syntax.Walk(stmt, func(n syntax.Node) bool {
			if c, ok := n.(*syntax.CallExpr); ok {
				loops[c] = true
			}
			return true
		})
	}
}

func firstPositional(args []syntax.Expr) syntax.Expr {
	for _, a := range args {
		if b, ok := a.(*syntax.BinaryExpr); ok && b.Op == syntax.EQ {
			continue
		}
		if _, ok := a.(*syntax.UnaryExpr); ok {
			continue
		}
		return a
	}
	return nil
}
