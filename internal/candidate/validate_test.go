package candidate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasReason(res Result, prefix string) bool {
	for _, r := range res.Reasons {
		if strings.HasPrefix(r, prefix) {
			return true
		}
	}
	return false
}

func TestValidate_AcceptsFlatStatements(t *testing.T) {
	t.Parallel()

	body := `content = read_file("notes.md")
write_file("notes.md", content + "marker\n")
print(sh("wc -l notes.md"))
`
	res := Validate(body)
	assert.True(t, res.Accepted(), "reasons: %v", res.Reasons)
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	t.Parallel()

	body := `def main():
    write_file("a.txt", "x")
`
	res := Validate(body)
	require.False(t, res.Accepted())
	assert.True(t, hasReason(res, ReasonDeclaration), "reasons: %v", res.Reasons)
	assert.True(t, hasReason(res, ReasonNoStatements), "reasons: %v", res.Reasons)
}

func TestValidate_EmptyBody(t *testing.T) {
	t.Parallel()

	for _, body := range []string{"", "  \n\t"} {
		res := Validate(body)
		assert.Equal(t, []string{ReasonEmpty, ReasonNoStatements}, res.Reasons)
	}
}

func TestValidate_CodeFenceAndParseErrorBothReported(t *testing.T) {
	t.Parallel()

	res := Validate("```python\nwrite_file(\"a\", \"b\")\n```")
	assert.True(t, hasReason(res, ReasonCodeFence), "reasons: %v", res.Reasons)
	assert.True(t, hasReason(res, ReasonParse), "reasons: %v", res.Reasons)
}

func TestValidate_LoadDirective(t *testing.T) {
	t.Parallel()

	res := Validate(`load("lib.star", "helper")
helper()
`)
	require.False(t, res.Accepted())
	assert.True(t, hasReason(res, ReasonDirective), "reasons: %v", res.Reasons)
	assert.False(t, hasReason(res, ReasonNoStatements))
}

func TestValidate_DirectiveTextInsideStringIsNotADirective(t *testing.T) {
	t.Parallel()

	body := `write_file("docs/usage.md", 'load("lib.star", "x")\ndef f(): pass\n')`
	res := Validate(body)
	assert.True(t, res.Accepted(), "reasons: %v", res.Reasons)
}

func TestValidate_MultipleMutations(t *testing.T) {
	t.Parallel()

	res := Validate(`write_file("a.txt", "a")
delete_file("b.txt")
`)
	require.False(t, res.Accepted())
	assert.True(t, hasReason(res, ReasonMutations), "reasons: %v", res.Reasons)
}

func TestValidate_MutationInsideLoop(t *testing.T) {
	t.Parallel()

	res := Validate(`for name in ["a.txt", "b.txt"]:
    write_file(name, "x")
`)
	require.False(t, res.Accepted())
	assert.True(t, hasReason(res, ReasonLoopMutation), "reasons: %v", res.Reasons)
}

func TestValidate_ShellCommandsAreGatedByPolicy(t *testing.T) {
	t.Parallel()

	res := Validate(`sh("cat go.mod | rm go.mod")`)
	require.False(t, res.Accepted())
	assert.True(t, hasReason(res, ReasonShell), "reasons: %v", res.Reasons)

	res = Validate(`cmd = "ls"
sh(cmd)
`)
	require.False(t, res.Accepted())
	assert.True(t, hasReason(res, ReasonShell), "reasons: %v", res.Reasons)

	res = Validate(`sh("go test ./...")`)
	assert.True(t, res.Accepted(), "reasons: %v", res.Reasons)
}

func TestCalls_ReturnsToolCallsInSourceOrder(t *testing.T) {
	t.Parallel()

	calls, err := Calls(`x = read_file("a.txt")
sh("go build ./...")
complete(summary="done")
len(x)
`)
	require.NoError(t, err)
	require.Len(t, calls, 3)
	assert.Equal(t, ToolReadFile, calls[0].Name)
	assert.Equal(t, "a.txt", calls[0].Arg)
	assert.Equal(t, ToolShell, calls[1].Name)
	assert.Equal(t, "go build ./...", calls[1].Arg)
	assert.True(t, calls[1].Literal)
	assert.Equal(t, ToolComplete, calls[2].Name)
	assert.False(t, calls[2].Literal)
}

func TestValidate_NestedDeclarations(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"def inside if": `if True:
    def g(i):
        write_file("f%d.txt" % i, "x")
for i in range(3):
    g(i)
`,
		"lambda": `g = lambda i: write_file("f.txt", str(i))
g(1)
`,
	}
	for name, body := range cases {
		res := Validate(body)
		require.False(t, res.Accepted(), name)
		assert.True(t, hasReason(res, ReasonDeclaration), "%s: %v", name, res.Reasons)
		assert.False(t, hasReason(res, ReasonNoStatements), "%s: %v", name, res.Reasons)
	}
}

func TestValidate_ToolBuiltinsMustBeCalledDirectly(t *testing.T) {
	t.Parallel()

	res := Validate(`w = write_file
w("a.txt", "a")
w("b.txt", "b")
`)
	require.False(t, res.Accepted())
	assert.True(t, hasReason(res, ReasonToolRef), "reasons: %v", res.Reasons)
	assert.True(t, hasReason(res, ReasonMutations), "reasons: %v", res.Reasons)

	res = Validate(`fns = [delete_file]
for f in fns:
    f("a.txt")
`)
	require.False(t, res.Accepted())
	assert.True(t, hasReason(res, ReasonToolRef), "reasons: %v", res.Reasons)
}

func TestCalls_ResolvesToolAliases(t *testing.T) {
	t.Parallel()

	calls, err := Calls(`w = write_file
x = w
x("notes.md", "marker\n")
`)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, ToolWriteFile, calls[0].Name)
	assert.Equal(t, "notes.md", calls[0].Arg)
}
