package run

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"

	"github.com/metalagman/bendover/internal/practice"
)

//go:embed prompts/system.gotmpl
var systemPromptTemplate string

//go:embed prompts/step.gotmpl
var stepPromptTemplate string

var (
	systemTmpl = template.Must(template.New("system").Parse(systemPromptTemplate))
	stepTmpl   = template.Must(template.New("step").Parse(stepPromptTemplate))
)

// PromptInput is everything a generation prompt is built from.
type PromptInput struct {
	Goal      string
	Step      int
	MaxSteps  int
	Practices []practice.Practice
	History   []Entry
}

// BuildPrompt renders the system and step messages for one attempt.
func BuildPrompt(in PromptInput) ([]Message, error) {
	var sys bytes.Buffer
	if err := systemTmpl.Execute(&sys, in); err != nil {
		return nil, fmt.Errorf("execute system prompt template: %w", err)
	}
	var step bytes.Buffer
	if err := stepTmpl.Execute(&step, in); err != nil {
		return nil, fmt.Errorf("execute step prompt template: %w", err)
	}
	return []Message{
		{Role: RoleSystem, Content: sys.String()},
		{Role: RoleUser, Content: step.String()},
	}, nil
}
