package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
})

// SchemaError lists every schema violation of a config document, sorted.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return "config schema validation failed: " + strings.Join(e.Violations, "; ")
}

// ValidateSettings validates raw config settings against the embedded JSON schema.
func ValidateSettings(settings map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(settings))
	if err != nil {
		return fmt.Errorf("validate config schema: %w", err)
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, v := range result.Errors() {
		violations = append(violations, v.String())
	}
	sort.Strings(violations)
	return &SchemaError{Violations: violations}
}
