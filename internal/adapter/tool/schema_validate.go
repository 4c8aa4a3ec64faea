package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"wikichat/internal/domain"
)

// compiled holds schemas keyed by their raw text. Every query tool shares
// the same {"query": string} schema, so it compiles once per process.
var compiled sync.Map

// ValidatedTool checks call arguments against the tool's parameter schema
// before the tool runs. Bad arguments become an error result the model can
// read and correct, never a Go error.
type ValidatedTool struct {
	domain.Tool
	schema *jsonschema.Schema
}

// Validated wraps t with argument checking. Tools without a parameter
// schema are returned as is.
func Validated(t domain.Tool) (domain.Tool, error) {
	raw := bytes.TrimSpace(t.Schema().Parameters)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return t, nil
	}
	schema, err := compileSchema(raw)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", t.Name(), err)
	}
	return &ValidatedTool{Tool: t, schema: schema}, nil
}

func compileSchema(raw []byte) (*jsonschema.Schema, error) {
	key := string(raw)
	if s, ok := compiled.Load(key); ok {
		return s.(*jsonschema.Schema), nil
	}
	s, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("compile parameter schema: %w", err)
	}
	compiled.Store(key, s)
	return s, nil
}

// Unwrap returns the checked tool.
func (v *ValidatedTool) Unwrap() domain.Tool { return v.Tool }

// Execute implements domain.Tool.
func (v *ValidatedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var args any
	if err := json.Unmarshal(params, &args); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("invalid arguments for %s: not JSON: %v", v.Name(), err),
		}, nil
	}
	if res := v.schema.Validate(args); !res.IsValid() {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("invalid arguments for %s: %s", v.Name(), firstViolation(res)),
		}, nil
	}
	return v.Tool.Execute(ctx, params)
}

// firstViolation reports the deepest failing location of a result as
// "<instance path> (<keyword>): <message>".
func firstViolation(res *jsonschema.EvaluationResult) string {
	for _, d := range res.Details {
		if d != nil && !d.IsValid() {
			return firstViolation(d)
		}
	}
	loc := res.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	keywords := slices.Sorted(maps.Keys(res.Errors))
	if len(keywords) == 0 {
		return loc + ": does not match the schema"
	}
	return loc + " (" + keywords[0] + "): " + res.Errors[keywords[0]].Error()
}
