package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"wikichat/internal/domain"
)

// stubTool records the arguments it was executed with.
type stubTool struct {
	name   string
	schema json.RawMessage
	result *domain.ToolResult
	direct bool
	got    json.RawMessage
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) ReturnDirect() bool  { return s.direct }
func (s *stubTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: s.name, Description: "stub", Parameters: s.schema}
}
func (s *stubTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	s.got = params
	return s.result, nil
}

const querySchema = `{
	"type": "object",
	"properties": {"query": {"type": "string"}, "top_k": {"type": "integer"}},
	"required": ["query"]
}`

func TestValidatedArguments(t *testing.T) {
	tests := []struct {
		name     string
		args     string
		wantErr  string // substring of the error result, empty for a pass
		executed bool
	}{
		{"valid", `{"query":"What is Berlin?"}`, "", true},
		{"integer as number", `{"query":"x","top_k":3}`, "", true},
		{"missing query", `{}`, "(required)", false},
		{"wrong type", `{"query":"x","top_k":"three"}`, "top_k", false},
		{"not json", `{"query":`, "not JSON", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &stubTool{name: "wiki", schema: json.RawMessage(querySchema), result: &domain.ToolResult{Content: "ok"}}
			wrapped, err := Validated(inner)
			if err != nil {
				t.Fatalf("Validated: %v", err)
			}

			res, err := wrapped.Execute(context.Background(), json.RawMessage(tt.args))
			if err != nil {
				t.Fatalf("Execute returned a Go error: %v", err)
			}
			if (inner.got != nil) != tt.executed {
				t.Errorf("inner executed = %v, want %v", inner.got != nil, tt.executed)
			}
			if tt.wantErr == "" {
				if res.IsError || res.Content != "ok" {
					t.Errorf("result = %+v", res)
				}
				return
			}
			if !res.IsError || !strings.Contains(res.Content, tt.wantErr) {
				t.Errorf("result = %+v, want error containing %q", res, tt.wantErr)
			}
		})
	}
}

func TestValidatedPassthrough(t *testing.T) {
	for _, raw := range []json.RawMessage{nil, json.RawMessage(" null ")} {
		inner := &stubTool{name: "plain", schema: raw}
		wrapped, err := Validated(inner)
		if err != nil {
			t.Fatalf("Validated(%q): %v", raw, err)
		}
		if wrapped != domain.Tool(inner) {
			t.Errorf("schema %q: tool was wrapped", raw)
		}
	}
}

func TestValidatedBadSchema(t *testing.T) {
	_, err := Validated(&stubTool{name: "broken", schema: json.RawMessage(`{"type": `)})
	if err == nil || !strings.Contains(err.Error(), `tool "broken"`) {
		t.Fatalf("err = %v", err)
	}
}

func TestValidatedForwardsMetadata(t *testing.T) {
	inner := &stubTool{name: "my_tool", schema: json.RawMessage(querySchema), direct: true}
	wrapped, err := Validated(inner)
	if err != nil {
		t.Fatal(err)
	}
	if wrapped.Name() != "my_tool" || wrapped.Description() != "stub" || wrapped.Schema().Name != "my_tool" {
		t.Errorf("metadata not forwarded: %q %q", wrapped.Name(), wrapped.Description())
	}
	if !wrapped.ReturnDirect() {
		t.Error("ReturnDirect not forwarded")
	}
	if v, ok := wrapped.(*ValidatedTool); !ok || v.Unwrap() != domain.Tool(inner) {
		t.Error("Unwrap should return the inner tool")
	}
}

func TestCompileSchemaCached(t *testing.T) {
	a, err := compileSchema([]byte(querySchema))
	if err != nil {
		t.Fatal(err)
	}
	b, err := compileSchema([]byte(querySchema))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("identical schemas compiled twice")
	}
}

func TestRegistryValidatesArguments(t *testing.T) {
	reg := NewRegistry(nopLogger())
	inner := &stubTool{name: "transactions_db", schema: json.RawMessage(querySchema), result: &domain.ToolResult{Content: "executed"}}
	if err := reg.Register(inner); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, err := reg.Get("transactions_db")
	if err != nil {
		t.Fatal(err)
	}

	res, _ := got.Execute(context.Background(), json.RawMessage(`{"query":"sum of amounts"}`))
	if res.IsError || res.Content != "executed" {
		t.Errorf("valid call: %+v", res)
	}
	res, _ = got.Execute(context.Background(), json.RawMessage(`{}`))
	if !res.IsError {
		t.Error("missing query accepted")
	}
}

func TestRegistryKeepsToolWithBadSchema(t *testing.T) {
	reg := NewRegistry(nopLogger())
	inner := &stubTool{name: "bad_schema", schema: json.RawMessage(`{"type": `), result: &domain.ToolResult{Content: "fallback ok"}}
	if err := reg.Register(inner); err != nil {
		t.Fatalf("register should succeed despite bad schema: %v", err)
	}
	got, _ := reg.Get("bad_schema")
	if res, _ := got.Execute(context.Background(), json.RawMessage(`{}`)); res.Content != "fallback ok" {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistryWithoutLoggerSkipsValidation(t *testing.T) {
	reg := NewRegistry(nil)
	inner := &stubTool{name: "unchecked", schema: json.RawMessage(`{"type":"object","required":["x"]}`), result: &domain.ToolResult{Content: "no validation"}}
	if err := reg.Register(inner); err != nil {
		t.Fatal(err)
	}
	got, _ := reg.Get("unchecked")
	if res, _ := got.Execute(context.Background(), json.RawMessage(`{}`)); res.Content != "no validation" {
		t.Errorf("result = %+v", res)
	}
}
