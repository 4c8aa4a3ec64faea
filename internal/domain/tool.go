package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema is what a model sees of a tool when choosing one.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a model's request to run a tool with JSON arguments.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is a tool's output. Failures the model should read come back
// with IsError set rather than as a Go error.
type ToolResult struct {
	ToolCallID  string `json:"tool_call_id"`
	Content     string `json:"content"`
	IsError     bool   `json:"is_error"`
	IsRetryable bool   `json:"is_retryable,omitempty"`
}

// Tool is a named capability the router can pick for a query. Routing
// relies on Description alone, so two tools with overlapping descriptions
// will be confused with each other.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
	// ReturnDirect makes the tool output the answer, with no model pass
	// over it.
	ReturnDirect() bool
}

// ToolExecutor is a read-only view of registered tools, in registration
// order.
type ToolExecutor interface {
	Get(name string) (Tool, error)
	List() []Tool
	Schemas() []ToolSchema
}

// QueryBackend answers a plain-text query. Retrieval, SQL and the
// calculator sit behind it.
type QueryBackend interface {
	Query(ctx context.Context, text string) (string, error)
}

// QueryFunc lets a function serve as a QueryBackend.
type QueryFunc func(ctx context.Context, text string) (string, error)

func (f QueryFunc) Query(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}
