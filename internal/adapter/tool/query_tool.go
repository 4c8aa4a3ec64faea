package tool

import (
	"context"
	"encoding/json"
	"log/slog"

	"wikichat/internal/domain"
)

// queryParamsSchema is the fixed parameter schema shared by every query tool.
var queryParamsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "The question or instruction for this tool, as a complete sentence."
		}
	},
	"required": ["query"]
}`)

// QueryTool is a tool bound to a single QueryBackend. The backend reference
// is captured at construction; rebuilding a backend means building a new tool.
type QueryTool struct {
	name         string
	description  string
	backend      domain.QueryBackend
	returnDirect bool
	logger       *slog.Logger
}

// NewQueryTool creates a tool that forwards its "query" argument to backend.
func NewQueryTool(name, description string, backend domain.QueryBackend, returnDirect bool, logger *slog.Logger) *QueryTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryTool{
		name:         name,
		description:  description,
		backend:      backend,
		returnDirect: returnDirect,
		logger:       logger,
	}
}

func (t *QueryTool) Name() string        { return t.name }
func (t *QueryTool) Description() string { return t.description }
func (t *QueryTool) ReturnDirect() bool  { return t.returnDirect }

func (t *QueryTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.name,
		Description: t.description,
		Parameters:  queryParamsSchema,
	}
}

// Execute runs the bound backend. Backend failures come back as an error
// ToolResult, classified retryable or permanent, for the agent runtime to act on.
func (t *QueryTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return runQuery(ctx, t.name, t.backend, params, t.logger), nil
}
