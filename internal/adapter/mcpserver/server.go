// Package mcpserver exposes the tool registry to MCP clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"wikichat/internal/domain"
	"wikichat/internal/infra/tracer"
)

// ToolSource hands out the registry currently in force.
type ToolSource interface {
	Registry() domain.ToolExecutor
}

// Server publishes every registered tool as an MCP tool. Calls are
// resolved against the registry at call time, so a corpus swap is picked
// up by the next call; Sync refreshes the advertised list.
type Server struct {
	mcp    *server.MCPServer
	tools  ToolSource
	logger *slog.Logger
}

// New creates a server advertising the tools currently in source.
func New(source ToolSource, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp:    server.NewMCPServer("wikichat", version, server.WithToolCapabilities(true)),
		tools:  source,
		logger: logger,
	}
	s.Sync()
	return s
}

// Sync replaces the advertised tool list with the registry's tools.
func (s *Server) Sync() {
	list := s.tools.Registry().List()
	tools := make([]server.ServerTool, 0, len(list))
	for _, t := range list {
		schema := t.Schema()
		tools = append(tools, server.ServerTool{
			Tool:    mcp.NewToolWithRawSchema(t.Name(), t.Description(), schema.Parameters),
			Handler: s.handler(t.Name()),
		})
	}
	s.mcp.SetTools(tools...)
	s.logger.Debug("mcp tools synced", "count", len(tools))
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio serves MCP over r and w until ctx is cancelled or r closes.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(io.Discard, "", 0))
	s.logger.Info("mcp server listening on stdio")
	return stdio.Listen(ctx, r, w)
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := tracer.StartSpan(ctx, "mcp.call_tool")
		defer span.End()
		span.SetAttributes(tracer.StringAttr("tool", name))

		t, err := s.tools.Registry().Get(name)
		if err != nil {
			tracer.RecordError(span, err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			tracer.RecordError(span, err)
			return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
		}

		res, err := t.Execute(ctx, args)
		if err != nil {
			tracer.RecordError(span, err)
			s.logger.Warn("mcp tool call failed", "tool", name, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		if res.IsError {
			span.SetAttributes(tracer.BoolAttr("is_error", true))
			return mcp.NewToolResultError(res.Content), nil
		}
		tracer.SetOK(span)
		return mcp.NewToolResultText(res.Content), nil
	}
}
