package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"wikichat/internal/domain"
	"wikichat/internal/infra/tracer"
)

type queryParams struct {
	Query string `json:"query"`
}

// runQuery is the pipeline behind every query tool: decode the "query"
// argument, trace the backend call, and fold its outcome into a ToolResult.
// The backend's text is passed through byte for byte. Failures never
// surface as Go errors; the agent reads IsError and IsRetryable instead.
func runQuery(ctx context.Context, name string, backend domain.QueryBackend, raw json.RawMessage, logger *slog.Logger) *domain.ToolResult {
	ctx, span := tracer.StartSpan(ctx, "tool."+name,
		trace.WithAttributes(
			tracer.StringAttr("tool.name", name),
			tracer.StringAttr("session.id", domain.SessionIDFromContext(ctx)),
		),
	)
	defer span.End()

	var p queryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		tracer.RecordError(span, err)
		return &domain.ToolResult{IsError: true, Content: name + ": arguments must be {\"query\": string}: " + err.Error()}
	}
	query := strings.TrimSpace(p.Query)
	if query == "" {
		span.SetAttributes(tracer.BoolAttr("tool.empty_query", true))
		return &domain.ToolResult{IsError: true, Content: name + ": 'query' is required"}
	}
	span.SetAttributes(tracer.IntAttr("tool.query_len", len(query)))

	start := time.Now()
	out, err := backend.Query(ctx, query)
	took := time.Since(start)
	if err != nil {
		tracer.RecordError(span, err)
		res := failureResult(name, err)
		logger.Warn("tool failed",
			"tool", name,
			"session_id", domain.SessionIDFromContext(ctx),
			"turn_id", domain.TurnIDFromContext(ctx),
			"retryable", res.IsRetryable,
			"duration_ms", took.Milliseconds(),
			"error", err,
		)
		return res
	}

	span.SetAttributes(tracer.IntAttr("tool.output_len", len(out)))
	tracer.SetOK(span)
	logger.Debug("tool answered",
		"tool", name,
		"turn_id", domain.TurnIDFromContext(ctx),
		"duration_ms", took.Milliseconds(),
	)
	return &domain.ToolResult{Content: out}
}
