package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"wikichat/internal/domain"
	"wikichat/internal/infra/tracer"
)

// maxResponseBody caps how much of a provider response is read.
const maxResponseBody = 10 << 20

// doJSONRequest POSTs body to url and returns the 200 response body.
// Transport failures wrap ErrProviderError unless ctx ended; other
// statuses go through mapHTTPError.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("provider request: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: provider request: %v", domain.ErrProviderError, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrProviderError, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(resp.StatusCode, data)
	}
	return data, nil
}

func logChatCompleted(logger *slog.Logger, provider string, result *domain.ChatResponse) {
	logger.Debug("llm chat completed",
		"provider", provider,
		"model", result.Model,
		"tokens", result.Usage.TotalTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
}

func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}

// apiErrorBody is the error envelope of OpenAI-compatible servers.
type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// mapHTTPError turns a failed provider response into an error wrapping the
// sentinel the agent's retry policy and the circuit breaker branch on.
// The text keeps the "API error <status>:" form that ClassifyLLMError parses.
func mapHTTPError(status int, body []byte) error {
	detail := string(body)
	var envelope apiErrorBody
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		detail = envelope.Error.Message
	}
	msg := fmt.Sprintf("API error %d: %s", status, detail)

	if code, _ := envelope.Error.Code.(string); code != "" {
		switch code {
		case "context_length_exceeded":
			return fmt.Errorf("%w: %s", domain.ErrContextOverflow, msg)
		case "invalid_api_key":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case "rate_limit_exceeded":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
	case status == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, msg)
	case status >= 500:
		return fmt.Errorf("%w: %s", domain.ErrProviderError, msg)
	default:
		return fmt.Errorf("%s", msg)
	}
}
