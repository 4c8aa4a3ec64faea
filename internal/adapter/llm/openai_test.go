package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// completionServer answers every request with resp and hands the decoded
// request to inspect, if set.
func completionServer(t *testing.T, resp completionResponse, inspect func(*http.Request, completionRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if inspect != nil {
			inspect(r, req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProviderChat(t *testing.T) {
	srv := completionServer(t, completionResponse{
		ID:    "chatcmpl-123",
		Model: "gpt-4o-mini",
		Choices: []wireChoice{{
			Message:      wireMessage{Role: "assistant", Content: "Tokyo is the capital of Japan."},
			FinishReason: "stop",
		}},
		Usage: wireUsage{PromptTokens: 10, CompletionTokens: 8, TotalTokens: 18},
	}, func(r *http.Request, req completionRequest) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "gpt-4o-mini", req.Model, "provider model fills an empty request model")
	})

	p := NewOpenAIProvider(config.ProviderConfig{
		Name: "test", BaseURL: srv.URL + "/", APIKey: "test-key", Model: "gpt-4o-mini",
	}, newTestLogger())

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "What is Tokyo?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Tokyo is the capital of Japan.", resp.Message.Content)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	assert.Equal(t, "test", p.Name())
}

func TestOpenAIProviderToolCalls(t *testing.T) {
	srv := completionServer(t, completionResponse{
		Choices: []wireChoice{{
			Message: wireMessage{
				Role: "assistant",
				ToolCalls: []wireToolCall{
					{ID: "call_1", Type: "function", Function: wireCall{Name: "wikipedia", Arguments: `{"query":"What is Tokyo?"}`}},
					{ID: "call_2", Type: "function", Function: wireCall{Name: "calculator", Arguments: ""}},
				},
			},
			FinishReason: "tool_calls",
		}},
	}, nil)

	p := NewOpenAIProvider(config.ProviderConfig{Name: "test", BaseURL: srv.URL}, newTestLogger())
	resp, err := p.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 2)

	first := resp.Message.ToolCalls[0]
	assert.Equal(t, "call_1", first.ID)
	assert.Equal(t, "wikipedia", first.Name)
	assert.JSONEq(t, `{"query":"What is Tokyo?"}`, string(first.Arguments))
	assert.Equal(t, "{}", string(resp.Message.ToolCalls[1].Arguments))
}

func TestOpenAIProviderNoAPIKey(t *testing.T) {
	srv := completionServer(t, completionResponse{}, func(r *http.Request, _ completionRequest) {
		assert.Empty(t, r.Header.Get("Authorization"))
	})
	p := NewOpenAIProvider(config.ProviderConfig{Name: "local", BaseURL: srv.URL}, newTestLogger())
	resp, err := p.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAssistant, resp.Message.Role)
}

func TestOpenAIProviderErrorStatuses(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, domain.ErrRateLimit},
		{http.StatusUnauthorized, `{"error":{"message":"nope"}}`, domain.ErrAuthInvalid},
		{http.StatusRequestEntityTooLarge, `{}`, domain.ErrContextOverflow},
		{http.StatusServiceUnavailable, `upstream down`, domain.ErrProviderError},
		{http.StatusBadRequest, `{"error":{"message":"too long","code":"context_length_exceeded"}}`, domain.ErrContextOverflow},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewOpenAIProvider(config.ProviderConfig{Name: "test", BaseURL: srv.URL}, newTestLogger())
			_, err := p.Chat(context.Background(), domain.ChatRequest{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOpenAIProviderMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.ProviderConfig{Name: "test", BaseURL: srv.URL}, newTestLogger())
	_, err := p.Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrProviderError)
}

func TestOpenAIProviderCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewOpenAIProvider(config.ProviderConfig{Name: "test", BaseURL: srv.URL}, newTestLogger())
	_, err := p.Chat(ctx, domain.ChatRequest{})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestEncodeCompletion(t *testing.T) {
	t.Run("temperature always sent", func(t *testing.T) {
		out := encodeCompletion(domain.ChatRequest{Model: "gpt-4o"})
		require.NotNil(t, out.Temperature)
		assert.Zero(t, *out.Temperature)
		assert.Empty(t, out.ToolChoice)

		raw, err := json.Marshal(out)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"temperature":0`)
		assert.NotContains(t, string(raw), "max_tokens")
	})

	t.Run("tool round trip", func(t *testing.T) {
		out := encodeCompletion(domain.ChatRequest{
			MaxTokens:   512,
			Temperature: 0.2,
			Messages: []domain.Message{
				{Role: domain.RoleSystem, Content: "Route questions to tools."},
				{Role: domain.RoleUser, Content: "What is Tokyo?"},
				{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{
					ID: "call_1", Name: "wikipedia", Arguments: json.RawMessage(`{"query":"Tokyo"}`),
				}}},
				{Role: domain.RoleTool, Name: "wikipedia", Content: "Tokyo is the capital of Japan.",
					ToolCalls: []domain.ToolCall{{ID: "call_1"}}},
			},
			Tools: []domain.ToolSchema{{
				Name: "wikipedia", Description: "topics: Tokyo, Berlin", Parameters: json.RawMessage(`{"type":"object"}`),
			}},
		})

		assert.Equal(t, 512, out.MaxTokens)
		assert.Equal(t, 0.2, *out.Temperature)
		assert.Equal(t, "auto", out.ToolChoice)
		require.Len(t, out.Tools, 1)
		assert.Equal(t, "function", out.Tools[0].Type)
		assert.Equal(t, "topics: Tokyo, Berlin", out.Tools[0].Function.Description)

		require.Len(t, out.Messages, 4)
		call := out.Messages[2]
		require.Len(t, call.ToolCalls, 1)
		assert.Equal(t, `{"query":"Tokyo"}`, call.ToolCalls[0].Function.Arguments)

		result := out.Messages[3]
		assert.Equal(t, "call_1", result.ToolCallID)
		assert.Empty(t, result.ToolCalls, "tool results carry only the call ID")
	})
}

func TestDecodeCompletionWithoutChoices(t *testing.T) {
	resp := decodeCompletion(completionResponse{ID: "x", Model: "m", Created: 1700000000})
	assert.Equal(t, "x", resp.ID)
	assert.Equal(t, "m", resp.Model)
	assert.Equal(t, int64(1700000000), resp.CreatedAt.Unix())
	assert.Empty(t, resp.Message.Content)
	assert.Empty(t, resp.Message.ToolCalls)
}
