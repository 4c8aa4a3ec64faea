package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
	"wikichat/internal/infra/tracer"
)

var _ domain.LLMProvider = (*OpenAIProvider)(nil)

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider talks to any server implementing the OpenAI chat
// completions endpoint with function calling: OpenAI itself, Ollama's /v1,
// vLLM, LM Studio and similar.
type OpenAIProvider struct {
	name     string
	model    string
	apiKey   string
	endpoint string // full chat completions URL
	client   *http.Client
	logger   *slog.Logger
}

// NewOpenAIProvider creates a provider for cfg. An empty BaseURL means the
// public OpenAI API.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	return newCompletionsProvider(cfg, cfg.BaseURL, NewHTTPClient(cfg), logger)
}

func newCompletionsProvider(cfg config.ProviderConfig, baseURL string, client *http.Client, logger *slog.Logger) *OpenAIProvider {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}
	return &OpenAIProvider{
		name:     cfg.Name,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		endpoint: baseURL + "/chat/completions",
		client:   client,
		logger:   logger,
	}
}

// Name implements domain.LLMProvider.
func (p *OpenAIProvider) Name() string { return p.name }

// Chat implements domain.LLMProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
			tracer.IntAttr("llm.tools_offered", len(req.Tools)),
		),
	)
	defer span.End()

	body, err := json.Marshal(encodeCompletion(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	var headers map[string]string
	if p.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + p.apiKey}
	}

	raw, err := doJSONRequest(ctx, p.client, p.endpoint, body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var completion completionResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		err = fmt.Errorf("%w: decode completion: %v", domain.ErrProviderError, err)
		tracer.RecordError(span, err)
		return nil, err
	}

	result := decodeCompletion(completion)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)
	return result, nil
}

// Chat completions wire format. Only the fields wikichat reads or sends.

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireToolCall struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function wireCall `json:"function"`
}

type wireCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type completionResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Created int64        `json:"created"`
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

type wireChoice struct {
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// encodeCompletion converts a domain request. Temperature is always sent:
// routing runs at 0, which omitempty would drop.
func encodeCompletion(req domain.ChatRequest) completionRequest {
	temp := req.Temperature
	out := completionRequest{
		Model:       req.Model,
		Messages:    make([]wireMessage, 0, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: &temp,
	}

	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, Name: m.Name}
		switch {
		case m.Role == domain.RoleTool && len(m.ToolCalls) > 0:
			// A tool result carries the ID of the call it answers.
			wm.ToolCallID = m.ToolCalls[0].ID
		case len(m.ToolCalls) > 0:
			wm.ToolCalls = make([]wireToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				wm.ToolCalls[i] = wireToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: wireCall{Name: tc.Name, Arguments: string(tc.Arguments)},
				}
			}
		}
		out.Messages = append(out.Messages, wm)
	}

	if len(req.Tools) > 0 {
		out.ToolChoice = "auto"
		out.Tools = make([]wireTool, len(req.Tools))
		for i, t := range req.Tools {
			out.Tools[i] = wireTool{
				Type:     "function",
				Function: wireFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
			}
		}
	}
	return out
}

// decodeCompletion takes the first choice. A response without choices
// yields an empty assistant message.
func decodeCompletion(resp completionResponse) *domain.ChatResponse {
	created := time.Now()
	if resp.Created > 0 {
		created = time.Unix(resp.Created, 0)
	}
	result := &domain.ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		CreatedAt: created,
		Message:   domain.Message{Role: domain.RoleAssistant, Timestamp: created},
	}
	if len(resp.Choices) == 0 {
		return result
	}

	wm := resp.Choices[0].Message
	if wm.Role != "" {
		result.Message.Role = wm.Role
	}
	result.Message.Content = wm.Content
	result.Message.Name = wm.Name
	for _, tc := range wm.ToolCalls {
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			// Some servers send "" for a call without parameters.
			args = "{}"
		}
		result.Message.ToolCalls = append(result.Message.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return result
}
