package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
	"wikichat/internal/infra/tracer"
)

// Retry backoff bounds for LLM calls.
const (
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 10 * time.Second
)

// AgentDeps holds injected dependencies for the agent.
type AgentDeps struct {
	LLM            domain.LLMProvider
	ContextBuilder *ContextBuilder
	Logger         *slog.Logger
	Mode           string // config.ModeConversational or config.ModeZeroShot
	MaxIterations  int
	MaxRetries     int           // extra attempts on retryable LLM errors
	Timeout        time.Duration // per Route call, 0 = none
	RetryDelay     time.Duration // first backoff step, 0 = baseRetryDelay
}

// RouteResult is the outcome of routing one query.
type RouteResult struct {
	Response  string
	ToolsUsed []string
	// Direct is set when a return_direct tool produced Response verbatim.
	Direct bool
	Usage  domain.Usage
}

// Agent drives the LLM over a tool registry. It holds no conversation
// state: memory is passed in on every call.
type Agent struct {
	deps AgentDeps
}

// NewAgent creates an agent with the given dependencies.
func NewAgent(deps AgentDeps) *Agent {
	if deps.Mode == "" {
		deps.Mode = config.ModeConversational
	}
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = 5
	}
	if deps.MaxRetries < 0 {
		deps.MaxRetries = 0
	}
	if deps.RetryDelay <= 0 {
		deps.RetryDelay = baseRetryDelay
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Agent{deps: deps}
}

// Mode returns the routing mode.
func (a *Agent) Mode() string { return a.deps.Mode }

// Route answers query using the tools in registry. Every call sees the
// full registry; memory is only consulted in conversational mode.
func (a *Agent) Route(ctx context.Context, query string, registry domain.ToolExecutor, memory []domain.Message) (*RouteResult, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.route",
		trace.WithAttributes(
			tracer.StringAttr("agent.mode", a.deps.Mode),
			tracer.IntAttr("agent.memory", len(memory)),
		),
	)
	defer span.End()

	if a.deps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.deps.Timeout)
		defer cancel()
	}

	var (
		res *RouteResult
		err error
	)
	if a.deps.Mode == config.ModeZeroShot {
		res, err = a.routeZeroShot(ctx, query, registry)
	} else {
		res, err = a.routeConversational(ctx, query, registry, memory)
	}
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(
		tracer.BoolAttr("agent.direct", res.Direct),
		tracer.IntAttr("agent.tools_used", len(res.ToolsUsed)),
	)
	tracer.SetOK(span)
	return res, nil
}

// routeConversational offers the tools once. The first tool call of the
// reply is executed; a return_direct tool ends the turn with its raw
// output, any other tool output is fed back for a final tool-less answer.
func (a *Agent) routeConversational(ctx context.Context, query string, registry domain.ToolExecutor, memory []domain.Message) (*RouteResult, error) {
	res := &RouteResult{}
	current := []domain.Message{userMessage(query)}

	for i := 0; i < a.deps.MaxIterations; i++ {
		var schemas []domain.ToolSchema
		if i == 0 {
			schemas = registry.Schemas()
		}
		req := a.deps.ContextBuilder.Build(memory, current, schemas)

		msg, err := a.callLLM(ctx, req, res)
		if err != nil {
			if i > 0 && isGenerationUnsupported(err) {
				// The provider cannot phrase an answer; the last tool output stands.
				res.Response = current[len(current)-1].Content
				return res, nil
			}
			return nil, err
		}

		if len(msg.ToolCalls) == 0 || i > 0 {
			res.Response = msg.Content
			return res, nil
		}

		call := msg.ToolCalls[0]
		if len(msg.ToolCalls) > 1 {
			a.deps.Logger.Debug("conversational mode runs one tool per query",
				"tool", call.Name, "dropped", len(msg.ToolCalls)-1)
			msg.ToolCalls = msg.ToolCalls[:1]
		}

		out := a.executeTool(ctx, registry, call)
		res.ToolsUsed = append(res.ToolsUsed, call.Name)
		if done, err := a.finishDirect(res, out); done || err != nil {
			return res, err
		}
		current = append(current, msg, out.message)
	}
	return nil, domain.ErrMaxIterations
}

// routeZeroShot ignores memory and keeps offering the tools until the
// model answers without a tool call or a return_direct tool succeeds.
func (a *Agent) routeZeroShot(ctx context.Context, query string, registry domain.ToolExecutor) (*RouteResult, error) {
	res := &RouteResult{}
	current := []domain.Message{userMessage(query)}
	schemas := registry.Schemas()

	for i := 0; i < a.deps.MaxIterations; i++ {
		req := a.deps.ContextBuilder.Build(nil, current, schemas)

		msg, err := a.callLLM(ctx, req, res)
		if err != nil {
			return nil, err
		}
		if len(msg.ToolCalls) == 0 {
			res.Response = msg.Content
			return res, nil
		}

		// Results are collected in an indexed slice to preserve call order.
		outs := make([]toolOutcome, len(msg.ToolCalls))
		var wg sync.WaitGroup
		for idx, call := range msg.ToolCalls {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outs[idx] = a.executeTool(ctx, registry, call)
			}()
		}
		wg.Wait()

		current = append(current, msg)
		for idx, out := range outs {
			res.ToolsUsed = append(res.ToolsUsed, msg.ToolCalls[idx].Name)
			if done, err := a.finishDirect(res, out); done || err != nil {
				return res, err
			}
			current = append(current, out.message)
		}
	}
	return nil, domain.ErrMaxIterations
}

// finishDirect ends the route when out came from a return_direct tool.
// A failed return_direct tool has no runtime to recover it, so its error
// ends the route too.
func (a *Agent) finishDirect(res *RouteResult, out toolOutcome) (bool, error) {
	if !out.direct {
		return false, nil
	}
	if out.failed {
		return true, domain.NewDomainError("Agent.Route", domain.ErrToolFailure,
			fmt.Sprintf("%s: %s", out.message.Name, out.message.Content))
	}
	res.Response = out.message.Content
	res.Direct = true
	return true, nil
}

type toolOutcome struct {
	message domain.Message
	direct  bool
	failed  bool
}

// executeTool runs a single tool call. Failures become tool messages
// carrying the error text so the model can react to them.
func (a *Agent) executeTool(ctx context.Context, registry domain.ToolExecutor, call domain.ToolCall) toolOutcome {
	ctx, span := tracer.StartSpan(ctx, "agent.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	toolMsg := func(content string) domain.Message {
		return domain.Message{
			Role:      domain.RoleTool,
			Name:      call.Name,
			Content:   content,
			ToolCalls: []domain.ToolCall{{ID: call.ID, Name: call.Name}},
			Timestamp: time.Now(),
		}
	}

	t, err := registry.Get(call.Name)
	if err != nil {
		tracer.RecordError(span, err)
		a.deps.Logger.Warn("model called unknown tool", "tool", call.Name)
		return toolOutcome{message: toolMsg(err.Error()), failed: true}
	}
	direct := t.ReturnDirect()

	args := call.Arguments
	if len(args) == 0 {
		args = []byte("{}")
	}
	result, err := t.Execute(ctx, args)
	switch {
	case err != nil:
		tracer.RecordError(span, err)
		return toolOutcome{message: toolMsg(err.Error()), direct: direct, failed: true}
	case result == nil:
		return toolOutcome{message: toolMsg(""), direct: direct}
	case result.IsError:
		tracer.RecordError(span, fmt.Errorf("%s", result.Content))
		return toolOutcome{message: toolMsg(result.Content), direct: direct, failed: true}
	}

	a.deps.Logger.Debug("tool executed",
		"tool", call.Name, "direct", direct, "output_len", len(result.Content))
	tracer.SetOK(span)
	return toolOutcome{message: toolMsg(result.Content), direct: direct}
}

// callLLM performs one LLM call, retrying retryable errors with jittered
// exponential backoff. Token usage is accumulated into res.
func (a *Agent) callLLM(ctx context.Context, req domain.ChatRequest, res *RouteResult) (domain.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= a.deps.MaxRetries; attempt++ {
		llmCtx, llmSpan := tracer.StartSpan(ctx, "agent.llm_call",
			trace.WithAttributes(
				tracer.IntAttr("llm.attempt", attempt),
				tracer.IntAttr("llm.tools", len(req.Tools)),
			),
		)
		resp, err := a.deps.LLM.Chat(llmCtx, req)
		if err == nil {
			tracer.SetOK(llmSpan)
			llmSpan.End()
			res.Usage.PromptTokens += resp.Usage.PromptTokens
			res.Usage.CompletionTokens += resp.Usage.CompletionTokens
			res.Usage.TotalTokens += resp.Usage.TotalTokens
			return resp.Message, nil
		}
		tracer.RecordError(llmSpan, err)
		llmSpan.End()
		lastErr = err

		if !ClassifyLLMError(err).Retryable() || attempt == a.deps.MaxRetries {
			break
		}

		delay := a.retryBackoff(attempt)
		a.deps.Logger.Info("retrying LLM call after error",
			"attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.Message{}, ctx.Err()
		}
	}
	return domain.Message{}, lastErr
}

// retryBackoff computes exponential backoff with 0-25% jitter.
func (a *Agent) retryBackoff(attempt int) time.Duration {
	delay := a.deps.RetryDelay
	for i := 0; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	delay = min(delay, maxRetryDelay)
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

func userMessage(text string) domain.Message {
	return domain.Message{Role: domain.RoleUser, Content: text, Timestamp: time.Now()}
}

func isGenerationUnsupported(err error) bool {
	return errors.Is(err, domain.ErrGenerationUnsupported)
}
