package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"wikichat/internal/domain"
	"wikichat/internal/infra/tracer"
)

// NoInformation is the answer when nothing relevant is indexed.
const NoInformation = "No information available."

const qaTemplate = `Context information is below.
---------------------
%s
---------------------
Given the context information and not prior knowledge, answer the question: %s`

// Searcher finds the passages most relevant to a query.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]domain.Passage, error)
}

// Engine answers questions from an indexed corpus. With an LLM it
// synthesises an answer grounded in the top passages; otherwise it returns
// the best passage verbatim.
type Engine struct {
	searcher    Searcher
	llm         domain.LLMProvider
	model       string
	topK        int
	temperature float64
	logger      *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLLM enables answer synthesis.
func WithLLM(llm domain.LLMProvider, model string, temperature float64) EngineOption {
	return func(e *Engine) {
		e.llm = llm
		e.model = model
		e.temperature = temperature
	}
}

// WithTopK sets how many passages are retrieved per query.
func WithTopK(k int) EngineOption {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// NewEngine creates an engine over searcher. A nil searcher is an empty
// corpus: every query answers NoInformation.
func NewEngine(searcher Searcher, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{searcher: searcher, topK: 3, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query implements domain.QueryBackend.
func (e *Engine) Query(ctx context.Context, text string) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "retrieval.query",
		trace.WithAttributes(tracer.IntAttr("retrieval.top_k", e.topK)),
	)
	defer span.End()

	if e.searcher == nil {
		span.SetAttributes(tracer.IntAttr("retrieval.hits", 0))
		tracer.SetOK(span)
		return NoInformation, nil
	}

	passages, err := e.searcher.Search(ctx, text, e.topK)
	if err != nil {
		tracer.RecordError(span, err)
		return "", domain.WrapOp("retrieval search", err)
	}
	span.SetAttributes(tracer.IntAttr("retrieval.hits", len(passages)))
	if len(passages) == 0 {
		tracer.SetOK(span)
		return NoInformation, nil
	}

	if e.llm == nil {
		tracer.SetOK(span)
		return passages[0].Content, nil
	}

	answer, err := e.synthesize(ctx, text, passages)
	if errors.Is(err, domain.ErrGenerationUnsupported) {
		e.logger.Debug("retrieval: provider cannot synthesize, returning best passage",
			"provider", e.llm.Name())
		span.SetAttributes(tracer.BoolAttr("retrieval.synthesized", false))
		tracer.SetOK(span)
		return passages[0].Content, nil
	}
	if err != nil {
		tracer.RecordError(span, err)
		return "", domain.WrapOp("retrieval synthesis", err)
	}
	span.SetAttributes(tracer.BoolAttr("retrieval.synthesized", true))
	tracer.SetOK(span)
	return answer, nil
}

func (e *Engine) synthesize(ctx context.Context, question string, passages []domain.Passage) (string, error) {
	var sb strings.Builder
	for i, p := range passages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s]\n%s", p.Title, p.Content)
	}

	resp, err := e.llm.Chat(ctx, domain.ChatRequest{
		Model: e.model,
		Messages: []domain.Message{{
			Role:      domain.RoleUser,
			Content:   fmt.Sprintf(qaTemplate, sb.String(), question),
			Timestamp: time.Now(),
		}},
		Temperature: e.temperature,
	})
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(resp.Message.Content)
	if answer == "" {
		return passages[0].Content, nil
	}
	return answer, nil
}
