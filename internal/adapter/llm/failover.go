package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"wikichat/internal/domain"
)

var _ domain.LLMProvider = (*FailoverProvider)(nil)

// FailoverProvider asks each provider of its chain in turn until one
// answers. The chain stops early when the question itself is at fault
// or its context has ended.
type FailoverProvider struct {
	chain  []domain.LLMProvider
	logger *slog.Logger
}

// NewFailoverProvider builds the chain primary, fallbacks[0], fallbacks[1]...
func NewFailoverProvider(primary domain.LLMProvider, fallbacks []domain.LLMProvider, logger *slog.Logger) *FailoverProvider {
	chain := make([]domain.LLMProvider, 0, 1+len(fallbacks))
	chain = append(chain, primary)
	chain = append(chain, fallbacks...)
	return &FailoverProvider{chain: chain, logger: logger}
}

// Chat implements domain.LLMProvider.
func (f *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var failures chainError
	for i, p := range f.chain {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("llm answered by fallback", "provider", p.Name(), "skipped", i)
			}
			return resp, nil
		}
		if ctx.Err() != nil || errors.Is(err, domain.ErrInvalidInput) {
			if i == 0 {
				return nil, err
			}
			failures = append(failures, fmt.Errorf("%s: %w", p.Name(), err))
			break
		}
		f.logger.Warn("llm provider failed", "provider", p.Name(), "position", i, "error", err)
		failures = append(failures, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return nil, failures
}

// Name implements domain.LLMProvider.
func (f *FailoverProvider) Name() string {
	return f.chain[0].Name() + "+failover"
}

// chainError keeps every provider's failure reachable through errors.Is.
type chainError []error

func (e chainError) Error() string {
	parts := make([]string, len(e))
	for i, err := range e {
		parts[i] = err.Error()
	}
	return "all providers failed: [" + strings.Join(parts, "; ") + "]"
}

func (e chainError) Unwrap() []error { return e }
