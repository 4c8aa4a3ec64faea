package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
)

var _ domain.LLMProvider = (*CircuitBreakerProvider)(nil)

// CircuitBreakerProvider fails fast with domain.ErrCircuitOpen once a
// remote provider keeps failing, instead of letting every question wait
// out the agent's retries against a dead endpoint.
type CircuitBreakerProvider struct {
	inner   domain.LLMProvider
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
}

// NewCircuitBreakerProvider wraps inner. Zero fields in cfg use defaults:
// trip after 5 consecutive failures, probe again after 30s, reset counts
// every 60s while closed.
func NewCircuitBreakerProvider(inner domain.LLMProvider, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerProvider {
	trip := orDefault(cfg.MaxFailures, 5)
	return &CircuitBreakerProvider{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
			Name:        "llm:" + inner.Name(),
			MaxRequests: 1,
			Interval:    orDefault(cfg.Interval, 60*time.Second),
			Timeout:     orDefault(cfg.Timeout, 30*time.Second),
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= trip },
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("llm breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
			IsSuccessful: providerHealthy,
		}),
	}
}

// providerHealthy treats errors caused by the caller as healthy calls:
// a cancelled question or an oversized prompt says nothing about the endpoint.
func providerHealthy(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, context.Canceled),
		errors.Is(err, domain.ErrAuthInvalid),
		errors.Is(err, domain.ErrContextOverflow):
		return true
	}
	return false
}

func orDefault[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}

// Chat implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("provider %q: %w: %v", p.inner.Name(), domain.ErrCircuitOpen, err)
	}
	return resp, err
}

// Name implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

// Unwrap returns the guarded provider.
func (p *CircuitBreakerProvider) Unwrap() domain.LLMProvider { return p.inner }

// State returns the breaker state.
func (p *CircuitBreakerProvider) State() gobreaker.State { return p.breaker.State() }

// Counts returns the breaker's counters for the current interval.
func (p *CircuitBreakerProvider) Counts() gobreaker.Counts { return p.breaker.Counts() }
