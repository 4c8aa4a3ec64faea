package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
)

// Provider types accepted in config.
const (
	TypeOpenAI = "openai"
	TypeOllama = "ollama"
	TypeMatch  = "match"
)

// Registry holds named LLM providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.LLMProvider),
	}
}

// Register adds a provider. Returns error if name already registered.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, fmt.Sprintf("provider %q", name))
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Warmer is a provider that can preload its model.
type Warmer interface {
	Warmup(ctx context.Context) error
}

// Warm preloads every registered provider that supports it, looking
// through circuit breakers. Failures are logged and never fatal: the
// first question simply pays the load time.
func (r *Registry) Warm(ctx context.Context, logger *slog.Logger) {
	for _, name := range r.List() {
		p, err := r.Get(name)
		if err != nil {
			continue
		}
		w := warmerOf(p)
		if w == nil {
			continue
		}
		if err := w.Warmup(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("llm warmup failed", "provider", name, "error", err)
		}
	}
}

func warmerOf(p domain.LLMProvider) Warmer {
	for p != nil {
		if w, ok := p.(Warmer); ok {
			return w
		}
		u, ok := p.(interface{ Unwrap() domain.LLMProvider })
		if !ok {
			return nil
		}
		p = u.Unwrap()
	}
	return nil
}

// NewProvider constructs a single provider from its config entry.
func NewProvider(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	switch cfg.Type {
	case TypeOpenAI:
		return NewOpenAIProvider(cfg, logger), nil
	case TypeOllama:
		return NewOllamaProvider(cfg, logger), nil
	case TypeMatch:
		return NewMatchProvider(cfg, logger), nil
	default:
		return nil, domain.NewDomainError("llm.NewProvider", domain.ErrInvalidInput,
			fmt.Sprintf("provider %q: unknown type %q", cfg.Name, cfg.Type))
	}
}

// Build registers every configured provider and returns the one the agent
// should talk to: the default provider, optionally wrapped with failover.
// Remote providers get a circuit breaker when it is enabled.
func Build(cfg config.LLMConfig, logger *slog.Logger) (domain.LLMProvider, *Registry, error) {
	if len(cfg.Providers) == 0 {
		return nil, nil, domain.ErrNoProviders
	}

	reg := NewRegistry()
	for _, pc := range cfg.Providers {
		p, err := NewProvider(pc, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.CircuitBreaker.Enabled && pc.Type != TypeMatch {
			p = NewCircuitBreakerProvider(p, cfg.CircuitBreaker, logger)
		}
		if err := reg.Register(p); err != nil {
			return nil, nil, err
		}
	}

	name := cfg.DefaultProvider
	if name == "" {
		name = cfg.Providers[0].Name
	}
	primary, err := reg.Get(name)
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Failover.Enabled || len(cfg.Failover.Fallbacks) == 0 {
		return primary, reg, nil
	}

	fallbacks := make([]domain.LLMProvider, 0, len(cfg.Failover.Fallbacks))
	for _, fb := range cfg.Failover.Fallbacks {
		p, err := reg.Get(fb)
		if err != nil {
			return nil, nil, err
		}
		fallbacks = append(fallbacks, p)
	}
	logger.Info("llm failover enabled", "primary", name, "fallbacks", cfg.Failover.Fallbacks)
	return NewFailoverProvider(primary, fallbacks, logger), reg, nil
}
