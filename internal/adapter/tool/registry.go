package tool

import (
	"log/slog"
	"strings"
	"sync"

	"wikichat/internal/domain"
)

// Registry is the ordered set of tools offered to the router. Order is
// registration order and every name appears once.
//
// The toolbox fills a registry and then hands it out read-only; the lock
// covers readers that arrive while it is still being filled.
type Registry struct {
	mu     sync.RWMutex
	tools  []domain.Tool
	index  map[string]int
	logger *slog.Logger
}

// NewRegistry returns an empty registry. With a logger, registered tools
// get their arguments checked against their schema; without one they are
// stored as given.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{index: make(map[string]int), logger: logger}
}

// Register appends t. A blank name fails with domain.ErrInvalidInput and
// a taken name with domain.ErrToolDuplicate; neither changes the registry.
func (r *Registry) Register(t domain.Tool) error {
	const op = "Registry.Register"
	name := t.Name()
	if strings.TrimSpace(name) == "" {
		return domain.NewDomainError(op, domain.ErrInvalidInput, "tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.index[name]; taken {
		return domain.NewDomainError(op, domain.ErrToolDuplicate, name)
	}
	r.index[name] = len(r.tools)
	r.tools = append(r.tools, r.checked(t))
	return nil
}

// checked wraps t with argument validation when possible.
func (r *Registry) checked(t domain.Tool) domain.Tool {
	if r.logger == nil {
		return t
	}
	v, err := Validated(t)
	if err != nil {
		r.logger.Warn("argument checking disabled for tool", "tool", t.Name(), "error", err)
		return t
	}
	return v
}

// RegisterFunc registers a query tool from name, description, backend and
// return-direct flag.
func (r *Registry) RegisterFunc(name, description string, invoke domain.QueryFunc, returnDirect bool) error {
	return r.Register(NewQueryTool(name, description, invoke, returnDirect, r.logger))
}

func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return r.tools[i], nil
}

// List returns a copy of the tools in registration order.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Tool(nil), r.tools...)
}

func (r *Registry) Names() []string {
	return mapTools(r, domain.Tool.Name)
}

func (r *Registry) Schemas() []domain.ToolSchema {
	return mapTools(r, domain.Tool.Schema)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

func mapTools[T any](r *Registry, f func(domain.Tool) T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, len(r.tools))
	for i, t := range r.tools {
		out[i] = f(t)
	}
	return out
}
