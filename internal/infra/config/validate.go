package config

import (
	"fmt"
	"net"
	"strings"

	"wikichat/internal/domain"
)

// maxRetries bounds agent.max_retries; backoff is capped well before it.
const maxRetries = 10

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors  []string
	missing bool
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// Unwrap exposes domain.ErrConfigLoad and, when credentials were missing,
// domain.ErrMissingCredentials to errors.Is.
func (v *ValidationError) Unwrap() []error {
	if v.missing {
		return []error{domain.ErrConfigLoad, domain.ErrMissingCredentials}
	}
	return []error{domain.ErrConfigLoad}
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// AddMissing records a missing credential.
func (v *ValidationError) AddMissing(format string, args ...any) {
	v.Add(format, args...)
	v.missing = true
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateEmbedding(cfg, ve)
	validateCorpus(cfg, ve)
	validateRetrieval(cfg, ve)
	validateSQL(cfg, ve)
	validateWeb(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	switch cfg.Agent.Mode {
	case ModeConversational, ModeZeroShot:
	default:
		ve.Add("agent.mode %q is invalid (want: %s, %s)", cfg.Agent.Mode, ModeConversational, ModeZeroShot)
	}
	if cfg.Agent.MaxIterations <= 0 {
		ve.Add("agent.max_iterations must be > 0")
	}
	if cfg.Agent.Timeout <= 0 {
		ve.Add("agent.timeout must be > 0")
	}
	if cfg.Agent.SystemPrompt == "" {
		ve.Add("agent.system_prompt must not be empty")
	}
	if cfg.Agent.MemoryWindow < 0 {
		ve.Add("agent.memory_window must be >= 0")
	}
	if cfg.Agent.MaxRetries < 0 || cfg.Agent.MaxRetries > maxRetries {
		ve.Add(fmt.Sprintf("agent.max_retries must be between 0 and %d", maxRetries))
	}
}

var validProviderTypes = map[string]bool{
	"openai": true,
	"ollama": true,
	"match":  true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}
	if len(cfg.LLM.Providers) == 0 {
		ve.Add("llm.providers must not be empty")
		return
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, ollama, match)", i, p.Type)
		}
		if p.Type == "openai" && p.APIKey == "" {
			ve.AddMissing("llm.providers[%d] (%s): api_key is empty (set via %sLLM_PROVIDER_%s_API_KEY)",
				i, p.Name, EnvPrefix, envKey(p.Name))
		}
		if p.Type != "match" && p.Model == "" {
			ve.Add("llm.providers[%d] (%s): model must not be empty", i, p.Name)
		}
	}

	if cfg.LLM.DefaultProvider != "" && !seen[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.Failover.Enabled {
		for _, fb := range cfg.LLM.Failover.Fallbacks {
			if !seen[fb] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", fb)
			}
		}
	}
	if cfg.LLM.CircuitBreaker.Enabled && cfg.LLM.CircuitBreaker.MaxFailures == 0 {
		ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
	}
}

func validateEmbedding(cfg *Config, ve *ValidationError) {
	switch cfg.Embedding.Provider {
	case "":
	case "openai":
		if cfg.Embedding.APIKey == "" {
			ve.AddMissing("embedding.api_key is empty (set via %sEMBEDDING_API_KEY)", EnvPrefix)
		}
	case "ollama":
	default:
		ve.Add("embedding.provider %q is invalid (want: openai, ollama or empty)", cfg.Embedding.Provider)
	}
	if cfg.Embedding.CacheSize < 0 {
		ve.Add("embedding.cache_size must be >= 0")
	}
}

func validateCorpus(cfg *Config, ve *ValidationError) {
	if cfg.Corpus.Language == "" {
		ve.Add("corpus.language must not be empty")
	}
	if cfg.Corpus.Concurrency <= 0 {
		ve.Add("corpus.concurrency must be > 0")
	}
	if cfg.Corpus.Timeout <= 0 {
		ve.Add("corpus.timeout must be > 0")
	}
}

func validateRetrieval(cfg *Config, ve *ValidationError) {
	if cfg.Retrieval.TopK <= 0 {
		ve.Add("retrieval.top_k must be > 0")
	}
	if cfg.Retrieval.ChunkTokens < 32 {
		ve.Add("retrieval.chunk_tokens must be >= 32")
	}
	if cfg.Retrieval.MinScore < 0 {
		ve.Add("retrieval.min_score must be >= 0")
	}
}

func validateSQL(cfg *Config, ve *ValidationError) {
	if !cfg.SQL.Enabled {
		if cfg.Tools.SQL.Enabled {
			ve.Add("tools.sql requires sql.enabled")
		}
		return
	}
	s := cfg.SQL
	switch s.Driver {
	case "sqlite":
		if s.Database == "" {
			ve.Add("sql.database must be a file path or :memory: for sqlite")
		}
	case "mysql", "postgres":
		missing := []string{}
		if s.Host == "" {
			missing = append(missing, "host")
		}
		if s.User == "" {
			missing = append(missing, "user")
		}
		if s.Password == "" {
			missing = append(missing, "password")
		}
		if s.Database == "" {
			missing = append(missing, "database")
		}
		if len(missing) > 0 {
			ve.AddMissing("sql (%s): missing credentials: %s", s.Driver, strings.Join(missing, ", "))
		}
		if s.Port < 0 || s.Port > 65535 {
			ve.Add("sql.port %d is out of range", s.Port)
		}
	default:
		ve.Add("sql.driver %q is invalid (want: sqlite, mysql, postgres)", s.Driver)
	}
	if s.Table == "" {
		ve.Add("sql.table must not be empty")
	}
	if s.MaxRows <= 0 {
		ve.Add("sql.max_rows must be > 0")
	}
	if s.QueryTimeout <= 0 {
		ve.Add("sql.query_timeout must be > 0")
	}
}

func validateWeb(cfg *Config, ve *ValidationError) {
	if _, _, err := net.SplitHostPort(cfg.Web.Addr); err != nil {
		ve.Add("web.addr %q is invalid: %v", cfg.Web.Addr, err)
	}
	if cfg.Web.RateLimitPerMin < 0 || cfg.Web.RateLimitBurst < 0 {
		ve.Add("web rate limits must be >= 0")
	}
	if cfg.Web.MaxBodyBytes <= 0 {
		ve.Add("web.max_body_bytes must be > 0")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "json", "text", "":
	default:
		ve.Add("logger.format %q is invalid (want: json, text)", cfg.Logger.Format)
	}
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		ve.Add("logger.level %q is invalid", cfg.Logger.Level)
	}
}
