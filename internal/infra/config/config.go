package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"wikichat/internal/domain"
)

// Agent routing modes.
const (
	// ModeConversational is memory-aware and invokes at most one tool per query.
	ModeConversational = "conversational"
	// ModeZeroShot is stateless and may chain several tool calls per query.
	ModeZeroShot = "zero-shot"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WIKICHAT_"

// Config is the top-level application configuration.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	SQL       SQLConfig       `yaml:"sql"`
	Tools     ToolsConfig     `yaml:"tools"`
	Session   SessionConfig   `yaml:"session"`
	Web       WebConfig       `yaml:"web"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// AgentConfig controls the agent runtime.
type AgentConfig struct {
	Mode          string        `yaml:"mode"` // "conversational" or "zero-shot"
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
	SystemPrompt  string        `yaml:"system_prompt"`
	MemoryWindow  int           `yaml:"memory_window"` // max history messages sent to the LLM
	Temperature   float64       `yaml:"temperature"`
	MaxRetries    int           `yaml:"max_retries"`
}

// FailoverConfig holds model failover settings.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for remote providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // "openai", "ollama", "match"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// EmbeddingConfig holds text embedding provider settings.
// An empty provider disables vector search; retrieval falls back to keywords.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "openai", "ollama", ""
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	CacheSize int    `yaml:"cache_size"` // 0 = disabled
}

// CorpusConfig selects the Wikipedia pages to index.
type CorpusConfig struct {
	Pages       string        `yaml:"pages"` // comma-separated titles
	Language    string        `yaml:"language"`
	UserAgent   string        `yaml:"user_agent"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RetrievalConfig tunes the retrieval index.
type RetrievalConfig struct {
	DataDir     string  `yaml:"data_dir"` // empty = in-memory index
	TopK        int     `yaml:"top_k"`
	ChunkTokens int     `yaml:"chunk_tokens"`
	Encoding    string  `yaml:"encoding"` // tiktoken encoding name
	MinScore    float64 `yaml:"min_score"`
}

// SQLConfig holds the structured-data backend credentials and limits.
// The connection string is assembled from these fields by the sqldb adapter.
type SQLConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Driver       string            `yaml:"driver"` // "sqlite", "mysql", "postgres"
	Host         string            `yaml:"host"`
	Port         int               `yaml:"port"`
	User         string            `yaml:"user"`
	Password     string            `yaml:"password"`
	Database     string            `yaml:"database"` // file path or ":memory:" for sqlite
	Params       map[string]string `yaml:"params,omitempty"`
	Table        string            `yaml:"table"`
	MaxRows      int               `yaml:"max_rows"`
	QueryTimeout time.Duration     `yaml:"query_timeout"`
	Seed         bool              `yaml:"seed"`
	Summarize    bool              `yaml:"summarize"`
}

// ToolToggle enables a built-in tool and sets its return_direct flag.
type ToolToggle struct {
	Enabled      bool `yaml:"enabled"`
	ReturnDirect bool `yaml:"return_direct"`
}

// ToolsConfig selects the built-in tools.
type ToolsConfig struct {
	Wikipedia  ToolToggle `yaml:"wikipedia"`
	SQL        ToolToggle `yaml:"sql"`
	Calculator ToolToggle `yaml:"calculator"`
}

// SessionConfig controls session persistence.
type SessionConfig struct {
	Dir          string        `yaml:"dir"` // empty = in-memory only
	MaxAge       time.Duration `yaml:"max_age"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// WebConfig holds web channel settings.
type WebConfig struct {
	Addr            string `yaml:"addr"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	RateLimitBurst  int    `yaml:"rate_limit_burst"`
	MaxBodyBytes    int64  `yaml:"max_body_bytes"`

	// TrustedProxies may set X-Forwarded-For for rate limiting.
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`         // stdout, stderr, file or noop
	Output      string  `yaml:"output,omitempty"` // file exporter path
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Defaults returns a Config that runs fully offline: the keyword-matching
// provider, an in-memory retrieval index, and the seeded sqlite demo database.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Mode:          ModeConversational,
			MaxIterations: 5,
			Timeout:       120 * time.Second,
			SystemPrompt: "You are wikichat, an assistant that answers questions using the tools provided. " +
				"Pick the tool whose description best matches the question.",
			MemoryWindow: 20,
			Temperature:  0,
			MaxRetries:   2,
		},
		LLM: LLMConfig{
			DefaultProvider: "match",
			Providers: []ProviderConfig{
				{Name: "match", Type: "match"},
			},
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Corpus: CorpusConfig{
			Language:    "en",
			UserAgent:   "wikichat/1.0 (https://github.com/wikichat)",
			Concurrency: 4,
			Timeout:     30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:        3,
			ChunkTokens: 256,
			Encoding:    "cl100k_base",
		},
		SQL: SQLConfig{
			Enabled:      true,
			Driver:       "sqlite",
			Database:     ":memory:",
			Table:        "transactions",
			MaxRows:      50,
			QueryTimeout: 15 * time.Second,
			Seed:         true,
		},
		Tools: ToolsConfig{
			Wikipedia:  ToolToggle{Enabled: true, ReturnDirect: true},
			SQL:        ToolToggle{Enabled: true},
			Calculator: ToolToggle{Enabled: true},
		},
		Session: SessionConfig{
			MaxAge:       24 * time.Hour,
			ReapInterval: 10 * time.Minute,
		},
		Web: WebConfig{
			Addr:            "127.0.0.1:8501",
			RateLimitPerMin: 60,
			RateLimitBurst:  10,
			MaxBodyBytes:    64 << 10,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter:    "noop",
			ServiceName: "wikichat",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, decrypts secrets,
// and validates the result. A missing file yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err) || path == "":
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(EnvPrefix + "CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps WIKICHAT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	setString("AGENT_MODE", &cfg.Agent.Mode)
	setString("PAGES", &cfg.Corpus.Pages)
	setString("LLM_DEFAULT_PROVIDER", &cfg.LLM.DefaultProvider)
	setString("EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	setString("EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	setString("RETRIEVAL_DATA_DIR", &cfg.Retrieval.DataDir)
	setString("DB_DRIVER", &cfg.SQL.Driver)
	setString("DB_HOST", &cfg.SQL.Host)
	setString("DB_USER", &cfg.SQL.User)
	setString("DB_PASSWORD", &cfg.SQL.Password)
	setString("DB_NAME", &cfg.SQL.Database)
	setString("SESSION_DIR", &cfg.Session.Dir)
	setString("WEB_ADDR", &cfg.Web.Addr)
	setString("LOGGER_LEVEL", &cfg.Logger.Level)
	setString("LOGGER_FORMAT", &cfg.Logger.Format)
	setString("TRACER_EXPORTER", &cfg.Tracer.Exporter)
	setString("TRACER_OUTPUT", &cfg.Tracer.Output)

	if v := os.Getenv(EnvPrefix + "DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.SQL.Port = port
		}
	}
	if v := os.Getenv(EnvPrefix + "TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}

	// WIKICHAT_LLM_API_KEY fills the default provider; the per-provider form wins.
	generic := os.Getenv(EnvPrefix + "LLM_API_KEY")
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		envName := EnvPrefix + "LLM_PROVIDER_" + envKey(p.Name) + "_API_KEY"
		if v := os.Getenv(envName); v != "" {
			p.APIKey = v
		} else if generic != "" && p.Name == cfg.LLM.DefaultProvider && p.APIKey == "" {
			p.APIKey = generic
		}
	}
}

// envKey upper-cases a provider name and replaces characters not allowed in
// environment variable names.
func envKey(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

const encPrefix = "enc:"

// decryptSecrets finds "enc:..." values in secret fields and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	type secret struct {
		name  string
		field *string
	}
	secrets := []secret{
		{"embedding.api_key", &cfg.Embedding.APIKey},
		{"sql.password", &cfg.SQL.Password},
	}
	for i := range cfg.LLM.Providers {
		secrets = append(secrets, secret{
			name:  fmt.Sprintf("provider %s api_key", cfg.LLM.Providers[i].Name),
			field: &cfg.LLM.Providers[i].APIKey,
		})
	}

	for _, s := range secrets {
		if !strings.HasPrefix(*s.field, encPrefix) {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*s.field, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.field = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// The result is hex(salt) + ":" + hex(nonce+ciphertext); prefix it with "enc:"
// to store it in a config file.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("%w: generate salt: %v", domain.ErrEncryption, err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generate nonce: %v", domain.ErrEncryption, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("%w: invalid encrypted format", domain.ErrDecryption)
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode salt: %v", domain.ErrDecryption, err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", domain.ErrDecryption, err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryption)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
