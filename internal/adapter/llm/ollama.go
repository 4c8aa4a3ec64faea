package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
)

var (
	_ domain.LLMProvider = (*OllamaProvider)(nil)
	_ Warmer             = (*OllamaProvider)(nil)
)

const (
	ollamaDefaultBaseURL = "http://localhost:11434"
	// Local servers answer connects fast but may spend minutes loading a model.
	ollamaDefaultConnTimeout = 5 * time.Second
	ollamaDefaultRespTimeout = 300 * time.Second
	ollamaKeepAlive          = "5m"
)

// OllamaProvider routes through a local Ollama server. Chat goes to the
// OpenAI-compatible /v1 endpoint; health and warmup use the native API.
type OllamaProvider struct {
	*OpenAIProvider
	native string
}

// NewOllamaProvider creates a provider for cfg. The API key is never sent.
func NewOllamaProvider(cfg config.ProviderConfig, logger *slog.Logger) *OllamaProvider {
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = ollamaDefaultConnTimeout
	}
	if cfg.RespTimeout == 0 {
		cfg.RespTimeout = ollamaDefaultRespTimeout
	}
	native := strings.TrimRight(cfg.BaseURL, "/")
	if native == "" {
		native = ollamaDefaultBaseURL
	}
	cfg.APIKey = ""

	return &OllamaProvider{
		OpenAIProvider: newCompletionsProvider(cfg, native+"/v1", NewHTTPClient(cfg), logger),
		native:         native,
	}
}

// IsHealthy reports whether the server answers on its root path.
func (p *OllamaProvider) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.native+"/", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Warmup asks the server to load the model without generating, so the
// first routed question does not pay the load time.
func (p *OllamaProvider) Warmup(ctx context.Context) error {
	if !p.IsHealthy(ctx) {
		return fmt.Errorf("%w: ollama not reachable at %s", domain.ErrProviderError, p.native)
	}

	body, err := json.Marshal(map[string]string{"model": p.model, "keep_alive": ollamaKeepAlive})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.native+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build warmup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: warmup: %v", domain.ErrProviderError, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode != http.StatusOK {
		return mapHTTPError(resp.StatusCode, data)
	}

	p.logger.Info("llm model loaded", "provider", p.name, "model", p.model, "took", time.Since(start))
	return nil
}
