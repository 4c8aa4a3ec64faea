package embedding

import (
	"encoding/json"
	"strings"
	"time"

	"wikichat/internal/infra/config"
)

const (
	ollamaDefaultModel   = "nomic-embed-text"
	ollamaDefaultBaseURL = "http://localhost:11434"
)

// NewOllama creates a backend for Ollama's native /api/embed endpoint.
// Local model loads are slow, so the timeout is longer than for OpenAI.
func NewOllama(cfg config.EmbeddingConfig) *Remote {
	model := cfg.Model
	if model == "" {
		model = ollamaDefaultModel
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = ollamaDefaultBaseURL
	}

	r := newRemote("ollama", model, base+"/api/embed", 60*time.Second)
	r.encode = func(model string, texts []string) any {
		return map[string]any{"model": model, "input": texts}
	}
	r.decode = func(body []byte) ([][]float32, error) {
		var resp struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		err := json.Unmarshal(body, &resp)
		return resp.Embeddings, err
	}
	return r
}
