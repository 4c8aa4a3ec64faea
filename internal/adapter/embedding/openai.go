package embedding

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"wikichat/internal/infra/config"
)

const (
	openaiDefaultModel   = "text-embedding-3-small"
	openaiDefaultBaseURL = "https://api.openai.com/v1"
)

// NewOpenAI creates a backend for the OpenAI embeddings endpoint, or any
// server that mirrors it.
func NewOpenAI(cfg config.EmbeddingConfig) *Remote {
	model := cfg.Model
	if model == "" {
		model = openaiDefaultModel
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = openaiDefaultBaseURL
	}

	r := newRemote("openai", model, base+"/embeddings", 30*time.Second)
	if cfg.APIKey != "" {
		r.headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}
	r.encode = func(model string, texts []string) any {
		return struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}{model, texts}
	}
	r.decode = decodeOpenAI
	return r
}

// decodeOpenAI orders the returned vectors by their index field; the API
// does not promise input order.
func decodeOpenAI(body []byte) ([][]float32, error) {
	var resp struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
