package embedding

import (
	"fmt"

	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
)

// New builds the configured embedding backend, cached when cfg.CacheSize
// is set. An empty provider returns nil: retrieval then ranks by keywords
// alone.
func New(cfg config.EmbeddingConfig) (domain.EmbeddingProvider, error) {
	var p domain.EmbeddingProvider
	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai":
		p = NewOpenAI(cfg)
	case "ollama":
		p = NewOllama(cfg)
	default:
		return nil, domain.NewSubSystemError("embedding", "embedding.New", domain.ErrInvalidInput,
			fmt.Sprintf("unknown provider %q", cfg.Provider))
	}
	return NewCachedEmbedder(p, cfg.CacheSize), nil
}
