package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"wikichat/internal/domain"
)

const (
	maxResponseBody = 10 << 20
	// defaultBatch bounds texts per request. Indexing a corpus embeds every
	// chunk at once, which can exceed what a server accepts in one call.
	defaultBatch = 128
)

// knownDimensions lists vector sizes of common models. Other models learn
// their size from the first response.
var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
}

// Remote is an embedding backend reached over HTTP. The wire format is
// supplied by the constructor for each server flavour.
type Remote struct {
	name    string
	model   string
	url     string
	headers map[string]string
	client  *http.Client
	batch   int
	dims    atomic.Int64

	encode func(model string, texts []string) any
	decode func(body []byte) ([][]float32, error)
}

func newRemote(name, model, url string, timeout time.Duration) *Remote {
	r := &Remote{
		name:   name,
		model:  model,
		url:    url,
		client: &http.Client{Timeout: timeout},
		batch:  defaultBatch,
	}
	r.dims.Store(int64(knownDimensions[strings.TrimSuffix(model, ":latest")]))
	return r
}

// Embed implements domain.EmbeddingProvider. Texts are sent in batches and
// the vectors come back in input order.
func (r *Remote) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += r.batch {
		part := texts[start:min(start+r.batch, len(texts))]
		body, err := postJSON(ctx, r.client, r.url, r.headers, r.encode(r.model, part))
		if err != nil {
			return nil, err
		}
		vecs, err := r.decode(body)
		if err != nil {
			return nil, domain.NewSubSystemError("embedding", r.name+".Embed", domain.ErrEmbeddingFailed, "decode response: "+err.Error())
		}
		if len(vecs) != len(part) {
			return nil, domain.NewSubSystemError("embedding", r.name+".Embed", domain.ErrEmbeddingFailed,
				fmt.Sprintf("got %d vectors for %d texts", len(vecs), len(part)))
		}
		out = append(out, vecs...)
	}
	if len(out[0]) > 0 {
		r.dims.CompareAndSwap(0, int64(len(out[0])))
	}
	return out, nil
}

// Dimensions implements domain.EmbeddingProvider. It is 0 for an unknown
// model until the first vectors arrive.
func (r *Remote) Dimensions() int { return int(r.dims.Load()) }

// Name implements domain.EmbeddingProvider.
func (r *Remote) Name() string { return r.name }

// Model returns the embedding model name.
func (r *Remote) Model() string { return r.model }

var _ domain.EmbeddingProvider = (*Remote)(nil)

// postJSON POSTs payload and returns the 200 response body. Errors carry
// the embedding subsystem; transport failures wrap ErrProviderError so the
// retrieval layer can tell a dead server from a bad reply.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) ([]byte, error) {
	const op = "embedding.post"

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewSubSystemError("embedding", op, domain.ErrEmbeddingFailed, "encode request: "+err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewSubSystemError("embedding", op, domain.ErrEmbeddingFailed, "build request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingFailed, ctx.Err())
		}
		return nil, domain.NewSubSystemError("embedding", op, domain.ErrProviderError, err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, domain.NewSubSystemError("embedding", op, domain.ErrEmbeddingFailed, "read response: "+err.Error())
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return data, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.NewSubSystemError("embedding", op, domain.ErrRateLimit, string(data))
	case resp.StatusCode >= 500:
		return nil, domain.NewSubSystemError("embedding", op, domain.ErrProviderError,
			fmt.Sprintf("API error %d: %s", resp.StatusCode, data))
	default:
		return nil, domain.NewSubSystemError("embedding", op, domain.ErrEmbeddingFailed,
			fmt.Sprintf("API error %d: %s", resp.StatusCode, data))
	}
}
