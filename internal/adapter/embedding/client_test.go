package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
)

// lengthServer embeds each text as [len(text), 1] and counts requests.
func lengthServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		vecs := make([][]float32, len(req.Input))
		for i, s := range req.Input {
			vecs[i] = []float32{float32(len(s)), 1}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteBatchesInOrder(t *testing.T) {
	var requests atomic.Int32
	p := NewOllama(config.EmbeddingConfig{Model: "custom-embed", BaseURL: lengthServer(t, &requests).URL})
	p.batch = 2

	if p.Dimensions() != 0 {
		t.Fatalf("unknown model should start with 0 dimensions, got %d", p.Dimensions())
	}
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := p.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if requests.Load() != 3 {
		t.Errorf("requests = %d, want 3", requests.Load())
	}
	for i, v := range vecs {
		if int(v[0]) != len(texts[i]) {
			t.Errorf("vecs[%d] = %v, out of order", i, v)
		}
	}
	if p.Dimensions() != 2 {
		t.Errorf("Dimensions() = %d, want learned 2", p.Dimensions())
	}
}

func TestRemoteCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[1]]}`))
	}))
	defer srv.Close()

	_, err := NewOllama(config.EmbeddingConfig{BaseURL: srv.URL}).Embed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, domain.ErrEmbeddingFailed) {
		t.Errorf("expected ErrEmbeddingFailed, got %v", err)
	}
}

func TestRemoteEmptyInput(t *testing.T) {
	vecs, err := NewOpenAI(config.EmbeddingConfig{}).Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("Embed(nil) = %v, %v", vecs, err)
	}
}
