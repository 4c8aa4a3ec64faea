package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
)

// fakeOllama serves the native root and generate endpoints plus the
// OpenAI-compatible chat endpoint.
func fakeOllama(t *testing.T, generate http.HandlerFunc) *httptest.Server {
	t.Helper()
	if generate == nil {
		generate = func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{}`)) }
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Ollama is running"))
	})
	mux.HandleFunc("POST /api/generate", generate)
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(completionResponse{
			Model: "llama3",
			Choices: []wireChoice{{
				Message: wireMessage{Role: "assistant", Content: "Berlin is the capital of Germany."},
			}},
			Usage: wireUsage{TotalTokens: 17},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaProviderChat(t *testing.T) {
	srv := fakeOllama(t, nil)
	p := NewOllamaProvider(config.ProviderConfig{
		Name: "ollama-test", BaseURL: srv.URL + "/", Model: "llama3", APIKey: "ignored",
	}, newTestLogger())

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "What is Berlin?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Berlin is the capital of Germany.", resp.Message.Content)
	assert.Equal(t, "llama3", resp.Model)
	assert.Equal(t, "ollama-test", p.Name())
}

func TestOllamaProviderDefaults(t *testing.T) {
	p := NewOllamaProvider(config.ProviderConfig{Name: "ollama"}, newTestLogger())
	assert.Equal(t, ollamaDefaultBaseURL, p.native)
	assert.Equal(t, ollamaDefaultBaseURL+"/v1/chat/completions", p.endpoint)
	assert.Equal(t, ollamaDefaultConnTimeout+ollamaDefaultRespTimeout, p.client.Timeout)
}

func TestOllamaProviderWarmup(t *testing.T) {
	var got map[string]string
	srv := fakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"done":true}`))
	})

	p := NewOllamaProvider(config.ProviderConfig{Name: "ollama", BaseURL: srv.URL, Model: "llama3"}, newTestLogger())
	require.True(t, p.IsHealthy(context.Background()))
	require.NoError(t, p.Warmup(context.Background()))
	assert.Equal(t, map[string]string{"model": "llama3", "keep_alive": "5m"}, got)
}

func TestOllamaProviderWarmupModelMissing(t *testing.T) {
	srv := fakeOllama(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"model 'llama9' not found"}}`))
	})

	p := NewOllamaProvider(config.ProviderConfig{Name: "ollama", BaseURL: srv.URL, Model: "llama9"}, newTestLogger())
	err := p.Warmup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llama9")
}

func TestOllamaProviderUnreachable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls.Add(1) }))
	url := srv.URL
	srv.Close()

	p := NewOllamaProvider(config.ProviderConfig{Name: "ollama", BaseURL: url, Model: "llama3"}, newTestLogger())
	assert.False(t, p.IsHealthy(context.Background()))
	err := p.Warmup(context.Background())
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Contains(t, err.Error(), "not reachable")
	assert.Zero(t, calls.Load())
}
