package domain

import (
	"context"
	"time"
)

// ChatRequest is one call to a language model.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolSchema
	MaxTokens   int
	Temperature float64
}

// ChatResponse carries the model's reply. Message.ToolCalls is set when
// the model picked tools instead of answering.
type ChatResponse struct {
	ID        string
	Model     string
	Message   Message
	Usage     Usage
	CreatedAt time.Time
}

// Usage counts tokens for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMProvider is a chat model backend.
type LLMProvider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
}

// EmbeddingProvider turns text into vectors for retrieval. Embed returns
// one vector per text, in input order.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the vector length, or 0 while it is still unknown.
	Dimensions() int
	Name() string
}
