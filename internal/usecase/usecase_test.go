package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wikichat/internal/adapter/tool"
	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
)

// --- Mocks ---

// mockLLM replays scripted replies and records every request.
type mockLLM struct {
	mu       sync.Mutex
	replies  []mockReply
	callIdx  int
	requests []domain.ChatRequest
}

type mockReply struct {
	msg domain.Message
	err error
}

func (m *mockLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.callIdx >= len(m.replies) {
		return &domain.ChatResponse{
			Message: domain.Message{Role: domain.RoleAssistant, Content: "fallback"},
		}, nil
	}
	r := m.replies[m.callIdx]
	m.callIdx++
	if r.err != nil {
		return nil, r.err
	}
	return &domain.ChatResponse{Message: r.msg, Usage: domain.Usage{TotalTokens: 10}}, nil
}

func (m *mockLLM) Name() string { return "mock" }

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockLLM) request(i int) domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func answer(content string) mockReply {
	return mockReply{msg: domain.Message{Role: domain.RoleAssistant, Content: content}}
}

func callTools(names ...string) mockReply {
	calls := make([]domain.ToolCall, len(names))
	for i, n := range names {
		calls[i] = domain.ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      n,
			Arguments: json.RawMessage(`{"query":"q"}`),
		}
	}
	return mockReply{msg: domain.Message{Role: domain.RoleAssistant, ToolCalls: calls}}
}

func failWith(err error) mockReply { return mockReply{err: err} }

// stubTool returns a fixed output and counts its invocations.
type stubTool struct {
	name   string
	desc   string
	output string
	err    error
	direct bool
	calls  atomic.Int32
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return t.desc }
func (t *stubTool) ReturnDirect() bool  { return t.direct }
func (t *stubTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.desc}
}
func (t *stubTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	t.calls.Add(1)
	if t.err != nil {
		return &domain.ToolResult{IsError: true, Content: t.err.Error()}, nil
	}
	return &domain.ToolResult{Content: t.output}, nil
}

func newTestRegistry(t testing.TB, tools ...domain.Tool) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry(nil)
	for _, tl := range tools {
		if err := reg.Register(tl); err != nil {
			t.Fatalf("register %s: %v", tl.Name(), err)
		}
	}
	return reg
}

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAgent(llm domain.LLMProvider, mode string) *Agent {
	return NewAgent(AgentDeps{
		LLM:            llm,
		ContextBuilder: NewContextBuilder("You are a test bot.", "test-model", 20, 0),
		Logger:         nopLogger(),
		Mode:           mode,
		MaxIterations:  5,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
	})
}

// wordCounter counts whitespace-separated words as tokens.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

// fakeFetcher serves pages from a map and counts fetches.
type fakeFetcher struct {
	pages   map[string]string
	fetches atomic.Int32
}

func (f *fakeFetcher) GetPage(_ context.Context, title string) (*domain.Document, error) {
	f.fetches.Add(1)
	content, ok := f.pages[title]
	if !ok {
		return nil, domain.NewSubSystemError("wikipedia", "Client.GetPage", domain.ErrPageNotFound, title)
	}
	return &domain.Document{
		Title:     title,
		URL:       "https://en.wikipedia.org/wiki/" + title,
		Content:   content,
		FetchedAt: time.Now(),
	}, nil
}

func cityPages() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{
		"Tokyo": "Tokyo is the capital of Japan.\n" +
			"The Tokyo metropolis has a population of over 14 million people.",
		"Berlin": "Berlin is the capital and largest city of Germany.\n" +
			"Berlin straddles the banks of the Spree river.",
		"Rome": "Rome is the capital city of Italy.\n" +
			"Rome was founded on the Palatine Hill.",
	}}
}

func testConfig(pages string) *config.Config {
	cfg := config.Defaults()
	cfg.Corpus.Pages = pages
	cfg.Retrieval.ChunkTokens = 64
	return cfg
}
