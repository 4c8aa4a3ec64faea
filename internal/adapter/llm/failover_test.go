package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikichat/internal/domain"
)

type mockProvider struct {
	name     string
	chatFunc func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error)
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return m.chatFunc(ctx, req)
}
func (m *mockProvider) Name() string { return m.name }

// link is one provider of a test chain. A nil err answers with the name.
type link struct {
	name string
	err  error
}

// buildChain returns a failover over links and the names in call order.
func buildChain(links ...link) (*FailoverProvider, *[]string) {
	var called []string
	ps := make([]domain.LLMProvider, len(links))
	for i, l := range links {
		ps[i] = &mockProvider{name: l.name, chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			called = append(called, l.name)
			if l.err != nil {
				return nil, l.err
			}
			return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: l.name}}, nil
		}}
	}
	return NewFailoverProvider(ps[0], ps[1:], newTestLogger()), &called
}

func TestFailoverWalksChain(t *testing.T) {
	down := errors.New("down")
	tests := []struct {
		name   string
		links  []link
		answer string
		called []string
	}{
		{"primary answers", []link{{"primary", nil}, {"fallback", nil}}, "primary", []string{"primary"}},
		{"fallback answers", []link{{"primary", down}, {"fallback", nil}}, "fallback", []string{"primary", "fallback"}},
		{"third answers", []link{{"a", domain.ErrRateLimit}, {"b", down}, {"c", nil}}, "c", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp, called := buildChain(tt.links...)
			resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
			require.NoError(t, err)
			assert.Equal(t, tt.answer, resp.Message.Content)
			assert.Equal(t, tt.called, *called)
		})
	}
}

func TestFailoverCollectsEveryFailure(t *testing.T) {
	fp, _ := buildChain(
		link{"primary", domain.ErrRateLimit},
		link{"local", errors.New("connection refused")},
		link{"backup", domain.ErrAuthInvalid},
	)
	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)

	for _, s := range []string{"all providers failed", "primary", "local: connection refused", "backup"} {
		assert.Contains(t, err.Error(), s)
	}
	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
}

func TestFailoverStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &mockProvider{name: "primary", chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		cancel()
		return nil, context.Canceled
	}}
	fallback := &mockProvider{name: "fallback", chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		t.Error("fallback reached after cancellation")
		return nil, nil
	}}

	fp := NewFailoverProvider(primary, []domain.LLMProvider{fallback}, newTestLogger())
	_, err := fp.Chat(ctx, domain.ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFailoverStopsOnInvalidInput(t *testing.T) {
	fp, called := buildChain(link{"primary", domain.ErrInvalidInput}, link{"fallback", nil})
	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, []string{"primary"}, *called)

	fp, called = buildChain(link{"a", errors.New("down")}, link{"b", domain.ErrInvalidInput}, link{"c", nil})
	_, err = fp.Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, []string{"a", "b"}, *called)
}

func TestFailoverName(t *testing.T) {
	fp, _ := buildChain(link{"openai", nil})
	assert.Equal(t, "openai+failover", fp.Name())
}
