package usecase

import (
	"strings"
	"time"

	"wikichat/internal/domain"
)

// ContextBuilder assembles the message list for each model call.
type ContextBuilder struct {
	systemPrompt string
	model        string
	window       int
	temperature  float64
}

// NewContextBuilder returns a builder that keeps at most window messages
// of conversation memory. A window of zero or less keeps everything.
func NewContextBuilder(systemPrompt, model string, window int, temperature float64) *ContextBuilder {
	return &ContextBuilder{systemPrompt: systemPrompt, model: model, window: window, temperature: temperature}
}

// Build returns system prompt, memory window, then the messages of the
// turn in progress. Passing nil tools asks for a plain answer.
func (cb *ContextBuilder) Build(memory, current []domain.Message, tools []domain.ToolSchema) domain.ChatRequest {
	kept := cb.recent(memory)

	msgs := make([]domain.Message, 0, 1+len(kept)+len(current))
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: cb.system(tools), Timestamp: time.Now()})
	msgs = append(msgs, kept...)
	msgs = append(msgs, current...)

	return domain.ChatRequest{Model: cb.model, Messages: msgs, Tools: tools, Temperature: cb.temperature}
}

func (cb *ContextBuilder) system(tools []domain.ToolSchema) string {
	if len(tools) == 0 {
		return cb.systemPrompt
	}
	var sb strings.Builder
	sb.WriteString(cb.systemPrompt)
	sb.WriteString("\n\n## Tools\n")
	for _, t := range tools {
		sb.WriteString("- " + t.Name + ": " + t.Description + "\n")
	}
	return sb.String()
}

// recent cuts memory at the earliest turn boundary that fits the window.
// Cutting only where a user message starts keeps tool calls next to their
// results. When even the newest turn is longer than the window, that turn
// is kept whole.
func (cb *ContextBuilder) recent(memory []domain.Message) []domain.Message {
	if cb.window <= 0 || len(memory) <= cb.window {
		return memory
	}
	starts := turnStarts(memory)
	if len(starts) == 0 {
		return memory[len(memory)-cb.window:]
	}
	for _, i := range starts {
		if len(memory)-i <= cb.window {
			return memory[i:]
		}
	}
	return memory[starts[len(starts)-1]:]
}

// turnStarts lists the indexes of user messages in order.
func turnStarts(msgs []domain.Message) []int {
	var idx []int
	for i, m := range msgs {
		if m.Role == domain.RoleUser {
			idx = append(idx, i)
		}
	}
	return idx
}
