package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
)

// Compile-time interface assertion.
var _ domain.LLMProvider = (*MatchProvider)(nil)

// DefaultNoMatchReply is returned when no offered tool shares a word with
// the question.
const DefaultNoMatchReply = "I could not find a tool that can answer that question."

// MatchProvider is an offline LLMProvider that routes by word overlap
// between the latest user message and each offered tool's name and
// description. It never generates free text: once a tool has answered,
// the tool output becomes the reply verbatim.
type MatchProvider struct {
	name    string
	noMatch string
	logger  *slog.Logger
}

// NewMatchProvider creates a match provider. cfg.Model, when set, overrides
// the reply used when nothing matches.
func NewMatchProvider(cfg config.ProviderConfig, logger *slog.Logger) *MatchProvider {
	name := cfg.Name
	if name == "" {
		name = "match"
	}
	noMatch := DefaultNoMatchReply
	if cfg.Model != "" {
		noMatch = cfg.Model
	}
	return &MatchProvider{name: name, noMatch: noMatch, logger: logger}
}

// Name implements domain.LLMProvider.
func (p *MatchProvider) Name() string { return p.name }

// Chat implements domain.LLMProvider.
func (p *MatchProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == domain.RoleTool {
		return p.reply(req.Messages[n-1].Content), nil
	}

	if len(req.Tools) == 0 {
		return nil, domain.NewDomainError("MatchProvider.Chat", domain.ErrGenerationUnsupported, "no tools offered")
	}

	question := lastUserMessage(req.Messages)
	idx := bestTool(question, req.Tools)
	if idx < 0 {
		p.logger.Debug("match provider found no tool", "question_len", len(question))
		return p.reply(p.noMatch), nil
	}

	args, err := json.Marshal(map[string]string{"query": question})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	call := domain.ToolCall{
		ID:        "call_" + uuid.NewString(),
		Name:      req.Tools[idx].Name,
		Arguments: args,
	}
	p.logger.Debug("match provider selected tool", "tool", call.Name)

	return &domain.ChatResponse{
		ID:    "match-" + uuid.NewString(),
		Model: p.name,
		Message: domain.Message{
			Role:      domain.RoleAssistant,
			ToolCalls: []domain.ToolCall{call},
			Timestamp: now,
		},
		CreatedAt: now,
	}, nil
}

func (p *MatchProvider) reply(content string) *domain.ChatResponse {
	now := time.Now()
	return &domain.ChatResponse{
		ID:        "match-" + uuid.NewString(),
		Model:     p.name,
		Message:   domain.Message{Role: domain.RoleAssistant, Content: content, Timestamp: now},
		CreatedAt: now,
	}
}

func lastUserMessage(msgs []domain.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// bestTool returns the index of the tool whose name and description share
// the most words with question, or -1. Ties keep the earliest tool.
func bestTool(question string, tools []domain.ToolSchema) int {
	words := wordSet(question)
	if looksArithmetic(question) {
		words["math"] = struct{}{}
	}
	if len(words) == 0 {
		return -1
	}

	best, bestScore := -1, 0
	for i, t := range tools {
		score := 0
		for w := range wordSet(t.Name + " " + t.Description) {
			if _, ok := words[w]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// stopWords are dropped before matching. Besides common English function
// words it holds the boilerplate every tool description shares.
var stopWords = map[string]struct{}{
	"a": {}, "about": {}, "an": {}, "and": {}, "answer": {}, "are": {}, "as": {},
	"at": {}, "be": {}, "by": {}, "can": {}, "complete": {}, "did": {}, "do": {},
	"does": {}, "english": {}, "for": {}, "from": {}, "how": {}, "i": {}, "in": {},
	"input": {}, "is": {}, "it": {}, "its": {}, "me": {}, "my": {}, "need": {},
	"of": {}, "on": {}, "or": {}, "question": {}, "sentence": {}, "should": {},
	"tell": {}, "that": {}, "the": {}, "this": {}, "to": {}, "tool": {},
	"topic": {}, "useful": {}, "want": {}, "was": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {},
	"with": {}, "you": {}, "your": {},
}

func wordSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if isStopWord(f) {
			continue
		}
		if f = stem(f); isStopWord(f) {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

func isStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// stem strips a plural "s" so "transactions" matches "transaction".
func stem(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
		return w[:len(w)-1]
	}
	return w
}

func looksArithmetic(s string) bool {
	sawDigit := false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			sawDigit = true
		case sawDigit && strings.ContainsRune("+-*/^%", r):
			return true
		}
	}
	return false
}
