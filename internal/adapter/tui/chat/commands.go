package chat

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"wikichat/internal/usecase"
)

// submitCmd answers text in the background. gen tags the result so a
// cancelled request cannot overwrite a newer one.
func submitCmd(ctx context.Context, conv *usecase.Conversation, s *usecase.Session, text string, gen uint64) tea.Cmd {
	return func() tea.Msg {
		turn, err := conv.Submit(ctx, s, text)
		return SubmitDoneMsg{Turn: turn, Err: err, Gen: gen}
	}
}

func setPagesCmd(ctx context.Context, corpus CorpusManager, raw string, gen uint64) tea.Cmd {
	return func() tea.Msg {
		c, err := corpus.SetCorpus(ctx, raw)
		return PagesDoneMsg{Corpus: c, Err: err, Gen: gen}
	}
}

// slashCommand splits "/pages a, b" into ("/pages", "a, b").
func slashCommand(input string) (cmd, arg string, ok bool) {
	if !strings.HasPrefix(input, "/") {
		return "", "", false
	}
	cmd, arg, _ = strings.Cut(input, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg), true
}
