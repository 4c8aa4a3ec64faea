package chat

import (
	"context"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"wikichat/internal/usecase"
)

// TUIChannel implements domain.Channel with a Bubble Tea program.
type TUIChannel struct {
	conv      *usecase.Conversation
	sessions  *usecase.SessionManager
	corpus    CorpusManager
	logger    *slog.Logger
	modelName string
	program   *tea.Program
	opts      []tea.ProgramOption
}

// NewTUIChannel creates the terminal channel. corpus may be nil.
func NewTUIChannel(conv *usecase.Conversation, sessions *usecase.SessionManager, corpus CorpusManager,
	modelName string, logger *slog.Logger, opts ...tea.ProgramOption) *TUIChannel {
	return &TUIChannel{
		conv:      conv,
		sessions:  sessions,
		corpus:    corpus,
		logger:    logger,
		modelName: modelName,
		opts:      opts,
	}
}

// Name implements domain.Channel.
func (c *TUIChannel) Name() string { return "tui" }

// Start runs the program and blocks until it exits.
func (c *TUIChannel) Start(ctx context.Context) error {
	model := NewChatModel(ChatModelDeps{
		Conversation: c.conv,
		Session:      c.sessions.GetOrCreate(SessionKey),
		Corpus:       c.corpus,
		Logger:       c.logger,
		ModelName:    c.modelName,
	})

	opts := append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithMouseCellMotion()}, c.opts...)
	c.program = tea.NewProgram(model, opts...)

	go func() {
		<-ctx.Done()
		c.program.Send(QuitMsg{})
	}()

	_, err := c.program.Run()
	return err
}

// Stop asks the program to quit.
func (c *TUIChannel) Stop(_ context.Context) error {
	if c.program != nil {
		c.program.Send(QuitMsg{})
	}
	return nil
}
