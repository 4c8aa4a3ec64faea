package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"wikichat/internal/domain"
)

// ToolSource hands out the tool registry currently in force. The toolbox
// swaps registries when the corpus changes; each query reads it once.
type ToolSource interface {
	Registry() domain.ToolExecutor
}

type staticTools struct{ reg domain.ToolExecutor }

func (s staticTools) Registry() domain.ToolExecutor { return s.reg }

// StaticTools wraps a fixed registry as a ToolSource.
func StaticTools(reg domain.ToolExecutor) ToolSource { return staticTools{reg: reg} }

// Conversation is the service channels talk to: it turns user text into
// transcript turns by routing through the agent.
type Conversation struct {
	agent    *Agent
	tools    ToolSource
	sessions *SessionManager // optional, for snapshots
	locker   *SessionLocker
	logger   *slog.Logger
}

// NewConversation creates a conversation service. sessions may be nil.
func NewConversation(agent *Agent, tools ToolSource, sessions *SessionManager, logger *slog.Logger) *Conversation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversation{
		agent:    agent,
		tools:    tools,
		sessions: sessions,
		locker:   NewSessionLocker(),
		logger:   logger,
	}
}

// Tools returns the registry currently in force.
func (c *Conversation) Tools() domain.ToolExecutor { return c.tools.Registry() }

// Submit routes text and appends the resulting turn to s.
//
// Blank input is a no-op and returns (nil, nil): no tool runs and the
// transcript is unchanged. A routing error is returned as is and no turn
// is recorded.
func (c *Conversation) Submit(ctx context.Context, s *Session, text string) (*domain.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	unlock, err := c.locker.Lock(ctx, s.ID())
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := time.Now()
	turnID := generateULID(now)
	ctx = domain.ContextWithSessionID(ctx, s.ID())
	ctx = domain.ContextWithTurnID(ctx, turnID)

	epoch := s.Epoch()
	start := time.Now()
	res, err := c.agent.Route(ctx, text, c.tools.Registry(), s.Memory())
	if err != nil {
		c.logger.Warn("query failed",
			"session_id", s.ID(), "turn_id", turnID, "error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	turn := domain.Turn{
		ID:            turnID,
		UserText:      text,
		AgentResponse: res.Response,
		ToolsUsed:     res.ToolsUsed,
		CreatedAt:     now,
	}
	memory := []domain.Message{
		{Role: domain.RoleUser, Content: text, Timestamp: now},
		{Role: domain.RoleAssistant, Content: res.Response, Timestamp: time.Now()},
	}
	if !s.addTurnAt(epoch, turn, memory...) {
		c.logger.Info("session reset while answering, turn dropped",
			"session_id", s.ID(), "turn_id", turnID)
		return &turn, nil
	}

	c.logger.Info("query answered",
		"session_id", s.ID(), "turn_id", turnID,
		"tools", res.ToolsUsed, "direct", res.Direct,
		"duration_ms", time.Since(start).Milliseconds())

	c.save(s)
	return &turn, nil
}

// Reset clears the transcript and memory of s.
func (c *Conversation) Reset(s *Session) {
	s.Reset()
	c.logger.Info("session reset", "session_id", s.ID())
	c.save(s)
}

func (c *Conversation) save(s *Session) {
	if c.sessions == nil {
		return
	}
	if err := c.sessions.Save(s.Key()); err != nil {
		c.logger.Warn("session save failed", "session_id", s.ID(), "error", err)
	}
}
