package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"wikichat/internal/adapter/tui/theme"
	"wikichat/internal/adapter/tui/uxerror"
	"wikichat/internal/domain"
	"wikichat/internal/usecase"
)

// SessionKey keys the terminal's session in the session manager.
const SessionKey = "tui:local"

// CorpusManager swaps the indexed page set behind the tool registry.
type CorpusManager interface {
	SetCorpus(ctx context.Context, raw string) (usecase.Corpus, error)
	Corpus() usecase.Corpus
}

// ChatModelDeps are dependencies injected into the chat model.
type ChatModelDeps struct {
	Conversation *usecase.Conversation
	Session      *usecase.Session
	Corpus       CorpusManager // nil disables /pages
	Logger       *slog.Logger
	ModelName    string
	// Style is the glamour style name; empty means auto-detect.
	Style string
}

// ChatModel is the root Bubble Tea model for the terminal chat.
type ChatModel struct {
	deps ChatModelDeps

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	ready    bool
	waiting  bool
	quitting bool
	width    int
	height   int
	notice   string
	errText  string

	// gen is bumped on every request; older results are dropped.
	gen      uint64
	cancelFn context.CancelFunc
}

// NewChatModel creates the root chat model.
func NewChatModel(deps ChatModelDeps) ChatModel {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	ti := textinput.New()
	ti.Placeholder = "Ask a question, or /help"
	ti.Prompt = theme.UserLabel.Render("> ")
	ti.CharLimit = 2000
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	m := ChatModel{
		deps:    deps,
		input:   ti,
		spinner: s,
	}
	if deps.Corpus != nil {
		m.notice = corpusNotice(deps.Corpus.Corpus())
	}
	return m
}

// Init starts the cursor blink and spinner.
func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Update handles all incoming messages.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.waiting {
				m.cancelRequest()
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEsc:
			if m.waiting {
				m.cancelRequest()
			}
			return m, nil
		case tea.KeyEnter:
			if m.waiting {
				return m, nil
			}
			value := m.input.Value()
			m.input.Reset()
			return m.handleSubmit(value)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case SubmitDoneMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		m.finishRequest()
		if msg.Err != nil {
			if !errors.Is(msg.Err, context.Canceled) {
				m.errText = uxerror.Humanize(msg.Err).Render()
			}
		}
		m.refresh()
		return m, nil

	case PagesDoneMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		m.finishRequest()
		if msg.Err != nil {
			m.errText = uxerror.Humanize(msg.Err).Render()
		} else {
			m.notice = corpusNotice(msg.Corpus)
		}
		m.refresh()
		return m, nil

	case QuitMsg:
		m.cancelRequest()
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if !m.waiting {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	if _, isMouse := msg.(tea.MouseMsg); isMouse && m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// handleSubmit runs a slash command or submits a question.
func (m ChatModel) handleSubmit(value string) (tea.Model, tea.Cmd) {
	value = strings.TrimSpace(value)
	if value == "" {
		return m, nil
	}
	m.errText = ""

	if cmd, arg, ok := slashCommand(value); ok {
		switch cmd {
		case "/quit", "/exit":
			m.quitting = true
			return m, tea.Quit
		case "/reset":
			m.deps.Conversation.Reset(m.deps.Session)
			m.notice = "Chat cleared."
		case "/tools":
			m.notice = toolList(m.deps.Conversation.Tools().List())
		case "/help":
			m.notice = helpText
		case "/pages":
			if m.deps.Corpus == nil {
				m.errText = theme.TextError.Render(theme.Sym.Fail + " page selection is disabled")
				break
			}
			ctx := m.startRequest()
			m.notice = "Indexing " + arg + "..."
			m.refresh()
			return m, tea.Batch(setPagesCmd(ctx, m.deps.Corpus, arg, m.gen), m.spinner.Tick)
		default:
			m.errText = theme.TextError.Render(fmt.Sprintf("%s unknown command %s (try /help)", theme.Sym.Fail, cmd))
		}
		m.refresh()
		return m, nil
	}

	ctx := m.startRequest()
	m.refresh()
	return m, tea.Batch(submitCmd(ctx, m.deps.Conversation, m.deps.Session, value, m.gen), m.spinner.Tick)
}

func (m *ChatModel) startRequest() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	m.gen++
	m.cancelFn = cancel
	m.waiting = true
	m.input.Blur()
	return ctx
}

func (m *ChatModel) finishRequest() {
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	m.waiting = false
	m.input.Focus()
}

// cancelRequest abandons the in-flight request; its result is ignored.
func (m *ChatModel) cancelRequest() {
	if !m.waiting {
		return
	}
	m.gen++
	m.finishRequest()
	m.notice = "Request cancelled."
	m.refresh()
}

// View renders the chat UI.
func (m ChatModel) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return "  Initializing..."
	}

	header := theme.Header.Render(theme.Sym.Bot)
	if m.deps.ModelName != "" {
		header += theme.Dim.Render(" " + m.deps.ModelName)
	}

	input := theme.InputBorder.Width(m.width - 4).Render(m.input.View())
	if m.waiting {
		input = theme.InputBorder.Width(m.width - 4).Render(m.spinner.View() + " thinking...")
	}

	status := theme.StatusBar.Width(m.width).Render(
		fmt.Sprintf("%d turns  Enter send  Esc cancel  PgUp/PgDn scroll  /reset /pages /tools /quit",
			m.deps.Session.Len()))

	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), input, status)
}

// layout sizes the viewport to the window.
func (m *ChatModel) layout() {
	const headerH, inputH, statusH = 1, 3, 1
	h := max(m.height-headerH-inputH-statusH, 3)
	if !m.ready {
		m.viewport = viewport.New(m.width, h)
		m.viewport.MouseWheelEnabled = true
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = h
	}
	m.input.Width = m.width - 8
	m.renderer = newRenderer(m.deps.Style, theme.Clamp(m.width-4, 20, theme.MaxContentWidth))
	m.refresh()
}

// refresh re-renders the transcript into the viewport, newest turn on top.
func (m *ChatModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoTop()
}

func (m *ChatModel) renderTranscript() string {
	var sb strings.Builder
	if m.errText != "" {
		sb.WriteString(m.errText)
		sb.WriteString("\n\n")
	}
	if m.notice != "" {
		sb.WriteString(theme.TextMuted.Render(m.notice))
		sb.WriteString("\n\n")
	}

	turns := m.deps.Session.TurnsNewestFirst()
	if len(turns) == 0 {
		sb.WriteString(theme.Dim.Render("No questions yet."))
		return sb.String()
	}
	sep := theme.TurnSeparator.Render(strings.Repeat("─", max(m.width-2, 10)))
	for i, t := range turns {
		if i > 0 {
			sb.WriteString(sep)
			sb.WriteString("\n")
		}
		sb.WriteString(renderTurn(t, m.renderer))
	}
	return sb.String()
}

func renderTurn(t domain.Turn, r *glamour.TermRenderer) string {
	var sb strings.Builder
	sb.WriteString(theme.UserLabel.Render(theme.Sym.You))
	sb.WriteString(theme.Timestamp.Render("  " + t.CreatedAt.Format("15:04")))
	sb.WriteString("\n")
	sb.WriteString(t.UserText)
	sb.WriteString("\n\n")
	sb.WriteString(theme.BotLabel.Render(theme.Sym.Bot))
	if len(t.ToolsUsed) > 0 {
		sb.WriteString(theme.ToolLabel.Render("  " + theme.Sym.Arrow + " " + strings.Join(t.ToolsUsed, ", ")))
	}
	sb.WriteString("\n")
	sb.WriteString(renderMarkdown(r, t.AgentResponse))
	sb.WriteString("\n")
	return sb.String()
}

func newRenderer(style string, width int) *glamour.TermRenderer {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil
	}
	return r
}

func renderMarkdown(r *glamour.TermRenderer, content string) string {
	if r == nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}

func corpusNotice(c usecase.Corpus) string {
	if len(c.Pages) == 0 {
		return "No pages indexed. Use /pages Tokyo, Berlin to add some."
	}
	return fmt.Sprintf("%d articles have been parsed and indexed (%s).", c.Articles, c.Key)
}

func toolList(tools []domain.Tool) string {
	if len(tools) == 0 {
		return "No tools registered."
	}
	var sb strings.Builder
	sb.WriteString("Tools:")
	for _, t := range tools {
		direct := ""
		if t.ReturnDirect() {
			direct = " (direct)"
		}
		fmt.Fprintf(&sb, "\n  %s %s%s: %s", theme.Sym.Bullet, t.Name(), direct, t.Description())
	}
	return sb.String()
}

const helpText = `Commands:
  /reset          clear the chat and its memory
  /pages a, b     index these Wikipedia pages
  /tools          list the registered tools
  /quit           exit`
