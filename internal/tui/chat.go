package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"repomind/internal/analyzer"
	"repomind/internal/llm"
	"repomind/internal/rag"
	"repomind/internal/session"
)

type chatState int

const (
	chatIdle chatState = iota
	chatSearching
	chatGenerating
)

type chatModel struct {
	viewport    viewport.Model
	input       textinput.Model
	spinner     spinner.Model
	renderer    *glamour.TermRenderer
	messages    []chatMessage
	history     []llm.Message
	assembler   *rag.Assembler
	chat        llm.Completer
	chatErr     string
	model       string
	facts       *rag.RepoFacts
	sessions    *session.Store
	tracker     *session.UsageTracker
	record      *session.Chat
	program     *programRef
	state       chatState
	width       int
	height      int
	initialized bool
}

type chatMessage struct {
	role    string
	content string
}

// answerMsg is sent when a question completes. The prompt pieces ride along
// so the turn can be recorded for usage accounting.
type answerMsg struct {
	question string
	system   string
	msgs     []llm.Message
	answer   string
	err      error
}

// generatingMsg marks the transition from retrieval to generation.
type generatingMsg struct{}

func newChatModel(a *analyzer.Analyzer, facts *rag.RepoFacts, cfg Config) chatModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = selectedStyle

	ti := textinput.New()
	ti.Placeholder = "Ask a question about the repository..."
	ti.CharLimit = 2000
	ti.Focus()

	m := chatModel{
		spinner: sp,
		input:   ti,
		facts:   facts,
		program: cfg.program,
		record:  &session.Chat{RepoURL: facts.Name},
		state:   chatIdle,
	}

	var instructions string
	if sessions, err := session.NewStore(cfg.Cfg.DataDir, nil); err == nil {
		m.sessions = sessions
		if settings, err := sessions.Settings(); err == nil {
			instructions = settings.CustomInstructions
		}
	}
	if tracker, err := session.NewUsageTracker(filepath.Join(cfg.Cfg.DataDir, "usage"), nil); err == nil {
		m.tracker = tracker
	}

	var searcher rag.Searcher
	if st := a.Store(); st != nil {
		searcher = st
	}
	var related rag.ContextProvider
	if cs := a.Contexts(); cs != nil {
		related = cs
	}
	m.assembler = rag.NewAssembler(searcher, a.Embedder(), related, rag.AssemblerOptions{
		TopK:         cfg.Cfg.TopK,
		Threshold:    cfg.Cfg.ScoreThreshold,
		Instructions: instructions,
	}, nil)

	chat, model, err := llm.ForModel(cfg.Cfg.ChatModel, cfg.Cfg.AnthropicAPIKey, cfg.Cfg.OllamaURL, cfg.Cfg.MaxTokens, nil)
	if err != nil {
		m.chatErr = err.Error()
	} else {
		m.chat = chat
		m.model = model
	}
	return m
}

func (m *chatModel) initViewport(width, height int) {
	m.width = width
	m.height = height

	// Layout: viewport + status bar (1 line) + input (1 line) + gap (1 line).
	vpHeight := height - 3
	if vpHeight < 5 {
		vpHeight = 5
	}
	m.viewport = viewport.New(width, vpHeight)
	if m.chat == nil {
		m.viewport.SetContent(warnStyle.Render("Generation unavailable: " + m.chatErr))
	} else {
		m.viewport.SetContent(dimStyle.Render(fmt.Sprintf(
			"Chatting about %s with %s.\n\nCommands: /help, /usage, /clear, /exit", m.facts.Name, m.model)))
	}

	m.input.Width = width - 4

	// Glamour renderer matched to the current width.
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-2),
	)
	if err == nil {
		m.renderer = r
	}

	m.initialized = true
}

func askQuestion(question string, asm *rag.Assembler, facts *rag.RepoFacts, chat llm.Completer, history []llm.Message, prog *programRef) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		system, msgs, err := asm.BuildContext(ctx, question, facts, history)
		if err != nil {
			return answerMsg{err: fmt.Errorf("context error: %w", err)}
		}
		if prog != nil && prog.p != nil {
			prog.p.Send(generatingMsg{})
		}
		answer, err := chat.Complete(ctx, system, msgs)
		if err != nil {
			return answerMsg{err: fmt.Errorf("generation error: %w", err)}
		}
		return answerMsg{question: question, system: system, msgs: msgs, answer: answer}
	}
}

func (m chatModel) Update(msg tea.Msg) (chatModel, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.initViewport(msg.Width, msg.Height)
		if len(m.messages) > 0 {
			m.viewport.SetContent(m.renderMessages())
			m.viewport.GotoBottom()
		}
		return m, nil

	case generatingMsg:
		if m.state == chatSearching {
			m.state = chatGenerating
			m.viewport.SetContent(m.renderMessages())
			m.viewport.GotoBottom()
		}
		return m, nil

	case answerMsg:
		m.state = chatIdle
		if msg.err != nil {
			m.messages = append(m.messages, chatMessage{role: "error", content: msg.err.Error()})
		} else {
			m.messages = append(m.messages, chatMessage{role: "assistant", content: msg.answer})
			m.history = append(m.history, llm.Message{Role: llm.RoleAssistant, Content: msg.answer})
			if len(m.history) > 20 {
				m.history = m.history[len(m.history)-20:]
			}
			m.persistTurn(msg)
		}
		m.viewport.SetContent(m.renderMessages())
		m.viewport.GotoBottom()
		return m, nil

	case spinner.TickMsg:
		if m.state != chatIdle {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			// Re-render so the spinner frame advances.
			m.viewport.SetContent(m.renderMessages())
			m.viewport.GotoBottom()
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case tea.KeyMsg:
		if m.state != chatIdle {
			return m, nil
		}
		if msg.Type == tea.KeyEnter {
			return m.submit()
		}
	}

	if m.state == chatIdle {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m chatModel) submit() (chatModel, tea.Cmd) {
	question := strings.TrimSpace(m.input.Value())
	if question == "" {
		return m, nil
	}
	m.input.Reset()

	switch question {
	case "/exit", "/quit":
		return m, tea.Quit
	case "/clear":
		m.messages = nil
		m.history = nil
		m.viewport.SetContent(dimStyle.Render("Conversation cleared."))
		return m, nil
	case "/help":
		help := "Commands:\n" +
			"  /clear  - clear conversation history\n" +
			"  /usage  - show recorded token usage and cost\n" +
			"  /exit   - quit\n" +
			"  /help   - show this help"
		m.messages = append(m.messages, chatMessage{role: "system", content: help})
		m.viewport.SetContent(m.renderMessages())
		m.viewport.GotoBottom()
		return m, nil
	case "/usage":
		m.messages = append(m.messages, chatMessage{role: "system", content: usageText(m.tracker)})
		m.viewport.SetContent(m.renderMessages())
		m.viewport.GotoBottom()
		return m, nil
	}

	if m.chat == nil {
		m.messages = append(m.messages, chatMessage{role: "error", content: m.chatErr})
		m.viewport.SetContent(m.renderMessages())
		m.viewport.GotoBottom()
		return m, nil
	}

	m.messages = append(m.messages, chatMessage{role: "user", content: question})
	m.history = append(m.history, llm.Message{Role: llm.RoleUser, Content: question})
	m.state = chatSearching
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()

	return m, tea.Batch(
		m.spinner.Tick,
		askQuestion(question, m.assembler, m.facts, m.chat, m.history[:len(m.history)-1], m.program),
	)
}

// persistTurn saves the running transcript and records token usage. Both are
// best effort; a failed write never interrupts the conversation.
func (m *chatModel) persistTurn(msg answerMsg) {
	m.record.Messages = m.history
	if m.record.Title == "" {
		m.record.Title = titleFrom(msg.question)
	}
	if m.sessions != nil {
		m.sessions.SaveChat(m.record)
	}
	if m.tracker != nil {
		var b strings.Builder
		b.WriteString(msg.system)
		for _, mm := range msg.msgs {
			b.WriteString("\n")
			b.WriteString(mm.Content)
		}
		m.tracker.Track(m.model, b.String(), msg.answer, m.record.ID)
	}
}

func titleFrom(question string) string {
	r := []rune(question)
	if len(r) > 60 {
		return string(r[:60])
	}
	return question
}

func usageText(tracker *session.UsageTracker) string {
	if tracker == nil {
		return "Usage tracking is unavailable."
	}
	sum, err := tracker.Summary()
	if err != nil {
		return "usage: " + err.Error()
	}
	if len(sum.ByModel) == 0 {
		return "No usage recorded yet."
	}
	models := make([]string, 0, len(sum.ByModel))
	for name := range sum.ByModel {
		models = append(models, name)
	}
	sort.Strings(models)

	var b strings.Builder
	b.WriteString("Recorded usage:\n")
	for _, name := range models {
		u := sum.ByModel[name]
		fmt.Fprintf(&b, "  %-32s %8d in / %8d out   $%.4f\n", name, u.InputTokens, u.OutputTokens, u.Cost)
	}
	fmt.Fprintf(&b, "  total: $%.4f", sum.Cost)
	return b.String()
}

func (m chatModel) renderMarkdown(content string) string {
	if m.renderer == nil {
		return assistantMsgStyle.Render(content)
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return assistantMsgStyle.Render(content)
	}
	return strings.TrimRight(rendered, "\n")
}

func (m chatModel) renderMessages() string {
	var sb strings.Builder
	for _, msg := range m.messages {
		switch msg.role {
		case "user":
			sb.WriteString(userMsgStyle.Render("You: ") + msg.content + "\n\n")
		case "assistant":
			sb.WriteString(m.renderMarkdown(msg.content) + "\n\n")
		case "error":
			sb.WriteString(errorStyle.Render("Error: "+msg.content) + "\n\n")
		case "system":
			sb.WriteString(dimStyle.Render(msg.content) + "\n\n")
		}
	}

	if m.state != chatIdle {
		label := "Searching..."
		if m.state == chatGenerating {
			label = "Generating..."
		}
		sb.WriteString(m.spinner.View() + " " + dimStyle.Render(label) + "\n")
	}

	return sb.String()
}

func (m chatModel) View(width, height int) string {
	if !m.initialized {
		return ""
	}

	statusText := "idle"
	switch m.state {
	case chatSearching:
		statusText = "searching..."
	case chatGenerating:
		statusText = "generating..."
	}
	statusBar := statusBarStyle.
		Width(m.width).
		Render(fmt.Sprintf(" repomind • %s • %s", m.facts.Name, statusText))

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.viewport.View(),
		statusBar,
		m.input.View(),
	)
}
