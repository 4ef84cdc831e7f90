package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"repomind/internal/analyzer"
	"repomind/internal/config"
	"repomind/internal/rag"
)

// ViewState represents which screen is active.
type ViewState int

const (
	ViewWelcome ViewState = iota
	ViewSetup
	ViewAnalyzing
	ViewChat
)

// programRef is an indirect pointer to the tea.Program so background
// goroutines can send messages. It must be set after tea.NewProgram returns
// but before Run.
type programRef struct {
	p *tea.Program
}

// Config holds what the CLI layer passes in.
type Config struct {
	Cfg *config.Config

	// program is set internally so background goroutines can send messages.
	program *programRef
}

// Model is the top-level Bubble Tea model.
type Model struct {
	state  ViewState
	config Config
	width  int
	height int

	// analyzer is the handle backing the chat screen. It owns the open
	// vector store and is closed by Run when the program exits.
	analyzer *analyzer.Analyzer

	welcome   welcomeModel
	setup     setupModel
	analyzing analyzingModel
	chat      chatModel
	err       error
}

// New creates a new TUI model with the given config.
func New(cfg Config) Model {
	return Model{
		state:   ViewWelcome,
		config:  cfg,
		welcome: newWelcomeModel(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, checkIndex(m.config))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.state == ViewChat {
			var c tea.Cmd
			m.chat, c = m.chat.Update(msg)
			return m, c
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "q":
			// Only where q cannot be part of typed text.
			if m.state == ViewSetup || m.state == ViewAnalyzing {
				return m, tea.Quit
			}
		case "esc":
			switch m.state {
			case ViewWelcome:
				return m, tea.Quit
			case ViewSetup:
				m.state = ViewWelcome
				return m, nil
			case ViewAnalyzing:
				if m.analyzing.done && m.analyzing.err != nil {
					m.state = ViewWelcome
					return m, nil
				}
			case ViewChat:
				if m.analyzer != nil {
					m.analyzer.Close()
					m.analyzer = nil
				}
				m.state = ViewWelcome
				m.welcome.ready = false
				return m, checkIndex(m.config)
			}
		}
	}

	var cmd tea.Cmd

	switch m.state {
	case ViewWelcome:
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter && m.welcome.ready {
			url := m.welcome.repoURL()
			if url == "" {
				return m, nil
			}
			// A fresh index for the same repository goes straight to chat.
			if m.welcome.status == indexReady && m.welcome.matchesStored(url) {
				return m, m.openExistingChat()
			}
			m.state = ViewSetup
			m.setup = newSetupModel()
			return m, runChecks(m.config)
		}
		m.welcome, cmd = m.welcome.Update(msg)
		return m, cmd

	case ViewSetup:
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter && m.setup.viable() {
			m.config.Cfg = m.setup.apply(m.config.Cfg)
			m.state = ViewAnalyzing
			m.analyzing = newAnalyzingModel()
			return m, tea.Batch(m.analyzing.spinner.Tick, runAnalysis(m.config, m.welcome.repoURL()))
		}
		m.setup, cmd = m.setup.Update(msg)
		return m, cmd

	case ViewAnalyzing:
		m.analyzing, cmd = m.analyzing.Update(msg)
		if cmd != nil {
			return m, cmd
		}
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter && m.analyzing.done && m.analyzing.err == nil {
			return m, m.startChat(m.analyzing.analyzer, m.analyzing.res.Facts())
		}

	case ViewChat:
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd
	}

	return m, nil
}

// openExistingChat reuses the persisted index and facts from the last
// analysis. Missing facts fall through to the setup screen.
func (m *Model) openExistingChat() tea.Cmd {
	a := analyzer.New(m.config.Cfg, zap.NewNop())
	facts, err := a.StoredFacts(context.Background())
	if err != nil || facts == nil {
		a.Close()
		m.state = ViewSetup
		m.setup = newSetupModel()
		return runChecks(m.config)
	}
	return m.startChat(a, facts)
}

func (m *Model) startChat(a *analyzer.Analyzer, facts *rag.RepoFacts) tea.Cmd {
	m.analyzer = a
	m.chat = newChatModel(a, facts, m.config)
	m.chat.initViewport(m.width, m.height)
	m.state = ViewChat
	return textinput.Blink
}

func (m Model) View() string {
	if m.err != nil {
		return errorStyle.Render("Error: "+m.err.Error()) + "\n"
	}

	switch m.state {
	case ViewWelcome:
		return m.welcome.View(m.width, m.height)
	case ViewSetup:
		return m.setup.View(m.width, m.height)
	case ViewAnalyzing:
		return m.analyzing.View(m.width, m.height)
	case ViewChat:
		return m.chat.View(m.width, m.height)
	}
	return ""
}

// Run starts the TUI program.
func Run(cfg Config) error {
	ref := &programRef{}
	cfg.program = ref
	model := New(cfg)
	p := tea.NewProgram(model, tea.WithAltScreen())
	ref.p = p
	final, err := p.Run()
	if m, ok := final.(Model); ok {
		if m.analyzer != nil {
			m.analyzer.Close()
		} else if m.analyzing.analyzer != nil {
			m.analyzing.analyzer.Close()
		}
	}
	return err
}
