package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"repomind/internal/config"
)

// checkResult is one environment check shown on the setup screen.
type checkResult struct {
	label  string
	ok     bool
	detail string
}

// providerOption is one selectable embedding provider.
type providerOption struct {
	name   string
	ok     bool
	detail string
}

type setupModel struct {
	checks    []checkResult
	providers []providerOption
	cursor    int
	loaded    bool
}

func newSetupModel() setupModel {
	return setupModel{}
}

// checksMsg is sent when the environment checks have completed.
type checksMsg struct {
	checks          []checkResult
	providers       []providerOption
	defaultProvider string
}

func runChecks(cfg Config) tea.Cmd {
	return func() tea.Msg {
		c := cfg.Cfg
		var msg checksMsg
		msg.defaultProvider = c.EmbeddingProvider

		gh := checkResult{label: "GitHub token"}
		if c.GitHubToken != "" {
			gh.ok = true
			gh.detail = "authenticated, 5000 requests/hour"
		} else {
			gh.detail = "not set, limited to 60 requests/hour"
		}
		msg.checks = append(msg.checks, gh)

		anthropic := checkResult{label: "Anthropic API key"}
		if c.AnthropicAPIKey != "" {
			anthropic.ok = true
			anthropic.detail = c.ChatModel
		} else {
			anthropic.detail = "not set, chat needs ANTHROPIC_API_KEY or an ollama:<name> model"
		}
		msg.checks = append(msg.checks, anthropic)

		openai := providerOption{name: "openai"}
		if c.OpenAIAPIKey != "" {
			openai.ok = true
			openai.detail = c.EmbeddingModel
		} else {
			openai.detail = "OPENAI_API_KEY not set"
		}

		ollama := providerOption{name: "ollama"}
		if models, err := ListModels(c.OllamaURL); err == nil {
			ollama.ok = true
			ollama.detail = fmt.Sprintf("%s via %s, %d models available", c.EmbeddingModel, c.OllamaURL, len(models))
		} else {
			ollama.detail = "not reachable at " + c.OllamaURL
		}

		hash := providerOption{name: "hash", ok: true, detail: "offline deterministic vectors"}

		msg.providers = []providerOption{openai, ollama, hash}
		return msg
	}
}

func (m setupModel) Update(msg tea.Msg) (setupModel, tea.Cmd) {
	switch msg := msg.(type) {
	case checksMsg:
		m.checks = msg.checks
		m.providers = msg.providers
		m.loaded = true
		for i, p := range m.providers {
			if p.name == msg.defaultProvider && p.ok {
				m.cursor = i
				break
			}
		}
		if len(m.providers) > 0 && !m.providers[m.cursor].ok {
			for i, p := range m.providers {
				if p.ok {
					m.cursor = i
					break
				}
			}
		}

	case tea.KeyMsg:
		if !m.loaded {
			return m, nil
		}
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.providers)-1 {
				m.cursor++
			}
		}
	}
	return m, nil
}

// viable reports whether the current selection can start an analysis.
func (m setupModel) viable() bool {
	return m.loaded && len(m.providers) > 0 && m.providers[m.cursor].ok
}

func (m setupModel) selectedProvider() string {
	if m.cursor < len(m.providers) {
		return m.providers[m.cursor].name
	}
	return ""
}

// apply copies the configuration with the selected embedding provider.
func (m setupModel) apply(base *config.Config) *config.Config {
	c := *base
	if p := m.selectedProvider(); p != "" {
		c.EmbeddingProvider = p
	}
	return &c
}

func (m setupModel) View(width, height int) string {
	s := "\n"
	s += titleStyle.Render("  Setup") + "\n\n"

	if !m.loaded {
		s += dimStyle.Render("  Checking environment...") + "\n"
		return s
	}

	for _, c := range m.checks {
		mark := successStyle.Render("✓")
		if !c.ok {
			mark = warnStyle.Render("⚠")
		}
		s += fmt.Sprintf("  %s %s", mark, c.label)
		if c.detail != "" {
			s += dimStyle.Render("  "+c.detail)
		}
		s += "\n"
	}

	s += "\n"
	s += titleStyle.Render("  Select Embedding Provider") + "\n"
	s += dimStyle.Render("  Used to embed code chunks and queries") + "\n\n"

	for i, p := range m.providers {
		cursor := "  "
		style := listItemStyle
		if !p.ok {
			style = dimStyle
		}
		if i == m.cursor {
			cursor = "▸ "
			if p.ok {
				style = selectedStyle
			}
		}
		s += fmt.Sprintf("  %s%s\n", cursor, style.Render(fmt.Sprintf("%-7s %s", p.name, p.detail)))
	}

	s += "\n"
	s += helpStyle.Render("  ↑/↓ navigate • Enter start analysis • Esc back") + "\n"
	return s
}
