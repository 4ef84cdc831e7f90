package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"repomind/internal/analyzer"
	"repomind/internal/session"
	"repomind/internal/store"
	"repomind/internal/walker"
)

type indexStatus int

const (
	indexNotFound indexStatus = iota
	indexReady
	indexStale
)

type welcomeModel struct {
	input       textinput.Model
	last        *analyzer.RunInfo
	status      indexStatus
	staleReason string
	ready       bool // true once the index check has completed
}

func newWelcomeModel() welcomeModel {
	ti := textinput.New()
	ti.Placeholder = "github.com/owner/repo"
	ti.CharLimit = 200
	ti.Width = 48
	ti.Focus()
	return welcomeModel{input: ti}
}

// checkIndexMsg is sent after checking the persisted index.
type checkIndexMsg struct {
	last        *analyzer.RunInfo
	lastRepo    string
	status      indexStatus
	staleReason string
}

func checkIndex(cfg Config) tea.Cmd {
	return func() tea.Msg {
		msg := checkIndexMsg{status: indexNotFound}

		if sessions, err := session.NewStore(cfg.Cfg.DataDir, nil); err == nil {
			if settings, err := sessions.Settings(); err == nil {
				msg.lastRepo = settings.LastRepo
			}
		}

		if _, err := os.Stat(cfg.Cfg.DBPath); os.IsNotExist(err) {
			return msg
		}
		st, err := store.Open(cfg.Cfg.DBPath, nil)
		if err != nil {
			return msg
		}
		defer st.Close()

		raw, err := st.GetMeta(context.Background(), "last_analysis")
		if err != nil || raw == "" {
			return msg
		}
		var info analyzer.RunInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return msg
		}
		msg.last = &info

		expected := cfg.Cfg.EmbeddingModel
		if cfg.Cfg.EmbeddingProvider == "hash" {
			expected = "hash"
		}
		if info.Model != "" && info.Model != expected {
			msg.status = indexStale
			msg.staleReason = fmt.Sprintf("embedding model changed: %s to %s", info.Model, expected)
			return msg
		}
		msg.status = indexReady
		return msg
	}
}

func (m welcomeModel) repoURL() string {
	return strings.TrimSpace(m.input.Value())
}

// matchesStored reports whether the entered URL names the repository and
// branch of the last analysis.
func (m welcomeModel) matchesStored(url string) bool {
	if m.last == nil {
		return false
	}
	ref, err := walker.ParseRepoURL(url)
	if err != nil {
		return false
	}
	return ref.String() == m.last.Repo && (ref.Branch == "" || ref.Branch == m.last.Branch)
}

func (m welcomeModel) Update(msg tea.Msg) (welcomeModel, tea.Cmd) {
	switch msg := msg.(type) {
	case checkIndexMsg:
		m.status = msg.status
		m.staleReason = msg.staleReason
		m.last = msg.last
		m.ready = true
		if m.input.Value() == "" {
			switch {
			case msg.last != nil:
				m.input.SetValue(msg.last.Repo)
			case msg.lastRepo != "":
				m.input.SetValue(msg.lastRepo)
			}
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m welcomeModel) View(width, height int) string {
	s := "\n"
	s += titleStyle.Render("  ◆ Repomind") + "\n"
	s += subtitleStyle.Render("  Chat with any GitHub repository") + "\n\n"

	s += "  " + m.input.View() + "\n\n"

	if !m.ready {
		s += dimStyle.Render("  Checking index...") + "\n"
		return s
	}

	switch m.status {
	case indexReady:
		line := fmt.Sprintf("  ✓ Index ready: %s", m.last.Repo)
		s += successStyle.Render(line)
		if !m.last.FinishedAt.IsZero() {
			s += dimStyle.Render(fmt.Sprintf("  analyzed %s ago", time.Since(m.last.FinishedAt).Round(time.Minute)))
		}
		s += "\n"
	case indexStale:
		s += warnStyle.Render("  ⚠ Index stale") + "\n"
		s += dimStyle.Render("    "+m.staleReason) + "\n"
	case indexNotFound:
		s += dimStyle.Render("  No repository analyzed yet") + "\n"
	}

	s += "\n"
	s += helpStyle.Render("  Enter continue • Esc quit") + "\n"
	return s
}
