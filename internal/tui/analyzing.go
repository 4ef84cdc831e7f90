package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"repomind/internal/analyzer"
)

type analyzingModel struct {
	spinner        spinner.Model
	phase          string
	filesProcessed int
	filesTotal     int
	done           bool
	analyzer       *analyzer.Analyzer
	res            *analyzer.Analysis
	err            error
}

func newAnalyzingModel() analyzingModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = selectedStyle
	return analyzingModel{
		spinner: sp,
		phase:   "starting analysis",
	}
}

// analyzeDoneMsg is sent when the analysis completes. The analyzer handle
// stays open; the chat screen takes it over.
type analyzeDoneMsg struct {
	analyzer *analyzer.Analyzer
	res      *analyzer.Analysis
	err      error
}

// analyzeProgressMsg is sent on every pipeline progress callback.
type analyzeProgressMsg struct {
	phase          string
	filesProcessed int
	filesTotal     int
}

func runAnalysis(cfg Config, rawURL string) tea.Cmd {
	return func() tea.Msg {
		a := analyzer.New(cfg.Cfg, zap.NewNop())

		res, err := a.Analyze(context.Background(), rawURL, analyzer.Options{
			Progress: func(stage string, done, total int) {
				if cfg.program != nil && cfg.program.p != nil {
					cfg.program.p.Send(analyzeProgressMsg{
						phase:          stage,
						filesProcessed: done,
						filesTotal:     total,
					})
				}
			},
		})
		if err != nil {
			a.Close()
			return analyzeDoneMsg{err: err}
		}
		return analyzeDoneMsg{analyzer: a, res: res}
	}
}

func (m analyzingModel) Update(msg tea.Msg) (analyzingModel, tea.Cmd) {
	switch msg := msg.(type) {
	case analyzeDoneMsg:
		m.done = true
		m.analyzer = msg.analyzer
		m.res = msg.res
		m.err = msg.err
		return m, nil
	case analyzeProgressMsg:
		m.phase = msg.phase
		m.filesProcessed = msg.filesProcessed
		m.filesTotal = msg.filesTotal
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m analyzingModel) View(width, height int) string {
	s := "\n"
	s += titleStyle.Render("  Analyzing") + "\n\n"

	if m.done {
		if m.err != nil {
			s += errorStyle.Render(fmt.Sprintf("  Error: %v", m.err)) + "\n\n"
			s += dimStyle.Render("  Press Esc to go back, or q to quit.") + "\n"
			return s
		}
		s += successStyle.Render("  ✓ Analysis complete!") + "\n\n"
		if m.res != nil {
			st := m.res.Stats
			s += fmt.Sprintf("  Files: %d analyzed, %d skipped\n", st.FilesFetched, st.FilesSkipped)
			s += fmt.Sprintf("  Chunks: %d   Import edges: %d\n", st.Chunks, st.Edges)
			if m.res.EmbeddingsGenerated {
				s += fmt.Sprintf("  Indexed points: %d\n", st.Points)
			} else {
				s += warnStyle.Render("  Index unavailable; answers will use repository facts only") + "\n"
			}
		}
		s += "\n"
		s += dimStyle.Render("  Press Enter to start chatting") + "\n"
		return s
	}

	s += fmt.Sprintf("  %s %s\n", m.spinner.View(), m.phase)
	if m.filesTotal > 0 {
		s += fmt.Sprintf("  %d / %d files\n", m.filesProcessed, m.filesTotal)
	}
	s += "\n"
	s += dimStyle.Render("  Large repositories take a while; requests are rate limited.") + "\n"
	return s
}
