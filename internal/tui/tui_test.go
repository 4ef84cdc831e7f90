package tui

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"repomind/internal/analyzer"
	"repomind/internal/config"
	"repomind/internal/llm"
	"repomind/internal/rag"
)

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestSetupSelectsConfiguredProvider(t *testing.T) {
	m := newSetupModel()
	m, _ = m.Update(checksMsg{
		providers: []providerOption{
			{name: "openai", ok: true},
			{name: "ollama", ok: true},
			{name: "hash", ok: true},
		},
		defaultProvider: "ollama",
	})
	require.True(t, m.viable())
	assert.Equal(t, "ollama", m.selectedProvider())
}

func TestSetupFallsBackToUsableProvider(t *testing.T) {
	m := newSetupModel()
	m, _ = m.Update(checksMsg{
		providers: []providerOption{
			{name: "openai"},
			{name: "ollama"},
			{name: "hash", ok: true},
		},
		defaultProvider: "openai",
	})
	require.True(t, m.viable())
	assert.Equal(t, "hash", m.selectedProvider())
}

func TestSetupNavigationBounds(t *testing.T) {
	m := newSetupModel()
	m, _ = m.Update(checksMsg{
		providers: []providerOption{
			{name: "openai", ok: true},
			{name: "hash", ok: true},
		},
		defaultProvider: "openai",
	})

	m, _ = m.Update(keyRune('k'))
	assert.Equal(t, 0, m.cursor, "up at the top stays put")

	m, _ = m.Update(keyRune('j'))
	assert.Equal(t, 1, m.cursor)

	m, _ = m.Update(keyRune('j'))
	assert.Equal(t, 1, m.cursor, "down at the bottom stays put")
}

func TestSetupApplyCopiesConfig(t *testing.T) {
	base := &config.Config{EmbeddingProvider: "openai"}
	m := newSetupModel()
	m, _ = m.Update(checksMsg{
		providers:       []providerOption{{name: "hash", ok: true}},
		defaultProvider: "openai",
	})

	got := m.apply(base)
	assert.Equal(t, "hash", got.EmbeddingProvider)
	assert.Equal(t, "openai", base.EmbeddingProvider, "base config must not be mutated")
}

func TestWelcomeMatchesStored(t *testing.T) {
	m := welcomeModel{last: &analyzer.RunInfo{Repo: "acme/widgets", Branch: "main"}}

	assert.True(t, m.matchesStored("acme/widgets"))
	assert.True(t, m.matchesStored("https://github.com/acme/widgets"))
	assert.True(t, m.matchesStored("github.com/acme/widgets/tree/main"))
	assert.False(t, m.matchesStored("github.com/acme/widgets/tree/dev"))
	assert.False(t, m.matchesStored("acme/gadgets"))
	assert.False(t, m.matchesStored("garbage"))

	assert.False(t, welcomeModel{}.matchesStored("acme/widgets"))
}

func TestAnalyzingProgressAndCompletion(t *testing.T) {
	m := newAnalyzingModel()

	m, _ = m.Update(analyzeProgressMsg{phase: "chunking files", filesProcessed: 3, filesTotal: 12})
	assert.Equal(t, "chunking files", m.phase)
	assert.Equal(t, 3, m.filesProcessed)
	assert.False(t, m.done)

	m, _ = m.Update(analyzeDoneMsg{err: errors.New("walk failed")})
	assert.True(t, m.done)
	assert.EqualError(t, m.err, "walk failed")
}

func TestTitleFromCapsRunes(t *testing.T) {
	assert.Equal(t, "short question", titleFrom("short question"))

	long := strings.Repeat("ü", 80)
	assert.Equal(t, strings.Repeat("ü", 60), titleFrom(long))
}

func TestUsageTextWithoutTracker(t *testing.T) {
	assert.Equal(t, "Usage tracking is unavailable.", usageText(nil))
}

func newTestChatModel(t *testing.T) chatModel {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		EmbeddingProvider: "hash",
		ChatModel:         "claude-test",
		MaxTokens:         256,
		DataDir:           dir,
		DBPath:            filepath.Join(dir, "index.db"),
		TopK:              5,
		ScoreThreshold:    0.7,
		Workers:           1,
	}
	a := analyzer.New(cfg, zap.NewNop())
	t.Cleanup(func() { a.Close() })

	m := newChatModel(a, &rag.RepoFacts{Name: "acme/widgets"}, Config{Cfg: cfg})
	m.initViewport(80, 24)
	return m
}

func TestChatWithoutGenerationModel(t *testing.T) {
	m := newTestChatModel(t)
	require.Nil(t, m.chat)
	require.NotEmpty(t, m.chatErr)

	m.input.SetValue("what does this repository do?")
	m, _ = m.submit()

	require.NotEmpty(t, m.messages)
	last := m.messages[len(m.messages)-1]
	assert.Equal(t, "error", last.role)
	assert.Contains(t, last.content, "ANTHROPIC_API_KEY")
}

func TestChatClearCommand(t *testing.T) {
	m := newTestChatModel(t)
	m.history = []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
	}
	m.messages = []chatMessage{{role: "user", content: "hi"}}

	m.input.SetValue("/clear")
	m, _ = m.submit()

	assert.Empty(t, m.history)
	assert.Empty(t, m.messages)
}

func TestChatHelpCommand(t *testing.T) {
	m := newTestChatModel(t)

	m.input.SetValue("/help")
	m, _ = m.submit()

	require.NotEmpty(t, m.messages)
	assert.Equal(t, "system", m.messages[0].role)
	assert.Contains(t, m.messages[0].content, "/usage")
}
