// Package session persists user-facing state between runs: settings, saved
// chat transcripts, and API usage records. Everything lives as JSON under
// one directory, written atomically.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"repomind/internal/config"
	"repomind/internal/llm"
)

// Settings are the user preferences carried across runs.
type Settings struct {
	Model              string  `json:"model"`
	EmbeddingProvider  string  `json:"embedding_provider"`
	TopK               int     `json:"top_k"`
	ScoreThreshold     float64 `json:"score_threshold"`
	CustomInstructions string  `json:"custom_instructions"`
	LastRepo           string  `json:"last_repo"`
}

func DefaultSettings() Settings {
	return Settings{
		Model:             config.DefaultChatModel,
		EmbeddingProvider: "openai",
		TopK:              5,
		ScoreThreshold:    0.7,
	}
}

// Chat is one saved conversation.
type Chat struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	RepoURL   string        `json:"repo_url,omitempty"`
	Messages  []llm.Message `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ChatSummary is the listing view of a saved chat.
type ChatSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes session state under dir.
type Store struct {
	dir string
	now func() time.Time
	log *zap.Logger
}

func NewStore(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(dir, "chats"), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now, log: log}, nil
}

// WithClock replaces the time source. Tests pin it.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) settingsPath() string { return filepath.Join(s.dir, "settings.json") }

// Settings loads the saved settings. A missing or corrupt file yields the
// defaults; corruption is logged and the file rewritten.
func (s *Store) Settings() (Settings, error) {
	data, err := os.ReadFile(s.settingsPath())
	if os.IsNotExist(err) {
		def := DefaultSettings()
		if err := s.SaveSettings(def); err != nil {
			return def, err
		}
		return def, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	var out Settings
	if err := json.Unmarshal(data, &out); err != nil {
		s.log.Warn("settings file corrupt, resetting to defaults", zap.Error(err))
		def := DefaultSettings()
		if err := s.SaveSettings(def); err != nil {
			return def, err
		}
		return def, nil
	}
	return out, nil
}

func (s *Store) SaveSettings(settings Settings) error {
	return writeJSON(s.settingsPath(), settings)
}

// SaveChat persists the chat, assigning an ID and creation time on first
// save and bumping UpdatedAt on every save.
func (s *Store) SaveChat(chat *Chat) error {
	if chat.ID == "" {
		chat.ID = fmt.Sprintf("chat_%d", s.now().Unix())
	}
	if err := validChatID(chat.ID); err != nil {
		return err
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = s.now().UTC()
	}
	chat.UpdatedAt = s.now().UTC()
	return writeJSON(s.chatPath(chat.ID), chat)
}

func (s *Store) LoadChat(id string) (*Chat, error) {
	if err := validChatID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.chatPath(id))
	if err != nil {
		return nil, fmt.Errorf("load chat %s: %w", id, err)
	}
	var chat Chat
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, fmt.Errorf("decode chat %s: %w", id, err)
	}
	return &chat, nil
}

// ListChats returns summaries of every saved chat, newest first. Unreadable
// files are skipped with a warning.
func (s *Store) ListChats() ([]ChatSummary, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "chats", "*.json"))
	if err != nil {
		return nil, err
	}
	var out []ChatSummary
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("skipping unreadable chat", zap.String("path", path), zap.Error(err))
			continue
		}
		var chat Chat
		if err := json.Unmarshal(data, &chat); err != nil {
			s.log.Warn("skipping corrupt chat", zap.String("path", path), zap.Error(err))
			continue
		}
		if chat.ID == "" {
			chat.ID = strings.TrimSuffix(filepath.Base(path), ".json")
		}
		out = append(out, ChatSummary{ID: chat.ID, Title: chat.Title, UpdatedAt: chat.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) DeleteChat(id string) error {
	if err := validChatID(id); err != nil {
		return err
	}
	if err := os.Remove(s.chatPath(id)); err != nil {
		return fmt.Errorf("delete chat %s: %w", id, err)
	}
	return nil
}

func (s *Store) chatPath(id string) string {
	return filepath.Join(s.dir, "chats", id+".json")
}

func validChatID(id string) error {
	if id == "" || filepath.Base(id) != id || strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid chat id %q", id)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit %s: %w", filepath.Base(path), err)
	}
	return nil
}
