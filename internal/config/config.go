package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingKey reports a provider selected without its API key in the
// environment. Callers can downgrade to the offline hash provider instead
// of aborting.
var ErrMissingKey = errors.New("missing API key")

const (
	DefaultChatModel      = "claude-sonnet-4-20250514"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultOllamaURL      = "http://localhost:11434"
)

// Config carries every tunable the pipeline and its surfaces read. Values are
// merged by viper (flags, REPOMIND_* env, optional config file) before Load.
type Config struct {
	GitHubToken     string
	AnthropicAPIKey string
	OpenAIAPIKey    string

	EmbeddingProvider string
	EmbeddingModel    string
	OllamaURL         string

	ChatModel string
	MaxTokens int

	DataDir string
	DBPath  string

	TopK            int
	ScoreThreshold  float64
	RequestInterval time.Duration
	CacheTTL        time.Duration
	MaxFileSize     int64
	Workers         int
}

// SetDefaults registers defaults and env bindings on the global viper. The
// plain env names (GITHUB_TOKEN, ANTHROPIC_API_KEY, OPENAI_API_KEY) are bound
// alongside the prefixed forms so existing shells keep working.
func SetDefaults() {
	viper.SetDefault("embedding_provider", "openai")
	viper.SetDefault("embedding_model", DefaultEmbeddingModel)
	viper.SetDefault("ollama_url", DefaultOllamaURL)
	viper.SetDefault("chat_model", DefaultChatModel)
	viper.SetDefault("max_tokens", 1000)
	viper.SetDefault("top_k", 5)
	viper.SetDefault("score_threshold", 0.7)
	viper.SetDefault("request_interval", "1500ms")
	viper.SetDefault("cache_ttl", "1h")
	viper.SetDefault("max_file_size", 1_000_000)
	viper.SetDefault("workers", 4)

	viper.BindEnv("github_token", "REPOMIND_GITHUB_TOKEN", "GITHUB_TOKEN")
	viper.BindEnv("anthropic_api_key", "REPOMIND_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	viper.BindEnv("openai_api_key", "REPOMIND_OPENAI_API_KEY", "OPENAI_API_KEY")
}

// Load materializes a Config from the merged viper state.
func Load() (*Config, error) {
	dataDir := viper.GetString("data_dir")
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	dbPath := viper.GetString("db")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "index.db")
	}

	cfg := &Config{
		GitHubToken:       viper.GetString("github_token"),
		AnthropicAPIKey:   viper.GetString("anthropic_api_key"),
		OpenAIAPIKey:      viper.GetString("openai_api_key"),
		EmbeddingProvider: viper.GetString("embedding_provider"),
		EmbeddingModel:    viper.GetString("embedding_model"),
		OllamaURL:         viper.GetString("ollama_url"),
		ChatModel:         viper.GetString("chat_model"),
		MaxTokens:         viper.GetInt("max_tokens"),
		DataDir:           dataDir,
		DBPath:            dbPath,
		TopK:              viper.GetInt("top_k"),
		ScoreThreshold:    viper.GetFloat64("score_threshold"),
		RequestInterval:   viper.GetDuration("request_interval"),
		CacheTTL:          viper.GetDuration("cache_ttl"),
		MaxFileSize:       viper.GetInt64("max_file_size"),
		Workers:           viper.GetInt("workers"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.EmbeddingProvider {
	case "openai", "ollama", "hash":
	default:
		return fmt.Errorf("unknown embedding provider %q (want openai, ollama or hash)", c.EmbeddingProvider)
	}
	if c.EmbeddingProvider == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: embedding provider openai requires OPENAI_API_KEY", ErrMissingKey)
	}
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", c.TopK)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score_threshold must be in [0,1], got %v", c.ScoreThreshold)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", c.MaxTokens)
	}
	return nil
}

// DefaultDataDir is ~/.repomind, falling back to the working directory when
// the home directory cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".repomind"
	}
	return filepath.Join(home, ".repomind")
}
