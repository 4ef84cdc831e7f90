package llm

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// defaultSpacing is the minimum gap between consecutive Anthropic requests
// from one client. Interactive sessions stay well under burst limits.
const defaultSpacing = time.Second

// ForModel picks the generation backend for a model name and returns the
// completer plus the bare model name used for usage accounting. Names with
// an "ollama:" prefix run against the local Ollama server; everything else
// goes to the Anthropic Messages API and needs a key.
func ForModel(model, anthropicKey, ollamaURL string, maxTokens int, log *zap.Logger) (Completer, string, error) {
	if name, ok := strings.CutPrefix(model, "ollama:"); ok {
		return NewOllama(ollamaURL, name), name, nil
	}
	if anthropicKey == "" {
		return nil, "", fmt.Errorf("model %s needs an Anthropic API key (set ANTHROPIC_API_KEY), or use an ollama:<name> model", model)
	}
	c := NewAnthropic(AnthropicOptions{
		APIKey:      anthropicKey,
		Model:       model,
		MaxTokens:   maxTokens,
		MinInterval: defaultSpacing,
	}, log)
	return c, model, nil
}
