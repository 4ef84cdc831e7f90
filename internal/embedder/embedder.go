// Package embedder turns chunk text into fixed-length vectors. Providers
// are swappable behind the Embedder interface; the pipeline only relies on
// a stable dimensionality and order-preserving batch calls.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"repomind/internal/chunker"
	"repomind/internal/config"
)

// ErrEmbedding marks a failed embedding call. The affected chunks are
// skipped from indexing; the analysis run continues.
var ErrEmbedding = errors.New("embedding failed")

// Embedder generates one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// New builds the embedder selected by the configuration.
func New(cfg config.Config) (Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "", "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("openai embedding provider requires an API key")
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.EmbeddingModel), nil
	case "ollama":
		return NewOllama(cfg.OllamaURL, cfg.EmbeddingModel, 0), nil
	case "hash":
		return NewHash(0), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}

// EmbedOne embeds a single text, typically a query.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", ErrEmbedding, len(vecs))
	}
	return vecs[0], nil
}

// EmbeddingText renders what is actually sent to the provider: a short
// locating header followed by the chunk content, so the vector captures
// both identity and payload.
func EmbeddingText(ch chunker.Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", ch.FilePath)
	fmt.Fprintf(&b, "Type: %s\n", ch.Type)
	b.WriteString("Content Type: code\n")
	if ch.StartLine > 0 {
		fmt.Fprintf(&b, "Lines: %d-%d\n", ch.StartLine, ch.EndLine)
	}
	if ch.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", ch.Name)
	}
	if len(ch.Decorators) > 0 {
		fmt.Fprintf(&b, "Decorators: %s\n", strings.Join(ch.Decorators, ", "))
	}
	fmt.Fprintf(&b, "Full Content:\n%s", ch.Content)
	return b.String()
}
