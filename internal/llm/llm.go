// Package llm provides chat completion against a generation API. The
// Anthropic client is the primary implementation; an Ollama client covers
// fully local setups.
package llm

import (
	"context"
	"errors"
)

// Message represents a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Completer produces an assistant reply for a conversation. The system
// prompt travels separately from the message list.
type Completer interface {
	Complete(ctx context.Context, system string, msgs []Message) (string, error)
}

var (
	// ErrOverloaded marks rate-limit or upstream-overload failures. The
	// clients retry these internally and surface the error only once the
	// attempt budget is spent.
	ErrOverloaded = errors.New("llm: overloaded")

	// ErrService marks generation failures that retrying will not fix,
	// such as an invalid API key or a malformed request.
	ErrService = errors.New("llm: service error")
)
