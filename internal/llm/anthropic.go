package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"repomind/internal/retry"
)

// AnthropicOptions configures the generation client. Zero values get
// sensible defaults; BaseURL is overridden only by tests.
type AnthropicOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	MinInterval time.Duration
	Retrier     *retry.Retrier
}

// Anthropic calls the Anthropic Messages API. A single request is in flight
// at a time and consecutive requests are spaced at least MinInterval apart,
// which keeps a chatty session inside the API's burst limits.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	interval  time.Duration
	retrier   *retry.Retrier
	log       *zap.Logger

	mu   sync.Mutex
	last time.Time
}

func NewAnthropic(opts AnthropicOptions, log *zap.Logger) *Anthropic {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.Retrier == nil {
		opts.Retrier = retry.New(3)
	}
	// The SDK retries on its own by default; disable that so the retrier
	// below is the only retry layer.
	copts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		copts = append(copts, option.WithBaseURL(opts.BaseURL))
	}
	return &Anthropic{
		client:    anthropic.NewClient(copts...),
		model:     opts.Model,
		maxTokens: int64(opts.MaxTokens),
		interval:  opts.MinInterval,
		retrier:   opts.Retrier,
		log:       log,
	}
}

// Complete sends the conversation and returns the assistant's text.
// Overloaded responses (429, 529 and other 5xx) are retried with backoff
// before the error is surfaced.
func (c *Anthropic) Complete(ctx context.Context, system string, msgs []Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.pace(ctx); err != nil {
		return "", err
	}
	defer func() { c.last = time.Now() }()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  apiMessages(msgs),
	}
	if system = strings.TrimSpace(system); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	var text string
	err := c.retrier.Do(ctx, isOverloaded, func() error {
		msg, err := c.client.Messages.New(ctx, params)
		if err != nil {
			err = classifyAPIError(err)
			if isOverloaded(err) {
				c.log.Warn("generation request overloaded, will retry", zap.Error(err))
			}
			return err
		}
		text = textContent(msg)
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// pace blocks until the minimum inter-request spacing has elapsed. Called
// with the mutex held so the spacing applies across callers.
func (c *Anthropic) pace(ctx context.Context) error {
	wait := c.interval - time.Since(c.last)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isOverloaded(err error) bool {
	return errors.Is(err, ErrOverloaded)
}

func classifyAPIError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= 500 {
			return fmt.Errorf("%w: %v", ErrOverloaded, err)
		}
		return fmt.Errorf("%w: %v", ErrService, err)
	}
	return fmt.Errorf("generation request: %w", err)
}

// apiMessages converts the conversation into API params. System turns are
// carried separately, so only user and assistant turns map over.
func apiMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		block := anthropic.NewTextBlock(content)
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func textContent(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if t, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
