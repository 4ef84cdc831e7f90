package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"repomind/internal/retry"
)

func messageJSON(text string) string {
	return `{
		"id": "msg_test",
		"type": "message",
		"role": "assistant",
		"content": [{"type": "text", "text": ` + string(mustJSON(text)) + `}],
		"model": "claude-test",
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func zeroBackoff(int) time.Duration { return 0 }

func newTestAnthropic(t *testing.T, handler http.HandlerFunc) *Anthropic {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewAnthropic(AnthropicOptions{
		APIKey:  "test-key",
		BaseURL: ts.URL,
		Model:   "claude-test",
		Retrier: retry.New(3).WithBackoff(zeroBackoff),
	}, zap.NewNop())
}

func TestAnthropicComplete(t *testing.T) {
	var gotBody struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		System    []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	c := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(messageJSON("The walker resolves the branch to a commit SHA first.")))
	})

	got, err := c.Complete(context.Background(), "You answer questions about repositories.", []Message{
		{Role: RoleUser, Content: "how does analysis start?"},
		{Role: RoleAssistant, Content: "It walks the tree."},
		{Role: RoleUser, Content: "and before that?"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if want := "The walker resolves the branch to a commit SHA first."; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if gotBody.Model != "claude-test" {
		t.Errorf("model = %q, want claude-test", gotBody.Model)
	}
	if gotBody.MaxTokens != 1024 {
		t.Errorf("max_tokens = %d, want default 1024", gotBody.MaxTokens)
	}
	if len(gotBody.System) != 1 || gotBody.System[0].Text != "You answer questions about repositories." {
		t.Errorf("system block = %+v", gotBody.System)
	}
	if len(gotBody.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(gotBody.Messages))
	}
	wantRoles := []string{"user", "assistant", "user"}
	for i, m := range gotBody.Messages {
		if m.Role != wantRoles[i] {
			t.Errorf("message %d role = %q, want %q", i, m.Role, wantRoles[i])
		}
	}
	if gotBody.Messages[2].Content[0].Text != "and before that?" {
		t.Errorf("final user message = %+v", gotBody.Messages[2].Content)
	}
}

func TestAnthropicRetriesOverloaded(t *testing.T) {
	var calls atomic.Int32
	c := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(529)
			w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(messageJSON("recovered")))
	})

	got, err := c.Complete(context.Background(), "", []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete after retries: %v", err)
	}
	if got != "recovered" {
		t.Errorf("got %q, want recovered", got)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server saw %d requests, want 3", n)
	}
}

func TestAnthropicOverloadedExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	})

	_, err := c.Complete(context.Background(), "", []Message{{Role: RoleUser, Content: "hi"}})
	if !errors.Is(err, ErrOverloaded) {
		t.Fatalf("got %v, want ErrOverloaded", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server saw %d requests, want 3", n)
	}
}

func TestAnthropicFatalErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`))
	})

	_, err := c.Complete(context.Background(), "", []Message{{Role: RoleUser, Content: "hi"}})
	if !errors.Is(err, ErrService) {
		t.Fatalf("got %v, want ErrService", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d requests, want 1", n)
	}
}

func TestAnthropicSpacesRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(messageJSON("ok")))
	}))
	t.Cleanup(ts.Close)

	c := NewAnthropic(AnthropicOptions{
		APIKey:      "test-key",
		BaseURL:     ts.URL,
		Model:       "claude-test",
		MinInterval: 60 * time.Millisecond,
	}, zap.NewNop())

	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := c.Complete(context.Background(), "", []Message{{Role: RoleUser, Content: "hi"}}); err != nil {
			t.Fatalf("Complete %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("two requests completed in %v, want at least the 60ms spacing", elapsed)
	}
}

func TestOllamaComplete(t *testing.T) {
	var gotReq chatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(chatResponse{Message: Message{Role: "assistant", Content: "local answer"}})
	}))
	t.Cleanup(ts.Close)

	c := NewOllama(ts.URL, "llama3")
	got, err := c.Complete(context.Background(), "persona", []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "local answer" {
		t.Errorf("got %q, want %q", got, "local answer")
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[0].Content != "persona" {
		t.Errorf("messages = %+v, want system prompt prepended", gotReq.Messages)
	}
	if gotReq.Stream {
		t.Error("stream = true, want false")
	}
}

func TestOllamaServerErrorIsOverloaded(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	c := NewOllama(ts.URL, "llama3")
	_, err := c.Complete(context.Background(), "", []Message{{Role: RoleUser, Content: "hi"}})
	if !errors.Is(err, ErrOverloaded) {
		t.Errorf("got %v, want ErrOverloaded", err)
	}
}
