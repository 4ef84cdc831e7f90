package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"repomind/internal/retry"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c := NewClient(Options{
		BaseURL: ts.URL,
		Token:   "test-token",
		Retrier: retry.New(3).WithBackoff(func(int) time.Duration { return 0 }),
	})
	return c, ts
}

func TestGetRepository(t *testing.T) {
	var gotAuth, gotAccept string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/octocat/hello" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		fmt.Fprint(w, `{"name":"hello","full_name":"octocat/hello","description":"demo","default_branch":"main","language":"Python","stargazers_count":7}`)
	}))

	repo, err := c.GetRepository(context.Background(), "octocat", "hello")
	if err != nil {
		t.Fatalf("GetRepository returned %v", err)
	}
	if repo.DefaultBranch != "main" {
		t.Errorf("DefaultBranch = %q, want main", repo.DefaultBranch)
	}
	if repo.Language != "Python" {
		t.Errorf("Language = %q, want Python", repo.Language)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotAccept != "application/vnd.github+json" {
		t.Errorf("Accept = %q", gotAccept)
	}
}

func TestResolveSHA(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/octocat/hello/branches/main":
			fmt.Fprint(w, `{"name":"main","commit":{"sha":"abc123"}}`)
		default:
			http.NotFound(w, r)
		}
	}))

	sha, err := c.ResolveSHA(context.Background(), "octocat", "hello", "main")
	if err != nil {
		t.Fatalf("ResolveSHA returned %v", err)
	}
	if sha != "abc123" {
		t.Errorf("sha = %q, want abc123", sha)
	}
}

func TestResolveSHABranchNotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/octocat/hello/branches":
			fmt.Fprint(w, `[{"name":"main","commit":{"sha":"a"}},{"name":"develop","commit":{"sha":"b"}}]`)
		default:
			http.NotFound(w, r)
		}
	}))

	_, err := c.ResolveSHA(context.Background(), "octocat", "hello", "nope")
	var nf *BranchNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("ResolveSHA returned %v, want BranchNotFoundError", err)
	}
	if nf.Requested != "nope" {
		t.Errorf("Requested = %q, want nope", nf.Requested)
	}
	want := []string{"main", "develop"}
	if len(nf.Available) != len(want) || nf.Available[0] != "main" || nf.Available[1] != "develop" {
		t.Errorf("Available = %v, want %v", nf.Available, want)
	}
	if !strings.Contains(nf.Error(), "main") || !strings.Contains(nf.Error(), "develop") {
		t.Errorf("error message %q should list the known branches", nf.Error())
	}
}

func TestGetFileContentDecodesBase64(t *testing.T) {
	content := "def add(a, b):\n    return a + b\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	// GitHub wraps base64 payloads with newlines every 60 chars.
	wrapped := encoded[:20] + "\n" + encoded[20:]

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ref") != "abc123" {
			t.Errorf("ref = %q, want abc123", r.URL.Query().Get("ref"))
		}
		fmt.Fprintf(w, `{"name":"main.py","path":"main.py","sha":"f1","size":%d,"type":"file","encoding":"base64","content":%q}`,
			len(content), wrapped)
	}))

	got, err := c.GetFileContent(context.Background(), "octocat", "hello", "main.py", "abc123")
	if err != nil {
		t.Fatalf("GetFileContent returned %v", err)
	}
	if string(got) != content {
		t.Errorf("content = %q, want %q", got, content)
	}
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"name":"hello","default_branch":"main"}`)
	}))

	_, err := c.GetRepository(context.Background(), "octocat", "hello")
	if err != nil {
		t.Fatalf("GetRepository returned %v after retries", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d calls, want 3", got)
	}
}

func TestRateLimitResponseIsTransient(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"API rate limit exceeded"}`)
	}))

	_, err := c.GetRepository(context.Background(), "octocat", "hello")
	if !IsTransient(err) {
		t.Fatalf("rate-limit response classified as %v, want transient", err)
	}
}

func TestNotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(http.NotFound))

	_, err := c.GetFileContent(context.Background(), "octocat", "hello", "missing.txt", "abc")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListBranchesPagination(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		var names []string
		switch page {
		case "1":
			for i := 0; i < 100; i++ {
				names = append(names, fmt.Sprintf("b%03d", i))
			}
		case "2":
			names = []string{"last"}
		}
		parts := make([]string, len(names))
		for i, n := range names {
			parts[i] = fmt.Sprintf(`{"name":%q,"commit":{"sha":"s"}}`, n)
		}
		fmt.Fprint(w, "["+strings.Join(parts, ",")+"]")
	}))

	branches, err := c.ListBranches(context.Background(), "octocat", "hello")
	if err != nil {
		t.Fatalf("ListBranches returned %v", err)
	}
	if len(branches) != 101 {
		t.Errorf("got %d branches, want 101", len(branches))
	}
	if branches[100].Name != "last" {
		t.Errorf("last branch = %q, want last", branches[100].Name)
	}
}
