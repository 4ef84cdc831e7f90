package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"repomind/internal/github"
	"repomind/internal/github/githubtest"
	"repomind/internal/retry"
)

func newTestFetcher(t *testing.T, repo githubtest.Repo) (*Fetcher, *githubtest.Server) {
	t.Helper()
	ts := githubtest.New(repo)
	t.Cleanup(ts.Close)

	client := github.NewClient(github.Options{
		BaseURL: ts.URL,
		Retrier: retry.New(2).WithBackoff(func(int) time.Duration { return 0 }),
	})
	return New(client, repo.Owner, repo.Name, time.Hour, zap.NewNop()), ts
}

func countRequests(ts *githubtest.Server, path string) int {
	n := 0
	for _, r := range ts.ContentRequests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

func TestContentServedFromCache(t *testing.T) {
	f, ts := newTestFetcher(t, githubtest.Repo{
		Owner: "octocat", Name: "demo", DefaultBranch: "main",
		Branches: map[string]string{"main": "pin1"},
		Files:    map[string][]byte{"main.py": []byte("print('hi')\n")},
	})

	want := "print('hi')\n"
	for i := 0; i < 3; i++ {
		got, err := f.Content(context.Background(), "main.py", "pin1")
		if err != nil {
			t.Fatalf("Content: %v", err)
		}
		if string(got) != want {
			t.Fatalf("Content = %q, want %q", got, want)
		}
	}
	if n := countRequests(ts, "main.py"); n != 1 {
		t.Errorf("network fetches = %d, want 1", n)
	}
}

func TestContentCacheExpires(t *testing.T) {
	f, ts := newTestFetcher(t, githubtest.Repo{
		Owner: "octocat", Name: "demo", DefaultBranch: "main",
		Branches: map[string]string{"main": "pin1"},
		Files:    map[string][]byte{"main.py": []byte("x = 1\n")},
	})

	clock := time.Unix(1_700_000_000, 0)
	f.WithClock(func() time.Time { return clock })

	if _, err := f.Content(context.Background(), "main.py", "pin1"); err != nil {
		t.Fatalf("Content: %v", err)
	}
	clock = clock.Add(61 * time.Minute)
	if _, err := f.Content(context.Background(), "main.py", "pin1"); err != nil {
		t.Fatalf("Content after expiry: %v", err)
	}
	if n := countRequests(ts, "main.py"); n != 2 {
		t.Errorf("network fetches = %d, want 2 after expiry", n)
	}
}

func TestContentRejectsBinary(t *testing.T) {
	f, _ := newTestFetcher(t, githubtest.Repo{
		Owner: "octocat", Name: "demo", DefaultBranch: "main",
		Branches: map[string]string{"main": "pin1"},
		Files:    map[string][]byte{"logo.png": {0xff, 0xd8, 0xff, 0xe0}},
	})

	_, err := f.Content(context.Background(), "logo.png", "pin1")
	if !errors.Is(err, ErrContentDecode) {
		t.Fatalf("Content error = %v, want ErrContentDecode", err)
	}
}

func TestReadme(t *testing.T) {
	t.Run("falls back down the chain", func(t *testing.T) {
		f, _ := newTestFetcher(t, githubtest.Repo{
			Owner: "octocat", Name: "demo", DefaultBranch: "main",
			Branches: map[string]string{"main": "pin1"},
			Files:    map[string][]byte{"README.rst": []byte("demo\n====\n")},
		})
		got, err := f.Readme(context.Background(), "pin1", "")
		if err != nil {
			t.Fatalf("Readme: %v", err)
		}
		if got != "demo\n====\n" {
			t.Errorf("Readme = %q, want the rst content", got)
		}
	})

	t.Run("prefers the scoped subpath", func(t *testing.T) {
		f, _ := newTestFetcher(t, githubtest.Repo{
			Owner: "octocat", Name: "demo", DefaultBranch: "main",
			Branches: map[string]string{"main": "pin1"},
			Files: map[string][]byte{
				"README.md":     []byte("root readme\n"),
				"src/README.md": []byte("src readme\n"),
			},
		})
		got, err := f.Readme(context.Background(), "pin1", "src")
		if err != nil {
			t.Fatalf("Readme: %v", err)
		}
		if got != "src readme\n" {
			t.Errorf("Readme = %q, want the src one", got)
		}
	})

	t.Run("absent readme is not an error", func(t *testing.T) {
		f, _ := newTestFetcher(t, githubtest.Repo{
			Owner: "octocat", Name: "demo", DefaultBranch: "main",
			Branches: map[string]string{"main": "pin1"},
			Files:    map[string][]byte{"main.py": []byte("pass\n")},
		})
		got, err := f.Readme(context.Background(), "pin1", "")
		if err != nil {
			t.Fatalf("Readme: %v", err)
		}
		if got != "" {
			t.Errorf("Readme = %q, want empty", got)
		}
	})
}

func TestDependencyManifests(t *testing.T) {
	f, _ := newTestFetcher(t, githubtest.Repo{
		Owner: "octocat", Name: "demo", DefaultBranch: "main",
		Branches: map[string]string{"main": "pin1"},
		Files: map[string][]byte{
			"package.json":     []byte(`{"name":"demo"}`),
			"requirements.txt": []byte("flask==3.0\n"),
			"poetry.lock":      []byte("[[package]]\n"),
			"main.py":          []byte("pass\n"),
		},
	})

	info, err := f.DependencyManifests(context.Background(), "pin1")
	if err != nil {
		t.Fatalf("DependencyManifests: %v", err)
	}

	wantManifests := map[string]string{
		"package.json":     `{"name":"demo"}`,
		"requirements.txt": "flask==3.0\n",
	}
	if diff := cmp.Diff(wantManifests, info.Manifests); diff != "" {
		t.Errorf("Manifests mismatch (-want +got):\n%s", diff)
	}
	wantLocks := map[string]bool{"poetry.lock": true}
	if diff := cmp.Diff(wantLocks, info.Lockfiles); diff != "" {
		t.Errorf("Lockfiles mismatch (-want +got):\n%s", diff)
	}
}
