package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"repomind/internal/chunker"
	"repomind/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		EmbeddingModel: config.DefaultEmbeddingModel,
		OllamaURL:      config.DefaultOllamaURL,
	}
}

func TestEmbeddingText(t *testing.T) {
	ch := chunker.Chunk{
		FilePath:   "src/processor.py",
		Type:       chunker.TypeClass,
		Name:       "DataProcessor",
		StartLine:  11,
		EndLine:    19,
		Content:    "class DataProcessor:\n    pass",
		Decorators: []string{"@dataclass"},
	}
	want := "File: src/processor.py\n" +
		"Type: class\n" +
		"Content Type: code\n" +
		"Lines: 11-19\n" +
		"Name: DataProcessor\n" +
		"Decorators: @dataclass\n" +
		"Full Content:\nclass DataProcessor:\n    pass"
	if got := EmbeddingText(ch); got != want {
		t.Errorf("EmbeddingText = %q, want %q", got, want)
	}
}

func TestEmbeddingTextOmitsEmptyFields(t *testing.T) {
	ch := chunker.Chunk{
		FilePath:  "notes.txt",
		Type:      chunker.TypeGeneric,
		StartLine: 1,
		EndLine:   50,
		Content:   "some text",
	}
	want := "File: notes.txt\n" +
		"Type: generic\n" +
		"Content Type: code\n" +
		"Lines: 1-50\n" +
		"Full Content:\nsome text"
	if got := EmbeddingText(ch); got != want {
		t.Errorf("EmbeddingText = %q, want %q", got, want)
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHash(256)
	a, err := e.Embed(context.Background(), []string{"def process(self, key)"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(context.Background(), []string{"def process(self, key)"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same input produced different vectors:\n%s", diff)
	}
	if len(a[0]) != e.Dimensions() {
		t.Errorf("vector length = %d, want %d", len(a[0]), e.Dimensions())
	}
}

func TestHashEmbedderNormalized(t *testing.T) {
	e := NewHash(128)
	vecs, err := e.Embed(context.Background(), []string{"cache lookup before compute"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	var norm float64
	for _, x := range vecs[0] {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("squared norm = %v, want 1", norm)
	}
}

func TestHashEmbedderGroupsWordForms(t *testing.T) {
	e := NewHash(256)
	vecs, err := e.Embed(context.Background(), []string{"caching", "cache", "binary tree rotation depth"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if diff := cmp.Diff(vecs[0], vecs[1]); diff != "" {
		t.Errorf("word forms sharing a prefix should embed identically:\n%s", diff)
	}
	if cmp.Equal(vecs[0], vecs[2]) {
		t.Error("unrelated text should not embed identically")
	}
}

func TestHashEmbedderEmptyText(t *testing.T) {
	e := NewHash(64)
	vecs, err := e.Embed(context.Background(), []string{""})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	var norm float64
	for _, x := range vecs[0] {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		t.Error("empty text must still produce a usable vector")
	}
}

func TestEmbedOne(t *testing.T) {
	v, err := EmbedOne(context.Background(), NewHash(64), "how does the caching mechanism work?")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(v) != 64 {
		t.Errorf("vector length = %d, want 64", len(v))
	}
}

func TestFactorySelectsProvider(t *testing.T) {
	cases := []struct {
		name     string
		provider string
		key      string
		wantName string
		wantErr  bool
	}{
		{name: "default is openai", provider: "", key: "sk-test", wantName: "openai"},
		{name: "openai without key fails", provider: "openai", wantErr: true},
		{name: "hash needs nothing", provider: "hash", wantName: "hash"},
		{name: "unknown provider fails", provider: "word2vec", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.EmbeddingProvider = tc.provider
			cfg.OpenAIAPIKey = tc.key
			e, err := New(cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if e.Name() != tc.wantName {
				t.Errorf("provider = %q, want %q", e.Name(), tc.wantName)
			}
		})
	}
}
