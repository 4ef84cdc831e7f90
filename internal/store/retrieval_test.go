package store

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"repomind/internal/chunker"
	"repomind/internal/embedder"
)

// End-to-end retrieval against the deterministic hash embedder: a question
// about caching must surface the method that consults a cache dict.
func TestRetrievalFindsCachingMethod(t *testing.T) {
	s, err := Open(t.TempDir()+"/index.db", zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	e := embedder.NewHash(256)
	ctx := context.Background()
	if err := s.EnsureCollection(ctx, "code_components", e.Dimensions()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	chunks := []chunker.Chunk{
		{
			FilePath:  "src/processor.py",
			Language:  "python",
			Type:      chunker.TypeFunction,
			Name:      "process",
			StartLine: 5,
			EndLine:   10,
			Content: "def process(self, key):\n" +
				"        if key in self.cache:\n" +
				"            return self.cache[key]\n" +
				"        value = self.compute(key)\n" +
				"        self.cache[key] = value\n" +
				"        return value",
		},
		{
			FilePath: "math.py", Language: "python", Type: chunker.TypeFunction, Name: "add",
			StartLine: 1, EndLine: 2,
			Content: "def add(a, b):\n    return a + b",
		},
		{
			FilePath: "widget.py", Language: "python", Type: chunker.TypeClass, Name: "Widget",
			StartLine: 1, EndLine: 3,
			Content: "class Widget:\n    def render(self):\n        return self.template",
		},
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = embedder.EmbeddingText(ch)
	}
	vecs, err := e.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	points := make([]Point, len(chunks))
	for i, ch := range chunks {
		points[i] = Point{
			ID:     PointID(texts[i]),
			Vector: vecs[i],
			Payload: Payload{
				FilePath:  ch.FilePath,
				Language:  ch.Language,
				ChunkType: string(ch.Type),
				Name:      ch.Name,
				Content:   ch.Content,
			},
		}
	}
	if err := s.Upsert(ctx, "code_components", points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	query, err := embedder.EmbedOne(ctx, e, "how does the caching mechanism work?")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	results, err := s.Search(ctx, "code_components", query, 3, 0.05, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results above threshold")
	}
	found := false
	for _, r := range results {
		if strings.Contains(r.Payload.Content, "self.cache") {
			found = true
		}
	}
	if !found {
		t.Errorf("caching method not in top results: %+v", results)
	}
}

// Concurrent query embedding and search must respect the bounded
// concurrency gate without deadlocking.
func TestRetrievalUnderConcurrency(t *testing.T) {
	s, err := Open(t.TempDir()+"/index.db", zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	e := embedder.NewHash(64)
	ctx := context.Background()
	if err := s.EnsureCollection(ctx, "code_components", e.Dimensions()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	vec, err := embedder.EmbedOne(ctx, e, "seed chunk about parsing")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	err = s.Upsert(ctx, "code_components", []Point{{ID: PointID("seed"), Vector: vec}})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	var g errgroup.Group
	g.SetLimit(16)
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			q, err := embedder.EmbedOne(ctx, e, "where is parsing handled?")
			if err != nil {
				return err
			}
			_, err = s.Search(ctx, "code_components", q, 3, 0, nil)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent retrieval: %v", err)
	}
}
