package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func unit(xs ...float32) []float32 {
	var norm float64
	for _, x := range xs {
		norm += float64(x) * float64(x)
	}
	inv := float32(1 / math.Sqrt(norm))
	out := make([]float32, len(xs))
	for i, x := range xs {
		out[i] = x * inv
	}
	return out
}

func TestEnsureCollectionIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureCollection(ctx, "code_components", 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if err := s.EnsureCollection(ctx, "code_components", 4); err != nil {
		t.Fatalf("second EnsureCollection: %v", err)
	}
	if err := s.EnsureCollection(ctx, "code_components", 8); err == nil {
		t.Error("expected an error for a dimensionality mismatch")
	}
	if err := s.EnsureCollection(ctx, "DROP TABLE", 4); err == nil {
		t.Error("expected an error for an invalid collection name")
	}
}

func TestUpsertSameContentKeepsOnePoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureCollection(ctx, "code_components", 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	content := "def add(a, b):\n    return a + b"
	if PointID(content) != PointID(content) {
		t.Fatal("PointID must be deterministic")
	}
	point := Point{
		ID:      PointID(content),
		Vector:  unit(1, 0, 0, 0),
		Payload: Payload{FilePath: "math.py", ChunkType: "function", Content: content},
	}

	for i := 0; i < 2; i++ {
		if err := s.Upsert(ctx, "code_components", []Point{point}); err != nil {
			t.Fatalf("Upsert #%d: %v", i+1, err)
		}
	}
	info, err := s.Info(ctx, "code_components")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Points != 1 {
		t.Errorf("points = %d, want 1 after re-upserting identical content", info.Points)
	}

	changed := point
	changed.ID = PointID(content + " # changed")
	if err := s.Upsert(ctx, "code_components", []Point{changed}); err != nil {
		t.Fatalf("Upsert changed: %v", err)
	}
	info, err = s.Info(ctx, "code_components")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Points != 2 {
		t.Errorf("points = %d, want 2 after inserting changed content", info.Points)
	}
	if info.Status != "ready" {
		t.Errorf("status = %q, want ready", info.Status)
	}
	if info.LastIndexed.IsZero() {
		t.Error("LastIndexed should be set after an upsert")
	}
}

func TestSearchOrderingAndThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureCollection(ctx, "code_components", 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	points := []Point{
		{ID: PointID("exact"), Vector: unit(1, 0, 0, 0), Payload: Payload{Name: "exact"}},
		{ID: PointID("close"), Vector: unit(0.8, 0.6, 0, 0), Payload: Payload{Name: "close"}},
		{ID: PointID("orthogonal"), Vector: unit(0, 1, 0, 0), Payload: Payload{Name: "orthogonal"}},
	}
	if err := s.Upsert(ctx, "code_components", points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := s.Search(ctx, "code_components", unit(1, 0, 0, 0), 10, 0.5, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 above threshold", len(results))
	}
	if results[0].Payload.Name != "exact" || results[1].Payload.Name != "close" {
		t.Errorf("order = [%s %s], want [exact close]",
			results[0].Payload.Name, results[1].Payload.Name)
	}
	for i, r := range results {
		if r.Score < 0.5 {
			t.Errorf("result %d score %v below threshold", i, r.Score)
		}
		if i > 0 && r.Score > results[i-1].Score {
			t.Errorf("scores increase at %d: %v after %v", i, r.Score, results[i-1].Score)
		}
	}
	if math.Abs(results[0].Score-1.0) > 1e-3 {
		t.Errorf("exact match score = %v, want about 1.0", results[0].Score)
	}
	if math.Abs(results[1].Score-0.8) > 1e-3 {
		t.Errorf("close match score = %v, want about 0.8", results[1].Score)
	}
}

func TestSearchFilterOverrides(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureCollection(ctx, "code_components", 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	points := []Point{
		{ID: PointID("js"), Vector: unit(1, 0, 0, 0), Payload: Payload{FilePath: "app.js", Language: "javascript"}},
		{ID: PointID("py"), Vector: unit(0.8, 0.6, 0, 0), Payload: Payload{FilePath: "src/main.py", Language: "python"}},
	}
	if err := s.Upsert(ctx, "code_components", points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := s.Search(ctx, "code_components", unit(1, 0, 0, 0), 1, 0, &Filter{PathGlob: "*.py"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Payload.FilePath != "src/main.py" {
		t.Errorf("filtered result = %q, want the python file despite its lower score",
			results[0].Payload.FilePath)
	}
}

func TestFilterMatches(t *testing.T) {
	payload := Payload{
		FilePath:   "src/services/processor.py",
		Language:   "python",
		ChunkType:  "function",
		Importance: 0.8,
	}
	cases := []struct {
		name   string
		filter *Filter
		want   bool
	}{
		{"nil filter", nil, true},
		{"glob on base name", &Filter{PathGlob: "*.py"}, true},
		{"bare filename hint", &Filter{PathGlob: "processor.py"}, true},
		{"glob miss", &Filter{PathGlob: "*.js"}, false},
		{"language match", &Filter{Language: "python"}, true},
		{"language miss", &Filter{Language: "go"}, false},
		{"chunk type match", &Filter{ChunkTypes: []string{"class", "function"}}, true},
		{"chunk type miss", &Filter{ChunkTypes: []string{"class"}}, false},
		{"importance floor", &Filter{MinImportance: 0.9}, false},
		{"importance pass", &Filter{MinImportance: 0.5}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Matches(payload); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOpenFailureIsUnavailable(t *testing.T) {
	_, err := Open(t.TempDir(), zap.NewNop())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Open error = %v, want ErrUnavailable", err)
	}
}

func TestDropCollection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureCollection(ctx, "code_patterns", 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	point := Point{ID: PointID("x"), Vector: unit(1, 0, 0, 0)}
	if err := s.Upsert(ctx, "code_patterns", []Point{point}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := s.DropCollection(ctx, "code_patterns"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}
	if _, err := s.Info(ctx, "code_patterns"); err == nil {
		t.Error("Info should fail after the collection is dropped")
	}
	if err := s.DropCollection(ctx, "code_patterns"); err != nil {
		t.Errorf("dropping an absent collection should be a no-op, got %v", err)
	}

	if err := s.EnsureCollection(ctx, "code_patterns", 4); err != nil {
		t.Fatalf("re-create after drop: %v", err)
	}
	info, err := s.Info(ctx, "code_patterns")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Points != 0 {
		t.Errorf("points = %d, want 0 in a re-created collection", info.Points)
	}
}

func TestSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureCollection(ctx, "code_files", 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	point := Point{ID: PointID("snap"), Vector: unit(0, 0, 1, 0)}
	if err := s.Upsert(ctx, "code_files", []Point{point}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "backups")
	dest, err := s.Snapshot(ctx, dir)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(dest), "snapshot_") {
		t.Errorf("snapshot name = %q, want a snapshot_ prefix", filepath.Base(dest))
	}
	fi, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}
	if fi.Size() == 0 {
		t.Error("snapshot file is empty")
	}
}

func TestMetaRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetMeta(ctx, "last_analysis")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if got != "" {
		t.Errorf("unset key = %q, want empty", got)
	}

	if err := s.SetMeta(ctx, "last_analysis", `{"repo":"octocat/demo"}`); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := s.SetMeta(ctx, "last_analysis", `{"repo":"octocat/other"}`); err != nil {
		t.Fatalf("SetMeta overwrite: %v", err)
	}
	got, err = s.GetMeta(ctx, "last_analysis")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if got != `{"repo":"octocat/other"}` {
		t.Errorf("GetMeta = %q, want the overwritten value", got)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureCollection(ctx, "code_components", 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	seed := Point{ID: PointID("seed"), Vector: unit(1, 0, 0, 0)}
	if err := s.Upsert(ctx, "code_components", []Point{seed}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		i := i
		g.Go(func() error {
			p := Point{ID: PointID(fmt.Sprintf("writer-%d", i)), Vector: unit(0, 1, 0, 0)}
			return s.Upsert(ctx, "code_components", []Point{p})
		})
		g.Go(func() error {
			_, err := s.Search(ctx, "code_components", unit(1, 0, 0, 0), 5, 0, nil)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent operations: %v", err)
	}

	info, err := s.Info(ctx, "code_components")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Points != 5 {
		t.Errorf("points = %d, want 5", info.Points)
	}
}
