// Package chunker splits source files into semantically meaningful chunks.
// Python files get a full tree-sitter parse; JavaScript and TypeScript are
// segmented with line heuristics; every other extension falls back to
// fixed-size line windows. Chunking never fails: a file that defeats its
// strategy degrades to the fallback.
package chunker

import (
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Type classifies what a chunk contains.
type Type string

const (
	TypeClass         Type = "class"
	TypeFunction      Type = "function"
	TypeAsyncFunction Type = "async_function"
	TypeInterface     Type = "interface"
	TypeTypeAlias     Type = "type"
	TypeImports       Type = "imports"
	TypeGeneric       Type = "generic"
)

const (
	maxChunkBytes = 8192
	genericWindow = 50
)

// Chunk is one segment of a source file. Content is the exact source span
// for grammar-aware and heuristic strategies; headers for embedding are
// rendered elsewhere.
type Chunk struct {
	FilePath   string
	Language   string
	Type       Type
	Name       string
	StartLine  int
	EndLine    int
	Content    string
	Decorators []string
	Docstring  string
	Importance float64
}

type strategyFunc func(path string, src []byte) ([]Chunk, error)

// Chunker dispatches files to a per-language strategy by extension.
type Chunker struct {
	strategies map[string]strategyFunc
	scorer     *Scorer
	log        *zap.Logger
}

func New(log *zap.Logger) *Chunker {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Chunker{
		strategies: make(map[string]strategyFunc),
		scorer:     NewScorer(),
		log:        log,
	}
	py := newPythonStrategy()
	for _, ext := range []string{"py", "pyi"} {
		c.strategies[ext] = py.chunk
	}
	for _, ext := range []string{"js", "jsx", "mjs", "cjs"} {
		c.strategies[ext] = chunkJavaScript
	}
	for _, ext := range []string{"ts", "tsx"} {
		c.strategies[ext] = chunkTypeScript
	}
	return c
}

// Chunk splits src into an ordered list of chunks. The imports chunk, when
// present, sorts first; everything else follows in source order. A strategy
// error or an empty strategy result degrades to generic line windows.
func (c *Chunker) Chunk(path string, src []byte) []Chunk {
	if len(src) == 0 {
		return nil
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")

	var chunks []Chunk
	if strat, ok := c.strategies[ext]; ok {
		var err error
		chunks, err = strat(path, src)
		if err != nil {
			c.log.Debug("semantic chunking failed, using line windows",
				zap.String("path", path), zap.Error(err))
			chunks = nil
		}
	}
	if len(chunks) == 0 {
		chunks = chunkGeneric(src)
	}

	chunks = splitOversized(chunks)
	orderChunks(chunks)

	lang := languageForExt(ext)
	for i := range chunks {
		ch := &chunks[i]
		ch.FilePath = path
		ch.Language = lang
		ch.Importance = c.scorer.Score(ch.Type,
			len(ch.Decorators) > 0, ch.Docstring != "", ch.EndLine-ch.StartLine+1)
	}
	return chunks
}

// chunkGeneric windows the file into fixed-size line spans covering every
// line exactly once.
func chunkGeneric(src []byte) []Chunk {
	lines := splitLines(string(src))
	var chunks []Chunk
	for i := 0; i < len(lines); i += genericWindow {
		end := i + genericWindow
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, Chunk{
			Type:      TypeGeneric,
			StartLine: i + 1,
			EndLine:   end,
			Content:   strings.Join(lines[i:end], "\n"),
		})
	}
	return chunks
}

// splitOversized re-windows chunks above maxChunkBytes at line boundaries
// with a 10-line overlap, keeping the parent's type and name.
func splitOversized(chunks []Chunk) []Chunk {
	out := make([]Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if len(ch.Content) <= maxChunkBytes {
			out = append(out, ch)
			continue
		}
		lines := splitLines(ch.Content)
		const window, overlap = 40, 10
		for i := 0; i < len(lines); {
			end := i + window
			if end > len(lines) {
				end = len(lines)
			}
			part := ch
			part.StartLine = ch.StartLine + i
			part.EndLine = ch.StartLine + end - 1
			part.Content = strings.Join(lines[i:end], "\n")
			out = append(out, part)
			if end >= len(lines) {
				break
			}
			i += window - overlap
		}
	}
	return out
}

func orderChunks(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		ci, cj := chunks[i], chunks[j]
		if (ci.Type == TypeImports) != (cj.Type == TypeImports) {
			return ci.Type == TypeImports
		}
		return ci.StartLine < cj.StartLine
	})
}

// splitLines splits on newlines and drops the empty element a trailing
// newline produces, so line counts match what an editor shows.
func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

var languageNames = map[string]string{
	"py": "python", "pyi": "python",
	"js": "javascript", "jsx": "javascript", "mjs": "javascript", "cjs": "javascript",
	"ts": "typescript", "tsx": "typescript",
	"go": "go", "rb": "ruby", "rs": "rust", "java": "java", "cs": "csharp",
	"cpp": "cpp", "c": "c", "h": "c", "php": "php", "swift": "swift",
	"kt": "kotlin", "dart": "dart", "vue": "vue", "scala": "scala",
	"r": "r", "jl": "julia",
}

func languageForExt(ext string) string {
	if name, ok := languageNames[ext]; ok {
		return name
	}
	return ext
}
