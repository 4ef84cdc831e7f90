package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"repomind/internal/analysis"
	"repomind/internal/chunker"
	"repomind/internal/embedder"
	"repomind/internal/fetcher"
	"repomind/internal/rag"
	"repomind/internal/store"
	"repomind/internal/walker"
)

// embedBatchSize caps how many texts one embedding request carries.
const embedBatchSize = 10

// maxSummaryBytes bounds the file content carried into file-level summary
// embeddings and payloads.
const maxSummaryBytes = 4096

// fileContent is a fetched file waiting to be chunked and analyzed.
type fileContent struct {
	ref walker.FileRef
	src []byte
}

// fileAnalysis is everything extracted from one file.
type fileAnalysis struct {
	ref      walker.FileRef
	lang     string
	head     string
	chunks   []chunker.Chunk
	imports  []analysis.ImportEdge
	entries  []string
	patterns []string
}

// vectorJob is a batch of texts bound for one collection. The embed worker
// fills each point's vector before the store worker upserts the batch.
type vectorJob struct {
	collection string
	texts      []string
	points     []store.Point
}

type pipelineResult struct {
	files       []fileAnalysis
	imports     []analysis.ImportEdge
	entryPoints map[string][]string
	patterns    map[string][]string
	stats       Stats
	// degraded is set when the store rejected writes mid-run.
	degraded bool
}

// runPipeline drives the staged analysis: fetch workers feed chunk+analyze
// workers, whose output a single collector batches through one embed worker
// and one store worker. Per-file and per-batch failures are logged and
// skipped; only cancellation aborts the run.
func (a *Analyzer) runPipeline(ctx context.Context, f *fetcher.Fetcher, m *walker.Manifest, embed bool, report ProgressFunc) (*pipelineResult, error) {
	workers := a.cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	total := len(m.CodeFiles)

	// Stage 1: feed the manifest's code files.
	fileCh := make(chan walker.FileRef)
	go func() {
		defer close(fileCh)
		for _, fr := range m.CodeFiles {
			select {
			case fileCh <- fr:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Stage 2: fetch (N workers).
	var fetched, skipped atomic.Int64
	contentCh := make(chan fileContent, workers)
	var fetchWg sync.WaitGroup
	for range workers {
		fetchWg.Add(1)
		go func() {
			defer fetchWg.Done()
			for fr := range fileCh {
				src, err := f.Content(ctx, fr.Path, m.CommitSHA)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					skipped.Add(1)
					a.log.Warn("skipping file", zap.String("path", fr.Path), zap.Error(err))
					report("analyzing files", int(fetched.Load()+skipped.Load()), total)
					continue
				}
				fetched.Add(1)
				report("analyzing files", int(fetched.Load()+skipped.Load()), total)
				select {
				case contentCh <- fileContent{ref: fr, src: src}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		fetchWg.Wait()
		close(contentCh)
	}()

	// Stage 3: chunk + analyze (N workers).
	resultCh := make(chan fileAnalysis, workers)
	var analyzeWg sync.WaitGroup
	for range workers {
		analyzeWg.Add(1)
		go func() {
			defer analyzeWg.Done()
			for fc := range contentCh {
				fa := fileAnalysis{
					ref:      fc.ref,
					head:     fileHead(fc.src),
					chunks:   a.chunker.Chunk(fc.ref.Path, fc.src),
					imports:  analysis.Imports(fc.ref.Path, fc.src),
					entries:  analysis.EntryPoints(fc.ref.Path, fc.src),
					patterns: analysis.Patterns(fc.ref.Path, fc.src),
				}
				fa.lang = strings.TrimPrefix(fc.ref.Extension, ".")
				if len(fa.chunks) > 0 {
					fa.lang = fa.chunks[0].Language
				}
				select {
				case resultCh <- fa:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		analyzeWg.Wait()
		close(resultCh)
	}()

	// Stages 4 and 5: one embed worker, one store worker.
	var stored atomic.Int64
	var degraded atomic.Bool
	var jobCh chan vectorJob
	var storeDone chan struct{}
	if embed {
		jobCh = make(chan vectorJob, 4)
		embeddedCh := make(chan vectorJob, 4)
		go func() {
			defer close(embeddedCh)
			for job := range jobCh {
				vecs, err := a.embedder.Embed(ctx, job.texts)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					a.log.Warn("embedding batch failed",
						zap.String("collection", job.collection),
						zap.Int("texts", len(job.texts)),
						zap.Error(err))
					continue
				}
				if len(vecs) != len(job.points) {
					a.log.Warn("embedder returned wrong vector count",
						zap.Int("want", len(job.points)), zap.Int("got", len(vecs)))
					continue
				}
				for i := range job.points {
					job.points[i].Vector = vecs[i]
				}
				select {
				case embeddedCh <- job:
				case <-ctx.Done():
					return
				}
			}
		}()
		storeDone = make(chan struct{})
		go func() {
			defer close(storeDone)
			for job := range embeddedCh {
				if err := a.store.Upsert(ctx, job.collection, job.points); err != nil {
					if ctx.Err() != nil {
						return
					}
					if errors.Is(err, store.ErrUnavailable) {
						degraded.Store(true)
					}
					a.log.Warn("storing points failed",
						zap.String("collection", job.collection),
						zap.Int("points", len(job.points)),
						zap.Error(err))
					continue
				}
				report("indexing chunks", int(stored.Add(int64(len(job.points)))), 0)
			}
		}()
	}

	// Collector: aggregate per-file results and batch chunk embeddings.
	res := &pipelineResult{
		entryPoints: make(map[string][]string),
		patterns:    make(map[string][]string),
	}
	pending := vectorJob{collection: rag.CollectionComponents}
	flush := func() {
		if jobCh == nil || len(pending.points) == 0 {
			return
		}
		job := pending
		pending = vectorJob{collection: rag.CollectionComponents}
		select {
		case jobCh <- job:
		case <-ctx.Done():
		}
	}
	for fa := range resultCh {
		res.files = append(res.files, fa)
		res.imports = append(res.imports, fa.imports...)
		if len(fa.entries) > 0 {
			res.entryPoints[fa.ref.Path] = fa.entries
		}
		for _, p := range fa.patterns {
			res.patterns[p] = append(res.patterns[p], fa.ref.Path)
		}
		res.stats.Chunks += len(fa.chunks)
		if jobCh == nil {
			continue
		}
		for _, ch := range fa.chunks {
			text := embedder.EmbeddingText(ch)
			pending.texts = append(pending.texts, text)
			pending.points = append(pending.points, store.Point{
				ID: store.PointID(text),
				Payload: store.Payload{
					FilePath:   ch.FilePath,
					Language:   ch.Language,
					ChunkType:  string(ch.Type),
					Name:       ch.Name,
					StartLine:  ch.StartLine,
					EndLine:    ch.EndLine,
					Importance: ch.Importance,
					Content:    ch.Content,
				},
			})
			if len(pending.points) == embedBatchSize {
				flush()
			}
		}
	}
	flush()

	sort.Slice(res.files, func(i, j int) bool { return res.files[i].ref.Path < res.files[j].ref.Path })
	sort.Slice(res.imports, func(i, j int) bool {
		if res.imports[i].Source != res.imports[j].Source {
			return res.imports[i].Source < res.imports[j].Source
		}
		return res.imports[i].Line < res.imports[j].Line
	})
	for _, files := range res.patterns {
		sort.Strings(files)
	}

	if jobCh != nil {
		a.enqueueSummaries(ctx, res, jobCh)
		close(jobCh)
		<-storeDone
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.stats.FilesFetched = int(fetched.Load())
	res.stats.FilesSkipped = int(skipped.Load())
	res.stats.Points = int(stored.Load())
	res.stats.Edges = len(res.imports)
	res.degraded = degraded.Load()
	return res, nil
}

// enqueueSummaries pushes the file, relationship and pattern summary
// embeddings through the same embed and store workers as the chunks.
func (a *Analyzer) enqueueSummaries(ctx context.Context, res *pipelineResult, jobCh chan<- vectorJob) {
	send := func(collection string, texts []string, points []store.Point) {
		for i := 0; i < len(points); i += embedBatchSize {
			end := i + embedBatchSize
			if end > len(points) {
				end = len(points)
			}
			select {
			case jobCh <- vectorJob{collection: collection, texts: texts[i:end], points: points[i:end]}:
			case <-ctx.Done():
				return
			}
		}
	}

	var texts []string
	var points []store.Point
	for _, fa := range res.files {
		text := fileSummaryText(fa)
		texts = append(texts, text)
		points = append(points, store.Point{
			ID: store.PointID(text),
			Payload: store.Payload{
				FilePath:  fa.ref.Path,
				Language:  fa.lang,
				ChunkType: "file",
				Content:   fa.head,
			},
		})
	}
	send(rag.CollectionFiles, texts, points)

	bySource := make(map[string][]analysis.ImportEdge)
	for _, e := range res.imports {
		bySource[e.Source] = append(bySource[e.Source], e)
	}
	sources := make([]string, 0, len(bySource))
	for s := range bySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	texts, points = nil, nil
	for _, src := range sources {
		text, listing := relationshipSummaryText(src, bySource[src])
		texts = append(texts, text)
		points = append(points, store.Point{
			ID: store.PointID(text),
			Payload: store.Payload{
				FilePath:  src,
				ChunkType: "relationship",
				Name:      "imports",
				Content:   listing,
			},
		})
	}
	send(rag.CollectionRelationships, texts, points)

	names := make([]string, 0, len(res.patterns))
	for name := range res.patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	texts, points = nil, nil
	for _, name := range names {
		text, listing := patternSummaryText(name, res.patterns[name])
		texts = append(texts, text)
		points = append(points, store.Point{
			ID: store.PointID(text),
			Payload: store.Payload{
				ChunkType: "pattern",
				Name:      name,
				Content:   listing,
			},
		})
	}
	send(rag.CollectionPatterns, texts, points)
}

// fileSummaryText renders the file-level embedding input: a typed context
// header followed by the head of the file.
func fileSummaryText(fa fileAnalysis) string {
	var b strings.Builder
	b.WriteString("Type: file\n\nContext:\n")
	fmt.Fprintf(&b, "path: %s\n", fa.ref.Path)
	fmt.Fprintf(&b, "language: %s\n", fa.lang)
	fmt.Fprintf(&b, "components: %d\n", len(fa.chunks))
	if len(fa.imports) > 0 {
		mods := make([]string, len(fa.imports))
		for i, e := range fa.imports {
			mods[i] = e.Module
		}
		fmt.Fprintf(&b, "imports: %s\n", strings.Join(mods, ", "))
	}
	if len(fa.entries) > 0 {
		fmt.Fprintf(&b, "entry points: %s\n", strings.Join(fa.entries, ", "))
	}
	fmt.Fprintf(&b, "\nContent:\n%s", fa.head)
	return b.String()
}

// relationshipSummaryText renders one source file's import edges. The
// listing doubles as the stored payload content.
func relationshipSummaryText(source string, edges []analysis.ImportEdge) (text, listing string) {
	var lines []string
	for _, e := range edges {
		lines = append(lines, fmt.Sprintf("%s imports %s (line %d)", source, e.Module, e.Line))
	}
	listing = strings.Join(lines, "\n")

	var b strings.Builder
	b.WriteString("Type: relationship\n\nContext:\n")
	fmt.Fprintf(&b, "source: %s\n", source)
	b.WriteString("kind: imports\n")
	fmt.Fprintf(&b, "edges: %d\n", len(edges))
	fmt.Fprintf(&b, "\nContent:\n%s", listing)
	return b.String(), listing
}

// patternSummaryText renders one pattern bucket with the files using it.
func patternSummaryText(name string, files []string) (text, listing string) {
	listing = fmt.Sprintf("Files using the %s pattern:\n%s", name, strings.Join(files, "\n"))

	var b strings.Builder
	b.WriteString("Type: pattern\n\nContext:\n")
	fmt.Fprintf(&b, "pattern: %s\n", name)
	fmt.Fprintf(&b, "files: %d\n", len(files))
	fmt.Fprintf(&b, "\nContent:\n%s", listing)
	return b.String(), listing
}

// fileHead returns the first maxSummaryBytes of src, cut at a line break.
func fileHead(src []byte) string {
	if len(src) <= maxSummaryBytes {
		return string(src)
	}
	head := src[:maxSummaryBytes]
	if i := bytes.LastIndexByte(head, '\n'); i > 0 {
		head = head[:i]
	}
	return string(head)
}

var scriptSuffixes = []string{"", ".js", ".jsx", ".ts", ".tsx", "/index.js", "/index.ts"}
var pythonSuffixes = []string{".py", "/__init__.py"}

// resolveImport maps an imported module name onto a repository path when
// the target lives in the analyzed tree. External modules and anything
// that cannot be located resolve to "".
func resolveImport(source, module string, known map[string]bool) string {
	dir := path.Dir(source)
	try := func(p string) string {
		p = path.Clean(p)
		if known[p] {
			return p
		}
		return ""
	}

	switch {
	case strings.HasPrefix(module, "./") || strings.HasPrefix(module, "../"):
		base := path.Join(dir, module)
		for _, suffix := range scriptSuffixes {
			if p := try(base + suffix); p != "" {
				return p
			}
		}

	case strings.HasPrefix(module, "."):
		// Python relative import: the first dot means the file's own
		// package, each further dot climbs one level.
		dots := 0
		for dots < len(module) && module[dots] == '.' {
			dots++
		}
		base := dir
		for i := 1; i < dots; i++ {
			base = path.Dir(base)
		}
		candidate := base
		if rest := module[dots:]; rest != "" {
			candidate = path.Join(base, strings.ReplaceAll(rest, ".", "/"))
		}
		for _, suffix := range pythonSuffixes {
			if p := try(candidate + suffix); p != "" {
				return p
			}
		}

	default:
		rel := strings.ReplaceAll(module, ".", "/")
		for _, suffix := range pythonSuffixes {
			if p := try(rel + suffix); p != "" {
				return p
			}
		}
	}
	return ""
}
