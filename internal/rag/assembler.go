package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"repomind/internal/cache"
	"repomind/internal/contextstore"
	"repomind/internal/embedder"
	"repomind/internal/llm"
	"repomind/internal/store"
)

const persona = "You are a helpful AI assistant that specializes in understanding GitHub repositories."

// FileHintThreshold replaces the configured score threshold when the query
// names a file directly; filename queries have weak semantic overlap with
// code chunks.
const FileHintThreshold = 0.3

const maxRelatedEntries = 8

// RepoFacts carries the repository-level facts appended to the system
// prompt after any retrieved code context.
type RepoFacts struct {
	Name        string
	Description string
	Language    string
	Branch      string
	Path        string
	TotalFiles  int
	FileTypes   map[string]int
	Directories []string
	Manifests   []string
	Lockfiles   []string
	Readme      string
}

// Searcher is the slice of the vector store retrieval needs.
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, limit int, threshold float64, filter *store.Filter) ([]store.SearchResult, error)
}

// ContextProvider resolves related context entries for retrieved files.
type ContextProvider interface {
	Related(id string, maxDepth int) ([]contextstore.Entry, error)
}

// AssemblerOptions tunes retrieval. Zero values get the defaults used by
// the CLI configuration.
type AssemblerOptions struct {
	TopK         int
	Threshold    float64
	Instructions string
}

// Assembler builds the per-turn system context from retrieval, the context
// store, and repository facts. The store and context provider may be nil,
// in which case answers are assembled from repository facts alone.
type Assembler struct {
	store        Searcher
	embed        embedder.Embedder
	contexts     ContextProvider
	queryVecs    *cache.Cache[[]float32]
	topK         int
	threshold    float64
	instructions string
	log          *zap.Logger
}

func NewAssembler(st Searcher, emb embedder.Embedder, contexts ContextProvider, opts AssemblerOptions, log *zap.Logger) *Assembler {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 0.7
	}
	return &Assembler{
		store:        st,
		embed:        emb,
		contexts:     contexts,
		queryVecs:    cache.New[[]float32](256, 5*time.Minute),
		topK:         opts.TopK,
		threshold:    opts.Threshold,
		instructions: opts.Instructions,
		log:          log,
	}
}

// BuildContext classifies the query, retrieves matching chunks, and returns
// the system prompt plus the message list for the generation call. History
// passes through untouched; the final user message is the raw query, so
// per-turn context never leaks into the conversation itself.
func (a *Assembler) BuildContext(ctx context.Context, query string, facts *RepoFacts, history []llm.Message) (string, []llm.Message, error) {
	info := Classify(query)

	var results []store.SearchResult
	if a.store != nil && a.embed != nil {
		vec, err := a.queryVector(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return "", nil, ctx.Err()
			}
			a.log.Warn("query embedding failed, answering without retrieval", zap.Error(err))
		} else {
			threshold := a.threshold
			var filter *store.Filter
			if info.FileHint != "" {
				threshold = FileHintThreshold
				filter = &store.Filter{PathGlob: info.FileHint}
			}
			collection := CollectionFor(info.Type)
			results, err = a.store.Search(ctx, collection, vec, a.topK, threshold, filter)
			if err != nil {
				if ctx.Err() != nil {
					return "", nil, ctx.Err()
				}
				a.log.Warn("retrieval failed, answering without code context",
					zap.String("collection", collection),
					zap.Error(err))
				results = nil
			}
		}
	}

	system := a.systemText(info, results, facts)

	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: query})
	return system, msgs, nil
}

func (a *Assembler) queryVector(ctx context.Context, query string) ([]float32, error) {
	if v, ok := a.queryVecs.Get(query); ok {
		return v, nil
	}
	v, err := embedder.EmbedOne(ctx, a.embed, query)
	if err != nil {
		return nil, err
	}
	a.queryVecs.Set(query, v)
	return v, nil
}

func (a *Assembler) systemText(info QueryInfo, results []store.SearchResult, facts *RepoFacts) string {
	var b strings.Builder
	b.WriteString(persona)

	if a.instructions != "" {
		b.WriteString("\n\nCustom Instructions:\n")
		b.WriteString(a.instructions)
	}

	if len(results) > 0 {
		b.WriteString("\n\n## Retrieved Code Context\n")
		for i, r := range results {
			fmt.Fprintf(&b, "\n--- Result %d: %s [%s] (score %.2f) ---\n",
				i+1, r.Payload.FilePath, r.Payload.ChunkType, r.Score)
			if r.Payload.StartLine > 0 {
				fmt.Fprintf(&b, "Lines %d-%d\n", r.Payload.StartLine, r.Payload.EndLine)
			}
			b.WriteString(r.Payload.Content)
			b.WriteString("\n")
		}
		if info.Type == QueryRelationship && a.contexts != nil {
			a.appendRelated(&b, results)
		}
	}

	if facts != nil {
		appendFacts(&b, facts)
	}
	return b.String()
}

func (a *Assembler) appendRelated(b *strings.Builder, results []store.SearchResult) {
	seen := map[string]bool{}
	var entries []contextstore.Entry
	for _, r := range results {
		if r.Payload.FilePath == "" {
			continue
		}
		related, err := a.contexts.Related("file:"+r.Payload.FilePath, 1)
		if err != nil {
			a.log.Warn("context lookup failed", zap.String("file", r.Payload.FilePath), zap.Error(err))
			continue
		}
		for _, e := range related {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			entries = append(entries, e)
			if len(entries) >= maxRelatedEntries {
				break
			}
		}
		if len(entries) >= maxRelatedEntries {
			break
		}
	}
	if len(entries) == 0 {
		return
	}
	b.WriteString("\n## Related Context\n")
	for _, e := range entries {
		fmt.Fprintf(b, "- %s (%s): %s\n", e.ID, e.Type, e.Content)
	}
}

// appendFacts writes the repository facts in a fixed order. The README goes
// last; it can be arbitrarily long, and a caller that truncates the prompt
// should lose it before the structured facts.
func appendFacts(b *strings.Builder, f *RepoFacts) {
	b.WriteString("\n\n## Repository\n")
	fmt.Fprintf(b, "Name: %s\n", f.Name)
	if f.Description != "" {
		fmt.Fprintf(b, "Description: %s\n", f.Description)
	}
	if f.Language != "" {
		fmt.Fprintf(b, "Primary language: %s\n", f.Language)
	}
	if f.Branch != "" {
		fmt.Fprintf(b, "Branch: %s\n", f.Branch)
	}
	if f.Path != "" {
		fmt.Fprintf(b, "Path: %s\n", f.Path)
	}
	if f.TotalFiles > 0 {
		fmt.Fprintf(b, "Total files: %d\n", f.TotalFiles)
	}

	if len(f.FileTypes) > 0 {
		exts := make([]string, 0, len(f.FileTypes))
		for ext := range f.FileTypes {
			exts = append(exts, ext)
		}
		sort.Strings(exts)
		b.WriteString("\nFile types:\n")
		for _, ext := range exts {
			fmt.Fprintf(b, "  %s: %d\n", ext, f.FileTypes[ext])
		}
	}

	if len(f.Directories) > 0 {
		dirs := append([]string(nil), f.Directories...)
		sort.Strings(dirs)
		if len(dirs) > 10 {
			dirs = dirs[:10]
		}
		b.WriteString("\nDirectories:\n")
		for _, d := range dirs {
			fmt.Fprintf(b, "  %s/\n", d)
		}
	}

	if len(f.Manifests) > 0 || len(f.Lockfiles) > 0 {
		b.WriteString("\nDependency manifests:\n")
		for _, m := range f.Manifests {
			fmt.Fprintf(b, "  %s\n", m)
		}
		for _, l := range f.Lockfiles {
			fmt.Fprintf(b, "  %s (lockfile)\n", l)
		}
	}

	if f.Readme != "" {
		b.WriteString("\n## README\n\n")
		b.WriteString(f.Readme)
	}
}
