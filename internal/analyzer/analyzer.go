// Package analyzer runs the full repository analysis: walk the remote tree,
// fetch and chunk the code files, extract relationships, embed everything
// into the vector store and record context entries. It is the one component
// that wires the walker, fetcher, chunker, embedder and stores together.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"repomind/internal/analysis"
	"repomind/internal/chunker"
	"repomind/internal/config"
	"repomind/internal/contextstore"
	"repomind/internal/embedder"
	"repomind/internal/fetcher"
	"repomind/internal/github"
	"repomind/internal/rag"
	"repomind/internal/store"
	"repomind/internal/walker"
)

// collections is every vector collection the pipeline writes, one per
// query type the classifier routes to.
var collections = []string{
	rag.CollectionFiles,
	rag.CollectionComponents,
	rag.CollectionRelationships,
	rag.CollectionPatterns,
}

// ProgressFunc receives pipeline progress. total is 0 when the stage's
// extent is not known up front.
type ProgressFunc func(stage string, done, total int)

// Options tune a single Analyze run.
type Options struct {
	// Branch overrides the branch parsed from the URL (or the default).
	Branch string
	// Path restricts the walk to a subdirectory, overriding any subpath
	// parsed from the URL.
	Path string
	// NoEmbed skips embedding and indexing; the manifest, relationship
	// extraction and context entries are still produced.
	NoEmbed bool
	// Progress, when set, receives stage updates.
	Progress ProgressFunc
}

// Stats summarizes one analysis run.
type Stats struct {
	FilesFetched int
	FilesSkipped int
	Chunks       int
	Points       int
	Edges        int
	Duration     time.Duration
}

// Analysis is the result of analyzing one repository snapshot.
type Analysis struct {
	Manifest     *walker.Manifest
	Readme       string
	Dependencies *fetcher.DependencyInfo
	Imports      []analysis.ImportEdge
	EntryPoints  map[string][]string
	Patterns     map[string][]string
	// EmbeddingsGenerated is false when the run was degraded: the vector
	// store or embedder was unavailable, or embedding was disabled.
	EmbeddingsGenerated bool
	Stats               Stats
}

// Facts converts the analysis into the repository facts the context
// assembler appends to every prompt.
func (an *Analysis) Facts() *rag.RepoFacts {
	m := an.Manifest
	facts := &rag.RepoFacts{
		Name:        m.FullName(),
		Description: m.Description,
		Language:    m.Language,
		Branch:      m.Branch,
		Path:        m.Subpath,
		TotalFiles:  m.TotalFiles,
		FileTypes:   m.Extensions,
		Directories: m.Directories,
		Readme:      an.Readme,
	}
	if an.Dependencies != nil {
		for name := range an.Dependencies.Manifests {
			facts.Manifests = append(facts.Manifests, name)
		}
		sort.Strings(facts.Manifests)
		for name, present := range an.Dependencies.Lockfiles {
			if present {
				facts.Lockfiles = append(facts.Lockfiles, name)
			}
		}
		sort.Strings(facts.Lockfiles)
	}
	return facts
}

// RunInfo is the persisted record of the last completed analysis.
type RunInfo struct {
	Repo       string    `json:"repo"`
	Branch     string    `json:"branch"`
	Commit     string    `json:"commit"`
	Files      int       `json:"files"`
	Chunks     int       `json:"chunks"`
	Points     int       `json:"points"`
	Model      string    `json:"embedding_model,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Analyzer owns the analysis collaborators. A nil store or embedder puts
// every run into degraded mode; the manifest side still works.
type Analyzer struct {
	cfg      *config.Config
	client   *github.Client
	chunker  *chunker.Chunker
	embedder embedder.Embedder
	store    *store.Store
	contexts *contextstore.Store
	log      *zap.Logger
}

// New wires an Analyzer from configuration. Collaborators that cannot be
// built are logged and left nil rather than failing construction, so a
// missing embedding key or an unopenable database degrades the run instead
// of blocking repository analysis entirely.
func New(cfg *config.Config, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Analyzer{
		cfg:     cfg,
		chunker: chunker.New(log),
		log:     log,
	}
	a.client = github.NewClient(github.Options{
		Token:    cfg.GitHubToken,
		Interval: cfg.RequestInterval,
		Logger:   log,
	})

	emb, err := embedder.New(*cfg)
	if err != nil {
		log.Warn("embedder unavailable, runs will skip embeddings", zap.Error(err))
	} else {
		a.embedder = emb
	}
	if a.embedder != nil {
		st, err := store.Open(cfg.DBPath, log)
		if err != nil {
			log.Warn("vector store unavailable, continuing without semantic search",
				zap.String("path", cfg.DBPath), zap.Error(err))
		} else {
			a.store = st
		}
	}
	contexts, err := contextstore.New(filepath.Join(cfg.DataDir, "context"), log)
	if err != nil {
		log.Warn("context store unavailable", zap.Error(err))
	} else {
		a.contexts = contexts
	}
	return a
}

// Store exposes the vector store, nil in degraded mode.
func (a *Analyzer) Store() *store.Store { return a.store }

// Embedder exposes the configured embedder, nil in degraded mode.
func (a *Analyzer) Embedder() embedder.Embedder { return a.embedder }

// Contexts exposes the context entry store, nil when unavailable.
func (a *Analyzer) Contexts() *contextstore.Store { return a.contexts }

func (a *Analyzer) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// Analyze walks, fetches, chunks, embeds and indexes the repository at
// rawURL. Structural failures (bad URL, unresolvable branch) abort;
// per-file failures skip the file and the run continues. When the vector
// store or embedder is unavailable the run completes in degraded mode with
// EmbeddingsGenerated false.
func (a *Analyzer) Analyze(ctx context.Context, rawURL string, opts Options) (*Analysis, error) {
	start := time.Now()

	ref, err := walker.ParseRepoURL(rawURL)
	if err != nil {
		return nil, err
	}
	if opts.Branch != "" {
		ref.Branch = opts.Branch
	}
	if opts.Path != "" {
		ref.Subpath = strings.Trim(opts.Path, "/")
	}

	report := opts.Progress
	if report == nil {
		report = func(string, int, int) {}
	}

	report("walking repository tree", 0, 0)
	manifest, err := walker.New(a.client, a.cfg.MaxFileSize, a.log).Walk(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", ref, err)
	}
	a.log.Info("walked repository",
		zap.String("repo", manifest.FullName()),
		zap.String("commit", manifest.CommitSHA),
		zap.Int("files", manifest.TotalFiles),
		zap.Int("code_files", len(manifest.CodeFiles)))

	f := fetcher.New(a.client, ref.Owner, ref.Repo, a.cfg.CacheTTL, a.log)

	readme, err := f.Readme(ctx, manifest.CommitSHA, manifest.Subpath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		a.log.Warn("readme fetch failed", zap.Error(err))
	}
	deps, err := f.DependencyManifests(ctx, manifest.CommitSHA)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		a.log.Warn("dependency manifest scan failed", zap.Error(err))
		deps = &fetcher.DependencyInfo{
			Manifests: map[string]string{},
			Lockfiles: map[string]bool{},
		}
	}

	embed := a.store != nil && a.embedder != nil && !opts.NoEmbed
	if embed {
		if err := a.prepareCollections(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			a.log.Warn("vector store not writable, skipping embeddings", zap.Error(err))
			embed = false
		}
	}

	res, err := a.runPipeline(ctx, f, manifest, embed, report)
	if err != nil {
		return nil, err
	}

	an := &Analysis{
		Manifest:            manifest,
		Readme:              readme,
		Dependencies:        deps,
		Imports:             res.imports,
		EntryPoints:         res.entryPoints,
		Patterns:            res.patterns,
		EmbeddingsGenerated: embed && !res.degraded,
		Stats:               res.stats,
	}

	a.writeContextEntries(an, res)

	if a.store != nil {
		info := RunInfo{
			Repo:       manifest.FullName(),
			Branch:     manifest.Branch,
			Commit:     manifest.CommitSHA,
			Files:      res.stats.FilesFetched,
			Chunks:     res.stats.Chunks,
			Points:     res.stats.Points,
			FinishedAt: time.Now().UTC(),
		}
		if a.embedder != nil {
			info.Model = a.embedder.Name()
		}
		if data, err := json.Marshal(info); err == nil {
			if err := a.store.SetMeta(ctx, "last_analysis", string(data)); err != nil {
				a.log.Warn("could not record run metadata", zap.Error(err))
			}
		}
		if data, err := json.Marshal(an.Facts()); err == nil {
			if err := a.store.SetMeta(ctx, "repo_facts", string(data)); err != nil {
				a.log.Warn("could not record repository facts", zap.Error(err))
			}
		}
	}

	an.Stats.Duration = time.Since(start)
	a.log.Info("analysis complete",
		zap.String("repo", manifest.FullName()),
		zap.Int("fetched", an.Stats.FilesFetched),
		zap.Int("skipped", an.Stats.FilesSkipped),
		zap.Int("chunks", an.Stats.Chunks),
		zap.Int("points", an.Stats.Points),
		zap.Bool("embedded", an.EmbeddingsGenerated),
		zap.Duration("took", an.Stats.Duration))
	return an, nil
}

// LastAnalysis returns the persisted record of the most recent run, or nil
// when none has completed.
func (a *Analyzer) LastAnalysis(ctx context.Context) (*RunInfo, error) {
	if a.store == nil {
		return nil, nil
	}
	raw, err := a.store.GetMeta(ctx, "last_analysis")
	if err != nil || raw == "" {
		return nil, err
	}
	var info RunInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("corrupt run metadata: %w", err)
	}
	return &info, nil
}

// StoredFacts returns the repository facts persisted by the last analysis,
// or nil when none are stored. Chat surfaces use them to answer about the
// analyzed repository without re-walking it.
func (a *Analyzer) StoredFacts(ctx context.Context) (*rag.RepoFacts, error) {
	if a.store == nil {
		return nil, nil
	}
	raw, err := a.store.GetMeta(ctx, "repo_facts")
	if err != nil || raw == "" {
		return nil, err
	}
	var facts rag.RepoFacts
	if err := json.Unmarshal([]byte(raw), &facts); err != nil {
		return nil, fmt.Errorf("corrupt stored facts: %w", err)
	}
	return &facts, nil
}

// Search classifies the query, embeds it and searches the matching
// collection. A query that names a file searches with a lowered threshold
// and a path filter, mirroring the assembler's retrieval.
func (a *Analyzer) Search(ctx context.Context, query string, k int) ([]store.SearchResult, error) {
	if a.store == nil || a.embedder == nil {
		return nil, store.ErrUnavailable
	}
	if k <= 0 {
		k = a.cfg.TopK
	}
	info := rag.Classify(query)
	vec, err := embedder.EmbedOne(ctx, a.embedder, query)
	if err != nil {
		return nil, err
	}
	threshold := a.cfg.ScoreThreshold
	var filter *store.Filter
	if info.FileHint != "" {
		threshold = rag.FileHintThreshold
		filter = &store.Filter{PathGlob: info.FileHint}
	}
	return a.store.Search(ctx, rag.CollectionFor(info.Type), vec, k, threshold, filter)
}

// prepareCollections makes sure every collection exists with the current
// embedder's dimensions. A change of embedding model drops the indexed
// collections first; vectors from different models do not compare.
func (a *Analyzer) prepareCollections(ctx context.Context) error {
	name := a.embedder.Name()
	prev, err := a.store.GetMeta(ctx, "embedding_model")
	if err != nil {
		return err
	}
	if prev != "" && prev != name {
		a.log.Warn("embedding model changed, reindexing from scratch",
			zap.String("previous", prev), zap.String("current", name))
		for _, c := range collections {
			if err := a.store.DropCollection(ctx, c); err != nil {
				return err
			}
		}
	}
	dims := a.embedder.Dimensions()
	for _, c := range collections {
		if err := a.store.EnsureCollection(ctx, c, dims); err != nil {
			return err
		}
	}
	return a.store.SetMeta(ctx, "embedding_model", name)
}

// writeContextEntries records one entry for the repository and one per
// analyzed file, with resolved local imports as relationships. Failures
// are logged per entry; context entries are advisory.
func (a *Analyzer) writeContextEntries(an *Analysis, res *pipelineResult) {
	if a.contexts == nil {
		return
	}
	m := an.Manifest

	known := make(map[string]bool, len(res.files))
	for _, fa := range res.files {
		known[fa.ref.Path] = true
	}

	repoRels := make([]string, 0, len(res.files))
	for _, fa := range res.files {
		repoRels = append(repoRels, "file:"+fa.ref.Path)
	}
	content := m.FullName()
	if m.Description != "" {
		content += ": " + m.Description
	}
	repo := contextstore.Entry{
		ID:      "repo:" + m.FullName(),
		Type:    "repository",
		Content: content,
		Metadata: map[string]string{
			"language": m.Language,
			"branch":   m.Branch,
			"commit":   m.CommitSHA,
		},
		Relationships: repoRels,
	}
	if err := a.contexts.Put(repo); err != nil {
		a.log.Warn("context entry write failed", zap.String("id", repo.ID), zap.Error(err))
	}

	for _, fa := range res.files {
		var rels []string
		seen := map[string]bool{}
		for _, e := range fa.imports {
			target := resolveImport(fa.ref.Path, e.Module, known)
			if target == "" || seen[target] {
				continue
			}
			seen[target] = true
			rels = append(rels, "file:"+target)
		}
		entry := contextstore.Entry{
			ID:      "file:" + fa.ref.Path,
			Type:    "file",
			Content: fmt.Sprintf("%s (%s): %d chunks", fa.ref.Path, fa.lang, len(fa.chunks)),
			Metadata: map[string]string{
				"language": fa.lang,
			},
			Relationships: rels,
		}
		if len(fa.entries) > 0 {
			entry.Metadata["entry_points"] = strings.Join(fa.entries, ", ")
		}
		if len(fa.patterns) > 0 {
			entry.Metadata["patterns"] = strings.Join(fa.patterns, ", ")
		}
		if err := a.contexts.Put(entry); err != nil {
			a.log.Warn("context entry write failed", zap.String("id", entry.ID), zap.Error(err))
		}
	}
}
