// Package walker turns a repository URL into a manifest of the remote tree:
// code files with sizes and content SHAs, the directory structure and an
// extension histogram, all pinned to a single commit.
package walker

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"repomind/internal/github"
)

// codeExtensions marks the file types treated as source code. Every other
// file still contributes to the extension histogram.
var codeExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".java": true, ".cpp": true, ".c": true, ".h": true, ".cs": true,
	".rb": true, ".php": true, ".go": true, ".rs": true, ".swift": true,
	".kt": true, ".dart": true, ".vue": true, ".scala": true, ".r": true,
	".jl": true,
}

// maxFileSize is the largest file the pipeline will fetch (1 MB), matching
// the contents API limit for base64 payloads.
const maxFileSize = 1 << 20

// FileRef is one code file recorded in the manifest.
type FileRef struct {
	Path      string
	Size      int64
	Extension string
	SHA       string
}

// Manifest is the immutable summary of one repository snapshot. A new
// analysis produces a new manifest; nothing mutates an old one.
type Manifest struct {
	Owner       string
	Repo        string
	Description string
	Language    string
	Branch      string
	CommitSHA   string
	Subpath     string
	TotalFiles  int
	Extensions  map[string]int
	Directories []string
	CodeFiles   []FileRef
	SkippedDirs []string
}

func (m *Manifest) FullName() string { return m.Owner + "/" + m.Repo }

// Walker lists a remote repository tree through the GitHub API. Sibling
// directories are listed concurrently; every request still passes through
// the client's shared rate limiter.
type Walker struct {
	client      *github.Client
	maxSize     int64
	concurrency int
	log         *zap.Logger
}

func New(client *github.Client, maxSize int64, log *zap.Logger) *Walker {
	if maxSize <= 0 {
		maxSize = maxFileSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Walker{
		client:      client,
		maxSize:     maxSize,
		concurrency: 8,
		log:         log,
	}
}

// Walk resolves ref's branch to a commit SHA once, lists the tree beneath the
// subpath and returns the populated manifest. A directory that cannot be
// listed is skipped and recorded; URL and branch problems abort the walk.
func (w *Walker) Walk(ctx context.Context, ref Ref) (*Manifest, error) {
	repo, err := w.client.GetRepository(ctx, ref.Owner, ref.Repo)
	if err != nil {
		return nil, fmt.Errorf("get repository %s/%s: %w", ref.Owner, ref.Repo, err)
	}

	branch := ref.Branch
	if branch == "" {
		branch = repo.DefaultBranch
	}
	sha, err := w.client.ResolveSHA(ctx, ref.Owner, ref.Repo, branch)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Owner:       ref.Owner,
		Repo:        ref.Repo,
		Description: repo.Description,
		Language:    repo.Language,
		Branch:      branch,
		CommitSHA:   sha,
		Subpath:     ref.Subpath,
		Extensions:  make(map[string]int),
	}

	var mu sync.Mutex
	level := []string{ref.Subpath}
	for len(level) > 0 {
		var next []string
		var nextMu sync.Mutex

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.concurrency)
		for _, dir := range level {
			g.Go(func() error {
				entries, err := w.client.ListContents(gctx, ref.Owner, ref.Repo, dir, sha)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					w.log.Warn("skipping unlistable directory",
						zap.String("dir", dir), zap.Error(err))
					mu.Lock()
					m.SkippedDirs = append(m.SkippedDirs, dir)
					mu.Unlock()
					return nil
				}

				for _, e := range entries {
					switch e.Type {
					case "dir":
						mu.Lock()
						m.Directories = append(m.Directories, e.Path)
						mu.Unlock()
						nextMu.Lock()
						next = append(next, e.Path)
						nextMu.Unlock()
					case "file":
						w.recordFile(m, &mu, e)
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		level = next
	}

	sort.Strings(m.Directories)
	sort.Strings(m.SkippedDirs)
	sort.Slice(m.CodeFiles, func(i, j int) bool { return m.CodeFiles[i].Path < m.CodeFiles[j].Path })
	return m, nil
}

func (w *Walker) recordFile(m *Manifest, mu *sync.Mutex, e github.ContentEntry) {
	ext := strings.ToLower(path.Ext(e.Name))
	histKey := ext
	if histKey == "" {
		histKey = "(none)"
	}

	mu.Lock()
	defer mu.Unlock()

	m.TotalFiles++
	m.Extensions[histKey]++

	if !codeExtensions[ext] {
		return
	}
	if e.Size == 0 || e.Size > w.maxSize {
		w.log.Debug("skipping code file outside size bounds",
			zap.String("path", e.Path), zap.Int64("size", e.Size))
		return
	}
	m.CodeFiles = append(m.CodeFiles, FileRef{
		Path:      e.Path,
		Size:      e.Size,
		Extension: ext,
		SHA:       e.SHA,
	})
}
