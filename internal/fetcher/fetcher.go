// Package fetcher retrieves file contents for a pinned ref, caching decoded
// results in memory and tolerating absent optional files (READMEs and
// dependency manifests are probed, not required).
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"repomind/internal/cache"
	"repomind/internal/github"
)

// ErrContentDecode marks a file whose bytes are not valid UTF-8 text. The
// file is skipped with a warning; it never aborts an analysis.
var ErrContentDecode = errors.New("content not decodable as UTF-8 text")

// manifestFiles are fetched whole; lockFiles only get presence flags.
var (
	manifestFiles = []string{"package.json", "requirements.txt", "Pipfile", "pyproject.toml"}
	lockFiles     = []string{"package-lock.json", "yarn.lock", "Pipfile.lock", "poetry.lock"}
)

// DependencyInfo reports which dependency manifests a repository carries.
type DependencyInfo struct {
	Manifests map[string]string
	Lockfiles map[string]bool
}

type cached struct {
	data      []byte
	checksum  string
	fetchedAt time.Time
}

// Fetcher wraps the GitHub client with a TTL cache keyed (path, ref).
type Fetcher struct {
	client *github.Client
	owner  string
	repo   string
	cache  *cache.Cache[cached]
	now    func() time.Time
	log    *zap.Logger
}

func New(client *github.Client, owner, repo string, ttl time.Duration, log *zap.Logger) *Fetcher {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		client: client,
		owner:  owner,
		repo:   repo,
		cache:  cache.New[cached](4096, ttl),
		now:    time.Now,
		log:    log,
	}
}

// WithClock replaces the time source for cache expiry and fetch timestamps.
func (f *Fetcher) WithClock(now func() time.Time) *Fetcher {
	f.now = now
	f.cache.WithClock(now)
	return f
}

// Content returns the decoded text of path at ref. Hits are served from the
// cache; misses fetch, checksum and cache the bytes.
func (f *Fetcher) Content(ctx context.Context, path, ref string) ([]byte, error) {
	key := path + "@" + ref
	if c, ok := f.cache.Get(key); ok {
		return c.data, nil
	}

	raw, err := f.client.GetFileContent(ctx, f.owner, f.repo, path, ref)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: %s", ErrContentDecode, path)
	}

	sum := sha256.Sum256(raw)
	entry := cached{
		data:      raw,
		checksum:  hex.EncodeToString(sum[:]),
		fetchedAt: f.now(),
	}
	f.cache.Set(key, entry)
	f.log.Debug("fetched content",
		zap.String("path", path),
		zap.String("ref", ref),
		zap.Int("bytes", len(raw)),
		zap.String("checksum", entry.checksum[:12]))
	return raw, nil
}

// Readme probes the conventional README locations in order, the subpath
// first when one is scoped, and returns the first that resolves. No README
// is an empty result, not an error.
func (f *Fetcher) Readme(ctx context.Context, ref, subpath string) (string, error) {
	var candidates []string
	if subpath != "" {
		candidates = append(candidates, subpath+"/README.md", subpath+"/README.rst")
	}
	candidates = append(candidates, "README.md", "README.rst", "README", "README.txt")

	for _, path := range candidates {
		data, err := f.Content(ctx, path, ref)
		switch {
		case err == nil:
			return string(data), nil
		case errors.Is(err, github.ErrNotFound):
			continue
		case errors.Is(err, ErrContentDecode):
			f.log.Warn("readme is not text, skipping", zap.String("path", path))
			continue
		default:
			return "", err
		}
	}
	return "", nil
}

// DependencyManifests fetches the well-known manifest files that exist and
// flags which lockfiles are present at the repository root.
func (f *Fetcher) DependencyManifests(ctx context.Context, ref string) (*DependencyInfo, error) {
	info := &DependencyInfo{
		Manifests: make(map[string]string),
		Lockfiles: make(map[string]bool),
	}

	for _, name := range manifestFiles {
		data, err := f.Content(ctx, name, ref)
		switch {
		case err == nil:
			info.Manifests[name] = string(data)
		case errors.Is(err, github.ErrNotFound), errors.Is(err, ErrContentDecode):
			continue
		default:
			return nil, err
		}
	}

	entries, err := f.client.ListContents(ctx, f.owner, f.repo, "", ref)
	if err != nil {
		// Presence flags are best-effort; keep the manifests already found.
		f.log.Warn("could not list repository root for lockfiles", zap.Error(err))
		return info, nil
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Type == "file" {
			names[e.Name] = true
		}
	}
	for _, lf := range lockFiles {
		if names[lf] {
			info.Lockfiles[lf] = true
		}
	}
	return info, nil
}
