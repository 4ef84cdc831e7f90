// Package contextstore persists lightweight context entries as one JSON
// file per entity with an in-memory cache in front. It backs prompt
// enrichment with repository and file relationships; it is not a database.
package contextstore

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"repomind/internal/cache"
)

// Entry is one stored context record. Relationships hold the IDs of
// related entries, e.g. a file's imported modules.
type Entry struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Content       string            `json:"content"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Relationships []string          `json:"relationships,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Store reads and writes entries under one directory.
type Store struct {
	dir   string
	cache *cache.Cache[Entry]
	log   *zap.Logger
}

func New(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create context dir: %w", err)
	}
	return &Store{
		dir:   dir,
		cache: cache.New[Entry](4096, 24*time.Hour),
		log:   log,
	}, nil
}

// Put writes the entry to disk atomically and refreshes the cache.
func (s *Store) Put(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("entry has no ID")
	}
	e.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entry %s: %w", e.ID, err)
	}
	path := s.filename(e.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write entry %s: %w", e.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit entry %s: %w", e.ID, err)
	}
	s.cache.Set(e.ID, e)
	return nil
}

// Get returns the entry or nil when it does not exist.
func (s *Store) Get(id string) (*Entry, error) {
	if e, ok := s.cache.Get(id); ok {
		return &e, nil
	}
	data, err := os.ReadFile(s.filename(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", id, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", id, err)
	}
	s.cache.Set(id, e)
	return &e, nil
}

// Related walks the relationship graph breadth-first up to maxDepth hops
// and returns every reachable entry, the closest first. Dangling
// relationship IDs are skipped.
func (s *Store) Related(id string, maxDepth int) ([]Entry, error) {
	root, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if root == nil || maxDepth <= 0 {
		return nil, nil
	}

	seen := map[string]bool{id: true}
	frontier := root.Relationships
	var out []Entry
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, rid := range frontier {
			if seen[rid] {
				continue
			}
			seen[rid] = true
			e, err := s.Get(rid)
			if err != nil {
				return nil, err
			}
			if e == nil {
				continue
			}
			out = append(out, *e)
			next = append(next, e.Relationships...)
		}
		frontier = next
	}
	return out, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// filename maps an ID to a stable on-disk name: a sanitized readable stem
// plus a hash of the raw ID so distinct IDs never collide.
func (s *Store) filename(id string) string {
	safe := unsafeChars.ReplaceAllString(id, "_")
	if len(safe) > 80 {
		safe = safe[:80]
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	return filepath.Join(s.dir, fmt.Sprintf("%s-%08x.json", safe, h.Sum32()))
}
