package store

import (
	"path"
	"strings"
	"time"
)

// Point is one embedded chunk headed for a collection. ID should come from
// PointID so identical content always maps to the same stored vector.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Payload is the metadata stored beside a vector and returned with hits.
type Payload struct {
	FilePath   string  `json:"file_path,omitempty"`
	Language   string  `json:"language,omitempty"`
	ChunkType  string  `json:"chunk_type,omitempty"`
	Name       string  `json:"name,omitempty"`
	StartLine  int     `json:"start_line,omitempty"`
	EndLine    int     `json:"end_line,omitempty"`
	Importance float64 `json:"importance,omitempty"`
	Content    string  `json:"content,omitempty"`
}

// Filter narrows a search to matching payloads. Zero fields are ignored.
type Filter struct {
	PathGlob      string
	ChunkTypes    []string
	Language      string
	MinImportance float64
}

// Matches reports whether a payload passes the filter. A nil filter
// matches everything.
func (f *Filter) Matches(p Payload) bool {
	if f == nil {
		return true
	}
	if f.PathGlob != "" && !globMatch(f.PathGlob, p.FilePath) {
		return false
	}
	if f.Language != "" && f.Language != p.Language {
		return false
	}
	if f.MinImportance > 0 && p.Importance < f.MinImportance {
		return false
	}
	if len(f.ChunkTypes) > 0 {
		ok := false
		for _, t := range f.ChunkTypes {
			if t == p.ChunkType {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// globMatch tries the pattern against the full path, then its base name,
// then falls back to a substring check so bare filenames work as hints.
func globMatch(pattern, p string) bool {
	if ok, err := path.Match(pattern, p); err == nil && ok {
		return true
	}
	if ok, err := path.Match(pattern, path.Base(p)); err == nil && ok {
		return true
	}
	return strings.Contains(p, pattern)
}

// SearchResult is one hit, scored by cosine similarity (higher is better).
type SearchResult struct {
	ID      string
	Score   float64
	Payload Payload
}

// CollectionInfo describes one collection for status reporting.
type CollectionInfo struct {
	Name        string
	Dimensions  int
	Points      int
	Status      string
	LastIndexed time.Time
}
