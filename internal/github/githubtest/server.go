// Package githubtest serves an in-memory repository over the GitHub REST API
// surface the client consumes. Tests mutate branch heads, mark directories as
// failing and inspect which refs each content request carried.
package githubtest

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
)

// Repo describes the fake repository being served.
type Repo struct {
	Owner         string
	Name          string
	Description   string
	Language      string
	DefaultBranch string
	Branches      map[string]string // branch name -> commit SHA
	Files         map[string][]byte // path -> raw content at any ref
	// FilesByRef, when a requested ref has an entry here, overrides Files.
	// Lets pinning tests serve different snapshots per commit.
	FilesByRef map[string]map[string][]byte
}

// ContentRequest records one hit on the contents endpoint.
type ContentRequest struct {
	Path string
	Ref  string
}

// Server wraps httptest.Server with the fake repository state.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	repo      Repo
	failDirs  map[string]bool
	requests  []ContentRequest
	pendingMv *headMove
}

type headMove struct {
	branch string
	sha    string
}

func New(repo Repo) *Server {
	if repo.Branches == nil {
		repo.Branches = map[string]string{}
	}
	if repo.Files == nil {
		repo.Files = map[string][]byte{}
	}
	s := &Server{
		repo:     repo,
		failDirs: map[string]bool{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// SetBranchHead moves a branch to a new commit SHA mid-test.
func (s *Server) SetBranchHead(branch, sha string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repo.Branches[branch] = sha
}

// MoveHeadAfterResolve schedules a branch-head move that takes effect right
// after the next resolution of that branch, simulating a push landing while
// an analysis run is in flight.
func (s *Server) MoveHeadAfterResolve(branch, sha string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingMv = &headMove{branch: branch, sha: sha}
}

// FailDir makes listings of dir return a 500.
func (s *Server) FailDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDirs[dir] = true
}

// ContentRequests returns a copy of every contents-endpoint hit so far.
func (s *Server) ContentRequests() []ContentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ContentRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repoBase := fmt.Sprintf("/repos/%s/%s", s.repo.Owner, s.repo.Name)
	p := r.URL.Path

	switch {
	case p == repoBase:
		writeJSON(w, map[string]any{
			"name":           s.repo.Name,
			"full_name":      s.repo.Owner + "/" + s.repo.Name,
			"description":    s.repo.Description,
			"language":       s.repo.Language,
			"default_branch": s.repo.DefaultBranch,
		})

	case p == repoBase+"/branches":
		names := make([]string, 0, len(s.repo.Branches))
		for name := range s.repo.Branches {
			names = append(names, name)
		}
		sort.Strings(names)
		var out []map[string]any
		for _, name := range names {
			out = append(out, map[string]any{
				"name":   name,
				"commit": map[string]string{"sha": s.repo.Branches[name]},
			})
		}
		writeJSON(w, out)

	case strings.HasPrefix(p, repoBase+"/branches/"):
		name := strings.TrimPrefix(p, repoBase+"/branches/")
		sha, ok := s.repo.Branches[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{
			"name":   name,
			"commit": map[string]string{"sha": sha},
		})
		if s.pendingMv != nil && s.pendingMv.branch == name {
			s.repo.Branches[name] = s.pendingMv.sha
			s.pendingMv = nil
		}

	case strings.HasPrefix(p, repoBase+"/contents"):
		rel := strings.TrimPrefix(p, repoBase+"/contents")
		rel = strings.TrimPrefix(rel, "/")
		ref := r.URL.Query().Get("ref")
		s.requests = append(s.requests, ContentRequest{Path: rel, Ref: ref})
		s.serveContents(w, r, rel, ref)

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveContents(w http.ResponseWriter, r *http.Request, rel, ref string) {
	files := s.repo.Files
	if snapshot, ok := s.repo.FilesByRef[ref]; ok {
		files = snapshot
	}

	if content, ok := files[rel]; ok {
		encoded := base64.StdEncoding.EncodeToString(content)
		writeJSON(w, map[string]any{
			"name":     path.Base(rel),
			"path":     rel,
			"sha":      contentSHA(content),
			"size":     len(content),
			"type":     "file",
			"encoding": "base64",
			"content":  wrap(encoded, 60),
		})
		return
	}

	if s.failDirs[rel] {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	prefix := rel
	if prefix != "" {
		prefix += "/"
	}
	type entry struct {
		name, typ, pth string
		size           int
		sha            string
	}
	seen := map[string]entry{}
	for file, content := range files {
		if !strings.HasPrefix(file, prefix) {
			continue
		}
		rest := strings.TrimPrefix(file, prefix)
		if rest == "" {
			continue
		}
		if i := strings.Index(rest, "/"); i >= 0 {
			dir := rest[:i]
			seen[dir] = entry{name: dir, typ: "dir", pth: prefix + dir}
		} else {
			seen[rest] = entry{name: rest, typ: "file", pth: file, size: len(content), sha: contentSHA(content)}
		}
	}
	if len(seen) == 0 && rel != "" {
		http.NotFound(w, r)
		return
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]map[string]any, 0, len(names))
	for _, n := range names {
		e := seen[n]
		out = append(out, map[string]any{
			"name": e.name,
			"path": e.pth,
			"type": e.typ,
			"size": e.size,
			"sha":  e.sha,
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func contentSHA(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

func wrap(s string, width int) string {
	var sb strings.Builder
	for len(s) > width {
		sb.WriteString(s[:width])
		sb.WriteByte('\n')
		s = s[width:]
	}
	sb.WriteString(s)
	return sb.String()
}
