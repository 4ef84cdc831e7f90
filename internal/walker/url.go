package walker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRepoURL marks input that cannot name a repository.
var ErrInvalidRepoURL = errors.New("invalid repository URL")

// Ref identifies what to analyze: a repository plus an optional branch and
// subpath scope parsed from the URL.
type Ref struct {
	Owner   string
	Repo    string
	Branch  string
	Subpath string
}

func (r Ref) String() string { return r.Owner + "/" + r.Repo }

// ParseRepoURL accepts "owner/repo", "github.com/owner/repo" (with or without
// scheme or a trailing .git) and the browser's
// ".../tree/<branch>/<subpath...>" form.
func ParseRepoURL(raw string) (Ref, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "github.com/"); i >= 0 {
		s = s[i+len("github.com/"):]
	} else {
		s = strings.TrimPrefix(s, "https://")
		s = strings.TrimPrefix(s, "http://")
	}
	s = strings.Trim(s, "/")

	var parts []string
	for _, p := range strings.Split(s, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRepoURL, raw)
	}

	ref := Ref{
		Owner: parts[0],
		Repo:  strings.TrimSuffix(parts[1], ".git"),
	}
	if ref.Owner == "" || ref.Repo == "" {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRepoURL, raw)
	}

	if len(parts) >= 4 && parts[2] == "tree" {
		ref.Branch = parts[3]
		if len(parts) > 4 {
			ref.Subpath = strings.Join(parts[4:], "/")
		}
	}
	return ref, nil
}
