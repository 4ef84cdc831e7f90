// Package github is a minimal GitHub REST v3 client covering the operations
// the tree walker and content fetcher need: repository metadata, branch
// resolution, directory listings and file contents. Every request passes
// through a shared Limiter and transient failures are retried with backoff.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"repomind/internal/retry"
)

const DefaultBaseURL = "https://api.github.com"

// Client talks to the GitHub REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *Limiter
	retrier *retry.Retrier
	log     *zap.Logger
}

// Options configures a Client. Zero values get sensible defaults; Retrier is
// overridable so tests can collapse the backoff schedule.
type Options struct {
	BaseURL  string
	Token    string
	Interval time.Duration
	Retrier  *retry.Retrier
	Logger   *zap.Logger
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Retrier == nil {
		opts.Retrier = retry.New(3)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		limiter: NewLimiter(opts.Interval),
		retrier: opts.Retrier,
		log:     opts.Logger,
	}
}

// Limiter exposes the shared rate limiter so tests can install a fake clock.
func (c *Client) Limiter() *Limiter { return c.limiter }

func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	var out Repository
	path := fmt.Sprintf("/repos/%s/%s", owner, repo)
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetBranch(ctx context.Context, owner, repo, branch string) (*Branch, error) {
	var out Branch
	path := fmt.Sprintf("/repos/%s/%s/branches/%s", owner, repo, url.PathEscape(branch))
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBranches pages through the branch list 100 at a time.
func (c *Client) ListBranches(ctx context.Context, owner, repo string) ([]Branch, error) {
	var all []Branch
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("per_page", "100")
		q.Set("page", fmt.Sprintf("%d", page))

		var batch []Branch
		path := fmt.Sprintf("/repos/%s/%s/branches", owner, repo)
		if err := c.getJSON(ctx, path, q, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			return all, nil
		}
	}
}

// ResolveSHA pins a branch name to its commit SHA. When the branch does not
// exist it fetches the branch list and returns a BranchNotFoundError carrying
// the known names.
func (c *Client) ResolveSHA(ctx context.Context, owner, repo, branch string) (string, error) {
	b, err := c.GetBranch(ctx, owner, repo, branch)
	if err == nil {
		return b.Commit.SHA, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	branches, listErr := c.ListBranches(ctx, owner, repo)
	nf := &BranchNotFoundError{Requested: branch}
	if listErr != nil {
		c.log.Warn("could not list branches after failed resolution",
			zap.String("repo", owner+"/"+repo), zap.Error(listErr))
		return "", nf
	}
	for _, b := range branches {
		nf.Available = append(nf.Available, b.Name)
	}
	return "", nf
}

// ListContents returns the entries of one directory at path for ref.
func (c *Client) ListContents(ctx context.Context, owner, repo, path, ref string) ([]ContentEntry, error) {
	q := url.Values{}
	if ref != "" {
		q.Set("ref", ref)
	}
	var out []ContentEntry
	apiPath := fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, escapePath(path))
	if err := c.getJSON(ctx, apiPath, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetFileContent fetches one file at path for ref and returns its decoded
// bytes. GitHub delivers content base64-encoded with embedded newlines.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	q := url.Values{}
	if ref != "" {
		q.Set("ref", ref)
	}
	var out FileContent
	apiPath := fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, escapePath(path))
	if err := c.getJSON(ctx, apiPath, q, &out); err != nil {
		return nil, err
	}
	if out.Encoding != "base64" {
		return nil, fmt.Errorf("unsupported content encoding %q for %s", out.Encoding, path)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decode base64 content of %s: %w", path, err)
	}
	return raw, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.retrier.Do(ctx, IsTransient, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("build request for %s: %w", path, err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("User-Agent", "repomind")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		case resp.StatusCode == http.StatusForbidden,
			resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode >= 500:
			// 403 from GitHub almost always means the rate limit tripped.
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("%w: %s returned %d: %s", ErrTransient, path, resp.StatusCode, strings.TrimSpace(string(body)))
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("github %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response from %s: %w", path, err)
		}
		return nil
	})
}

// escapePath escapes each path segment while keeping the separators.
func escapePath(p string) string {
	if p == "" {
		return ""
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
