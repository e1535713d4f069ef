// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Masterminds/semver"
)

const (
	defaultAPIBaseURL = "https://api.github.com"
	defaultRepoOwner  = "venvoy"
	defaultRepoName   = "venvoy"

	// releasePageSize bounds the listing request. Stable releases are cut
	// far more often than 50 prereleases in a row, so one page is enough
	// to find the latest stable.
	releasePageSize = 50

	// maxResponseSize bounds API response bodies; a release listing is a
	// few hundred KB at most.
	maxResponseSize = 4 << 20
)

var (
	// ErrReleaseNotFound is the sentinel error wrapped by ReleaseNotFoundError.
	ErrReleaseNotFound = errors.New("release not found")
)

type (
	// Release is one published release.
	Release struct {
		Tag    string
		Assets []Asset
	}

	// Asset is one downloadable file attached to a release.
	Asset struct {
		Name string
		URL  string
		Size int64
	}

	// ReleaseSource lists published releases and serves their assets.
	ReleaseSource interface {
		// Latest returns the newest stable release, skipping drafts and
		// prereleases.
		Latest(ctx context.Context) (*Release, error)
		// ByTag returns the release published under an exact tag.
		ByTag(ctx context.Context, tag string) (*Release, error)
		// Download streams an asset's content into w.
		Download(ctx context.Context, asset Asset, w io.Writer) error
	}

	// ReleaseNotFoundError is returned when no release matches the request.
	ReleaseNotFoundError struct {
		Tag string
	}

	// RateLimitError is returned when the GitHub API refuses the request
	// because the caller's rate budget is spent.
	RateLimitError struct {
		ResetAt time.Time
	}

	// GitHubSource is a ReleaseSource over the GitHub releases REST API.
	GitHubSource struct {
		httpClient *http.Client
		baseURL    string
		owner      string
		repo       string
		token      string
		agent      string
	}

	// SourceOption configures a GitHubSource.
	SourceOption func(*GitHubSource)

	// ghRelease and ghAsset are the wire shapes of the REST responses.
	ghRelease struct {
		TagName    string    `json:"tag_name"`
		Draft      bool      `json:"draft"`
		Prerelease bool      `json:"prerelease"`
		Assets     []ghAsset `json:"assets"`
	}

	ghAsset struct {
		Name string `json:"name"`
		URL  string `json:"browser_download_url"`
		Size int64  `json:"size"`
	}
)

// Error implements the error interface.
func (e *ReleaseNotFoundError) Error() string {
	if e.Tag == "" {
		return "no stable release published"
	}
	return fmt.Sprintf("no release published under tag %q", e.Tag)
}

// Unwrap returns ErrReleaseNotFound for errors.Is() compatibility.
func (e *ReleaseNotFoundError) Unwrap() error { return ErrReleaseNotFound }

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("GitHub API rate limit exceeded, resets at %s", e.ResetAt.UTC().Format(time.RFC3339))
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) SourceOption {
	return func(s *GitHubSource) { s.httpClient = c }
}

// WithBaseURL points the source at a different API endpoint, for tests and
// GitHub Enterprise hosts.
func WithBaseURL(u string) SourceOption {
	return func(s *GitHubSource) { s.baseURL = u }
}

// WithToken authenticates API requests. Authenticated callers get a far
// higher rate budget.
func WithToken(token string) SourceOption {
	return func(s *GitHubSource) { s.token = token }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(agent string) SourceOption {
	return func(s *GitHubSource) { s.agent = agent }
}

// WithRepo points the source at a different repository.
func WithRepo(owner, repo string) SourceOption {
	return func(s *GitHubSource) {
		s.owner = owner
		s.repo = repo
	}
}

// NewGitHubSource creates a ReleaseSource over the venvoy GitHub repository.
func NewGitHubSource(opts ...SourceOption) *GitHubSource {
	s := &GitHubSource{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultAPIBaseURL,
		owner:      defaultRepoOwner,
		repo:       defaultRepoName,
		agent:      "venvoy",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Latest returns the stable release with the highest version tag. Drafts,
// prereleases, and tags that do not parse as versions are skipped.
func (s *GitHubSource) Latest(ctx context.Context) (*Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d", s.baseURL, s.owner, s.repo, releasePageSize)
	body, err := s.get(ctx, endpoint, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}

	var page []ghRelease
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to parse release listing: %w", err)
	}

	var (
		best    *ghRelease
		bestVer *semver.Version
	)
	for i := range page {
		rel := &page[i]
		if rel.Draft || rel.Prerelease {
			continue
		}
		ver, err := semver.NewVersion(rel.TagName)
		if err != nil {
			continue
		}
		if bestVer == nil || ver.GreaterThan(bestVer) {
			best, bestVer = rel, ver
		}
	}
	if best == nil {
		return nil, &ReleaseNotFoundError{}
	}
	return best.toRelease(), nil
}

// ByTag returns the release published under tag, wrapping a 404 in
// ErrReleaseNotFound.
func (s *GitHubSource) ByTag(ctx context.Context, tag string) (*Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", s.baseURL, s.owner, s.repo, url.PathEscape(tag))
	body, err := s.get(ctx, endpoint, "application/vnd.github+json")
	if err != nil {
		var nf *ReleaseNotFoundError
		if errors.As(err, &nf) {
			return nil, &ReleaseNotFoundError{Tag: tag}
		}
		return nil, err
	}

	var rel ghRelease
	if err := json.Unmarshal(body, &rel); err != nil {
		return nil, fmt.Errorf("failed to parse release %q: %w", tag, err)
	}
	return rel.toRelease(), nil
}

// Download streams an asset into w.
func (s *GitHubSource) Download(ctx context.Context, asset Asset, w io.Writer) error {
	resp, err := s.do(ctx, asset.URL, "application/octet-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to download %s: %w", asset.Name, err)
	}
	return nil
}

// get performs a bounded-read GET against the API.
func (s *GitHubSource) get(ctx context.Context, endpoint, accept string) ([]byte, error) {
	resp, err := s.do(ctx, endpoint, accept)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read API response: %w", err)
	}
	return body, nil
}

// do issues the request and classifies non-2xx answers. The token travels
// only to the configured API host, never to redirect targets elsewhere.
func (s *GitHubSource) do(ctx context.Context, endpoint, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", s.agent)
	if s.token != "" && sameHost(s.baseURL, endpoint) {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Host, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, &ReleaseNotFoundError{}
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		defer resp.Body.Close()
		var resetAt time.Time
		if epoch, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			resetAt = time.Unix(epoch, 0)
		}
		return nil, &RateLimitError{ResetAt: resetAt}
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("GitHub API returned %s for %s", resp.Status, req.URL.Path)
	}
}

// sameHost reports whether two URLs name the same host, so credentials never
// leak to asset mirrors on other hosts.
func sameHost(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	return errA == nil && errB == nil && ua.Host == ub.Host
}

func (r *ghRelease) toRelease() *Release {
	rel := &Release{Tag: r.TagName, Assets: make([]Asset, 0, len(r.Assets))}
	for _, a := range r.Assets {
		rel.Assets = append(rel.Assets, Asset{Name: a.Name, URL: a.URL, Size: a.Size})
	}
	return rel
}
