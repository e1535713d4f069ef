// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// releaseServer serves a fixed release list the way the GitHub REST API
// does, recording the Authorization header of every request.
func releaseServer(t *testing.T, releases []ghRelease) (*httptest.Server, *[]string) {
	t.Helper()

	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")

		if tag, ok := strings.CutPrefix(r.URL.Path, "/repos/venvoy/venvoy/releases/tags/"); ok {
			for _, rel := range releases {
				if rel.TagName == tag {
					json.NewEncoder(w).Encode(rel)
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"Not Found"}`)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/releases") {
			json.NewEncoder(w).Encode(releases)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return srv, &auths
}

func TestGitHubSource_Latest_PicksHighestStable(t *testing.T) {
	t.Parallel()

	srv, _ := releaseServer(t, []ghRelease{
		{TagName: "v2.0.0-rc.1", Prerelease: true},
		{TagName: "v1.9.0", Draft: true},
		{TagName: "v1.2.0"},
		// Semver order, not listing or lexical order, decides.
		{TagName: "v1.10.0", Assets: []ghAsset{{Name: "SHA256SUMS", URL: "u", Size: 3}}},
		{TagName: "not-a-tag"},
	})
	src := NewGitHubSource(WithBaseURL(srv.URL))

	rel, err := src.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	want := &Release{Tag: "v1.10.0", Assets: []Asset{{Name: "SHA256SUMS", URL: "u", Size: 3}}}
	if diff := cmp.Diff(want, rel); diff != "" {
		t.Errorf("release mismatch (-want +got):\n%s", diff)
	}
}

func TestGitHubSource_Latest_NoStableRelease(t *testing.T) {
	t.Parallel()

	srv, _ := releaseServer(t, []ghRelease{
		{TagName: "v1.0.0-beta.1", Prerelease: true},
	})
	src := NewGitHubSource(WithBaseURL(srv.URL))

	if _, err := src.Latest(context.Background()); !errors.Is(err, ErrReleaseNotFound) {
		t.Errorf("error = %v, want ErrReleaseNotFound", err)
	}
}

func TestGitHubSource_ByTag(t *testing.T) {
	t.Parallel()

	srv, _ := releaseServer(t, []ghRelease{{TagName: "v1.0.5"}})
	src := NewGitHubSource(WithBaseURL(srv.URL))
	ctx := context.Background()

	rel, err := src.ByTag(ctx, "v1.0.5")
	if err != nil {
		t.Fatalf("ByTag: %v", err)
	}
	if rel.Tag != "v1.0.5" {
		t.Errorf("Tag = %q", rel.Tag)
	}

	_, err = src.ByTag(ctx, "v9.9.9")
	if !errors.Is(err, ErrReleaseNotFound) {
		t.Fatalf("error = %v, want ErrReleaseNotFound", err)
	}
	var nf *ReleaseNotFoundError
	if !errors.As(err, &nf) || nf.Tag != "v9.9.9" {
		t.Errorf("error should carry the requested tag: %v", err)
	}
}

func TestGitHubSource_RateLimit(t *testing.T) {
	t.Parallel()

	resetAt := time.Date(2026, 8, 23, 15, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"API rate limit exceeded"}`)
	}))
	t.Cleanup(srv.Close)
	src := NewGitHubSource(WithBaseURL(srv.URL))

	_, err := src.Latest(context.Background())
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if !rle.ResetAt.Equal(resetAt) {
		t.Errorf("ResetAt = %v, want %v", rle.ResetAt, resetAt)
	}
}

func TestGitHubSource_TokenStaysOnAPIHost(t *testing.T) {
	t.Parallel()

	// A second host serves the asset; the token must not follow it there.
	var assetAuth string
	assetSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assetAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, "asset-bytes")
	}))
	t.Cleanup(assetSrv.Close)

	apiSrv, auths := releaseServer(t, []ghRelease{{TagName: "v1.0.0"}})
	src := NewGitHubSource(WithBaseURL(apiSrv.URL), WithToken("secret-token"))
	ctx := context.Background()

	if _, err := src.Latest(ctx); err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(*auths) == 0 || (*auths)[0] != "Bearer secret-token" {
		t.Errorf("API request auth = %v, want the bearer token", *auths)
	}

	var buf bytes.Buffer
	err := src.Download(ctx, Asset{Name: "a.tar.gz", URL: assetSrv.URL + "/a.tar.gz"}, &buf)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if buf.String() != "asset-bytes" {
		t.Errorf("downloaded = %q", buf.String())
	}
	if assetAuth != "" {
		t.Errorf("asset request carried credentials: %q", assetAuth)
	}
}
