package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newGitHubTestServer(t *testing.T, handler http.HandlerFunc) (*GitHubProvider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	provider, err := NewGitHubProvider(GitHubProviderConfig{
		BaseURL: srv.URL,
		Token:   "test-token",
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	return provider, srv
}

// TestGitHubListOpenMapsPayload verifies the GitHub payload mapping,
// including draft state and the reviewer match
func TestGitHubListOpenMapsPayload(t *testing.T) {
	provider, _ := newGitHubTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/api/pulls" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("state") != "open" {
			t.Errorf("Expected state=open, got %s", r.URL.Query().Get("state"))
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("Unexpected auth header: %s", auth)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"number": 12, "title": "Fix payment retries", "state": "open", "draft": false,
			 "user": {"login": "alice"},
			 "requested_reviewers": [{"login": "bob"}],
			 "updated_at": "2026-08-28T10:00:00Z", "created_at": "2026-08-20T09:00:00Z",
			 "html_url": "https://github.com/acme/api/pull/12"},
			{"number": 13, "title": "WIP schema change", "state": "open", "draft": true,
			 "user": {"login": "carol"},
			 "requested_reviewers": [],
			 "updated_at": "2026-08-29T11:00:00Z", "created_at": "2026-08-29T08:00:00Z",
			 "html_url": "https://github.com/acme/api/pull/13"}
		]`))
	})

	prs, err := provider.ListOpen(context.Background(), PrFilter{
		Repositories: []string{"acme/api"},
		ReviewerID:   "bob",
	})
	if err != nil {
		t.Fatalf("ListOpen failed: %v", err)
	}
	if len(prs) != 2 {
		t.Fatalf("Expected 2 PRs, got %d", len(prs))
	}

	first := prs[0]
	if first.ID != "acme/api#12" {
		t.Errorf("Unexpected ID: %s", first.ID)
	}
	if first.State != PrStateOpen || !first.ReviewRequested {
		t.Errorf("Expected open PR pending review, got %+v", first)
	}
	if first.Author.Name != "alice" {
		t.Errorf("Unexpected author: %+v", first.Author)
	}

	second := prs[1]
	if second.State != PrStateDraft {
		t.Errorf("Expected draft state, got %v", second.State)
	}
	if second.ReviewRequested {
		t.Error("Did not expect review requested for second PR")
	}

	t.Log("✓ GitHub payload maps to provider-neutral PRs")
}

// TestGitHubListOpenSpansRepositories verifies fan-out over the filter's
// repository list with the limit applied
func TestGitHubListOpenSpansRepositories(t *testing.T) {
	provider, _ := newGitHubTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"number": 1, "title": "x", "state": "open",
			"user": {"login": "a"}, "updated_at": "2026-08-29T00:00:00Z",
			"created_at": "2026-08-29T00:00:00Z"}]`))
	})

	prs, err := provider.ListOpen(context.Background(), PrFilter{
		Repositories: []string{"acme/api", "acme/worker", "acme/web"},
		Limit:        2,
	})
	if err != nil {
		t.Fatalf("ListOpen failed: %v", err)
	}
	if len(prs) != 2 {
		t.Errorf("Expected limit of 2 applied, got %d", len(prs))
	}
	if prs[0].Repository != "acme/api" || prs[1].Repository != "acme/worker" {
		t.Errorf("Unexpected repositories: %s, %s", prs[0].Repository, prs[1].Repository)
	}

	t.Log("✓ listing spans repositories and honors the limit")
}

// TestGitHubRateLimitClassification verifies the 403-with-drained-quota case
func TestGitHubRateLimitClassification(t *testing.T) {
	provider, _ := newGitHubTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := provider.ListOpen(context.Background(), PrFilter{Repositories: []string{"acme/api"}})
	if !IsRateLimited(err) {
		t.Errorf("Expected rate limited error, got %v", err)
	}

	t.Log("✓ drained quota 403s classify as rate limiting")
}

// TestGitHubAuthClassification verifies that a plain 401 reads as auth
func TestGitHubAuthClassification(t *testing.T) {
	provider, _ := newGitHubTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := provider.ListOpen(context.Background(), PrFilter{Repositories: []string{"acme/api"}})
	if !IsAuth(err) {
		t.Errorf("Expected auth error, got %v", err)
	}
}

// TestGitHubParseErrorClassification verifies malformed payload handling
func TestGitHubParseErrorClassification(t *testing.T) {
	provider, _ := newGitHubTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	_, err := provider.ListOpen(context.Background(), PrFilter{Repositories: []string{"acme/api"}})
	if KindOf(err) != KindParse {
		t.Errorf("Expected parse error, got %v", err)
	}
}

// TestNewGitHubProviderRequiresToken verifies construction validation
func TestNewGitHubProviderRequiresToken(t *testing.T) {
	if _, err := NewGitHubProvider(GitHubProviderConfig{}); err == nil {
		t.Error("Expected error without token")
	}
}
