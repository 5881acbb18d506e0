package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cakahlul/em-cockpit/internal/platform/observability"
	"github.com/cakahlul/em-cockpit/internal/platform/resilience"
)

// GitHubProvider implements PullRequestRepository against the GitHub REST API
type GitHubProvider struct {
	client      *http.Client
	baseURL     string
	token       string
	rateLimiter *resilience.RateLimiter
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// GitHubProviderConfig holds GitHub provider configuration
type GitHubProviderConfig struct {
	BaseURL        string
	Token          string
	RateLimitRPM   int
	RateLimitBurst int
	Logger         *observability.Logger
	Metrics        *observability.Metrics
}

// githubPr is the subset of the GitHub pulls payload the cockpit reads
type githubPr struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Draft  bool   `json:"draft"`
	User   struct {
		Login string `json:"login"`
	} `json:"user"`
	RequestedReviewers []struct {
		Login string `json:"login"`
	} `json:"requested_reviewers"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`
	HTMLURL   string    `json:"html_url"`
}

// NewGitHubProvider creates a GitHub pull request provider
func NewGitHubProvider(cfg GitHubProviderConfig) (*GitHubProvider, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.RateLimitRPM == 0 {
		cfg.RateLimitRPM = 300
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 10
	}

	return &GitHubProvider{
		client:      &http.Client{Timeout: 10 * time.Second},
		baseURL:     cfg.BaseURL,
		token:       cfg.Token,
		rateLimiter: resilience.NewRateLimiterFromRPM(cfg.RateLimitRPM, cfg.RateLimitBurst),
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}, nil
}

// ListOpen lists open pull requests across the filter's repositories
func (g *GitHubProvider) ListOpen(ctx context.Context, filter PrFilter) ([]PullRequest, error) {
	var all []PullRequest

	for _, repo := range filter.Repositories {
		prs, err := g.listRepo(ctx, repo, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, prs...)

		if filter.Limit > 0 && len(all) >= filter.Limit {
			return all[:filter.Limit], nil
		}
	}

	return all, nil
}

// listRepo lists open pull requests for a single "owner/name" repository
func (g *GitHubProvider) listRepo(ctx context.Context, repo string, filter PrFilter) ([]PullRequest, error) {
	const op = "list_open_prs"

	if err := g.rateLimiter.Wait(ctx); err != nil {
		return nil, classifyTransport("github", op, err)
	}

	url := fmt.Sprintf("%s/repos/%s/pulls?state=open&per_page=100", g.baseURL, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewError(KindAPI, "github", op, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+g.token)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.recordCall(ctx, op, "error", start)
		return nil, classifyTransport("github", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.recordCall(ctx, op, "error", start)
		return nil, classifyTransport("github", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		g.recordCall(ctx, op, fmt.Sprintf("%d", resp.StatusCode), start)
		// GitHub reports rate limiting as 403 with a drained quota header.
		if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return nil, &Error{Kind: KindRateLimited, Provider: "github", Op: op, Message: "rate limit exhausted"}
		}
		return nil, classifyHTTP("github", op, resp.StatusCode, string(body))
	}
	g.recordCall(ctx, op, "ok", start)

	var raw []githubPr
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, NewError(KindParse, "github", op, err)
	}

	prs := make([]PullRequest, 0, len(raw))
	for _, pr := range raw {
		prs = append(prs, g.mapPr(pr, repo, filter.ReviewerID))
	}
	return prs, nil
}

func (g *GitHubProvider) mapPr(pr githubPr, repo, reviewerID string) PullRequest {
	state := PrStateOpen
	if pr.Draft {
		state = PrStateDraft
	}

	reviewRequested := false
	for _, r := range pr.RequestedReviewers {
		if r.Login == reviewerID {
			reviewRequested = true
			break
		}
	}

	return PullRequest{
		ID:              fmt.Sprintf("%s#%d", repo, pr.Number),
		Repository:      repo,
		Title:           pr.Title,
		State:           state,
		Author:          User{ID: pr.User.Login, Name: pr.User.Login},
		ReviewRequested: reviewRequested,
		UpdatedAt:       pr.UpdatedAt,
		CreatedAt:       pr.CreatedAt,
		URL:             pr.HTMLURL,
	}
}

func (g *GitHubProvider) recordCall(ctx context.Context, op, status string, start time.Time) {
	if g.metrics != nil {
		g.metrics.RecordProviderCall(ctx, "github", op, status, time.Since(start))
	}
}
