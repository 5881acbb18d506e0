package integration

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cakahlul/em-cockpit/internal/platform/observability"
	"github.com/cakahlul/em-cockpit/internal/platform/resilience"
)

// JiraProvider implements TicketRepository against the Jira Cloud REST API
type JiraProvider struct {
	client      *http.Client
	baseURL     string
	username    string
	token       string
	project     string
	rateLimiter *resilience.RateLimiter
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// JiraProviderConfig holds Jira provider configuration
type JiraProviderConfig struct {
	BaseURL  string
	Username string
	Token    string
	Project  string
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// jiraSearchRequest is the JQL search request body
type jiraSearchRequest struct {
	JQL        string   `json:"jql"`
	MaxResults int      `json:"maxResults"`
	Fields     []string `json:"fields"`
}

// jiraIssue is the search result subset the cockpit reads
type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
		Status  struct {
			Name           string `json:"name"`
			StatusCategory struct {
				Key string `json:"key"`
			} `json:"statusCategory"`
		} `json:"status"`
		Assignee *struct {
			DisplayName string `json:"displayName"`
		} `json:"assignee"`
		Priority *struct {
			Name string `json:"name"`
		} `json:"priority"`
		Updated string `json:"updated"`
	} `json:"fields"`
}

// NewJiraProvider creates a Jira ticket search provider
func NewJiraProvider(cfg JiraProviderConfig) (*JiraProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("jira base URL is required")
	}
	if cfg.Username == "" || cfg.Token == "" {
		return nil, fmt.Errorf("jira username and token are required")
	}

	return &JiraProvider{
		client:      &http.Client{Timeout: 10 * time.Second},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		username:    cfg.Username,
		token:       cfg.Token,
		project:     cfg.Project,
		rateLimiter: resilience.NewRateLimiterFromRPM(180, 10),
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}, nil
}

// Search runs a JQL search built from the query
func (j *JiraProvider) Search(ctx context.Context, query TicketQuery) ([]Ticket, error) {
	const op = "search_tickets"

	if err := j.rateLimiter.Wait(ctx); err != nil {
		return nil, classifyTransport("jira", op, err)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 10
	}

	reqBody, err := json.Marshal(jiraSearchRequest{
		JQL:        j.buildJQL(query),
		MaxResults: limit,
		Fields:     []string{"summary", "status", "assignee", "priority", "updated"},
	})
	if err != nil {
		return nil, NewError(KindAPI, "jira", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/rest/api/3/search", bytes.NewReader(reqBody))
	if err != nil {
		return nil, NewError(KindAPI, "jira", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", j.authHeader())

	start := time.Now()
	resp, err := j.client.Do(req)
	if err != nil {
		j.recordCall(ctx, op, "error", start)
		return nil, classifyTransport("jira", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		j.recordCall(ctx, op, "error", start)
		return nil, classifyTransport("jira", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		j.recordCall(ctx, op, fmt.Sprintf("%d", resp.StatusCode), start)
		return nil, classifyHTTP("jira", op, resp.StatusCode, string(body))
	}
	j.recordCall(ctx, op, "ok", start)

	var result struct {
		Issues []jiraIssue `json:"issues"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, NewError(KindParse, "jira", op, err)
	}

	tickets := make([]Ticket, 0, len(result.Issues))
	for _, issue := range result.Issues {
		tickets = append(tickets, j.mapIssue(issue))
	}
	return tickets, nil
}

// buildJQL assembles the JQL clause list from the query
func (j *JiraProvider) buildJQL(query TicketQuery) string {
	var clauses []string

	project := query.Project
	if project == "" {
		project = j.project
	}
	if project != "" {
		clauses = append(clauses, fmt.Sprintf("project = %q", project))
	}
	if query.Text != "" {
		escaped := strings.ReplaceAll(query.Text, `"`, `\"`)
		clauses = append(clauses, fmt.Sprintf(`text ~ "%s"`, escaped))
	}
	if len(clauses) == 0 {
		clauses = append(clauses, "updated >= -30d")
	}

	return strings.Join(clauses, " AND ") + " ORDER BY updated DESC"
}

func (j *JiraProvider) mapIssue(issue jiraIssue) Ticket {
	status := TicketStatusTodo
	switch issue.Fields.Status.StatusCategory.Key {
	case "indeterminate":
		status = TicketStatusInProgress
	case "done":
		status = TicketStatusDone
	}

	t := Ticket{
		Key:     issue.Key,
		Summary: issue.Fields.Summary,
		Status:  status,
		URL:     j.baseURL + "/browse/" + issue.Key,
	}
	if issue.Fields.Assignee != nil {
		t.Assignee = issue.Fields.Assignee.DisplayName
	}
	if issue.Fields.Priority != nil {
		t.Priority = issue.Fields.Priority.Name
	}
	if updated, err := time.Parse("2006-01-02T15:04:05.000-0700", issue.Fields.Updated); err == nil {
		t.UpdatedAt = updated
	}
	return t
}

func (j *JiraProvider) authHeader() string {
	credentials := base64.StdEncoding.EncodeToString([]byte(j.username + ":" + j.token))
	return "Basic " + credentials
}

func (j *JiraProvider) recordCall(ctx context.Context, op, status string, start time.Time) {
	if j.metrics != nil {
		j.metrics.RecordProviderCall(ctx, "jira", op, status, time.Since(start))
	}
}
