// Package integration defines the contracts for the external work-tracking
// services the cockpit aggregates (pull requests, incidents and metrics,
// tickets) and the HTTP clients implementing them. Each repository interface
// has one implementation per provider, selected at configuration time.
package integration

import (
	"context"
	"strconv"
	"time"
)

// User identifies a person on an external service
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PrState is the lifecycle state of a pull request
type PrState string

const (
	PrStateOpen     PrState = "open"
	PrStateDraft    PrState = "draft"
	PrStateMerged   PrState = "merged"
	PrStateDeclined PrState = "declined"
)

// PullRequest is a provider-neutral pull request snapshot
type PullRequest struct {
	ID              string    `json:"id"`
	Repository      string    `json:"repository"`
	Title           string    `json:"title"`
	State           PrState   `json:"state"`
	Author          User      `json:"author"`
	ReviewRequested bool      `json:"review_requested"`
	UpdatedAt       time.Time `json:"updated_at"`
	CreatedAt       time.Time `json:"created_at"`
	URL             string    `json:"url"`
}

// PrFilter narrows pull request listings
type PrFilter struct {
	Repositories []string
	ReviewerID   string
	Limit        int
}

// Severity orders incidents from least to most severe
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParseSeverity maps provider severity labels onto the shared scale.
// Unknown labels land on medium rather than being dropped.
func ParseSeverity(label string) Severity {
	switch label {
	case "critical", "p1":
		return SeverityCritical
	case "high", "p2":
		return SeverityHigh
	case "medium", "warning", "p3":
		return SeverityMedium
	case "low", "info", "p4":
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Incident is an active alert on a monitored service
type Incident struct {
	ID          string    `json:"id"`
	Service     string    `json:"service"`
	Severity    Severity  `json:"severity"`
	StartedAt   time.Time `json:"started_at"`
	Description string    `json:"description"`
	RunbookURL  string    `json:"runbook_url,omitempty"`
}

// Metric is a single measurement for a monitored service
type Metric struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
}

// TicketStatus groups provider-specific workflow states
type TicketStatus string

const (
	TicketStatusTodo       TicketStatus = "todo"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusDone       TicketStatus = "done"
)

// Ticket is a provider-neutral issue snapshot
type Ticket struct {
	Key       string       `json:"key"`
	Summary   string       `json:"summary"`
	Status    TicketStatus `json:"status"`
	Assignee  string       `json:"assignee,omitempty"`
	Priority  string       `json:"priority,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
	URL       string       `json:"url,omitempty"`
}

// TicketQuery parameterizes a ticket search
type TicketQuery struct {
	Text    string
	Project string
	Limit   int
}

// CacheKey returns a stable cache key fragment for the query
func (q TicketQuery) CacheKey() string {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	return q.Project + ":" + q.Text + ":" + strconv.Itoa(limit)
}

// PullRequestRepository lists open pull requests from a code hosting provider
type PullRequestRepository interface {
	ListOpen(ctx context.Context, filter PrFilter) ([]PullRequest, error)
}

// MetricsRepository reports active incidents and service metrics from a
// monitoring provider
type MetricsRepository interface {
	ActiveIncidents(ctx context.Context) ([]Incident, error)
	ServiceMetrics(ctx context.Context, service string) ([]Metric, error)
}

// TicketRepository searches tickets on a work tracking provider
type TicketRepository interface {
	Search(ctx context.Context, query TicketQuery) ([]Ticket, error)
}
