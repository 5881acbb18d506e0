package status

import (
	"time"

	"github.com/cakahlul/em-cockpit/internal/integration"
)

// PrSummary is an immutable snapshot of open pull request state, recomputed
// each poll tick and superseded immediately
type PrSummary struct {
	TotalOpen        int            `json:"total_open"`
	PendingReview    int            `json:"pending_review"`
	StaleCount       int            `json:"stale_count"`
	ByRepository     map[string]int `json:"by_repository,omitempty"`
	OldestStaleHours int64          `json:"oldest_stale_hours,omitempty"`
}

// IncidentSummary is an immutable snapshot of active incident state
type IncidentSummary struct {
	TotalActive   int            `json:"total_active"`
	CriticalCount int            `json:"critical_count"`
	HighCount     int            `json:"high_count"`
	MediumCount   int            `json:"medium_count"`
	LowCount      int            `json:"low_count"`
	ByService     map[string]int `json:"by_service,omitempty"`
}

// SummarizePullRequests folds a pull request list into a summary. A PR is
// stale when it has not been updated within staleAfter of now.
func SummarizePullRequests(prs []integration.PullRequest, staleAfter time.Duration, now time.Time) PrSummary {
	summary := PrSummary{ByRepository: make(map[string]int)}

	for _, pr := range prs {
		if pr.State != integration.PrStateOpen && pr.State != integration.PrStateDraft {
			continue
		}

		summary.TotalOpen++
		summary.ByRepository[pr.Repository]++

		if pr.ReviewRequested {
			summary.PendingReview++
		}

		age := now.Sub(pr.UpdatedAt)
		if age > staleAfter {
			summary.StaleCount++
			hours := int64(age.Hours())
			if hours > summary.OldestStaleHours {
				summary.OldestStaleHours = hours
			}
		}
	}

	if summary.TotalOpen == 0 {
		summary.ByRepository = nil
	}
	return summary
}

// SummarizeIncidents folds an incident list into per-severity counts
func SummarizeIncidents(incidents []integration.Incident) IncidentSummary {
	summary := IncidentSummary{ByService: make(map[string]int)}

	for _, incident := range incidents {
		summary.TotalActive++
		summary.ByService[incident.Service]++

		switch incident.Severity {
		case integration.SeverityCritical:
			summary.CriticalCount++
		case integration.SeverityHigh:
			summary.HighCount++
		case integration.SeverityMedium:
			summary.MediumCount++
		default:
			summary.LowCount++
		}
	}

	if summary.TotalActive == 0 {
		summary.ByService = nil
	}
	return summary
}
