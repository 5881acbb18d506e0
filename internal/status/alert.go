// Package status derives the overall alert level from independent PR and
// incident signal streams. Everything in this package is pure: no I/O, no
// clocks beyond explicit arguments, deterministic given its inputs.
package status

// AlertLevel is the single derived severity driving status indicators,
// ordered by severity
type AlertLevel int

const (
	// LevelNeutral means no summary has been computed yet
	LevelNeutral AlertLevel = iota
	// LevelGreen means data exists and nothing needs attention
	LevelGreen
	// LevelAmber means pending work exists (stale or pending-review PRs,
	// medium incidents)
	LevelAmber
	// LevelRed means a critical or high severity incident is active
	LevelRed
)

func (l AlertLevel) String() string {
	switch l {
	case LevelGreen:
		return "green"
	case LevelAmber:
		return "amber"
	case LevelRed:
		return "red"
	default:
		return "neutral"
	}
}

// ComputeAlertLevel maps the latest PR and incident summaries to one overall
// alert level. A nil summary means that signal has not been computed yet;
// both nil yields Neutral. Incident severity takes precedence over PR state.
func ComputeAlertLevel(pr *PrSummary, incident *IncidentSummary) AlertLevel {
	if pr == nil && incident == nil {
		return LevelNeutral
	}

	if incident != nil && (incident.CriticalCount > 0 || incident.HighCount > 0) {
		return LevelRed
	}

	if incident != nil && incident.MediumCount > 0 {
		return LevelAmber
	}
	if pr != nil && (pr.StaleCount > 0 || pr.PendingReview > 0) {
		return LevelAmber
	}

	return LevelGreen
}
