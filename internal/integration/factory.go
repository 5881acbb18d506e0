package integration

import "fmt"

// NewPullRequestRepository selects the pull request provider at configuration
// time. One implementation per provider; unknown providers are a
// configuration error, never a runtime type switch.
func NewPullRequestRepository(provider string, cfg GitHubProviderConfig) (PullRequestRepository, error) {
	switch provider {
	case "github":
		return NewGitHubProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported git provider %q", provider)
	}
}

// NewMetricsRepository selects the monitoring provider at configuration time
func NewMetricsRepository(platform string, cfg GrafanaProviderConfig) (MetricsRepository, error) {
	switch platform {
	case "grafana":
		return NewGrafanaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported monitoring platform %q", platform)
	}
}

// NewTicketRepository selects the ticket provider at configuration time
func NewTicketRepository(platform string, cfg JiraProviderConfig) (TicketRepository, error) {
	switch platform {
	case "jira":
		return NewJiraProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported ticket platform %q", platform)
	}
}
