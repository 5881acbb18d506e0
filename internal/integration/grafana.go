package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cakahlul/em-cockpit/internal/platform/observability"
	"github.com/cakahlul/em-cockpit/internal/platform/resilience"
)

// GrafanaProvider implements MetricsRepository against Grafana's alertmanager
// and datasource proxy APIs
type GrafanaProvider struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	rateLimiter *resilience.RateLimiter
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// GrafanaProviderConfig holds Grafana provider configuration
type GrafanaProviderConfig struct {
	BaseURL string
	APIKey  string
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// grafanaAlert is the alertmanager v2 alert payload subset the cockpit reads
type grafanaAlert struct {
	Fingerprint string            `json:"fingerprint"`
	StartsAt    time.Time         `json:"startsAt"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	Status      struct {
		State string `json:"state"`
	} `json:"status"`
}

// prometheusQueryResponse is the datasource proxy query result subset
type prometheusQueryResponse struct {
	Data struct {
		Result []struct {
			Value [2]any `json:"value"` // [unix timestamp, string value]
		} `json:"result"`
	} `json:"data"`
}

// NewGrafanaProvider creates a Grafana incidents/metrics provider
func NewGrafanaProvider(cfg GrafanaProviderConfig) (*GrafanaProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("grafana base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("grafana API key is required")
	}

	return &GrafanaProvider{
		client:      &http.Client{Timeout: 10 * time.Second},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		rateLimiter: resilience.NewRateLimiterFromRPM(120, 10),
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}, nil
}

// ActiveIncidents returns the currently firing alerts as incidents
func (g *GrafanaProvider) ActiveIncidents(ctx context.Context) ([]Incident, error) {
	const op = "active_incidents"

	body, err := g.get(ctx, op, g.baseURL+"/api/alertmanager/grafana/api/v2/alerts")
	if err != nil {
		return nil, err
	}

	var alerts []grafanaAlert
	if err := json.Unmarshal(body, &alerts); err != nil {
		return nil, NewError(KindParse, "grafana", op, err)
	}

	incidents := make([]Incident, 0, len(alerts))
	for _, a := range alerts {
		if a.Status.State != "active" {
			continue
		}

		service := a.Labels["service"]
		if service == "" {
			service = "unknown"
		}

		description := a.Annotations["description"]
		if description == "" {
			description = a.Fingerprint
		}

		incidents = append(incidents, Incident{
			ID:          a.Fingerprint,
			Service:     service,
			Severity:    ParseSeverity(a.Labels["severity"]),
			StartedAt:   a.StartsAt,
			Description: description,
			RunbookURL:  a.Annotations["runbook_url"],
		})
	}

	return incidents, nil
}

// ServiceMetrics queries error rate and p95 latency for a service through the
// Grafana datasource proxy
func (g *GrafanaProvider) ServiceMetrics(ctx context.Context, service string) ([]Metric, error) {
	const op = "service_metrics"

	queries := []struct {
		expr string
		name string
		unit string
	}{
		{
			expr: fmt.Sprintf(`sum(rate(http_requests_total{service=%q,status=~"5.."}[5m])) / sum(rate(http_requests_total{service=%q}[5m])) * 100`, service, service),
			name: "error_rate",
			unit: "%",
		},
		{
			expr: fmt.Sprintf(`histogram_quantile(0.95, sum(rate(http_request_duration_seconds_bucket{service=%q}[5m])) by (le)) * 1000`, service),
			name: "latency_p95",
			unit: "ms",
		},
	}

	var results []Metric
	for _, q := range queries {
		endpoint := fmt.Sprintf("%s/api/datasources/proxy/1/api/v1/query?query=%s",
			g.baseURL, url.QueryEscape(q.expr))

		body, err := g.get(ctx, op, endpoint)
		if err != nil {
			return nil, err
		}

		var resp prometheusQueryResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, NewError(KindParse, "grafana", op, err)
		}

		for _, r := range resp.Data.Result {
			str, ok := r.Value[1].(string)
			if !ok {
				continue
			}
			value, err := strconv.ParseFloat(str, 64)
			if err != nil {
				continue
			}
			results = append(results, Metric{
				Name:      q.name,
				Value:     value,
				Unit:      q.unit,
				Timestamp: time.Now(),
			})
		}
	}

	return results, nil
}

// get performs an authenticated GET and classifies failures
func (g *GrafanaProvider) get(ctx context.Context, op, endpoint string) ([]byte, error) {
	if err := g.rateLimiter.Wait(ctx); err != nil {
		return nil, classifyTransport("grafana", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewError(KindAPI, "grafana", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.recordCall(ctx, op, "error", start)
		return nil, classifyTransport("grafana", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.recordCall(ctx, op, "error", start)
		return nil, classifyTransport("grafana", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		g.recordCall(ctx, op, fmt.Sprintf("%d", resp.StatusCode), start)
		return nil, classifyHTTP("grafana", op, resp.StatusCode, string(body))
	}
	g.recordCall(ctx, op, "ok", start)

	return body, nil
}

func (g *GrafanaProvider) recordCall(ctx context.Context, op, status string, start time.Time) {
	if g.metrics != nil {
		g.metrics.RecordProviderCall(ctx, "grafana", op, status, time.Since(start))
	}
}
