// Package query is the read surface over the cache and the upstream
// providers. Reads are cache-first; a miss triggers a live fetch with retry,
// and a failed fetch falls back to the most recent stale entry before any
// error reaches the caller.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cakahlul/em-cockpit/internal/events"
	"github.com/cakahlul/em-cockpit/internal/integration"
	"github.com/cakahlul/em-cockpit/internal/platform/cache"
	"github.com/cakahlul/em-cockpit/internal/platform/observability"
	"github.com/cakahlul/em-cockpit/internal/platform/resilience"
	"github.com/cakahlul/em-cockpit/internal/status"
)

// Config holds query service configuration
type Config struct {
	PrTTL       time.Duration
	IncidentTTL time.Duration
	TicketTTL   time.Duration
	StaleAfter  time.Duration
	PrFilter    integration.PrFilter
	Retry       resilience.RetryConfig
}

func (c *Config) applyDefaults() {
	if c.PrTTL <= 0 {
		c.PrTTL = 2 * time.Minute
	}
	if c.IncidentTTL <= 0 {
		c.IncidentTTL = 30 * time.Second
	}
	if c.TicketTTL <= 0 {
		c.TicketTTL = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 48 * time.Hour
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = resilience.DefaultRetryConfig()
	}
}

// StatusReport is the aggregated view served to the UI
type StatusReport struct {
	Level     status.AlertLevel       `json:"level"`
	LevelName string                  `json:"level_name"`
	Prs       *status.PrSummary       `json:"prs,omitempty"`
	Incidents *status.IncidentSummary `json:"incidents,omitempty"`
	// Degraded marks summaries served from expired cache entries
	Degraded bool `json:"degraded,omitempty"`
}

// Service answers read queries from the cache, falling back to live fetches
// and then to stale data
type Service struct {
	cfg     Config
	prs     integration.PullRequestRepository
	metrics integration.MetricsRepository
	tickets integration.TicketRepository
	store   *cache.Store
	bus     *events.Bus
	logger  *observability.Logger
}

// New creates a query service
func New(cfg Config, prs integration.PullRequestRepository, metrics integration.MetricsRepository,
	tickets integration.TicketRepository, store *cache.Store, bus *events.Bus,
	logger *observability.Logger) *Service {
	cfg.applyDefaults()

	return &Service{
		cfg:     cfg,
		prs:     prs,
		metrics: metrics,
		tickets: tickets,
		store:   store,
		bus:     bus,
		logger:  logger,
	}
}

// PullRequests returns the current open pull request list. Cache first, then
// a live fetch, then the stale cache entry if the fetch fails.
func (s *Service) PullRequests(ctx context.Context) ([]integration.PullRequest, error) {
	return readThrough(ctx, s, status.KeyPrList, s.cfg.PrTTL,
		func(ctx context.Context) ([]integration.PullRequest, error) {
			return s.prs.ListOpen(ctx, s.cfg.PrFilter)
		})
}

// Incidents returns the current active incident list
func (s *Service) Incidents(ctx context.Context) ([]integration.Incident, error) {
	return readThrough(ctx, s, status.KeyIncidentList, s.cfg.IncidentTTL,
		func(ctx context.Context) ([]integration.Incident, error) {
			return s.metrics.ActiveIncidents(ctx)
		})
}

// SearchTickets searches the work tracker, cached per normalized query
func (s *Service) SearchTickets(ctx context.Context, q integration.TicketQuery) ([]integration.Ticket, error) {
	key := status.KeyTicketSearchPrefix + q.CacheKey()
	return readThrough(ctx, s, key, s.cfg.TicketTTL,
		func(ctx context.Context) ([]integration.Ticket, error) {
			return s.tickets.Search(ctx, q)
		})
}

// Status aggregates both summaries into one report. Summaries come from the
// cache (live, then stale); a signal with no cached data at all is simply
// absent from the report rather than failing it.
func (s *Service) Status(ctx context.Context) StatusReport {
	var report StatusReport

	if pr, stale := summaryFor[status.PrSummary](ctx, s, status.KeyPrSummary); pr != nil {
		report.Prs = pr
		report.Degraded = report.Degraded || stale
	}
	if inc, stale := summaryFor[status.IncidentSummary](ctx, s, status.KeyIncidentSummary); inc != nil {
		report.Incidents = inc
		report.Degraded = report.Degraded || stale
	}

	report.Level = status.ComputeAlertLevel(report.Prs, report.Incidents)
	report.LevelName = report.Level.String()
	return report
}

// ServiceMetrics fans out metric queries for several services concurrently
func (s *Service) ServiceMetrics(ctx context.Context, services []string) (map[string][]integration.Metric, error) {
	out := make(map[string][]integration.Metric, len(services))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	results := make([][]integration.Metric, len(services))

	for i, svc := range services {
		g.Go(func() error {
			metrics, err := s.metrics.ServiceMetrics(ctx, svc)
			if err != nil {
				return fmt.Errorf("metrics for %s: %w", svc, err)
			}
			results[i] = metrics
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, svc := range services {
		out[svc] = results[i]
	}
	return out, nil
}

// Invalidate removes a cache entry and announces it on the bus
func (s *Service) Invalidate(ctx context.Context, key string) {
	s.store.Invalidate(ctx, key)
	s.bus.Publish(events.CacheInvalidated{Key: key})
}

// InvalidateByPrefix removes all entries under prefix and announces it
func (s *Service) InvalidateByPrefix(ctx context.Context, prefix string) {
	s.store.InvalidateByPrefix(ctx, prefix)
	s.bus.Publish(events.CacheInvalidated{Key: prefix, Prefix: true})
}

// summaryFor reads one summary from the cache, preferring live over stale.
// The second return reports whether the result came from an expired entry;
// a nil first return means that signal has no cached data at all.
func summaryFor[T any](ctx context.Context, s *Service, key string) (*T, bool) {
	if live, err := cache.GetJSON[T](ctx, s.store, key); err == nil {
		return &live, false
	}

	stale, err := cache.GetStaleJSON[T](ctx, s.store, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			s.logger.LogWarn(ctx, "discarding undecodable cache entry", "key", key, "error", err)
		}
		return nil, false
	}
	return &stale, true
}

// readThrough is the shared cache-first read path: live cache hit, else a
// retried provider fetch written back to the cache, else the stale entry.
// The fetch error surfaces only when nothing is cached at all.
func readThrough[T any](ctx context.Context, s *Service, key string, ttl time.Duration,
	fetch func(context.Context) (T, error)) (T, error) {

	if cached, err := cache.GetJSON[T](ctx, s.store, key); err == nil {
		return cached, nil
	}

	fresh, fetchErr := resilience.RetryWithResult(ctx, s.cfg.Retry, integration.Retryable, fetch)
	if fetchErr == nil {
		if err := s.store.Set(ctx, key, fresh, ttl); err != nil {
			s.logger.LogWarn(ctx, "failed to cache fetch result", "key", key, "error", err)
		}
		return fresh, nil
	}

	if stale, err := cache.GetStaleJSON[T](ctx, s.store, key); err == nil {
		s.logger.LogWarn(ctx, "live fetch failed, serving stale data",
			"key", key, "error", fetchErr)
		return stale, nil
	}

	var zero T
	return zero, fetchErr
}
