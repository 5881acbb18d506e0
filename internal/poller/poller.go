// Package poller runs the background refresh loops. Two independent loops
// poll pull requests and incidents on their own cadences, write results into
// the cache, and publish events. A failed tick changes nothing: the previous
// cached state keeps serving and the loop retries on its next tick.
package poller

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cakahlul/em-cockpit/internal/events"
	"github.com/cakahlul/em-cockpit/internal/integration"
	"github.com/cakahlul/em-cockpit/internal/platform/cache"
	"github.com/cakahlul/em-cockpit/internal/platform/observability"
	"github.com/cakahlul/em-cockpit/internal/status"
)

// Config holds poller configuration
type Config struct {
	// PrInterval is the pull request loop cadence
	PrInterval time.Duration
	// IncidentInterval is the incident loop cadence
	IncidentInterval time.Duration
	// FetchTimeout bounds each tick's provider call
	FetchTimeout time.Duration
	// ShutdownGrace bounds how long Stop waits for in-flight ticks
	ShutdownGrace time.Duration
	// PrTTL and IncidentTTL are the cache lifetimes for poll results
	PrTTL       time.Duration
	IncidentTTL time.Duration
	// StaleAfter is the age past which an open PR counts as stale
	StaleAfter time.Duration
	// PrFilter scopes the pull request listing
	PrFilter integration.PrFilter
}

func (c *Config) applyDefaults() {
	if c.PrInterval <= 0 {
		c.PrInterval = 2 * time.Minute
	}
	if c.IncidentInterval <= 0 {
		c.IncidentInterval = 30 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	if c.PrTTL <= 0 {
		c.PrTTL = 2 * time.Minute
	}
	if c.IncidentTTL <= 0 {
		c.IncidentTTL = 30 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 48 * time.Hour
	}
}

// Poller owns the background refresh loops and the latest aggregated state
type Poller struct {
	cfg     Config
	prs     integration.PullRequestRepository
	metrics integration.MetricsRepository
	store   *cache.Store
	bus     *events.Bus
	logger  *observability.Logger
	obs     *observability.Metrics

	// The loops communicate only through the cache and the bus; the poller
	// itself keeps just the last published level for change detection.
	mu        sync.Mutex
	lastLevel status.AlertLevel

	// authFailed dedupes auth error logs per loop until the loop recovers
	authFailed map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a poller. Call Start to begin polling.
func New(cfg Config, prs integration.PullRequestRepository, metrics integration.MetricsRepository,
	store *cache.Store, bus *events.Bus, logger *observability.Logger, obs *observability.Metrics) *Poller {
	cfg.applyDefaults()

	return &Poller{
		cfg:        cfg,
		prs:        prs,
		metrics:    metrics,
		store:      store,
		bus:        bus,
		logger:     logger,
		obs:        obs,
		lastLevel:  status.LevelNeutral,
		authFailed: make(map[string]bool),
	}
}

// Start seeds state from the cache and launches both loops. Each loop fires
// immediately, then on its configured cadence.
func (p *Poller) Start(ctx context.Context) {
	p.seed(ctx)

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.loop(ctx, "pr", p.cfg.PrInterval, p.pollPullRequests)
		return nil
	})
	g.Go(func() error {
		p.loop(ctx, "incident", p.cfg.IncidentInterval, p.pollIncidents)
		return nil
	})

	go func() {
		_ = g.Wait()
		close(p.done)
	}()

	p.logger.Info("poller started",
		"pr_interval", p.cfg.PrInterval, "incident_interval", p.cfg.IncidentInterval)
}

// Stop cancels both loops and waits up to ShutdownGrace for in-flight ticks
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()

	select {
	case <-p.done:
	case <-time.After(p.cfg.ShutdownGrace):
		p.logger.Warn("poller shutdown grace elapsed, abandoning in-flight ticks")
	}
}

// Level returns the most recently derived alert level
func (p *Poller) Level() status.AlertLevel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLevel
}

// seed restores the last known summaries from the cache so a restart does
// not regress the level to Neutral while the first ticks are in flight.
// Stale entries are acceptable here; the loops refresh them immediately.
func (p *Poller) seed(ctx context.Context) {
	pr, inc := p.cachedSummaries(ctx)

	p.lastLevel = status.ComputeAlertLevel(pr, inc)
	if p.obs != nil {
		p.obs.SetAlertLevel(ctx, int64(p.lastLevel))
	}

	if pr != nil || inc != nil {
		p.logger.Info("poller state seeded from cache", "level", p.lastLevel.String())
	}
}

// cachedSummaries reads the last written summaries back from the cache.
// Stale entries still count: an expired summary is old data, not no data.
func (p *Poller) cachedSummaries(ctx context.Context) (*status.PrSummary, *status.IncidentSummary) {
	var pr *status.PrSummary
	var inc *status.IncidentSummary

	if v, err := cache.GetStaleJSON[status.PrSummary](ctx, p.store, status.KeyPrSummary); err == nil {
		pr = &v
	}
	if v, err := cache.GetStaleJSON[status.IncidentSummary](ctx, p.store, status.KeyIncidentSummary); err == nil {
		inc = &v
	}
	return pr, inc
}

// loop fires tick immediately and then on every interval. A rate-limited
// tick doubles the next delay once to let the provider window reset.
func (p *Poller) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) {
	delay := time.Duration(0)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		tickCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
		err := tick(tickCtx)
		cancel()

		if p.obs != nil {
			p.obs.RecordPollTick(ctx, name, err == nil, time.Since(start))
		}

		delay = interval
		switch {
		case err == nil:
			p.clearAuthFailure(ctx, name)
		case integration.IsAuth(err):
			p.noteAuthFailure(ctx, name, err)
		case integration.IsRateLimited(err):
			delay = 2 * interval
			p.logger.LogWarn(ctx, "poll tick rate limited, backing off",
				"loop", name, "next_in", delay, "error", err)
		case ctx.Err() != nil:
			return
		default:
			p.logger.LogWarn(ctx, "poll tick failed, keeping previous state",
				"loop", name, "error", err)
		}

		timer.Reset(delay)
	}
}

func (p *Poller) pollPullRequests(ctx context.Context) error {
	prs, err := p.prs.ListOpen(ctx, p.cfg.PrFilter)
	if err != nil {
		return err
	}

	summary := status.SummarizePullRequests(prs, p.cfg.StaleAfter, time.Now())

	if err := p.store.Set(ctx, status.KeyPrList, prs, p.cfg.PrTTL); err != nil {
		p.logger.LogWarn(ctx, "failed to cache pull request list", "error", err)
	}
	if err := p.store.Set(ctx, status.KeyPrSummary, summary, p.cfg.PrTTL); err != nil {
		p.logger.LogWarn(ctx, "failed to cache pull request summary", "error", err)
	}

	p.bus.Publish(events.PrCountUpdated{Count: summary.TotalOpen, Summary: summary})
	p.updateLevel(ctx)
	return nil
}

func (p *Poller) pollIncidents(ctx context.Context) error {
	incidents, err := p.metrics.ActiveIncidents(ctx)
	if err != nil {
		return err
	}

	summary := status.SummarizeIncidents(incidents)

	if err := p.store.Set(ctx, status.KeyIncidentList, incidents, p.cfg.IncidentTTL); err != nil {
		p.logger.LogWarn(ctx, "failed to cache incident list", "error", err)
	}
	if err := p.store.Set(ctx, status.KeyIncidentSummary, summary, p.cfg.IncidentTTL); err != nil {
		p.logger.LogWarn(ctx, "failed to cache incident summary", "error", err)
	}

	p.bus.Publish(events.IncidentDetected{Summary: summary})
	p.updateLevel(ctx)
	return nil
}

// updateLevel recomputes the level from the cached summaries and publishes
// AlertLevelChanged only when it actually changed. Both loops call this, so
// the cache is the single source of truth for the merged state.
func (p *Poller) updateLevel(ctx context.Context) {
	pr, inc := p.cachedSummaries(ctx)

	p.mu.Lock()
	level := status.ComputeAlertLevel(pr, inc)
	previous := p.lastLevel
	p.lastLevel = level
	p.mu.Unlock()

	if level == previous {
		return
	}

	if p.obs != nil {
		p.obs.SetAlertLevel(ctx, int64(level))
	}
	p.logger.LogInfo(ctx, "alert level changed",
		"from", previous.String(), "to", level.String())

	p.bus.Publish(events.AlertLevelChanged{
		Level:    level,
		Previous: previous,
		At:       time.Now(),
	})
}

// noteAuthFailure logs an auth failure once per outage, not once per tick
func (p *Poller) noteAuthFailure(ctx context.Context, loop string, err error) {
	p.mu.Lock()
	seen := p.authFailed[loop]
	p.authFailed[loop] = true
	p.mu.Unlock()

	if seen {
		return
	}
	p.logger.LogError(ctx, "poll authentication failed, check credentials", err, "loop", loop)
}

func (p *Poller) clearAuthFailure(ctx context.Context, loop string) {
	p.mu.Lock()
	recovered := p.authFailed[loop]
	p.authFailed[loop] = false
	p.mu.Unlock()

	if recovered {
		p.logger.LogInfo(ctx, "poll authentication recovered", "loop", loop)
	}
}
