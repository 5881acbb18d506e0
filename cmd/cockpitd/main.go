package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cakahlul/em-cockpit/internal/events"
	"github.com/cakahlul/em-cockpit/internal/integration"
	"github.com/cakahlul/em-cockpit/internal/platform/cache"
	"github.com/cakahlul/em-cockpit/internal/platform/config"
	"github.com/cakahlul/em-cockpit/internal/platform/observability"
	"github.com/cakahlul/em-cockpit/internal/poller"
	"github.com/cakahlul/em-cockpit/internal/query"
	"github.com/cakahlul/em-cockpit/internal/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	log.Println("Loading configuration...")
	configPath := os.Getenv("COCKPIT_CONFIG")
	cfg := config.MustLoad(configPath)

	// Setup observability (foundational - must be first)
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("cockpitd", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracer, err := observability.NewTracerProvider(ctx, "cockpitd", cfg.Observability.Tracing.Endpoint, cfg.Observability.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tracer.Shutdown(ctx)

	logger.Info("observability setup complete")

	// Two-tier cache: the durable tier is optional, and a failed Redis
	// connection degrades to memory-only rather than aborting startup.
	memTier := cache.NewMemoryTier(cfg.Cache.MemoryMaxSize)

	var durable cache.Tier
	if cfg.Cache.Redis.Address != "" {
		redisTier, err := cache.NewRedisTier(cache.RedisTierConfig{
			Address:   cfg.Cache.Redis.Address,
			Password:  cfg.Cache.Redis.Password,
			DB:        cfg.Cache.Redis.DB,
			Retention: cfg.Cache.Retention,
			Logger:    logger,
			Metrics:   metrics,
		})
		if err != nil {
			logger.LogError(ctx, "durable tier unavailable, running memory-only", err)
		} else {
			durable = redisTier
		}
	}

	store := cache.NewStore(cache.StoreConfig{
		Memory:  memTier,
		Durable: durable,
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	defer store.Close()

	// Event bus
	bus := events.NewBus(events.BusConfig{
		BufferSize: cfg.Events.BufferSize,
		Logger:     logger,
		Metrics:    metrics,
	})
	defer bus.Close()

	// Integration providers
	logger.Info("creating integration providers...")

	prRepo, err := integration.NewPullRequestRepository(cfg.Integrations.Git.Provider, integration.GitHubProviderConfig{
		BaseURL:        cfg.Integrations.Git.BaseURL,
		Token:          cfg.Integrations.Git.GitToken(),
		RateLimitRPM:   cfg.Integrations.Git.RateLimit.RequestsPerMinute,
		RateLimitBurst: cfg.Integrations.Git.RateLimit.Burst,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create pull request provider", err)
		log.Fatalf("Failed to create pull request provider: %v", err)
	}

	metricsRepo, err := integration.NewMetricsRepository(cfg.Integrations.Monitoring.Provider, integration.GrafanaProviderConfig{
		BaseURL: cfg.Integrations.Monitoring.BaseURL,
		APIKey:  cfg.Integrations.Monitoring.MonitoringToken(),
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create monitoring provider", err)
		log.Fatalf("Failed to create monitoring provider: %v", err)
	}

	ticketRepo, err := integration.NewTicketRepository(cfg.Integrations.Tickets.Provider, integration.JiraProviderConfig{
		BaseURL:  cfg.Integrations.Tickets.BaseURL,
		Username: cfg.Integrations.Tickets.Username,
		Token:    cfg.Integrations.Tickets.TicketsToken(),
		Project:  cfg.Integrations.Tickets.Project,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create ticket provider", err)
		log.Fatalf("Failed to create ticket provider: %v", err)
	}

	prFilter := integration.PrFilter{
		Repositories: cfg.Integrations.Git.Repositories,
		ReviewerID:   cfg.User.ReviewerID,
	}

	// Query service
	queries := query.New(query.Config{
		PrTTL:       cfg.Cache.TTL.PullRequests,
		IncidentTTL: cfg.Cache.TTL.Incidents,
		TicketTTL:   cfg.Cache.TTL.Tickets,
		StaleAfter:  cfg.Poller.StaleAfter,
		PrFilter:    prFilter,
	}, prRepo, metricsRepo, ticketRepo, store, bus, logger)

	// Background poller
	refresher := poller.New(poller.Config{
		PrInterval:       cfg.Poller.PrInterval,
		IncidentInterval: cfg.Poller.IncidentInterval,
		FetchTimeout:     cfg.Poller.FetchTimeout,
		ShutdownGrace:    cfg.Poller.ShutdownGrace,
		PrTTL:            cfg.Cache.TTL.PullRequests,
		IncidentTTL:      cfg.Cache.TTL.Incidents,
		StaleAfter:       cfg.Poller.StaleAfter,
		PrFilter:         prFilter,
	}, prRepo, metricsRepo, store, bus, logger, metrics)

	refresher.Start(ctx)

	// HTTP API
	api := server.New(server.Config{Port: cfg.HTTP.Port}, queries, bus, logger, metrics)

	go func() {
		if err := api.Start(); err != nil {
			logger.LogError(ctx, "HTTP server error", err)
			cancel()
		}
	}()

	logger.Info("cockpit daemon started", "port", cfg.HTTP.Port)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	// Graceful shutdown: stop producing first, then drain the API
	refresher.Stop()
	if err := api.Shutdown(context.Background()); err != nil {
		logger.LogError(ctx, "HTTP shutdown error", err)
	}

	logger.Info("application stopped")
}
