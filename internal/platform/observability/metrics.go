package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metrics
type Metrics struct {
	meter metric.Meter

	// Cache metrics
	CacheHits           metric.Int64Counter
	CacheMisses         metric.Int64Counter
	CacheEvictions      metric.Int64Counter
	CacheStaleReads     metric.Int64Counter
	DurableTierFailures metric.Int64Counter

	// Poller metrics
	PollTicks    metric.Int64Counter
	PollDuration metric.Float64Histogram

	// Event bus metrics
	EventsPublished metric.Int64Counter
	EventsDropped   metric.Int64Counter

	// Alert state metrics
	AlertLevel metric.Int64Gauge

	// Provider API metrics
	ProviderAPICalls    metric.Int64Counter
	ProviderAPIDuration metric.Float64Histogram

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Error metrics
	Errors metric.Int64Counter

	// Prometheus exporter for HTTP handler
	exporter *prometheus.Exporter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	m.CacheHits, err = m.meter.Int64Counter(
		"cockpit.cache.hits",
		metric.WithDescription("Total cache hits"),
	)
	if err != nil {
		return err
	}

	m.CacheMisses, err = m.meter.Int64Counter(
		"cockpit.cache.misses",
		metric.WithDescription("Total cache misses"),
	)
	if err != nil {
		return err
	}

	m.CacheEvictions, err = m.meter.Int64Counter(
		"cockpit.cache.evictions",
		metric.WithDescription("Total memory tier LRU evictions"),
	)
	if err != nil {
		return err
	}

	m.CacheStaleReads, err = m.meter.Int64Counter(
		"cockpit.cache.stale_reads",
		metric.WithDescription("Total stale fallback reads served"),
	)
	if err != nil {
		return err
	}

	m.DurableTierFailures, err = m.meter.Int64Counter(
		"cockpit.cache.durable.failures",
		metric.WithDescription("Total durable tier operation failures"),
	)
	if err != nil {
		return err
	}

	m.PollTicks, err = m.meter.Int64Counter(
		"cockpit.poll.ticks",
		metric.WithDescription("Total poll ticks executed"),
	)
	if err != nil {
		return err
	}

	m.PollDuration, err = m.meter.Float64Histogram(
		"cockpit.poll.duration",
		metric.WithDescription("Poll tick duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.EventsPublished, err = m.meter.Int64Counter(
		"cockpit.events.published",
		metric.WithDescription("Total events published on the bus"),
	)
	if err != nil {
		return err
	}

	m.EventsDropped, err = m.meter.Int64Counter(
		"cockpit.events.dropped",
		metric.WithDescription("Total events dropped due to full subscriber buffers"),
	)
	if err != nil {
		return err
	}

	m.AlertLevel, err = m.meter.Int64Gauge(
		"cockpit.alert.level",
		metric.WithDescription("Current alert level (0=neutral, 1=green, 2=amber, 3=red)"),
	)
	if err != nil {
		return err
	}

	m.ProviderAPICalls, err = m.meter.Int64Counter(
		"cockpit.provider.api.calls",
		metric.WithDescription("Total external provider API calls"),
	)
	if err != nil {
		return err
	}

	m.ProviderAPIDuration, err = m.meter.Float64Histogram(
		"cockpit.provider.api.duration",
		metric.WithDescription("Provider API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"cockpit.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	m.Errors, err = m.meter.Int64Counter(
		"cockpit.errors",
		metric.WithDescription("Total errors encountered"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordCacheHit records a cache hit for a tier
func (m *Metrics) RecordCacheHit(ctx context.Context, tier string) {
	if m.CacheHits == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordCacheMiss records a cache miss for a tier
func (m *Metrics) RecordCacheMiss(ctx context.Context, tier string) {
	if m.CacheMisses == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordCacheEviction records an LRU eviction
func (m *Metrics) RecordCacheEviction(ctx context.Context) {
	if m.CacheEvictions == nil {
		return
	}
	m.CacheEvictions.Add(ctx, 1)
}

// RecordStaleRead records a stale fallback read
func (m *Metrics) RecordStaleRead(ctx context.Context, tier string) {
	if m.CacheStaleReads == nil {
		return
	}
	m.CacheStaleReads.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordDurableTierFailure records a durable tier failure by operation
func (m *Metrics) RecordDurableTierFailure(ctx context.Context, op string) {
	if m.DurableTierFailures == nil {
		return
	}
	m.DurableTierFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordPollTick records a poll tick for a loop with its outcome and duration
func (m *Metrics) RecordPollTick(ctx context.Context, loop string, success bool, duration time.Duration) {
	if m.PollTicks == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("loop", loop),
		attribute.Bool("success", success),
	}
	m.PollTicks.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.PollDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordEventPublished records a published event by kind
func (m *Metrics) RecordEventPublished(ctx context.Context, kind string, subscribers int) {
	if m.EventsPublished == nil {
		return
	}
	m.EventsPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Int("subscribers", subscribers),
	))
}

// RecordEventDropped records an event dropped by a full subscriber buffer
func (m *Metrics) RecordEventDropped(ctx context.Context, kind string) {
	if m.EventsDropped == nil {
		return
	}
	m.EventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// SetAlertLevel records the current overall alert level
func (m *Metrics) SetAlertLevel(ctx context.Context, level int64) {
	if m.AlertLevel == nil {
		return
	}
	m.AlertLevel.Record(ctx, level)
}

// RecordProviderCall records an external provider API call
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, op, status string, duration time.Duration) {
	if m.ProviderAPICalls == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("op", op),
		attribute.String("status", status),
	}
	m.ProviderAPICalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.ProviderAPIDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// SetCircuitBreakerState records circuit breaker state for a service
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	if m.CircuitBreakerState == nil {
		return
	}
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(
		attribute.String("service", service),
	))
}

// RecordError records an error by type
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	if m.Errors == nil {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("error_type", errorType)))
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
