package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cakahlul/em-cockpit/internal/events"
	"github.com/cakahlul/em-cockpit/internal/integration"
	"github.com/cakahlul/em-cockpit/internal/platform/cache"
	"github.com/cakahlul/em-cockpit/internal/platform/observability"
	"github.com/cakahlul/em-cockpit/internal/platform/resilience"
	"github.com/cakahlul/em-cockpit/internal/query"
	"github.com/cakahlul/em-cockpit/internal/status"
)

// stubProviders implements the three repository interfaces for handler tests
type stubProviders struct {
	mu        sync.Mutex
	prs       []integration.PullRequest
	incidents []integration.Incident
	tickets   []integration.Ticket
	err       error
}

func (s *stubProviders) ListOpen(ctx context.Context, filter integration.PrFilter) ([]integration.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prs, s.err
}

func (s *stubProviders) ActiveIncidents(ctx context.Context) ([]integration.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incidents, s.err
}

func (s *stubProviders) ServiceMetrics(ctx context.Context, service string) ([]integration.Metric, error) {
	return nil, nil
}

func (s *stubProviders) Search(ctx context.Context, q integration.TicketQuery) ([]integration.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickets, s.err
}

func newTestServer(t *testing.T, stub *stubProviders) (*httptest.Server, *cache.Store, *events.Bus) {
	t.Helper()

	store := cache.NewStore(cache.StoreConfig{Memory: cache.NewMemoryTier(50)})
	bus := events.NewBus(events.BusConfig{BufferSize: 16})
	t.Cleanup(bus.Close)
	logger := observability.NewLogger("error", "text")

	queries := query.New(query.Config{
		Retry: resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, stub, stub, stub, store, bus, logger)

	s := New(Config{}, queries, bus, logger, nil)
	srv := httptest.NewServer(s.http.Handler)
	t.Cleanup(srv.Close)
	return srv, store, bus
}

// TestHealthEndpoint verifies the liveness probe
func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubProviders{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %s", ct)
	}
}

// TestStatusEndpoint verifies the aggregated status payload
func TestStatusEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t, &stubProviders{})

	store.Set(context.Background(), status.KeyIncidentSummary,
		status.IncidentSummary{TotalActive: 1, CriticalCount: 1}, time.Minute)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var report query.StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if report.LevelName != "red" {
		t.Errorf("Expected red status, got %q", report.LevelName)
	}

	t.Log("✓ status endpoint serves the aggregated report")
}

// TestPrsEndpointServesCachedList verifies the read path over the query service
func TestPrsEndpointServesCachedList(t *testing.T) {
	stub := &stubProviders{prs: []integration.PullRequest{
		{ID: "acme/api#1", Repository: "acme/api", State: integration.PrStateOpen},
	}}
	srv, _, _ := newTestServer(t, stub)

	resp, err := http.Get(srv.URL + "/api/prs")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var prs []integration.PullRequest
	if err := json.NewDecoder(resp.Body).Decode(&prs); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if len(prs) != 1 || prs[0].ID != "acme/api#1" {
		t.Errorf("Unexpected payload: %+v", prs)
	}
}

// TestSearchEndpointValidatesLimit verifies the limit parameter is parsed
// strictly: valid values flow through, junk and non-positive values get 400
func TestSearchEndpointValidatesLimit(t *testing.T) {
	stub := &stubProviders{tickets: []integration.Ticket{{Key: "PAY-1"}}}
	srv, _, _ := newTestServer(t, stub)

	resp, err := http.Get(srv.URL + "/api/search?q=timeout&limit=5")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for valid limit, got %d", resp.StatusCode)
	}

	for _, limit := range []string{"abc", "0", "-3", "5x"} {
		resp, err := http.Get(srv.URL + "/api/search?q=timeout&limit=" + limit)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Limit %q: expected 400, got %d", limit, resp.StatusCode)
		}
	}

	t.Log("✓ search limit is validated")
}

// TestErrorMapping verifies provider error kinds map onto HTTP status codes
func TestErrorMapping(t *testing.T) {
	cases := []struct {
		kind integration.ErrorKind
		want int
	}{
		{integration.KindAuth, http.StatusUnauthorized},
		{integration.KindRateLimited, http.StatusTooManyRequests},
		{integration.KindNotFound, http.StatusNotFound},
		{integration.KindNetwork, http.StatusBadGateway},
	}

	for _, tc := range cases {
		stub := &stubProviders{err: integration.NewError(tc.kind, "github", "op", errors.New("x"))}
		srv, _, _ := newTestServer(t, stub)

		resp, err := http.Get(srv.URL + "/api/incidents")
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != tc.want {
			t.Errorf("Kind %v: expected %d, got %d", tc.kind, tc.want, resp.StatusCode)
		}
	}

	t.Log("✓ provider error kinds map to HTTP statuses")
}

// TestInvalidateEndpoint verifies the invalidation request path
func TestInvalidateEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t, &stubProviders{})
	ctx := context.Background()

	store.Set(ctx, "pr_summary", status.PrSummary{TotalOpen: 1}, time.Minute)

	resp, err := http.Post(srv.URL+"/api/cache/invalidate", "application/json",
		strings.NewReader(`{"key": "pr_summary"}`))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if _, err := store.Get(ctx, "pr_summary"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("Expected entry removed, got %v", err)
	}

	// Missing key is a bad request
	resp, err = http.Post(srv.URL+"/api/cache/invalidate", "application/json",
		strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing key, got %d", resp.StatusCode)
	}

	t.Log("✓ invalidation endpoint removes entries and validates input")
}

// TestEventsEndpointStreams verifies the SSE bridge delivers a published event
func TestEventsEndpointStreams(t *testing.T) {
	srv, _, bus := newTestServer(t, &stubProviders{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected event stream, got %s", ct)
	}

	// Give the handler a moment to register its subscriptions
	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount(events.KindAlertLevelChanged) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("SSE handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(events.AlertLevelChanged{Level: status.LevelRed, Previous: status.LevelGreen})

	buf := make([]byte, 4096)
	var received strings.Builder
	for !strings.Contains(received.String(), "alert_level_changed") {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			received.Write(buf[:n])
		}
		if err != nil {
			t.Fatalf("Stream ended before event arrived: %v (got %q)", err, received.String())
		}
	}

	t.Log("✓ bus events stream over SSE")
}
