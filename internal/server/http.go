// Package server exposes the local HTTP API: health and metrics, the read
// endpoints over the query service, cache invalidation, and a server-sent
// event stream bridging the internal bus to UI clients.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cakahlul/em-cockpit/internal/events"
	"github.com/cakahlul/em-cockpit/internal/integration"
	"github.com/cakahlul/em-cockpit/internal/platform/observability"
	"github.com/cakahlul/em-cockpit/internal/query"
)

// Config holds HTTP server configuration
type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8687
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Server is the local HTTP API server
type Server struct {
	cfg     Config
	queries *query.Service
	bus     *events.Bus
	logger  *observability.Logger
	metrics *observability.Metrics
	http    *http.Server
}

// New creates the HTTP server and its routes
func New(cfg Config, queries *query.Service, bus *events.Bus,
	logger *observability.Logger, metrics *observability.Metrics) *Server {
	cfg.applyDefaults()

	s := &Server{
		cfg:     cfg,
		queries: queries,
		bus:     bus,
		logger:  logger,
		metrics: metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/prs", s.handlePullRequests)
	mux.HandleFunc("GET /api/incidents", s.handleIncidents)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/cache/invalidate", s.handleInvalidate)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start begins serving. Blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "address", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queries.Status(r.Context()))
}

func (s *Server) handlePullRequests(w http.ResponseWriter, r *http.Request) {
	prs, err := s.queries.PullRequests(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if prs == nil {
		prs = []integration.PullRequest{}
	}
	s.writeJSON(w, http.StatusOK, prs)
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := s.queries.Incidents(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if incidents == nil {
		incidents = []integration.Incident{}
	}
	s.writeJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := integration.TicketQuery{
		Text:    r.URL.Query().Get("q"),
		Project: r.URL.Query().Get("project"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		q.Limit = n
	}

	tickets, err := s.queries.SearchTickets(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tickets == nil {
		tickets = []integration.Ticket{}
	}
	s.writeJSON(w, http.StatusOK, tickets)
}

type invalidateRequest struct {
	Key    string `json:"key"`
	Prefix bool   `json:"prefix"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		http.Error(w, `{"error":"key is required"}`, http.StatusBadRequest)
		return
	}

	if req.Prefix {
		s.queries.InvalidateByPrefix(r.Context(), req.Key)
	} else {
		s.queries.Invalidate(r.Context(), req.Key)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"invalidated": req.Key})
}

// sseEvent is the wire envelope for the event stream
type sseEvent struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// handleEvents streams bus events to the client as server-sent events. Each
// connection gets its own subscriptions, so a stalled client only ever drops
// its own events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	kinds := []events.Kind{
		events.KindAlertLevelChanged,
		events.KindPrCountUpdated,
		events.KindIncidentDetected,
		events.KindCacheInvalidated,
	}

	out := make(chan events.Event, 32)
	subs := make([]*events.Subscription, 0, len(kinds))
	for _, kind := range kinds {
		subs = append(subs, s.bus.Subscribe(kind, func(ev events.Event) {
			select {
			case out <- ev:
			default:
			}
		}))
	}
	defer func() {
		for _, sub := range subs {
			s.bus.Unsubscribe(sub)
		}
	}()

	// Open with the current status so clients render without waiting for
	// the next poll tick.
	s.writeSSE(w, sseEvent{Kind: "status", Payload: s.queries.Status(r.Context())})
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev := <-out:
			s.writeSSE(w, sseEvent{Kind: ev.EventKind().String(), Payload: ev})
			flusher.Flush()
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, ev sseEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

// writeError maps provider error kinds onto HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusBadGateway
	switch {
	case integration.IsAuth(err):
		code = http.StatusUnauthorized
	case integration.IsRateLimited(err):
		code = http.StatusTooManyRequests
	case integration.IsNotFound(err):
		code = http.StatusNotFound
	}

	s.logger.LogWarn(r.Context(), "request failed",
		"path", r.URL.Path, "status", code, "error", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":%q}`, err.Error())
}
