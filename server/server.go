// Package server exposes Ralph's HTTP surface: the GitHub webhook
// endpoint, health and readiness probes, Prometheus metrics, and a
// read-only run inspection API.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/ralph/metrics"
	"github.com/c360studio/ralph/store"
	"github.com/c360studio/ralph/webhook"
)

// maxRequestBodySize limits webhook payloads to 1MB.
const maxRequestBodySize = 1 << 20

// Enqueuer hands accepted envelopes to the orchestrator. Satisfied by
// *orchestrator.Service.
type Enqueuer interface {
	Enqueue(env *webhook.Envelope)
	Healthy() bool
}

// Server is the HTTP front end.
type Server struct {
	store         *store.Store
	queue         Enqueuer
	metrics       *metrics.Metrics
	webhookSecret string
	logger        *slog.Logger

	httpServer *http.Server
}

// Params collects server dependencies.
type Params struct {
	Addr          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Store         *store.Store
	Queue         Enqueuer
	Metrics       *metrics.Metrics
	WebhookSecret string
	Logger        *slog.Logger
}

// New builds the server and its router.
func New(p Params) *Server {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:         p.Store,
		queue:         p.Queue,
		metrics:       p.Metrics,
		webhookSecret: p.WebhookSecret,
		logger:        logger.With("component", "server"),
	}
	s.httpServer = &http.Server{
		Addr:              p.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       p.ReadTimeout,
		WriteTimeout:      p.WriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/github", s.handleWebhook)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
	return r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil || !s.queue.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("encode response", "error", err)
	}
}
