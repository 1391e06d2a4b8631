// Package server exposes health, readiness, metrics and reading ingestion
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ngmaloney/marine-depth/internal/gate"
	"github.com/ngmaloney/marine-depth/internal/models"
)

const maxBatch = 500

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// ReadingProcessor corrects readings and looks up earlier results.
type ReadingProcessor interface {
	Process(ctx context.Context, readings []models.DepthReading) []gate.Outcome[models.ProcessedDepthReading]
	Lookup(ctx context.Context, id string) (models.ProcessedDepthReading, bool)
}

// StatusFunc returns a JSON-encodable status document.
type StatusFunc func(ctx context.Context) any

// Deps are the handlers' collaborators. Nil Readings or Status disables those
// routes; a nil Gatherer serves the default registry.
type Deps struct {
	Ready    ReadinessChecker
	Readings ReadingProcessor
	Status   StatusFunc
	Gatherer prometheus.Gatherer
}

// Server is the service's HTTP front.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and, when
// configured, /v1/readings and /v1/status routes.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(deps.Ready))
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if deps.Readings != nil {
		mux.HandleFunc("POST /v1/readings", s.handleProcess(deps.Readings))
		mux.HandleFunc("GET /v1/readings/{id}", handleLookup(deps.Readings))
	}
	if deps.Status != nil {
		mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, deps.Status(r.Context()))
		})
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

type readingResult struct {
	ID        string                        `json:"id"`
	Processed *models.ProcessedDepthReading `json:"processed,omitempty"`
	Error     string                        `json:"error,omitempty"`
}

func (s *Server) handleProcess(p ReadingProcessor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var readings []models.DepthReading
		dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
		if err := dec.Decode(&readings); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be a JSON array of depth readings"})
			return
		}
		if len(readings) == 0 || len(readings) > maxBatch {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "batch must hold between 1 and 500 readings"})
			return
		}

		outcomes := p.Process(r.Context(), readings)
		results := make([]readingResult, len(outcomes))
		failed := 0
		for i, o := range outcomes {
			results[i].ID = readings[i].ID
			if o.Err != nil {
				results[i].Error = o.Err.Error()
				failed++
				continue
			}
			v := o.Value
			results[i].ID = v.Reading.ID
			results[i].Processed = &v
		}
		if failed > 0 {
			s.logger.Warn("readings rejected", "failed", failed, "total", len(readings))
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func handleLookup(p ReadingProcessor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok := p.Lookup(r.Context(), r.PathValue("id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "reading not found"})
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
