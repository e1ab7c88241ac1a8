// Package api exposes the query surface: fleet snapshots, historical reads,
// rollup aggregates, alerts, and the live push stream.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"fleetwatch/internal/fanout"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/state"
	"fleetwatch/internal/store"
)

type Server struct {
	repo         *store.Repository
	vehicles     *state.VehicleStore
	rate         *state.RateTracker
	hub          *fanout.Hub
	pollInterval time.Duration

	httpServer *http.Server
}

func NewServer(addr string, repo *store.Repository, vehicles *state.VehicleStore, rate *state.RateTracker, hub *fanout.Hub, pollInterval time.Duration) *Server {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	s := &Server{
		repo:         repo,
		vehicles:     vehicles,
		rate:         rate,
		hub:          hub,
		pollInterval: pollInterval,
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed separately so tests can drive
// handlers through httptest without binding a socket.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/fleet/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	v1.HandleFunc("/fleet/stream", s.handleStream).Methods(http.MethodGet)
	v1.HandleFunc("/telemetry/history", s.handleHistory).Methods(http.MethodGet)
	v1.HandleFunc("/telemetry/aggregates", s.handleAggregates).Methods(http.MethodGet)
	v1.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)

	if s.hub != nil {
		r.HandleFunc("/ws", s.hub.ServeWS)
	}
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", metrics.HandleMetrics).Methods(http.MethodGet)
	return r
}

func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack delegates to the underlying writer so the websocket upgrade on /ws
// works through the logging middleware.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
