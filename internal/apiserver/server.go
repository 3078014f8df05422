// Package apiserver exposes pganonproxy's operability surface: a health
// check, Prometheus metrics, and a status summary. Grounded on the
// teacher's internal/api package (gorilla/mux route registration,
// promhttp.Handler() wiring), trimmed from full multi-tenant CRUD and the
// HTML dashboard down to the single-upstream surface this proxy needs.
package apiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anonproxy/pganonproxy/internal/config"
	"github.com/anonproxy/pganonproxy/internal/metrics"
	"github.com/anonproxy/pganonproxy/internal/pool"
)

// Server is the operator-facing HTTP server: health, metrics, status.
type Server struct {
	pool       *pool.Pool
	metrics    *metrics.Collector
	listenCfg  config.ListenConfig
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates the API server, backed by the connection pool (for
// health/status) and the metrics collector (for /metrics).
func NewServer(p *pool.Pool, m *metrics.Collector, lc config.ListenConfig) *Server {
	return &Server{
		pool:      p,
		metrics:   m,
		listenCfg: lc,
		startTime: time.Now(),
	}
}

// Start starts the HTTP API server on port.
func (s *Server) Start(port int) error {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[apiserver] listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[apiserver] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports the upstream pool's reachability: healthy as long
// as the pool can report stats, since an unreachable upstream surfaces as
// Acquire failures rather than a distinct health state in this single-pool
// design.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.pool.Stats()
	healthy := stats.MaxConns > 0

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status": boolToStatus(healthy),
		"pool":   stats,
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"pool":           s.pool.Stats(),
		"listen": map[string]int{
			"port": s.listenCfg.Port,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
