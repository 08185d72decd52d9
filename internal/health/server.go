package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jakekausler/campaign-scheduler/internal/logger"
	"github.com/jakekausler/campaign-scheduler/internal/metrics"
)

// Server exposes /health, /metrics, and /metrics/prometheus on a dedicated
// port, following the teacher's pattern of a plain net/http.Server with
// explicit timeouts for each ambient HTTP surface (pprof in cmd/worker and
// cmd/api).
type Server struct {
	httpServer *http.Server
	log        logger.Logger
}

// NewServer wires the three endpoints behind a fresh prometheus.Registry so
// repeated construction in tests never collides with the global registry.
func NewServer(addr string, checker *Checker, startTime time.Time) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(checker, startTime))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(checker))
	mux.HandleFunc("/metrics", metricsHandler())
	mux.Handle("/metrics/prometheus", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: logger.Default().WithComponent(logger.ComponentHealth),
	}
}

// ListenAndServe blocks serving the health/metrics endpoints. Callers run it
// in a goroutine and call Shutdown to stop it.
func (s *Server) ListenAndServe() error {
	s.log.Info("health server listening", "address", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, per net/http.Server's contract.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func healthHandler(checker *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := checker.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}

func metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(metrics.GetMetrics())
	}
}
