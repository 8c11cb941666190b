// Package metricsd exposes the Prometheus scrape endpoint and a liveness
// probe. It is an observability sidecar for the batch pipeline, optional
// and off by default.
package metricsd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/protofold/pkg/logger"
	"github.com/okian/protofold/pkg/metrics"
)

// Stats is the minimal service view the stats endpoint reports.
type Stats interface {
	Stats(ctx context.Context) map[string]interface{}
}

// Server serves /metrics, /healthz and /stats on one listener.
type Server struct {
	addr   string
	stats  Stats
	srv    *http.Server
	logger logger.Logger
}

// New creates a metrics server bound to addr.
func New(addr string, stats Stats) *Server {
	return &Server{
		addr:   addr,
		stats:  stats,
		logger: logger.Get().Named("metricsd"),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)

	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info(ctx, "metrics server listening", logger.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "metrics server failed", logger.Error(err))
		}
	}()
}

// Stop shuts the listener down, waiting for in-flight scrapes.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.stats == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
		return
	}
	if err := json.NewEncoder(w).Encode(s.stats.Stats(r.Context())); err != nil {
		s.logger.Warn(r.Context(), "stats encode failed", logger.Error(err))
	}
}
