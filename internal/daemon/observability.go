package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/chatsync/internal/config"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsServer exposes Prometheus metrics and a health endpoint. A server
// built with an empty address does nothing.
type MetricsServer struct {
	addr   string
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates the observability HTTP server.
func NewMetricsServer(cfg *config.SessionConfig, reg *prometheus.Registry, engine *intsync.Engine, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"engine":  string(engine.Status()),
			"service": "chatsyncd",
		})
	})

	return &MetricsServer{
		addr: cfg.Metrics.Addr,
		server: &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start listens in the background. Bind failures are logged, not fatal.
func (s *MetricsServer) Start() {
	if s.addr == "" {
		return
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.logger.Warn("metrics server disabled", zap.String("addr", s.addr), zap.Error(err))
		return
	}
	s.logger.Info("metrics server starting", zap.String("addr", lis.Addr().String()))
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
}

// Stop shuts the server down.
func (s *MetricsServer) Stop(ctx context.Context) {
	if s.addr == "" {
		return
	}
	_ = s.server.Shutdown(ctx)
}
