package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"killwatch/internal/logger"
	"killwatch/pkg/models"
)

// Source supplies the live view the endpoints expose.
type Source interface {
	Status() models.ServiceStatus
	Healthy() bool
}

// Server exposes /metrics, /healthz and /status over HTTP.
type Server struct {
	srv *http.Server
}

// NewServer builds the status server on the given listen address.
func NewServer(addr string, src Source) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if src.Healthy() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok\n"))
			return
		}
		http.Error(w, "degraded", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(src.Status()); err != nil {
			logger.Errorf("Failed to encode status: %v", err)
		}
	})

	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start serves in the background until Close.
func (s *Server) Start() {
	go func() {
		logger.Infof("Status server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Status server failed: %v", err)
		}
	}()
}

// Close shuts the server down, waiting for in-flight requests.
func (s *Server) Close(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
