package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/siftlabs/kbharvest/internal/observability"
)

// HealthServer exposes the worker's liveness and metrics over HTTP.
type HealthServer struct {
	worker *Worker
	mux    *http.ServeMux
	srv    *http.Server
	logger *slog.Logger
}

// NewHealthServer mounts /health and /metrics on the given port.
func NewHealthServer(port int, w *Worker, metrics *observability.Metrics, logger *slog.Logger) *HealthServer {
	s := &HealthServer{
		worker: w,
		mux:    http.NewServeMux(),
		logger: logger.With("component", "health_server"),
	}

	s.mux.HandleFunc("/health", requireGet(s.handleHealth))
	s.mux.Handle("/metrics", requireGet(metrics.ServeHTTP))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves in the background until Shutdown.
func (s *HealthServer) Start() {
	s.logger.Info("health server starting", "addr", s.srv.Addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health server error", "error", err)
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *HealthServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// requireGet restricts a route to GET (and HEAD) requests, matching the
// behavior of a "GET " ServeMux pattern on toolchains that support them.
func requireGet(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.worker.Healthy() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "Healthy")
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprint(w, "AMQP not connected")
}
