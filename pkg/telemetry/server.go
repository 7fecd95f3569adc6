package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridbot/internal/core"
)

// Server exposes the process's Prometheus registry over HTTP, grounded on
// the teacher's internal/infrastructure/metrics/server.go.
type Server struct {
	port   int
	logger core.Logger
	srv    *http.Server
}

// NewServer constructs a metrics server bound to the given port.
func NewServer(port int, logger core.Logger) *Server {
	return &Server{port: port, logger: logger.WithField("component", "metrics_server")}
}

// Run serves /metrics until ctx is cancelled, satisfying bootstrap.Runner.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.srv = &http.Server{Addr: fmt.Sprintf(":%d", s.port), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting metrics server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
