// pkg/httpserver/server.go

package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/pkg/logger"
)

// ReadyChecker returns nil if the service is ready to serve.
type ReadyChecker func() error

// Route is an extra handler mounted next to the built-in endpoints.
// An empty Method matches every method.
type Route struct {
	Method  string
	Pattern string
	Handler http.Handler
}

// HTTPServer serves metrics, health probes and extra routes.
type HTTPServer interface {
	Start(ctx context.Context) error
	Handler() http.Handler
}

type server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	log             *logger.Logger
}

// New constructs an HTTPServer with metrics, health endpoints and routes.
func New(cfg Config, check ReadyChecker, log *logger.Logger, routes ...Route) (HTTPServer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("http-server")

	r := chi.NewRouter()
	r.Handle(cfg.MetricsPath, promhttp.Handler())
	r.Get(cfg.HealthzPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get(cfg.ReadyzPath, func(w http.ResponseWriter, _ *http.Request) {
		if check != nil {
			if err := check(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(fmt.Sprintf("NOT READY: %v", err)))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})
	for _, rt := range routes {
		if rt.Method == "" {
			r.Handle(rt.Pattern, rt.Handler)
			continue
		}
		r.Method(rt.Method, rt.Pattern, rt.Handler)
	}

	handler := Compose(
		RecoverMiddleware(log),
		RequestIDMiddleware(),
		CORSMiddleware(),
		MetricsMiddleware(),
		RequestLoggerMiddleware(log),
	)(r)

	return &server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             log,
	}, nil
}

func (s *server) Handler() http.Handler { return s.httpServer.Handler }

// Start runs ListenAndServe and gracefully shuts down on ctx.Done().
func (s *server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("http: starting server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("httpserver: listen: %w", err)
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.log.Info("http: shutdown signal received")
		serveErr = ctx.Err()
	case err := <-errCh:
		serveErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("http: graceful shutdown failed", zap.Error(err))
		return err
	}
	s.log.Info("http: server stopped gracefully")
	return serveErr
}
