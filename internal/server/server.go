// Package server exposes the stored task events over HTTP.
//
// The surface is read-only and intentionally small: health, version,
// run listing, and fetch-everything-flattened per run. There is no
// query language; downstream report generators consume the flattened
// row shape directly.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/flowtrace/flowtrace/internal/server/handlers"
)

// Server serves the HTTP read surface over an event store.
type Server struct {
	host   string
	port   int
	router chi.Router
	log    *zap.Logger
}

// New creates a server over the given store. A nil logger defaults to a
// no-op logger.
func New(host string, port int, store handlers.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	r.Get("/healthz", handlers.Health)
	r.Get("/version", handlers.Version)

	tasks := handlers.NewTaskHandler(store, log)
	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", tasks.ListRuns)
		r.Get("/runs/{runID}/tasks", tasks.ListTasks)
	})

	return &Server{
		host:   host,
		port:   port,
		router: r,
		log:    log,
	}
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully with a bounded wait.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.Addr()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}
