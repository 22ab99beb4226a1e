// Package server exposes the engine over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/studiowebux/apitest/internal/engine"
	"github.com/studiowebux/apitest/internal/metrics"
)

// ShutdownTimeout bounds graceful shutdown
const ShutdownTimeout = 10 * time.Second

// Options configure a Server
type Options struct {
	Addr           string
	Engine         *engine.Engine
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	AllowedOrigins []string
}

// Server is the controller API
type Server struct {
	addr    string
	engine  *engine.Engine
	metrics *metrics.Metrics
	logger  *zap.Logger
	origins []string

	httpServer *http.Server
}

// New creates a server
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		addr:    opts.Addr,
		engine:  opts.Engine,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		origins: opts.AllowedOrigins,
	}
}

// Router builds the route tree
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.logger))

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Accept"},
	}).Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/calls/run", s.runCall)

		r.Get("/batches", s.listBatches)
		r.Post("/batches", s.startBatch)
		r.Get("/batches/{id}", s.getBatch)

		r.Post("/loadtests", s.startLoadTest)
		r.Post("/loadtests/preview", s.previewLoadTest)
		r.Get("/loadtests/{id}", s.getLoadTest)
		r.Post("/loadtests/{id}/stop", s.stopLoadTest)
		r.Post("/loadtests/{id}/collect", s.collectLoadTest)

		r.Get("/reports", s.listReports)
		r.Get("/reports/{id}", s.getReport)
		r.Get("/reports/{id}/export", s.exportReport)

		r.Get("/variables", s.listVariables)
		r.Put("/variables/{name}", s.setVariable)
		r.Delete("/variables/{name}", s.deleteVariable)
		r.Post("/variables/tokens", s.generateToken)

		r.Get("/history", s.listHistory)
		r.Get("/history/stats", s.historyStats)
		r.Get("/history/{id}", s.getHistory)
		r.Delete("/history", s.clearHistory)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
