// Package server exposes the orchestrator over HTTP for operators and
// automation: session lifecycle, archive reads, human-loop submissions, and
// checkpoint resumes. The API is JSON over a chi router and binds to
// localhost by default.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Iron-Ham/maestro/internal/config"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/orchestrator"
)

// Server is the HTTP front end over an orchestrator.
type Server struct {
	orch   *orchestrator.Orchestrator
	logger *logging.Logger
	http   *http.Server
}

// New creates a server bound to the configured address.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Server{
		orch:   orch,
		logger: logger,
	}
	s.http = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed separately so tests can drive the
// handlers through httptest without binding a socket.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleStartSession)
			r.Get("/", s.handleListSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Get("/archive", s.handleGetArchive)
				r.Post("/advance", s.handleAdvance)
				r.Post("/run", s.handleRun)
				r.Post("/cancel", s.handleCancel)
			})
		})

		r.Route("/requests/{requestID}", func(r chi.Router) {
			r.Get("/", s.handleGetRequest)
			r.Post("/input", s.handleSubmitInput)
		})

		r.Post("/checkpoints/{checkpointID}/resume", s.handleResume)
	})

	return r
}

// ListenAndServe serves until the context is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// logRequests logs one line per request with the request id correlated.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithRequest(middleware.GetReqID(r.Context())).Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
