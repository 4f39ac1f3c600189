// Package server provides the HTTP scaffold shared by the relay and the
// notifier.
//
// It sets up a chi router with standard middleware (request ID, real IP,
// logging, recovery, timeout), a /health endpoint, and graceful shutdown.
// Callers register their own routes on Router.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options tunes the server. Zero values take the defaults noted below.
type Options struct {
	// RequestTimeout bounds each request (default 30s). Relay requests wait
	// on assistant runs, so it must exceed the poll timeout.
	RequestTimeout time.Duration
	ReadTimeout    time.Duration // default 15s
	IdleTimeout    time.Duration // default 60s
}

// Server is a reusable HTTP server with standard middleware and graceful shutdown.
type Server struct {
	Router *chi.Mux
	opts   Options
	srv    *http.Server
	onStop []func()
}

// New creates a Server with standard middleware already applied.
// The returned Router is ready for route registration.
func New(opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK")) //nolint:errcheck
	})

	return &Server{Router: r, opts: opts}
}

// OnStop registers a function to call during graceful shutdown.
func (s *Server) OnStop(fn func()) {
	s.onStop = append(s.onStop, fn)
}

// ListenAndServe starts the server on addr and blocks until SIGINT/SIGTERM
// or ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.RequestTimeout + 5*time.Second,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()

		log.Println("Shutting down server...")
		for _, fn := range s.onStop {
			fn()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("server starting on %s", addr)
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		stop()
		<-done
		return err
	}
	<-done
	log.Println("Server stopped")
	return nil
}
