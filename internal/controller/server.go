// Package controller wires the runtimed HTTP API.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"runtimed/internal/controller/handlers"
	"runtimed/internal/controller/middleware"
)

// Options configures the HTTP server.
type Options struct {
	Logger *slog.Logger

	// RateLimit is requests per second per client on the public API; zero disables it.
	RateLimit float64
	RateBurst int

	// InternalToken guards the /internal endpoints used by kernel adapters when set.
	InternalToken string

	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Server is the HTTP server for the runtimed API.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// New creates a new server.
func New(addr string, svc handlers.Service, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	h := handlers.New(svc, log)
	limit := middleware.NewRateLimiter(opts.RateLimit, opts.RateBurst).Middleware()
	internal := middleware.RequireInternalAuth(opts.InternalToken)

	mux := http.NewServeMux()

	// Probes
	mux.HandleFunc("GET /{$}", h.Welcome)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	// Public api
	public := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, limit(fn))
	}
	public("POST /runtimes", h.RegisterRuntime)
	public("GET /runtimes", h.ListRuntimes)
	public("GET /runtimes/{id}", h.GetRuntime)
	public("POST /runtimes/{id}/ready", h.MarkReady)
	public("DELETE /runtimes/{id}", h.ShutdownRuntime)
	public("POST /runtimes/{id}/executions", h.Submit)
	public("GET /executions", h.ListExecutions)
	public("GET /executions/{id}", h.GetExecution)
	public("POST /executions/{id}/interrupt", h.InterruptExecution)
	public("PUT /cells/{id}/latest", h.AttachCell)
	public("GET /cells/{id}", h.GetCell)
	public("GET /events", h.Events)

	// Internal endpoints
	// These are called by kernel adapters.
	mux.Handle("PUT /internal/runtimes/{id}/heartbeat", internal(http.HandlerFunc(h.InternalHeartbeat)))
	mux.Handle("PUT /internal/executions/{id}/result", internal(http.HandlerFunc(h.InternalUpdateResult)))

	srv := &http.Server{
		Addr:         addr,
		Handler:      middleware.RequestLogger(log)(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	// Event streams never go idle on their own.
	srv.RegisterOnShutdown(h.CloseStreams)

	return &Server{httpServer: srv, log: log}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until the context is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	serverErr := make(chan error, 1)

	s.log.Info("http server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
