// Package main is the entry point for kerneld, the adapter behind runtimed's http
// kernel transport. It runs submitted code as subprocesses of an interpreter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"runtimed/internal/adapter"
	"runtimed/internal/auth"
	"runtimed/internal/config"
	"runtimed/internal/logger"
	"runtimed/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: kerneld.yaml in current directory)")
	flag.Parse()

	cfg, err := config.LoadAdapter(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("kerneld exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.AdapterConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "kerneld", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	agent := adapter.New(adapter.Config{
		Interpreter:       cfg.Interpreter,
		WorkDir:           cfg.WorkDir,
		DaemonURL:         cfg.DaemonURL,
		Token:             cfg.InternalToken,
		AdvertiseURL:      cfg.AdvertiseURL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Stdout:            os.Stdout,
		Logger:            log,
	})

	mux := http.NewServeMux()
	mux.Handle("/", agent.Handler())
	mux.Handle("GET /metrics", metricsHandler)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ListenPort))
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	log.Info("kerneld listening", "addr", ln.Addr().String(), "interpreter", cfg.Interpreter)
	if cfg.InternalToken != "" {
		log.Info("reporting with internal token", "token_fingerprint", auth.HashToken(cfg.InternalToken)[:12])
	}

	// The daemon pings /healthz while registering, so the listener must be up first.
	runtimeGone := make(chan error, 1)
	if cfg.Register {
		runtimeID, err := agent.Register(ctx)
		if err != nil {
			srv.Close()
			return err
		}
		go func() { runtimeGone <- agent.RunHeartbeats(ctx, runtimeID) }()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down kerneld")
	case <-agent.ShutdownRequested():
		log.Info("daemon requested shutdown")
	case err := <-runtimeGone:
		if err != nil {
			log.Warn("stopping: runtime no longer registered", "error", err)
		}
	case err := <-serverErr:
		return err
	}

	if err := agent.Interrupt(""); err != nil {
		log.Warn("failed to interrupt running execution", "error", err)
	}
	agent.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
