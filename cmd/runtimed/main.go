// Package main is the entry point for the runtimed daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"runtimed/internal/auth"
	"runtimed/internal/config"
	"runtimed/internal/controller"
	"runtimed/internal/daemon"
	"runtimed/internal/kernel"
	"runtimed/internal/kernel/docker"
	"runtimed/internal/kernel/remote"
	"runtimed/internal/logger"
	"runtimed/internal/observability"
	"runtimed/internal/store"
	"runtimed/internal/store/memory"
	"runtimed/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: runtimed.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("runtimed exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "runtimed", cfg.OTELEndpoint)
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

	mux := kernel.NewMux()
	mux.Handle(kernel.TransportDocker, docker.NewConnector(log))
	mux.Handle(kernel.TransportHTTP, &remote.Connector{CallbackBase: cfg.AdvertiseURL, Logger: log})

	d, err := daemon.New(daemon.Options{
		Store:             st,
		Connector:         mux,
		KeepaliveTimeout:  cfg.KeepaliveTimeout,
		KeepaliveInterval: cfg.KeepaliveInterval,
		SweepInterval:     cfg.SweepInterval,
		EventBuffer:       cfg.EventBuffer,
		Logger:            log,
	})
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	srv := controller.New(fmt.Sprintf(":%d", cfg.HTTPPort), d, controller.Options{
		Logger:        log,
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
		InternalToken: cfg.InternalToken,
		Metrics:       metricsHandler,
	})

	log.Info("runtimed starting", "port", cfg.HTTPPort, "store", cfg.Store, "advertise_url", cfg.AdvertiseURL)
	if cfg.InternalToken != "" {
		// The fingerprint lets operators match adapter and daemon tokens from the logs.
		log.Info("internal endpoints require a token", "token_fingerprint", auth.HashToken(cfg.InternalToken)[:12])
	}
	serveErr := srv.Run(ctx)

	log.Info("shutting down runtimed")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		log.Warn("daemon did not stop cleanly", "error", err)
	}
	return serveErr
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pg, err := postgres.Open(ctx, postgres.DefaultConfig(cfg.DatabaseURL))
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if cfg.MigrateOnStart {
			log.Info("running database migrations")
			if err := postgres.Migrate(pg.DB()); err != nil {
				pg.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return pg, nil
	default:
		return memory.New(), nil
	}
}
