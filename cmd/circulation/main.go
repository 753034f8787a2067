// cmd/circulation/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/libranexus/lending/internal/config"
	"github.com/libranexus/lending/internal/events"
	"github.com/libranexus/lending/internal/logging"
	"github.com/libranexus/lending/internal/server"
	"github.com/libranexus/lending/internal/telemetry"
)

const requestTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML config (default config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Init(cfg.LogLevel).With("service", "circulation")

	if err := run(cfg, logger); err != nil {
		logger.Error("circulation stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "libranexus-circulation",
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	st, err := server.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer st.Close()

	// A memory store is private to this process, so promotion, relay and
	// sweeps run here. With Postgres and Redis they belong to cmd/worker.
	inProcess := cfg.Store == "memory" || cfg.RedisAddr == ""

	var client redis.UniversalClient
	if !inProcess || cfg.EventSink == "redis" {
		client, err = server.NewRedisClient(ctx, cfg)
		if err != nil {
			return err
		}
		if client != nil {
			defer client.Close()
		}
	}

	dispatch := server.DispatcherFunc(server.Local)
	if !inProcess {
		queue, err := server.NewJobQueue(cfg, client, nil)
		if err != nil {
			return fmt.Errorf("promotion queue: %w", err)
		}
		dispatch = server.Queued(queue)
	}
	stack := server.NewStack(cfg, st, server.NewCatalogClient(cfg), dispatch, nil)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewRouter(stack.Services, requestTimeout),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("circulation listening", "addr", srv.Addr, "store", cfg.Store, "in_process_promotion", inProcess)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace.Std())
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(sctx)
	})

	if inProcess {
		sinks, closeSinks, err := server.NewSinks(ctx, cfg, client, stack.Services.Notifications)
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("event sinks: %w", err)
		}
		defer closeSinks()
		relay := events.NewRelay(st, cfg.RelayInterval.Std(), cfg.RelayBatch, sinks...)
		g.Go(func() error { return relay.Run(gctx) })
		g.Go(func() error { return stack.Sweeper.Run(gctx) })
	}

	return g.Wait()
}
