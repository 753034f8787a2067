// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/libranexus/lending/internal/config"
	"github.com/libranexus/lending/internal/events"
	"github.com/libranexus/lending/internal/jobs"
	"github.com/libranexus/lending/internal/logging"
	"github.com/libranexus/lending/internal/promotion"
	"github.com/libranexus/lending/internal/server"
	"github.com/libranexus/lending/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config (default config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Init(cfg.LogLevel).With("service", "worker")

	if err := run(cfg, logger); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if cfg.Store == "memory" {
		return errors.New("the worker needs a shared store; run circulation alone with store=memory")
	}
	if cfg.RedisAddr == "" {
		return errors.New("the worker consumes the promotion stream; redisAddr is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "libranexus-worker",
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

	client, err := server.NewRedisClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	// The stream is built after the stack so failed jobs land in its dead-letter table.
	var queue *jobs.RedisQueue
	stack := server.NewStack(cfg, st, server.NewCatalogClient(cfg), func(p *promotion.Promoter, dead *promotion.DeadLetters) server.Dispatcher {
		queue, err = server.NewJobQueue(cfg, client, dead)
		return promotion.NewQueueDispatcher(queue)
	}, nil)
	if err != nil {
		return fmt.Errorf("promotion queue: %w", err)
	}

	sinks, closeSinks, err := server.NewSinks(ctx, cfg, client, stack.Services.Notifications)
	if err != nil {
		return fmt.Errorf("event sinks: %w", err)
	}
	defer closeSinks()

	worker := promotion.NewWorker(queue, stack.Promoter, cfg.WorkerConcurrency)
	relay := events.NewRelay(st, cfg.RelayInterval.Std(), cfg.RelayBatch, sinks...)

	logger.Info("worker started",
		"stream", cfg.QueueStream,
		"group", cfg.QueueGroup,
		"concurrency", cfg.WorkerConcurrency,
		"event_sink", cfg.EventSink,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return stack.Sweeper.Run(gctx) })
	err = g.Wait()
	logger.Info("worker stopped")
	return err
}
