// cmd/chaos/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/libranexus/lending/internal/chaos"
	"github.com/libranexus/lending/internal/circulation"
	"github.com/libranexus/lending/internal/config"
	"github.com/libranexus/lending/internal/logging"
	"github.com/libranexus/lending/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config (default config.yaml)")
	members := flag.Int("members", 50, "concurrent members per experiment")
	copies := flag.Int("copies", 3, "copies of the contended book")
	duration := flag.Duration("duration", 5*time.Second, "observation window per experiment")
	pause := flag.Duration("pause", 2*time.Second, "pause between experiments")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Init(cfg.LogLevel).With("service", "chaos")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	st, err := server.OpenStore(ctx, cfg)
	if err != nil {
		logger.Error("open store failed", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	policy := circulation.Policy{LoanPeriod: cfg.LoanPeriod.Std(), MaxActiveLoans: cfg.MaxActiveLoans}
	target := chaos.LocalTarget(st, policy, nil)

	engine := chaos.NewEngine()
	engine.Register(chaos.Experiments(target, chaos.Options{
		Members:  *members,
		Copies:   *copies,
		Duration: *duration,
	})...)

	held, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "lending game day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Pause:     *pause,
	})
	if err != nil {
		logger.Error("game day interrupted", "error", err)
		os.Exit(1)
	}
	if !held {
		logger.Error("at least one hypothesis was violated")
		os.Exit(2)
	}
	logger.Info("all hypotheses held")
}
