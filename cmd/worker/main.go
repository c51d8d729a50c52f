// Package main runs the monitoring cycle on an internal schedule. The run
// lock still serializes cycles, so a worker and an external one-shot run can
// coexist without double-processing.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/position-sentinel/internal/alert"
	"github.com/position-sentinel/internal/chain"
	"github.com/position-sentinel/internal/config"
	"github.com/position-sentinel/internal/logging"
	"github.com/position-sentinel/internal/runner"
	"github.com/position-sentinel/internal/storage"
	"github.com/position-sentinel/internal/types"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logging.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Failed to init logging: %v", err)
	}
	defer logging.Sync()
	logger := logging.Named("worker")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	r, cleanup, err := buildRunner(cfg)
	if err != nil {
		logger.Fatal("failed to build runner", zap.Error(err))
	}
	defer cleanup()

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Worker.Schedule, func() {
		if err := r.RunOnce(ctx); err != nil {
			logger.Error("scheduled run failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Fatal("invalid run schedule",
			zap.String("schedule", cfg.Worker.Schedule), zap.Error(err))
	}

	logger.Info("worker started", zap.String("schedule", cfg.Worker.Schedule))
	scheduler.Start()

	// run once immediately rather than waiting out the first interval
	if err := r.RunOnce(ctx); err != nil {
		logger.Error("initial run failed", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("shutting down worker")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
}

// buildRunner wires storage, providers and the alert engine into a runner.
func buildRunner(cfg *config.Config) (*runner.Runner, func(), error) {
	pg, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	ch, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		pg.Close()
		return nil, nil, err
	}
	rd, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		pg.Close()
		_ = ch.Close()
		return nil, nil, err
	}
	cleanup := func() {
		pg.Close()
		_ = ch.Close()
		_ = rd.Close()
	}

	providers := make(map[types.ChainID]*chain.Provider)
	for name, chainCfg := range cfg.Chains.Chains {
		provider, err := chain.NewProvider(types.ChainID(name), chainCfg.RPCURL, chainCfg.RequestsPerSecond)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		providers[types.ChainID(name)] = provider
	}

	engine := alert.NewEngine(
		storage.NewAlertStateRepository(pg),
		storage.NewAlertLog(ch),
		alert.NewLogSink(),
	)

	r := runner.New(
		cfg,
		providers,
		storage.NewContractRepository(pg),
		storage.NewWalletRepository(pg),
		storage.NewOwnershipRepository(pg),
		storage.NewTransferLedger(ch),
		storage.NewSummaryCache(rd, cfg.Cache.SummaryTTL),
		engine,
	)
	return r, cleanup, nil
}
