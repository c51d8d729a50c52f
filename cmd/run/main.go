// Package main runs one monitoring cycle: scan ownership, evaluate positions,
// drive alerts and publish summary snapshots, then exit. Intended for external
// schedulers (cron, systemd timers); the worker binary wraps the same cycle in
// an internal scheduler.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

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
	logger := logging.Named("run")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	r, cleanup, err := buildRunner(cfg)
	if err != nil {
		logger.Fatal("failed to build runner", zap.Error(err))
	}
	defer cleanup()

	if err := r.RunOnce(ctx); err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}
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
