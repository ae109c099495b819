package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vestflow/internal/config"
	"vestflow/internal/db"
	"vestflow/internal/ledger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	opts := db.DefaultPoolOptions()
	opts.MaxConns = 4
	opts.MinConns = 1
	pool, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc, err := ledger.NewService(pool, cfg.Ledger, logger)
	if err != nil {
		logger.Error("ledger init failed", "err", err)
		os.Exit(1)
	}

	if cfg.RunOnce {
		res, err := svc.SweepExpiredInvestments(ctx)
		if err != nil {
			logger.Error("sweep failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "completed", res.Completed)
		return
	}

	ticker := time.NewTicker(cfg.SweepEvery)
	defer ticker.Stop()

	logger.Info("worker started", "sweep_every", cfg.SweepEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			res, err := svc.SweepExpiredInvestments(ctx)
			if err != nil {
				logger.Error("sweep failed", "err", err)
				continue
			}
			if res.Completed > 0 {
				logger.Info("sweep complete", "completed", res.Completed, "ids", res.IDs)
			}
		}
	}
}
