package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"classroom/internal/app"
	"classroom/internal/config"
	"classroom/internal/logging"
	"classroom/internal/queue"
)

// Worker drains queued vision events into the attendance aggregator.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		logger.Warn("memory queue is process-local; the worker only sees events published in this process")
	}

	b, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("backend init failed", zap.Error(err))
	}
	defer b.Close()

	logger.Info("worker started", zap.String("queue", cfg.QueueBackend), zap.String("key", cfg.QueueKey))
	applied, err := queue.NewWorker(b.Queue, b.Attendance, logger.Named("worker")).Run(ctx)
	if err != nil {
		logger.Error("queue consume failed", zap.Error(err))
		return
	}
	logger.Info("worker stopped", zap.Int("applied", applied))
}
