package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/clearbooks/clearbooks/internal/app"
	"github.com/clearbooks/clearbooks/internal/platform/db"
	"github.com/clearbooks/clearbooks/internal/shared"
	"github.com/clearbooks/clearbooks/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	idempotencyStore := shared.NewIdempotencyStore(pool)

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(24 * time.Hour)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}
	overdueTask, err := jobs.NewOverdueScanTask()
	if err != nil {
		logger.Error("build overdue task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idempotencyStore, logger)},
			{Type: jobs.TaskOverdueScan, Handler: jobs.NewOverdueScanHandler(pool, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: cleanupTask},
			{Spec: "0 6 * * *", Task: overdueTask},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
