package main

import (
	"context"
	"errors"
	"os"
	"time"

	"papelflow/internal/backend"
	"papelflow/internal/cli"
	"papelflow/internal/log"
	"papelflow/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting recurring-worker", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)
	res := cli.OpenBackend(context.Background(), logger, cfg)
	svc := backend.NewServices(res, cfg)

	w := worker.NewRecurringWorker(svc.Scheduler, svc.Reminders, backend.NotificationPermission(cfg))

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := res.Close(); err != nil {
			logger.Error("Backend close error", log.FieldError, err)
		}
	})

	logger.Info("Recurring worker configured",
		"interval", cfg.SchedulerInterval,
		"backend", cfg.DataBackend,
		"notifications", cfg.NotificationsEnabled)

	if err := w.Run(ctx, cfg.SchedulerInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Recurring worker stopped", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Recurring-worker shutdown complete")
}
