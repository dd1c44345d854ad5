package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"papelflow/internal/backend"
	"papelflow/internal/cli"
	apphttp "papelflow/internal/http"
	"papelflow/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	res := cli.OpenBackend(context.Background(), logger, cfg)
	svc := backend.NewServices(res, cfg)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Services{
		Ledger:    svc.Ledger,
		Scheduler: svc.Scheduler,
		Reminders: svc.Reminders,
		Insights:  svc.Insights,
	}, apphttp.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Notifications:      backend.NotificationPermission(cfg),
	})
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := res.Close(); err != nil {
			logger.Error("Backend close error", log.FieldError, err)
		}
	})

	logger.Info("Starting papelflow server",
		log.FieldOperation, log.OpStartup,
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"events", cfg.EventsBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
