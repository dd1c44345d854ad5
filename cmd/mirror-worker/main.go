package main

import (
	"context"
	"errors"
	"os"
	"time"

	"papelflow/internal/amqp"
	"papelflow/internal/backend"
	"papelflow/internal/cli"
	"papelflow/internal/config"
	"papelflow/internal/core"
	"papelflow/internal/events/kafka"
	"papelflow/internal/log"
	"papelflow/internal/sheets"
	gsheet "papelflow/internal/sheets/google"
	sheetsmem "papelflow/internal/sheets/memory"
	"papelflow/internal/worker"
)

// source is an event stream the worker can consume and close.
type source interface {
	worker.EventSource
	Close() error
}

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting mirror-worker", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)

	// The mirror only reads the ledger; it never publishes.
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	bcfg.Events = backend.NoEvents
	res, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend)).CreateBackend(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err)
		os.Exit(1)
	}
	defer res.Close()

	mirror := openMirror(logger, cfg)
	w := worker.NewMirrorWorker(mirror, res.Store)

	month := core.Today().MonthOf()
	if _, err := w.Reconcile(context.Background(), month); err != nil {
		logger.Warn("Startup reconciliation incomplete", log.FieldError, err, log.FieldMonth, month.String())
	}

	src, err := openSource(logger, cfg)
	if err != nil {
		logger.Error("Failed to open event source", log.FieldError, err)
		os.Exit(1)
	}
	if src == nil {
		logger.Info("No event stream configured; reconciled once and exiting")
		return
	}
	defer src.Close()

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := w.Stop(ctx); err != nil {
			logger.Warn("Mirror worker stop error", log.FieldError, err)
		}
	})

	if err := w.Start(ctx, src); err != nil {
		logger.Error("Failed to start mirror worker", log.FieldError, err)
		os.Exit(1)
	}

	select {
	case <-w.Done():
		if err := w.Err(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Mirror worker stopped", log.FieldError, err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Mirror-worker shutdown complete")
}

func openMirror(logger *log.Logger, cfg *config.Config) sheets.Mirror {
	if cfg.GoogleSpreadsheetID == "" {
		logger.Warn("GOOGLE_SPREADSHEET_ID not set, mirroring into memory only")
		return sheetsmem.New()
	}
	client, err := gsheet.NewFromEnv(context.Background())
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets mirror initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client
}

func openSource(logger *log.Logger, cfg *config.Config) (source, error) {
	switch cfg.EventsBackend {
	case config.EventsAMQP:
		client, err := amqp.NewClientWithRetry(context.Background(), cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, 10)
		if err != nil {
			return nil, err
		}
		logger.Info("Consuming ledger events from AMQP", "queue", cfg.AMQPQueue)
		return client, nil
	case config.EventsKafka:
		logger.Info("Consuming ledger events from Kafka",
			"topic", cfg.KafkaTopic,
			"group_id", cfg.KafkaGroupID)
		return kafka.NewSubscriber(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID), nil
	default:
		return nil, nil
	}
}
