package backend

import (
	"context"
	"errors"
	"fmt"

	"papelflow/internal/amqp"
	"papelflow/internal/events"
	"papelflow/internal/events/kafka"
	"papelflow/internal/log"
	"papelflow/internal/storage"
	"papelflow/internal/storage/memory"
)

const amqpConnectAttempts = 5

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Default(log.ComponentBackend)
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend opens the store and the event publisher named by config.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := f.createStore(config)
	if err != nil {
		return nil, err
	}

	publisher, closePublisher, err := f.createPublisher(ctx, config)
	if err != nil {
		store.Close()
		return nil, err
	}

	f.logger.InfoContext(ctx, "Initialized backend",
		log.FieldOperation, log.OpStartup,
		"backend", config.Type,
		"events", config.Events)

	return &BackendResult{
		Store:     store,
		Publisher: publisher,
		Cleanup: func() error {
			return errors.Join(closePublisher(), store.Close())
		},
	}, nil
}

func (f *DefaultFactory) createStore(config Config) (storage.Store, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return repo, nil
	case PostgresBackend:
		repo, err := storage.NewPostgresRepository(config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres repository: %w", err)
		}
		f.logger.Info("Initialized Postgres backend")
		return repo, nil
	case MemoryBackend:
		if config.SeedFile == "" {
			f.logger.Info("Initialized empty memory backend")
			return memory.New(), nil
		}
		store, err := memory.NewFromFile(config.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to seed memory backend: %w", err)
		}
		f.logger.Info("Initialized memory backend", "seed_file", config.SeedFile)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createPublisher(ctx context.Context, config Config) (events.Publisher, CleanupFunc, error) {
	noop := func() error { return nil }

	switch config.Events {
	case AMQPEvents:
		client, err := amqp.NewClientWithRetry(ctx, config.AMQPURL, config.AMQPExchange, config.AMQPQueue, amqpConnectAttempts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize AMQP client: %w", err)
		}
		f.logger.Info("Initialized AMQP publisher",
			"exchange", config.AMQPExchange,
			"queue", config.AMQPQueue)
		return client, client.Close, nil
	case KafkaEvents:
		pub := kafka.NewPublisher(config.KafkaBrokers, config.KafkaTopic)
		f.logger.Info("Initialized Kafka publisher", "topic", config.KafkaTopic)
		return pub, pub.Close, nil
	default:
		return events.Nop{}, noop, nil
	}
}
