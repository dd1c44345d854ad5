package backend

import (
	"context"

	"papelflow/internal/events"
	"papelflow/internal/storage"
)

// CleanupFunc releases the resources a backend holds
type CleanupFunc func() error

// BackendResult is the data layer a binary runs on: the ledger store and
// the outbound event stream.
type BackendResult struct {
	Store     storage.Store
	Publisher events.Publisher
	Cleanup   CleanupFunc
}

// Close runs Cleanup if there is one.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQL backends
	SQLiteDBPath string
	DatabaseURL  string

	// Memory backend
	SeedFile string

	// Outbound events
	Events       EventsType
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	KafkaBrokers []string
	KafkaTopic   string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	MemoryBackend   BackendType = "memory"
)

// EventsType selects where ledger events are published.
type EventsType string

const (
	NoEvents    EventsType = "none"
	AMQPEvents  EventsType = "amqp"
	KafkaEvents EventsType = "kafka"
)
