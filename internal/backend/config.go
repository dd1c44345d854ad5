package backend

import (
	"errors"
	"fmt"
	"strings"

	"papelflow/internal/config"
)

// FromAppConfig picks the storage and event settings out of the application
// config and validates the combination.
func FromAppConfig(app *config.Config) (Config, error) {
	if app == nil {
		return Config{}, errors.New("app config is nil")
	}

	c := Config{
		Type:         BackendType(app.DataBackend),
		SQLiteDBPath: app.SQLiteDBPath,
		DatabaseURL:  app.DatabaseURL,
		SeedFile:     app.SeedFile,
		Events:       EventsType(app.EventsBackend),
		AMQPURL:      app.AMQPURL,
		AMQPExchange: app.AMQPExchange,
		AMQPQueue:    app.AMQPQueue,
		KafkaBrokers: app.KafkaBrokers,
		KafkaTopic:   app.KafkaTopic,
	}
	if c.Events == "" {
		c.Events = NoEvents
	}
	return c, c.Validate()
}

// Validate reports every problem with the store and event settings at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			errs = append(errs, errors.New("SQLite database path is required for sqlite backend"))
		}
	case PostgresBackend:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database URL is required for postgres backend"))
		}
	case MemoryBackend:
		// seed file is optional
	default:
		errs = append(errs, fmt.Errorf("invalid backend type %q: must be one of %s", c.Type, backendNames()))
	}

	switch c.Events {
	case NoEvents, "":
	case AMQPEvents:
		if c.AMQPURL == "" || c.AMQPExchange == "" {
			errs = append(errs, errors.New("AMQP URL and exchange are required for amqp events"))
		}
	case KafkaEvents:
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			errs = append(errs, errors.New("Kafka brokers and topic are required for kafka events"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid events backend %q", c.Events))
	}

	return errors.Join(errs...)
}

var backendTypes = []BackendType{MemoryBackend, SQLiteBackend, PostgresBackend}

func backendNames() string {
	names := make([]string, len(backendTypes))
	for i, t := range backendTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
