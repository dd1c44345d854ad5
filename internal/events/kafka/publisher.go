package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"papelflow/internal/events"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes ledger events to one topic, keyed by the account they
// touch first so that events of an account stay ordered within a partition.
type Publisher struct {
	writer messageWriter
	topic  string
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		topic: topic,
	}
}

func partitionKey(e events.Event) string {
	if len(e.AccountIDs) > 0 {
		return e.AccountIDs[0]
	}
	if e.ObligationID != "" {
		return e.ObligationID
	}
	return e.ID
}

func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	data, err := e.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(partitionKey(e)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
		Time: e.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}

	slog.DebugContext(ctx, "Published event", "type", e.Type, "topic", p.topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Subscriber reads ledger events as part of a consumer group.
type Subscriber struct {
	reader messageReader
}

func NewSubscriber(brokers []string, topic, groupID string) *Subscriber {
	return &Subscriber{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
	}
}

// Consume hands every event to handler and commits it once handled.
// A message that fails to decode is committed and skipped; a handler error
// stops consumption so the message is redelivered after restart.
func (s *Subscriber) Consume(ctx context.Context, handler func(context.Context, events.Event) error) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("fetch kafka message: %w", err)
		}

		e, err := events.FromJSON(msg.Value)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to decode event", "error", err, "offset", msg.Offset)
		} else if err := handler(ctx, e); err != nil {
			return fmt.Errorf("handle event %s: %w", e.ID, err)
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit kafka message: %w", err)
		}
	}
}

func (s *Subscriber) Close() error {
	return s.reader.Close()
}
