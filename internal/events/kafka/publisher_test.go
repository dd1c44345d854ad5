package kafka

import (
	"context"
	"errors"
	"testing"

	"papelflow/internal/events"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w, topic: "ledger"}

	e := events.Event{ID: "e-1", Type: events.TransactionPosted, AccountIDs: []string{"checking", "savings"}}
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "checking" {
		t.Errorf("key = %q, want checking", w.msgs[0].Key)
	}
	got, err := events.FromJSON(w.msgs[0].Value)
	if err != nil || got.ID != "e-1" {
		t.Fatalf("payload = %+v, err = %v", got, err)
	}

	w.err = errors.New("broker down")
	if err := p.Publish(context.Background(), e); err == nil {
		t.Error("Publish() should surface writer errors")
	}
}

func TestPartitionKey(t *testing.T) {
	tests := []struct {
		name string
		e    events.Event
		want string
	}{
		{"account", events.Event{ID: "e", ObligationID: "o", AccountIDs: []string{"a"}}, "a"},
		{"obligation", events.Event{ID: "e", ObligationID: "o"}, "o"},
		{"fallback to id", events.Event{ID: "e"}, "e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := partitionKey(tt.e); got != tt.want {
				t.Errorf("partitionKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubscriber_Consume(t *testing.T) {
	good, _ := events.Event{ID: "e-1", Type: events.TransactionPosted}.ToJSON()
	r := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte("garbage")},
		{Offset: 2, Value: good},
	}}
	s := &Subscriber{reader: r}

	var handled []string
	err := s.Consume(context.Background(), func(_ context.Context, e events.Event) error {
		handled = append(handled, e.ID)
		return nil
	})
	if !errors.Is(err, context.Canceled) && err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if len(handled) != 1 || handled[0] != "e-1" {
		t.Fatalf("handled = %v", handled)
	}
	if len(r.committed) != 2 {
		t.Fatalf("committed = %v, want both offsets", r.committed)
	}
}

func TestSubscriber_HandlerErrorStops(t *testing.T) {
	good, _ := events.Event{ID: "e-1", Type: events.TransactionPosted}.ToJSON()
	r := &fakeReader{msgs: []kafka.Message{{Offset: 7, Value: good}}}
	s := &Subscriber{reader: r}

	err := s.Consume(context.Background(), func(context.Context, events.Event) error {
		return errors.New("sheet unavailable")
	})
	if err == nil {
		t.Fatal("Consume() should stop on handler error")
	}
	if len(r.committed) != 0 {
		t.Fatalf("failed message was committed: %v", r.committed)
	}
}
