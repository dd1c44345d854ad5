// Package events defines the notifications emitted by the ledger and the
// recurring worker, and the Publisher port that delivers them.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"papelflow/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Type string

const (
	TransactionPosted        Type = "transaction.posted"
	TransactionDeleted       Type = "transaction.deleted"
	TransactionPendingRepair Type = "transaction.pending_repair"
	ObligationCreated        Type = "obligation.created"
	ObligationUpdated        Type = "obligation.updated"
	ObligationMaterialized   Type = "obligation.materialized"
	ReminderDue              Type = "reminder.due"
)

// Event is the JSON envelope put on the wire.
type Event struct {
	ID            string            `json:"id"`
	Type          Type              `json:"type"`
	TransactionID string            `json:"transaction_id,omitempty"`
	ObligationID  string            `json:"obligation_id,omitempty"`
	AccountIDs    []string          `json:"account_ids,omitempty"`
	Kind          string            `json:"kind,omitempty"`
	CategoryID    string            `json:"category_id,omitempty"`
	Payee         string            `json:"payee,omitempty"`
	Amount        decimal.Decimal   `json:"amount"`
	Date          string            `json:"date,omitempty"`
	Reminder      core.ReminderKind `json:"reminder,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

func newEvent(t Type, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: at.UTC()}
}

func accountsOf(tx core.Transaction) []string {
	ids := []string{tx.AccountID}
	if tx.Kind == core.Transfer {
		ids = append(ids, tx.DestinationAccountID)
	}
	return ids
}

// ForTransaction builds a transaction.* event.
func ForTransaction(t Type, tx core.Transaction, at time.Time) Event {
	e := newEvent(t, at)
	e.TransactionID = tx.ID
	e.ObligationID = tx.ObligationID
	e.AccountIDs = accountsOf(tx)
	e.Kind = string(tx.Kind)
	e.CategoryID = tx.CategoryID
	e.Payee = tx.Payee
	e.Amount = tx.Amount
	e.Date = tx.Date.String()
	return e
}

// ForMaterialization builds an obligation.materialized event.
func ForMaterialization(tx core.Transaction, due core.Date, at time.Time) Event {
	e := ForTransaction(ObligationMaterialized, tx, at)
	e.Date = due.String()
	return e
}

// ForObligation builds an obligation.created or obligation.updated event.
func ForObligation(t Type, o core.RecurringObligation, at time.Time) Event {
	e := newEvent(t, at)
	e.ObligationID = o.ID
	if o.AccountID != "" {
		e.AccountIDs = []string{o.AccountID}
	}
	e.CategoryID = o.CategoryID
	e.Payee = o.Name
	e.Amount = o.Amount
	e.Date = o.NextDue.String()
	return e
}

// ForReminder builds a reminder.due event.
func ForReminder(o core.RecurringObligation, kind core.ReminderKind, at time.Time) Event {
	e := newEvent(ReminderDue, at)
	e.ObligationID = o.ID
	e.AccountIDs = []string{o.AccountID}
	e.CategoryID = o.CategoryID
	e.Amount = o.Amount
	e.Date = o.NextDue.String()
	e.Reminder = kind
	e.Reason = o.Name
	return e
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func FromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	if e.Type == "" {
		return Event{}, errors.New("event type is required")
	}
	return e, nil
}

// Publisher delivers events. Delivery is best effort from the ledger's point
// of view: a failed publish never undoes a committed write.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit publishes e and logs a failure instead of returning it.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		slog.WarnContext(ctx, "Failed to publish event",
			"type", e.Type,
			"transaction_id", e.TransactionID,
			"obligation_id", e.ObligationID,
			"error", err)
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType filters the recorded events.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
