package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"papelflow/internal/core"
	"papelflow/internal/events"
	"papelflow/internal/log"
	"papelflow/internal/storage"
)

// Permission is the notification capability handed to the reminder gate.
type Permission interface {
	Granted() bool
}

// PermissionFunc adapts a plain function to Permission. It is consulted on
// every CheckReminders call, so revoking it takes effect immediately.
type PermissionFunc func() bool

func (f PermissionFunc) Granted() bool { return f() }

var (
	Granted Permission = PermissionFunc(func() bool { return true })
	Denied  Permission = PermissionFunc(func() bool { return false })
)

// ReminderStore is the persistence the reminder gate needs.
type ReminderStore interface {
	storage.ObligationStore
	storage.ReminderStore
}

// Reminder is one obligation due today or within the upcoming window.
// DaysUntil is 0 for due_today.
type Reminder struct {
	Obligation core.RecurringObligation `json:"obligation"`
	Kind       core.ReminderKind        `json:"kind"`
	DaysUntil  int                      `json:"days_until"`
}

type ReminderConfig struct {
	// WindowDays is how far ahead an obligation counts as upcoming.
	WindowDays int
	// RetentionDays is how long fired reminder records are kept.
	RetentionDays int
}

func DefaultReminderConfig() ReminderConfig {
	return ReminderConfig{WindowDays: 3, RetentionDays: 7}
}

// ReminderGate decides which obligations deserve a reminder today and
// guarantees each (obligation, day, kind) fires once.
type ReminderGate struct {
	store     ReminderStore
	publisher events.Publisher
	cfg       ReminderConfig
	logger    *log.Logger
	now       func() time.Time
}

// NewReminderGate fills zero config fields from DefaultReminderConfig.
func NewReminderGate(store ReminderStore, publisher events.Publisher, cfg ReminderConfig) *ReminderGate {
	def := DefaultReminderConfig()
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = def.RetentionDays
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &ReminderGate{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		logger:    log.Default(log.ComponentReminders),
		now:       time.Now,
	}
}

func (g *ReminderGate) kindFor(days int) (core.ReminderKind, bool) {
	switch {
	case days == 0:
		return core.DueToday, true
	case days > 0 && days <= g.cfg.WindowDays:
		return core.UpcomingSoon, true
	default:
		return "", false
	}
}

// CheckReminders returns the reminders that fire today and records them so
// a second check on the same day returns nothing new. Without permission
// nothing is returned or recorded.
func (g *ReminderGate) CheckReminders(ctx context.Context, perm Permission, today core.Date) ([]Reminder, error) {
	if perm == nil || !perm.Granted() {
		g.logger.DebugContext(ctx, "Notification permission not granted, skipping reminders")
		return nil, nil
	}

	obligations, err := g.store.ListObligations(ctx, true)
	if err != nil {
		return nil, core.Transient("list obligations", err)
	}

	var (
		fired []Reminder
		errs  []error
	)
	for _, o := range obligations {
		days := today.DaysUntil(o.NextDue)
		kind, ok := g.kindFor(days)
		if !ok {
			continue
		}

		rec := core.ReminderRecord{ObligationID: o.ID, Day: today, Kind: kind, CreatedAt: g.now()}
		if err := g.store.MarkReminder(ctx, rec); err != nil {
			if errors.Is(err, core.ErrConflict) {
				continue
			}
			g.logger.ErrorContext(ctx, "Failed to record reminder",
				log.FieldObligationID, o.ID,
				log.FieldKind, kind,
				log.FieldError, err)
			errs = append(errs, fmt.Errorf("reminder %s: %w", o.ID, core.Transient("mark reminder", err)))
			continue
		}

		fired = append(fired, Reminder{Obligation: o, Kind: kind, DaysUntil: days})
		events.Emit(ctx, g.publisher, events.ForReminder(o, kind, g.now()))
	}

	if len(fired) > 0 {
		g.logger.InfoContext(ctx, "Reminders fired",
			log.FieldOperation, log.OpRemind,
			log.FieldDate, today.String(),
			log.FieldCount, len(fired))
	}
	return fired, errors.Join(errs...)
}

// PruneReminders deletes reminder records older than the retention window.
func (g *ReminderGate) PruneReminders(ctx context.Context, today core.Date) (int64, error) {
	n, err := g.store.PruneReminders(ctx, today.AddDays(-g.cfg.RetentionDays))
	if err != nil {
		return 0, core.Transient("prune reminders", err)
	}
	if n > 0 {
		g.logger.InfoContext(ctx, "Pruned reminder records",
			log.FieldOperation, log.OpPrune,
			log.FieldCount, n)
	}
	return n, nil
}
