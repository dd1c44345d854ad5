package worker

import (
	"context"
	"errors"
	"time"

	"papelflow/internal/core"
	"papelflow/internal/log"
	"papelflow/internal/services"
)

// RecurringWorker runs the scheduler, the reminder gate and the retention
// sweeps on a fixed interval.
type RecurringWorker struct {
	scheduler *services.Scheduler
	reminders *services.ReminderGate
	perm      services.Permission
	logger    *log.Logger
	now       func() time.Time
}

func NewRecurringWorker(scheduler *services.Scheduler, reminders *services.ReminderGate, perm services.Permission) *RecurringWorker {
	if perm == nil {
		perm = services.Denied
	}
	return &RecurringWorker{
		scheduler: scheduler,
		reminders: reminders,
		perm:      perm,
		logger:    log.Default(log.ComponentWorker),
		now:       time.Now,
	}
}

// TickReport summarises one pass.
type TickReport struct {
	Materialized      int   `json:"materialized"`
	RemindersFired    int   `json:"reminders_fired"`
	PrunedOccurrences int64 `json:"pruned_occurrences"`
	PrunedReminders   int64 `json:"pruned_reminders"`
}

// Tick runs every step once as of today. A failing step does not stop the
// later ones; all failures are joined into the returned error.
func (w *RecurringWorker) Tick(ctx context.Context, today core.Date) (TickReport, error) {
	var (
		rep  TickReport
		errs []error
	)

	txs, err := w.scheduler.Run(ctx, today)
	rep.Materialized = len(txs)
	if err != nil {
		errs = append(errs, err)
	}

	fired, err := w.reminders.CheckReminders(ctx, w.perm, today)
	rep.RemindersFired = len(fired)
	if err != nil {
		errs = append(errs, err)
	}

	if rep.PrunedOccurrences, err = w.scheduler.PruneMaterializations(ctx, today); err != nil {
		errs = append(errs, err)
	}
	if rep.PrunedReminders, err = w.reminders.PruneReminders(ctx, today); err != nil {
		errs = append(errs, err)
	}

	err = errors.Join(errs...)
	args := []any{
		log.FieldDate, today.String(),
		"materialized", rep.Materialized,
		"reminders_fired", rep.RemindersFired,
		"pruned_occurrences", rep.PrunedOccurrences,
		"pruned_reminders", rep.PrunedReminders,
	}
	if err != nil {
		w.logger.WarnContext(ctx, "Recurring pass finished with failures",
			append(args, log.FieldError, err, log.FieldErrorKind, core.ErrorKind(err))...)
	} else {
		w.logger.InfoContext(ctx, "Recurring pass complete", args...)
	}
	return rep, err
}

// Run ticks immediately and then every interval until ctx ends.
func (w *RecurringWorker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_, _ = w.Tick(ctx, core.DateOf(w.now()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = w.Tick(ctx, core.DateOf(w.now()))
		}
	}
}
