package main

import (
	"context"
	"flag"

	"papelflow/internal/backend"
	"papelflow/internal/core"

	"github.com/google/subcommands"
)

type obligationCmd struct {
	id        string
	name      string
	amount    string
	frequency string
	due       string
	account   string
	category  string
}

func (*obligationCmd) Name() string     { return "obligation" }
func (*obligationCmd) Synopsis() string { return "register a recurring obligation" }
func (*obligationCmd) Usage() string {
	return `papelctl obligation -name <name> -amount <amount> -freq <weekly|monthly|yearly> -due <date> -a <account> -c <category>
`
}

func (c *obligationCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "Obligation id (generated when empty)")
	f.StringVar(&c.name, "name", "", "Display name")
	f.StringVar(&c.amount, "amount", "", "Amount charged on every occurrence")
	f.StringVar(&c.frequency, "freq", "monthly", "Recurrence")
	f.StringVar(&c.due, "due", "", "First due date (defaults to today)")
	f.StringVar(&c.account, "a", "", "Account charged")
	f.StringVar(&c.category, "c", "", "Expense category")
}

func (c *obligationCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	amount, err := core.ParseAmount(c.amount)
	if err != nil {
		return usageError("%v", err)
	}
	freq, err := core.ParseFrequency(c.frequency)
	if err != nil {
		return usageError("%v", err)
	}
	due, err := dateFlag(c.due)
	if err != nil {
		return usageError("%v", err)
	}
	return withSession(ctx, func(ctx context.Context, s *session) error {
		o, err := s.svc.Scheduler.CreateObligation(ctx, core.RecurringObligation{
			ID:         c.id,
			Name:       c.name,
			Amount:     amount,
			Frequency:  freq,
			NextDue:    due,
			CategoryID: c.category,
			AccountID:  c.account,
		})
		if err != nil {
			return err
		}
		return printJSON(o)
	})
}

type runSchedulerCmd struct {
	date string
}

func (*runSchedulerCmd) Name() string     { return "run-scheduler" }
func (*runSchedulerCmd) Synopsis() string { return "materialize every obligation occurrence that is due" }
func (*runSchedulerCmd) Usage() string {
	return `papelctl run-scheduler [-d <date>]

  Posts a transaction for every due occurrence up to the date. Safe to run
  repeatedly and concurrently with other runners.
`
}

func (c *runSchedulerCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", "", "Run as of this date (defaults to today)")
}

func (c *runSchedulerCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	today, err := dateFlag(c.date)
	if err != nil {
		return usageError("%v", err)
	}
	return withSession(ctx, func(ctx context.Context, s *session) error {
		txs, runErr := s.svc.Scheduler.Run(ctx, today)
		if err := printJSON(map[string]any{"materialized": txs}); err != nil {
			return err
		}
		return runErr
	})
}

type remindersCmd struct {
	date string
}

func (*remindersCmd) Name() string     { return "reminders" }
func (*remindersCmd) Synopsis() string { return "fire reminders for upcoming and overdue obligations" }
func (*remindersCmd) Usage() string {
	return `papelctl reminders [-d <date>]

  Fires each reminder at most once per obligation and day. Does nothing
  unless NOTIFICATIONS_ENABLED is set.
`
}

func (c *remindersCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", "", "Check as of this date (defaults to today)")
}

func (c *remindersCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	today, err := dateFlag(c.date)
	if err != nil {
		return usageError("%v", err)
	}
	return withSession(ctx, func(ctx context.Context, s *session) error {
		fired, checkErr := s.svc.Reminders.CheckReminders(ctx, backend.NotificationPermission(s.cfg), today)
		if err := printJSON(map[string]any{"fired": fired}); err != nil {
			return err
		}
		return checkErr
	})
}

type pruneCmd struct {
	date string
}

func (*pruneCmd) Name() string     { return "prune" }
func (*pruneCmd) Synopsis() string { return "drop materialization and reminder records past retention" }
func (*pruneCmd) Usage() string {
	return `papelctl prune [-d <date>]
`
}

func (c *pruneCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", "", "Prune as of this date (defaults to today)")
}

func (c *pruneCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	today, err := dateFlag(c.date)
	if err != nil {
		return usageError("%v", err)
	}
	return withSession(ctx, func(ctx context.Context, s *session) error {
		materializations, err := s.svc.Scheduler.PruneMaterializations(ctx, today)
		if err != nil {
			return err
		}
		reminders, err := s.svc.Reminders.PruneReminders(ctx, today)
		if err != nil {
			return err
		}
		return printJSON(map[string]int64{
			"materializations": materializations,
			"reminders":        reminders,
		})
	})
}
