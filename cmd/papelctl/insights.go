package main

import (
	"context"
	"flag"

	"github.com/google/subcommands"
)

type statsCmd struct {
	month string
}

func (*statsCmd) Name() string     { return "stats" }
func (*statsCmd) Synopsis() string { return "show income, expenses and net flow of a month" }
func (*statsCmd) Usage() string {
	return `papelctl stats [-m <YYYY-MM>]
`
}

func (c *statsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.month, "m", "", "Month (defaults to the current month)")
}

func (c *statsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	m, err := monthFlag(c.month)
	if err != nil {
		return usageError("%v", err)
	}
	return withSession(ctx, func(ctx context.Context, s *session) error {
		stats, err := s.svc.Insights.MonthlyStats(ctx, m)
		if err != nil {
			return err
		}
		return printJSON(stats)
	})
}

type adherenceCmd struct {
	month string
}

func (*adherenceCmd) Name() string     { return "adherence" }
func (*adherenceCmd) Synopsis() string { return "compare a month's spending with its budgets" }
func (*adherenceCmd) Usage() string {
	return `papelctl adherence [-m <YYYY-MM>]
`
}

func (c *adherenceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.month, "m", "", "Month (defaults to the current month)")
}

func (c *adherenceCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	m, err := monthFlag(c.month)
	if err != nil {
		return usageError("%v", err)
	}
	return withSession(ctx, func(ctx context.Context, s *session) error {
		lines, err := s.svc.Insights.BudgetAdherence(ctx, m)
		if err != nil {
			return err
		}
		return printJSON(lines)
	})
}

type forecastCmd struct {
	date string
}

func (*forecastCmd) Name() string     { return "forecast" }
func (*forecastCmd) Synopsis() string { return "project spending to the end of the month" }
func (*forecastCmd) Usage() string {
	return `papelctl forecast [-d <date>]
`
}

func (c *forecastCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", "", "Forecast as of this date (defaults to today)")
}

func (c *forecastCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	today, err := dateFlag(c.date)
	if err != nil {
		return usageError("%v", err)
	}
	return withSession(ctx, func(ctx context.Context, s *session) error {
		f, err := s.svc.Insights.SpendingForecast(ctx, today)
		if err != nil {
			return err
		}
		return printJSON(f)
	})
}

type healthCmd struct {
	date string
}

func (*healthCmd) Name() string     { return "health" }
func (*healthCmd) Synopsis() string { return "score the financial health of the current month" }
func (*healthCmd) Usage() string {
	return `papelctl health [-d <date>]
`
}

func (c *healthCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", "", "Score as of this date (defaults to today)")
}

func (c *healthCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	today, err := dateFlag(c.date)
	if err != nil {
		return usageError("%v", err)
	}
	return withSession(ctx, func(ctx context.Context, s *session) error {
		h, err := s.svc.Insights.HealthScore(ctx, today)
		if err != nil {
			return err
		}
		return printJSON(h)
	})
}
