package aggregate

import (
	"papelflow/internal/core"

	"github.com/shopspring/decimal"
)

// TrailingMonths is how many full months feed the daily average.
const TrailingMonths = 3

type Forecast struct {
	Date                 core.Date       `json:"date"`
	Cumulative           decimal.Decimal `json:"cumulative"`
	TrailingDailyAverage decimal.Decimal `json:"trailing_daily_average"`
	UpcomingBills        decimal.Decimal `json:"upcoming_bills"`
	DaysRemaining        int             `json:"days_remaining"`
	ProjectedTotal       decimal.Decimal `json:"projected_total"`
}

// ProjectSpending is cumulative + avg*daysRemaining + upcoming. It is
// non-decreasing in cumulative and upcoming.
func ProjectSpending(cumulative, dailyAverage decimal.Decimal, daysRemaining int, upcoming decimal.Decimal) decimal.Decimal {
	if daysRemaining < 0 {
		daysRemaining = 0
	}
	return cumulative.
		Add(dailyAverage.Mul(decimal.NewFromInt(int64(daysRemaining)))).
		Add(upcoming).
		Round(2)
}

// SpendingForecast projects month-end spending as of today.
func SpendingForecast(s Snapshot, today core.Date) Forecast {
	month := today.MonthOf()
	f := Forecast{
		Date:          today,
		Cumulative:    s.sumExpenses(month.First(), today, ""),
		DaysRemaining: month.Days() - today.Day(),
	}

	daily := decimal.Zero
	for i := 1; i <= TrailingMonths; i++ {
		m := month.Add(-i)
		total := s.sumExpenses(m.First(), m.Last(), "")
		daily = daily.Add(total.Div(decimal.NewFromInt(int64(m.Days()))))
	}
	f.TrailingDailyAverage = daily.Div(decimal.NewFromInt(TrailingMonths)).Round(4)

	f.UpcomingBills = decimal.Zero
	end := month.Last()
	for _, o := range s.Obligations {
		if !o.Active {
			continue
		}
		if o.NextDue.After(today) && !o.NextDue.After(end) {
			f.UpcomingBills = f.UpcomingBills.Add(o.Amount)
		}
	}

	f.ProjectedTotal = ProjectSpending(f.Cumulative, f.TrailingDailyAverage, f.DaysRemaining, f.UpcomingBills)
	return f
}
