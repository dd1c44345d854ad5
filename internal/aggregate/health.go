package aggregate

import (
	"papelflow/internal/core"

	"github.com/shopspring/decimal"
)

type Rating string

const (
	RatingExcellent      Rating = "Excellent"
	RatingGood           Rating = "Good"
	RatingFair           Rating = "Fair"
	RatingNeedsWork      Rating = "Needs Work"
	RatingNeedsAttention Rating = "Needs Attention"
)

// Band ceilings.
const (
	SavingsMax   = 30
	BudgetMax    = 25
	GoalsMax     = 25
	DiversityMax = 20

	// Awarded when there is nothing to measure.
	neutralPoints = 10
	// Points per distinct account kind, capped at DiversityMax.
	diversityStep = 5
)

type HealthScoreResult struct {
	Score       int             `json:"score"`
	Rating      Rating          `json:"rating"`
	SavingsRate decimal.Decimal `json:"savings_rate"`
	Savings     int             `json:"savings_points"`
	Budget      int             `json:"budget_points"`
	Goals       int             `json:"goal_points"`
	Diversity   int             `json:"diversity_points"`
}

func RatingFor(score int) Rating {
	switch {
	case score >= 85:
		return RatingExcellent
	case score >= 70:
		return RatingGood
	case score >= 50:
		return RatingFair
	case score >= 30:
		return RatingNeedsWork
	default:
		return RatingNeedsAttention
	}
}

// SavingsPoints maps a savings rate in percent to its band.
func SavingsPoints(ratePct decimal.Decimal) int {
	switch {
	case ratePct.GreaterThanOrEqual(decimal.NewFromInt(30)):
		return 30
	case ratePct.GreaterThanOrEqual(decimal.NewFromInt(20)):
		return 25
	case ratePct.GreaterThanOrEqual(decimal.NewFromInt(10)):
		return 15
	case ratePct.IsPositive():
		return 10
	default:
		return 0
	}
}

// scaled returns round(ceiling * fraction) with fraction clamped to [0, 1].
func scaled(ceiling int, fraction decimal.Decimal) int {
	if fraction.IsNegative() {
		fraction = decimal.Zero
	}
	if fraction.GreaterThan(decimal.NewFromInt(1)) {
		fraction = decimal.NewFromInt(1)
	}
	return int(fraction.Mul(decimal.NewFromInt(int64(ceiling))).Round(0).IntPart())
}

// HealthScore rates the month containing today.
func HealthScore(s Snapshot, today core.Date) HealthScoreResult {
	month := today.MonthOf()
	var res HealthScoreResult

	stats := MonthlyStats(s, month)
	res.SavingsRate = decimal.Zero
	if stats.Income.IsPositive() {
		res.SavingsRate = stats.NetFlow.Div(stats.Income).Mul(hundred).Round(2)
	}
	res.Savings = SavingsPoints(res.SavingsRate)

	lines := BudgetAdherence(s, month)
	if len(lines) == 0 {
		res.Budget = neutralPoints
	} else {
		on := 0
		for _, l := range lines {
			if l.OnBudget() {
				on++
			}
		}
		res.Budget = scaled(BudgetMax, decimal.NewFromInt(int64(on)).Div(decimal.NewFromInt(int64(len(lines)))))
	}

	if len(s.Goals) == 0 {
		res.Goals = neutralPoints
	} else {
		one := decimal.NewFromInt(1)
		sum := decimal.Zero
		for _, g := range s.Goals {
			p := one
			if g.Target.IsPositive() {
				p = g.Current.Div(g.Target)
			}
			if p.GreaterThan(one) {
				p = one
			}
			sum = sum.Add(p)
		}
		res.Goals = scaled(GoalsMax, sum.Div(decimal.NewFromInt(int64(len(s.Goals)))))
	}

	kinds := make(map[core.AccountKind]struct{})
	for _, a := range s.Accounts {
		if a.Active {
			kinds[a.Kind] = struct{}{}
		}
	}
	res.Diversity = min(len(kinds)*diversityStep, DiversityMax)

	res.Score = res.Savings + res.Budget + res.Goals + res.Diversity
	res.Rating = RatingFor(res.Score)
	return res
}
