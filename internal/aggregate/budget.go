package aggregate

import (
	"sort"

	"papelflow/internal/core"

	"github.com/shopspring/decimal"
)

type BudgetStatus string

const (
	BudgetNormal    BudgetStatus = "normal"
	BudgetNearLimit BudgetStatus = "near_limit"
	BudgetOverLimit BudgetStatus = "over_limit"
)

var (
	nearLimitPct = decimal.NewFromInt(80)
	overLimitPct = decimal.NewFromInt(100)
)

// StatusFor classifies a spent percentage: below 80 normal, 80 to 100
// inclusive near limit, above 100 over limit.
func StatusFor(percentage decimal.Decimal) BudgetStatus {
	switch {
	case percentage.GreaterThan(overLimitPct):
		return BudgetOverLimit
	case percentage.GreaterThanOrEqual(nearLimitPct):
		return BudgetNearLimit
	default:
		return BudgetNormal
	}
}

type BudgetLine struct {
	BudgetID   string          `json:"budget_id"`
	CategoryID string          `json:"category_id"`
	Amount     decimal.Decimal `json:"amount"`
	Spent      decimal.Decimal `json:"spent"`
	Percentage decimal.Decimal `json:"percentage"`
	Status     BudgetStatus    `json:"status"`
	// CarryOver is the unspent amount of the previous month's budget for the
	// same category, set only on rollover budgets. Percentage ignores it.
	CarryOver decimal.Decimal `json:"carry_over"`
	Remaining decimal.Decimal `json:"remaining"`
}

func (l BudgetLine) OnBudget() bool {
	return l.Spent.LessThanOrEqual(l.Amount)
}

// BudgetAdherence reports spending against every budget of the month.
func BudgetAdherence(s Snapshot, m core.Month) []BudgetLine {
	prev := make(map[string]core.Budget)
	for _, b := range s.budgetsOf(m.Add(-1)) {
		prev[b.CategoryID] = b
	}

	budgets := s.budgetsOf(m)
	lines := make([]BudgetLine, 0, len(budgets))
	for _, b := range budgets {
		spent := s.sumExpenses(m.First(), m.Last(), b.CategoryID)
		// Rows stored before amounts were validated may have rounded to zero.
		pct, status := decimal.Zero, BudgetNormal
		if b.Amount.IsPositive() {
			pct = spent.Div(b.Amount).Mul(hundred).Round(2)
			status = StatusFor(pct)
		} else if spent.IsPositive() {
			status = BudgetOverLimit
		}

		carry := decimal.Zero
		if p, ok := prev[b.CategoryID]; ok && b.Rollover {
			prevMonth := m.Add(-1)
			unspent := p.Amount.Sub(s.sumExpenses(prevMonth.First(), prevMonth.Last(), b.CategoryID))
			if unspent.IsPositive() {
				carry = unspent
			}
		}

		lines = append(lines, BudgetLine{
			BudgetID:   b.ID,
			CategoryID: b.CategoryID,
			Amount:     b.Amount,
			Spent:      spent,
			Percentage: pct,
			Status:     status,
			CarryOver:  carry,
			Remaining:  b.Amount.Add(carry).Sub(spent),
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].CategoryID < lines[j].CategoryID })
	return lines
}
