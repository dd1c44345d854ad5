// Package aggregate derives read-only figures from a ledger snapshot:
// monthly stats, budget adherence, the month-end spending forecast and the
// financial health score. Every function is pure.
package aggregate

import (
	"papelflow/internal/core"

	"github.com/shopspring/decimal"
)

// Snapshot is the data every computation reads. Only posted transactions
// are considered.
type Snapshot struct {
	Accounts     []core.Account
	Transactions []core.Transaction
	Obligations  []core.RecurringObligation
	Budgets      []core.Budget
	Goals        []core.Goal
}

var hundred = decimal.NewFromInt(100)

func posted(tx core.Transaction) bool {
	return tx.Status == core.StatusPosted
}

// sumExpenses adds posted expenses dated within [from, to], optionally
// restricted to one category.
func (s Snapshot) sumExpenses(from, to core.Date, categoryID string) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range s.Transactions {
		if !posted(tx) || tx.Kind != core.Expense {
			continue
		}
		if tx.Date.Before(from) || tx.Date.After(to) {
			continue
		}
		if categoryID != "" && tx.CategoryID != categoryID {
			continue
		}
		total = total.Add(tx.Amount)
	}
	return total
}

func (s Snapshot) budgetsOf(m core.Month) []core.Budget {
	var out []core.Budget
	for _, b := range s.Budgets {
		if b.Month == m {
			out = append(out, b)
		}
	}
	return out
}
