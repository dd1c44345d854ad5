package aggregate

import (
	"sort"

	"papelflow/internal/core"

	"github.com/shopspring/decimal"
)

type CategoryTotal struct {
	CategoryID string          `json:"category_id"`
	Amount     decimal.Decimal `json:"amount"`
}

type MonthlyStatsResult struct {
	Month            core.Month      `json:"month"`
	Income           decimal.Decimal `json:"income"`
	Expenses         decimal.Decimal `json:"expenses"`
	NetFlow          decimal.Decimal `json:"net_flow"`
	TransactionCount int             `json:"transaction_count"`
	ByCategory       []CategoryTotal `json:"by_category"`
}

// MonthlyStats totals income and expenses of the month. Transfers move money
// between own accounts and count toward neither.
func MonthlyStats(s Snapshot, m core.Month) MonthlyStatsResult {
	res := MonthlyStatsResult{Month: m, Income: decimal.Zero, Expenses: decimal.Zero}
	byCategory := make(map[string]decimal.Decimal)

	for _, tx := range s.Transactions {
		if !posted(tx) || !m.Contains(tx.Date) {
			continue
		}
		switch tx.Kind {
		case core.Income:
			res.Income = res.Income.Add(tx.Amount)
		case core.Expense:
			res.Expenses = res.Expenses.Add(tx.Amount)
			byCategory[tx.CategoryID] = byCategory[tx.CategoryID].Add(tx.Amount)
		default:
			continue
		}
		res.TransactionCount++
	}
	res.NetFlow = res.Income.Sub(res.Expenses)

	res.ByCategory = make([]CategoryTotal, 0, len(byCategory))
	for id, amount := range byCategory {
		res.ByCategory = append(res.ByCategory, CategoryTotal{CategoryID: id, Amount: amount})
	}
	sort.Slice(res.ByCategory, func(i, j int) bool {
		a, b := res.ByCategory[i], res.ByCategory[j]
		if c := a.Amount.Cmp(b.Amount); c != 0 {
			return c > 0
		}
		return a.CategoryID < b.CategoryID
	})
	return res
}
