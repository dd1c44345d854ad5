package storage

import (
	"context"
	"time"

	"papelflow/internal/core"

	"github.com/shopspring/decimal"
)

// Ports implemented by every backend. All check-then-mark operations are a
// single unique insert or compare-and-set so that independent clients racing
// on the same key cannot both win.
type (
	AccountStore interface {
		CreateAccount(ctx context.Context, a core.Account) error
		GetAccount(ctx context.Context, id string) (core.Account, error)
		ListAccounts(ctx context.Context) ([]core.Account, error)
		// ApplyDelta evaluates balance = balance + delta inside the store.
		ApplyDelta(ctx context.Context, accountID string, delta decimal.Decimal) error
	}

	TransactionStore interface {
		// InsertTransaction fails with core.ErrConflict when the id exists.
		InsertTransaction(ctx context.Context, tx core.Transaction) error
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		// SetTransactionStatus moves status from -> to only if it still equals
		// from. It reports false when another writer changed it first.
		SetTransactionStatus(ctx context.Context, id string, from, to core.TransactionStatus) (bool, error)
		// DeleteTransaction fails with core.ErrNotFound when the id is unknown.
		DeleteTransaction(ctx context.Context, id string) error
		ListTransactions(ctx context.Context, filter TransactionFilter) ([]core.Transaction, error)
	}

	ObligationStore interface {
		CreateObligation(ctx context.Context, o core.RecurringObligation) error
		GetObligation(ctx context.Context, id string) (core.RecurringObligation, error)
		ListObligations(ctx context.Context, activeOnly bool) ([]core.RecurringObligation, error)
		// AdvanceDue moves next_due from -> to only if it still equals from.
		AdvanceDue(ctx context.Context, id string, from, to core.Date) (bool, error)
		SetObligationActive(ctx context.Context, id string, active bool) error
	}

	MaterializationStore interface {
		// ClaimOccurrence inserts a claimed record; core.ErrConflict when the key exists.
		ClaimOccurrence(ctx context.Context, rec core.MaterializationRecord) error
		GetOccurrence(ctx context.Context, obligationID string, due core.Date) (core.MaterializationRecord, error)
		// TakeOverClaim refreshes a claim whose claimed_at still equals observed.
		TakeOverClaim(ctx context.Context, obligationID string, due core.Date, observed, now time.Time) (bool, error)
		MarkMaterialized(ctx context.Context, obligationID string, due core.Date, at time.Time) error
		// ReleaseClaim deletes the record only while it is still claimed.
		ReleaseClaim(ctx context.Context, obligationID string, due core.Date) error
		PruneOccurrences(ctx context.Context, before core.Date) (int64, error)
	}

	ReminderStore interface {
		// MarkReminder fails with core.ErrConflict when the reminder already fired.
		MarkReminder(ctx context.Context, rec core.ReminderRecord) error
		PruneReminders(ctx context.Context, before core.Date) (int64, error)
	}

	BudgetStore interface {
		CreateBudget(ctx context.Context, b core.Budget) error
		ListBudgets(ctx context.Context) ([]core.Budget, error)
	}

	GoalStore interface {
		CreateGoal(ctx context.Context, g core.Goal) error
		ListGoals(ctx context.Context) ([]core.Goal, error)
	}

	// Store is the full persistence layer of one backend.
	Store interface {
		AccountStore
		TransactionStore
		ObligationStore
		MaterializationStore
		ReminderStore
		BudgetStore
		GoalStore
		Close() error
	}
)

// TransactionFilter narrows ListTransactions. Zero fields match everything.
type TransactionFilter struct {
	AccountID  string
	CategoryID string
	Kind       core.TransactionKind
	Status     core.TransactionStatus
	From       core.Date
	To         core.Date
}

// Match applies the filter in memory.
func (f TransactionFilter) Match(tx core.Transaction) bool {
	if f.AccountID != "" && !tx.Touches(f.AccountID) {
		return false
	}
	if f.CategoryID != "" && tx.CategoryID != f.CategoryID {
		return false
	}
	if f.Kind != "" && tx.Kind != f.Kind {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && tx.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && tx.Date.After(f.To) {
		return false
	}
	return true
}
