// Package memory is an in-process Store. It enforces the same unique keys
// and compare-and-set rules as the SQL repository and backs the memory
// backend and most service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"papelflow/internal/core"
	"papelflow/internal/storage"

	"github.com/shopspring/decimal"
)

type occurrenceKey struct {
	obligationID string
	due          string
}

type reminderKey struct {
	obligationID string
	day          string
	kind         core.ReminderKind
}

type Store struct {
	mu           sync.Mutex
	accounts     map[string]core.Account
	transactions map[string]core.Transaction
	obligations  map[string]core.RecurringObligation
	occurrences  map[occurrenceKey]core.MaterializationRecord
	reminders    map[reminderKey]core.ReminderRecord
	budgets      map[string]core.Budget
	goals        map[string]core.Goal
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:     make(map[string]core.Account),
		transactions: make(map[string]core.Transaction),
		obligations:  make(map[string]core.RecurringObligation),
		occurrences:  make(map[occurrenceKey]core.MaterializationRecord),
		reminders:    make(map[reminderKey]core.ReminderRecord),
		budgets:      make(map[string]core.Budget),
		goals:        make(map[string]core.Goal),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateAccount(_ context.Context, a core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return core.Conflict("account", a.ID)
	}
	s.accounts[a.ID] = a
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return core.Account{}, core.NotFound("account", id)
	}
	return a, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ApplyDelta(_ context.Context, accountID string, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return core.NotFound("account", accountID)
	}
	a.Balance = a.Balance.Add(delta)
	s.accounts[accountID] = a
	return nil
}

func (s *Store) InsertTransaction(_ context.Context, tx core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[tx.ID]; ok {
		return core.Conflict("transaction", tx.ID)
	}
	s.transactions[tx.ID] = tx
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return core.Transaction{}, core.NotFound("transaction", id)
	}
	return tx, nil
}

func (s *Store) SetTransactionStatus(_ context.Context, id string, from, to core.TransactionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return false, core.NotFound("transaction", id)
	}
	if tx.Status != from {
		return false, nil
	}
	tx.Status = to
	s.transactions[id] = tx
	return true, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[id]; !ok {
		return core.NotFound("transaction", id)
	}
	delete(s.transactions, id)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, f storage.TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.transactions {
		if f.Match(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *Store) CreateObligation(_ context.Context, o core.RecurringObligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.obligations[o.ID]; ok {
		return core.Conflict("obligation", o.ID)
	}
	s.obligations[o.ID] = o
	return nil
}

func (s *Store) GetObligation(_ context.Context, id string) (core.RecurringObligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.obligations[id]
	if !ok {
		return core.RecurringObligation{}, core.NotFound("obligation", id)
	}
	return o, nil
}

func (s *Store) ListObligations(_ context.Context, activeOnly bool) ([]core.RecurringObligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.RecurringObligation
	for _, o := range s.obligations {
		if activeOnly && !o.Active {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextDue.Equal(out[j].NextDue) {
			return out[i].NextDue.Before(out[j].NextDue)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) AdvanceDue(_ context.Context, id string, from, to core.Date) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.obligations[id]
	if !ok {
		return false, core.NotFound("obligation", id)
	}
	if !o.NextDue.Equal(from) {
		return false, nil
	}
	o.NextDue = to
	s.obligations[id] = o
	return true, nil
}

func (s *Store) SetObligationActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.obligations[id]
	if !ok {
		return core.NotFound("obligation", id)
	}
	o.Active = active
	s.obligations[id] = o
	return nil
}

func keyOf(obligationID string, due core.Date) occurrenceKey {
	return occurrenceKey{obligationID: obligationID, due: due.String()}
}

func (s *Store) ClaimOccurrence(_ context.Context, rec core.MaterializationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyOf(rec.ObligationID, rec.DueDate)
	if _, ok := s.occurrences[k]; ok {
		return core.Conflict("materialization", rec.ObligationID+"@"+k.due)
	}
	s.occurrences[k] = rec
	return nil
}

func (s *Store) GetOccurrence(_ context.Context, obligationID string, due core.Date) (core.MaterializationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.occurrences[keyOf(obligationID, due)]
	if !ok {
		return core.MaterializationRecord{}, core.NotFound("materialization", obligationID+"@"+due.String())
	}
	return rec, nil
}

func (s *Store) TakeOverClaim(_ context.Context, obligationID string, due core.Date, observed, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyOf(obligationID, due)
	rec, ok := s.occurrences[k]
	if !ok || rec.State != core.Claimed || !rec.ClaimedAt.Equal(observed) {
		return false, nil
	}
	rec.ClaimedAt = now
	s.occurrences[k] = rec
	return true, nil
}

func (s *Store) MarkMaterialized(_ context.Context, obligationID string, due core.Date, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyOf(obligationID, due)
	rec, ok := s.occurrences[k]
	if !ok {
		return core.NotFound("materialization", obligationID+"@"+k.due)
	}
	rec.State = core.Materialized
	rec.MaterializedAt = at
	s.occurrences[k] = rec
	return nil
}

func (s *Store) ReleaseClaim(_ context.Context, obligationID string, due core.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyOf(obligationID, due)
	if rec, ok := s.occurrences[k]; ok && rec.State == core.Claimed {
		delete(s.occurrences, k)
	}
	return nil
}

func (s *Store) PruneOccurrences(_ context.Context, before core.Date) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, rec := range s.occurrences {
		if rec.State == core.Materialized && rec.DueDate.Before(before) {
			delete(s.occurrences, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkReminder(_ context.Context, rec core.ReminderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := reminderKey{obligationID: rec.ObligationID, day: rec.Day.String(), kind: rec.Kind}
	if _, ok := s.reminders[k]; ok {
		return core.Conflict("reminder", rec.ObligationID+"@"+k.day+"/"+string(rec.Kind))
	}
	s.reminders[k] = rec
	return nil
}

func (s *Store) PruneReminders(_ context.Context, before core.Date) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, rec := range s.reminders {
		if rec.Day.Before(before) {
			delete(s.reminders, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateBudget(_ context.Context, b core.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.budgets {
		if existing.CategoryID == b.CategoryID && existing.Month == b.Month {
			return core.Conflict("budget", b.CategoryID+"@"+b.Month.String())
		}
	}
	if _, ok := s.budgets[b.ID]; ok {
		return core.Conflict("budget", b.ID)
	}
	s.budgets[b.ID] = b
	return nil
}

func (s *Store) ListBudgets(_ context.Context) ([]core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Budget, 0, len(s.budgets))
	for _, b := range s.budgets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Month != out[j].Month {
			return out[i].Month.String() < out[j].Month.String()
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	return out, nil
}

func (s *Store) CreateGoal(_ context.Context, g core.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.goals[g.ID]; ok {
		return core.Conflict("goal", g.ID)
	}
	s.goals[g.ID] = g
	return nil
}

func (s *Store) ListGoals(_ context.Context) ([]core.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Goal, 0, len(s.goals))
	for _, g := range s.goals {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
