// Package storetest holds the behaviour every storage.Store must share.
// Backend packages run it from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"papelflow/internal/core"
	"papelflow/internal/storage"

	"github.com/shopspring/decimal"
)

// Factory returns an empty store. Cleanup is registered by the factory.
type Factory func(t *testing.T) storage.Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"accounts", testAccounts},
		{"apply delta is exact", testApplyDelta},
		{"transactions", testTransactions},
		{"transaction filter", testTransactionFilter},
		{"racing status changes", testConcurrentStatus},
		{"obligation compare and set", testAdvanceDue},
		{"occurrence claims", testOccurrenceClaims},
		{"occurrence prune", testPruneOccurrences},
		{"reminders fire once", testReminders},
		{"budgets and goals", testBudgetsAndGoals},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func account(id string, opening string) core.Account {
	return core.Account{
		ID:             id,
		Name:           "Account " + id,
		Kind:           core.Checking,
		Currency:       "EUR",
		OpeningBalance: dec(opening),
		Balance:        dec(opening),
		Active:         true,
		CreatedAt:      time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func obligation(id string, due string) core.RecurringObligation {
	return core.RecurringObligation{
		ID:         id,
		Name:       "Rent",
		Amount:     dec("800"),
		Frequency:  core.Monthly,
		NextDue:    core.MustDate(due),
		CategoryID: "housing",
		AccountID:  "acc-1",
		Active:     true,
		CreatedAt:  time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func testAccounts(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.CreateAccount(ctx, account("acc-1", "100.50")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateAccount(ctx, account("acc-1", "0")); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("duplicate account: got %v, want conflict", err)
	}
	got, err := s.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Balance.Equal(dec("100.50")) || got.Kind != core.Checking || got.Currency != "EUR" || !got.Active {
		t.Fatalf("unexpected account: %+v", got)
	}
	if _, err := s.GetAccount(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing account: got %v, want not found", err)
	}
	if err := s.CreateAccount(ctx, account("acc-2", "0")); err != nil {
		t.Fatalf("create second: %v", err)
	}
	list, err := s.ListAccounts(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %v %v", list, err)
	}
}

func testApplyDelta(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.CreateAccount(ctx, account("acc-1", "0.10")); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{"0.20", "-0.05", "1000.01", "-1000.01"} {
		if err := s.ApplyDelta(ctx, "acc-1", dec(d)); err != nil {
			t.Fatalf("apply %s: %v", d, err)
		}
	}
	got, _ := s.GetAccount(ctx, "acc-1")
	if !got.Balance.Equal(dec("0.25")) {
		t.Fatalf("balance = %s, want 0.25", got.Balance)
	}
	if err := s.ApplyDelta(ctx, "missing", dec("1")); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("delta on missing account: got %v", err)
	}
}

func testTransactions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := core.Transaction{
		ID:         "tx-1",
		Kind:       core.Expense,
		Amount:     dec("12.34"),
		Date:       core.MustDate("2026-03-05"),
		AccountID:  "acc-1",
		CategoryID: "food",
		Payee:      "Market",
		Status:     core.StatusPending,
		CreatedAt:  time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
	}
	if err := s.InsertTransaction(ctx, tx); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertTransaction(ctx, tx); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("duplicate insert: got %v, want conflict", err)
	}
	if won, err := s.SetTransactionStatus(ctx, "tx-1", core.StatusPending, core.StatusPosted); err != nil || !won {
		t.Fatalf("set status = (%v, %v), want (true, nil)", won, err)
	}
	if won, err := s.SetTransactionStatus(ctx, "tx-1", core.StatusPending, core.StatusPendingRepair); err != nil || won {
		t.Fatalf("stale set status = (%v, %v), want (false, nil)", won, err)
	}
	got, err := s.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != core.StatusPosted || !got.Amount.Equal(dec("12.34")) || !got.Date.Equal(tx.Date) || got.Payee != "Market" {
		t.Fatalf("unexpected transaction: %+v", got)
	}
	if _, err := s.SetTransactionStatus(ctx, "missing", core.StatusPending, core.StatusPosted); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("status on missing: got %v", err)
	}
	if err := s.DeleteTransaction(ctx, "tx-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteTransaction(ctx, "tx-1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second delete: got %v, want not found", err)
	}
}

// Several writers try to take the same posted row out of posted at once.
// Exactly one of them may win.
func testConcurrentStatus(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := core.Transaction{
		ID:         "tx-race",
		Kind:       core.Expense,
		Amount:     dec("5"),
		Date:       core.MustDate("2026-03-05"),
		AccountID:  "acc-1",
		CategoryID: "food",
		Status:     core.StatusPosted,
		CreatedAt:  time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
	}
	if err := s.InsertTransaction(ctx, tx); err != nil {
		t.Fatalf("insert: %v", err)
	}

	const writers = 8
	var (
		wg    sync.WaitGroup
		wins  atomic.Int32
		start = make(chan struct{})
		errs  = make(chan error, writers)
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			won, err := s.SetTransactionStatus(ctx, tx.ID, core.StatusPosted, core.StatusPending)
			if err != nil {
				errs <- err
				return
			}
			if won {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("set status: %v", err)
	}
	if got := wins.Load(); got != 1 {
		t.Fatalf("%d writers won the compare-and-set, want 1", got)
	}
	got, err := s.GetTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != core.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func testTransactionFilter(t *testing.T, s storage.Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	txs := []core.Transaction{
		{ID: "a", Kind: core.Expense, Amount: dec("1"), Date: core.MustDate("2026-03-01"), AccountID: "acc-1", CategoryID: "food"},
		{ID: "b", Kind: core.Income, Amount: dec("2"), Date: core.MustDate("2026-03-15"), AccountID: "acc-1", CategoryID: "salary"},
		{ID: "c", Kind: core.Transfer, Amount: dec("3"), Date: core.MustDate("2026-04-01"), AccountID: "acc-2", DestinationAccountID: "acc-1"},
		{ID: "d", Kind: core.Expense, Amount: dec("4"), Date: core.MustDate("2026-04-02"), AccountID: "acc-2", CategoryID: "food"},
	}
	for i, tx := range txs {
		tx.Status = core.StatusPosted
		tx.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("insert %s: %v", tx.ID, err)
		}
	}

	tests := []struct {
		name   string
		filter storage.TransactionFilter
		want   []string
	}{
		{"all", storage.TransactionFilter{}, []string{"a", "b", "c", "d"}},
		{"account includes transfer destination", storage.TransactionFilter{AccountID: "acc-1"}, []string{"a", "b", "c"}},
		{"category", storage.TransactionFilter{CategoryID: "food"}, []string{"a", "d"}},
		{"kind", storage.TransactionFilter{Kind: core.Transfer}, []string{"c"}},
		{"date range", storage.TransactionFilter{From: core.MustDate("2026-03-15"), To: core.MustDate("2026-04-01")}, []string{"b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListTransactions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d transactions, want %v", len(got), tt.want)
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("position %d: got %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func testAdvanceDue(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.CreateObligation(ctx, obligation("ob-1", "2026-01-31")); err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := s.AdvanceDue(ctx, "ob-1", core.MustDate("2026-01-31"), core.MustDate("2026-02-28"))
	if err != nil || !ok {
		t.Fatalf("first advance: ok=%v err=%v", ok, err)
	}
	// A second runner with the stale value loses.
	ok, err = s.AdvanceDue(ctx, "ob-1", core.MustDate("2026-01-31"), core.MustDate("2026-02-28"))
	if err != nil || ok {
		t.Fatalf("stale advance: ok=%v err=%v", ok, err)
	}
	got, _ := s.GetObligation(ctx, "ob-1")
	if got.NextDue.String() != "2026-02-28" {
		t.Fatalf("next due = %s", got.NextDue)
	}
	if _, err := s.AdvanceDue(ctx, "missing", core.MustDate("2026-01-31"), core.MustDate("2026-02-28")); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("advance missing: got %v", err)
	}
	if err := s.SetObligationActive(ctx, "ob-1", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	active, _ := s.ListObligations(ctx, true)
	all, _ := s.ListObligations(ctx, false)
	if len(active) != 0 || len(all) != 1 {
		t.Fatalf("active=%d all=%d", len(active), len(all))
	}
}

func testOccurrenceClaims(t *testing.T, s storage.Store) {
	ctx := context.Background()
	due := core.MustDate("2026-03-01")
	claimedAt := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	rec := core.MaterializationRecord{
		ObligationID:  "ob-1",
		DueDate:       due,
		TransactionID: core.MaterializationTransactionID("ob-1", due),
		State:         core.Claimed,
		ClaimedAt:     claimedAt,
	}
	if err := s.ClaimOccurrence(ctx, rec); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.ClaimOccurrence(ctx, rec); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("second claim: got %v, want conflict", err)
	}

	later := claimedAt.Add(time.Hour)
	if ok, err := s.TakeOverClaim(ctx, "ob-1", due, claimedAt.Add(time.Second), later); err != nil || ok {
		t.Fatalf("takeover with wrong observation: ok=%v err=%v", ok, err)
	}
	if ok, err := s.TakeOverClaim(ctx, "ob-1", due, claimedAt, later); err != nil || !ok {
		t.Fatalf("takeover: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.TakeOverClaim(ctx, "ob-1", due, claimedAt, later); ok {
		t.Fatal("takeover won twice with the same observation")
	}

	got, err := s.GetOccurrence(ctx, "ob-1", due)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != core.Claimed || !got.ClaimedAt.Equal(later) || got.TransactionID != rec.TransactionID {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := s.MarkMaterialized(ctx, "ob-1", due, later); err != nil {
		t.Fatalf("mark materialized: %v", err)
	}
	// Releasing a materialized record must not delete it.
	if err := s.ReleaseClaim(ctx, "ob-1", due); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, err = s.GetOccurrence(ctx, "ob-1", due)
	if err != nil || got.State != core.Materialized {
		t.Fatalf("record after release: %+v %v", got, err)
	}

	other := core.MustDate("2026-04-01")
	rec.DueDate = other
	if err := s.ClaimOccurrence(ctx, rec); err != nil {
		t.Fatalf("claim other: %v", err)
	}
	if err := s.ReleaseClaim(ctx, "ob-1", other); err != nil {
		t.Fatalf("release other: %v", err)
	}
	if _, err := s.GetOccurrence(ctx, "ob-1", other); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("released claim still present: %v", err)
	}
}

func testPruneOccurrences(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, d := range []string{"2025-01-01", "2025-06-01", "2026-05-01"} {
		due := core.MustDate(d)
		rec := core.MaterializationRecord{ObligationID: "ob-1", DueDate: due, TransactionID: "t-" + d, State: core.Claimed, ClaimedAt: now}
		if err := s.ClaimOccurrence(ctx, rec); err != nil {
			t.Fatal(err)
		}
		if d != "2025-06-01" {
			if err := s.MarkMaterialized(ctx, "ob-1", due, now); err != nil {
				t.Fatal(err)
			}
		}
	}
	n, err := s.PruneOccurrences(ctx, core.MustDate("2026-01-01"))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d records, want 1 (open claims are kept)", n)
	}
	if _, err := s.GetOccurrence(ctx, "ob-1", core.MustDate("2025-06-01")); err != nil {
		t.Fatalf("open claim pruned: %v", err)
	}
}

func testReminders(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)
	rec := core.ReminderRecord{ObligationID: "ob-1", Day: core.MustDate("2026-06-10"), Kind: core.DueToday, CreatedAt: now}
	if err := s.MarkReminder(ctx, rec); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.MarkReminder(ctx, rec); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("duplicate reminder: got %v", err)
	}
	rec.Kind = core.UpcomingSoon
	if err := s.MarkReminder(ctx, rec); err != nil {
		t.Fatalf("other kind same day: %v", err)
	}
	old := core.ReminderRecord{ObligationID: "ob-1", Day: core.MustDate("2026-05-01"), Kind: core.DueToday, CreatedAt: now}
	if err := s.MarkReminder(ctx, old); err != nil {
		t.Fatal(err)
	}
	n, err := s.PruneReminders(ctx, core.MustDate("2026-06-03"))
	if err != nil || n != 1 {
		t.Fatalf("prune: n=%d err=%v", n, err)
	}
}

func testBudgetsAndGoals(t *testing.T, s storage.Store) {
	ctx := context.Background()
	month := core.Month{Year: 2026, Month: time.March}
	b := core.Budget{ID: "b-1", CategoryID: "food", Amount: dec("300"), Month: month, Rollover: true}
	if err := s.CreateBudget(ctx, b); err != nil {
		t.Fatalf("create budget: %v", err)
	}
	b.ID = "b-2"
	if err := s.CreateBudget(ctx, b); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("second budget for same category and month: got %v", err)
	}
	b.Month = month.Add(1)
	if err := s.CreateBudget(ctx, b); err != nil {
		t.Fatalf("budget next month: %v", err)
	}
	budgets, err := s.ListBudgets(ctx)
	if err != nil || len(budgets) != 2 {
		t.Fatalf("list budgets: %v %v", budgets, err)
	}
	if budgets[0].Month != month || !budgets[0].Rollover || !budgets[0].Amount.Equal(dec("300")) {
		t.Fatalf("unexpected first budget: %+v", budgets[0])
	}

	if err := s.CreateGoal(ctx, core.Goal{ID: "g-1", Name: "Emergency fund", Target: dec("5000"), Current: dec("1250.50")}); err != nil {
		t.Fatalf("create goal: %v", err)
	}
	goals, err := s.ListGoals(ctx)
	if err != nil || len(goals) != 1 || !goals[0].Current.Equal(dec("1250.50")) {
		t.Fatalf("list goals: %v %v", goals, err)
	}
}
