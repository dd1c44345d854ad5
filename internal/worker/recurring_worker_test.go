package worker

import (
	"context"
	"testing"
	"time"

	"papelflow/internal/core"
	"papelflow/internal/events"
	"papelflow/internal/services"
	"papelflow/internal/storage/memory"

	"github.com/shopspring/decimal"
)

func newRecurringWorker(t *testing.T, perm services.Permission) (*RecurringWorker, *events.Recorder, *services.LedgerService) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	rec := &events.Recorder{}
	ledger := services.NewLedgerService(store, rec)
	scheduler := services.NewScheduler(store, ledger, rec, services.SchedulerConfig{})
	reminders := services.NewReminderGate(store, rec, services.ReminderConfig{WindowDays: 3, RetentionDays: 7})

	if _, err := ledger.CreateAccount(ctx, core.Account{
		ID: "checking", Name: "Checking", Kind: core.Checking, Currency: "EUR",
		OpeningBalance: decimal.RequireFromString("1000"),
	}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	for _, o := range []core.RecurringObligation{
		{ID: "rent", Name: "Rent", Amount: decimal.RequireFromString("400"), Frequency: core.Monthly, NextDue: core.MustDate("2026-03-01"), CategoryID: "housing", AccountID: "checking"},
		{ID: "gym", Name: "Gym", Amount: decimal.RequireFromString("25"), Frequency: core.Monthly, NextDue: core.MustDate("2026-03-03"), CategoryID: "health", AccountID: "checking"},
	} {
		if _, err := scheduler.CreateObligation(ctx, o); err != nil {
			t.Fatalf("CreateObligation %s: %v", o.ID, err)
		}
	}
	return NewRecurringWorker(scheduler, reminders, perm), rec, ledger
}

func TestRecurringWorkerTick(t *testing.T) {
	ctx := context.Background()
	w, rec, ledger := newRecurringWorker(t, services.Granted)
	today := core.MustDate("2026-03-01")

	rep, err := w.Tick(ctx, today)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	// rent is due today and gym in two days; only rent materializes, and after
	// that only gym is still upcoming.
	if rep.Materialized != 1 {
		t.Errorf("materialized = %d, want 1", rep.Materialized)
	}
	if rep.RemindersFired != 1 {
		t.Errorf("reminders fired = %d, want 1", rep.RemindersFired)
	}

	again, err := w.Tick(ctx, today)
	if err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if again.Materialized != 0 || again.RemindersFired != 0 {
		t.Errorf("second tick = %+v, want nothing new", again)
	}

	a, err := ledger.GetAccount(ctx, "checking")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !a.Balance.Equal(decimal.RequireFromString("600")) {
		t.Errorf("balance = %s, want 600", a.Balance)
	}
	if n := len(rec.OfType(events.ObligationMaterialized)); n != 1 {
		t.Errorf("materialized events = %d, want 1", n)
	}
}

func TestRecurringWorkerWithoutPermission(t *testing.T) {
	w, rec, _ := newRecurringWorker(t, nil)

	rep, err := w.Tick(context.Background(), core.MustDate("2026-03-01"))
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rep.RemindersFired != 0 || len(rec.OfType(events.ReminderDue)) != 0 {
		t.Errorf("reminders fired without permission: %+v", rep)
	}
	if rep.Materialized != 1 {
		t.Errorf("materialized = %d, want 1", rep.Materialized)
	}
}

func TestRecurringWorkerRunStopsWithContext(t *testing.T) {
	w, _, _ := newRecurringWorker(t, services.Granted)
	w.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, time.Hour) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
