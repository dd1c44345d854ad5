package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"papelflow/internal/core"
	"papelflow/internal/events"
	"papelflow/internal/storage"
	"papelflow/internal/storage/memory"

	"github.com/shopspring/decimal"
)

var errInjected = errors.New("injected store fault")

type fault struct {
	skip  int // calls allowed through before failing
	times int // failures to inject, 0 means forever
}

// faultStore wraps the memory store and fails selected operations. Keys:
// "delta:<account>", "status:<status>", "insert", "delete", "claim",
// "mark", "advance", "remind", "obligations".
type faultStore struct {
	*memory.Store
	mu     sync.Mutex
	faults map[string]*fault
}

var _ storage.Store = (*faultStore)(nil)

func newFaultStore() *faultStore {
	return &faultStore{Store: memory.New(), faults: make(map[string]*fault)}
}

func (f *faultStore) fail(op string, skip, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = &fault{skip: skip, times: times}
}

func (f *faultStore) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = make(map[string]*fault)
}

func (f *faultStore) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ft, ok := f.faults[op]
	if !ok {
		return nil
	}
	if ft.skip > 0 {
		ft.skip--
		return nil
	}
	if ft.times > 0 {
		ft.times--
		if ft.times == 0 {
			delete(f.faults, op)
		}
	}
	return errInjected
}

func (f *faultStore) ApplyDelta(ctx context.Context, accountID string, delta decimal.Decimal) error {
	if err := f.check("delta:" + accountID); err != nil {
		return err
	}
	return f.Store.ApplyDelta(ctx, accountID, delta)
}

func (f *faultStore) InsertTransaction(ctx context.Context, tx core.Transaction) error {
	if err := f.check("insert"); err != nil {
		return err
	}
	return f.Store.InsertTransaction(ctx, tx)
}

func (f *faultStore) SetTransactionStatus(ctx context.Context, id string, from, to core.TransactionStatus) (bool, error) {
	if err := f.check("status:" + string(to)); err != nil {
		return false, err
	}
	return f.Store.SetTransactionStatus(ctx, id, from, to)
}

func (f *faultStore) DeleteTransaction(ctx context.Context, id string) error {
	if err := f.check("delete"); err != nil {
		return err
	}
	return f.Store.DeleteTransaction(ctx, id)
}

func (f *faultStore) ListObligations(ctx context.Context, activeOnly bool) ([]core.RecurringObligation, error) {
	if err := f.check("obligations"); err != nil {
		return nil, err
	}
	return f.Store.ListObligations(ctx, activeOnly)
}

func (f *faultStore) AdvanceDue(ctx context.Context, id string, from, to core.Date) (bool, error) {
	if err := f.check("advance"); err != nil {
		return false, err
	}
	return f.Store.AdvanceDue(ctx, id, from, to)
}

func (f *faultStore) ClaimOccurrence(ctx context.Context, rec core.MaterializationRecord) error {
	if err := f.check("claim"); err != nil {
		return err
	}
	return f.Store.ClaimOccurrence(ctx, rec)
}

func (f *faultStore) MarkMaterialized(ctx context.Context, obligationID string, due core.Date, at time.Time) error {
	if err := f.check("mark"); err != nil {
		return err
	}
	return f.Store.MarkMaterialized(ctx, obligationID, due, at)
}

func (f *faultStore) MarkReminder(ctx context.Context, rec core.ReminderRecord) error {
	if err := f.check("remind"); err != nil {
		return err
	}
	return f.Store.MarkReminder(ctx, rec)
}

// fixture wires every service over one fault store.
type fixture struct {
	store     *faultStore
	recorder  *events.Recorder
	ledger    *LedgerService
	scheduler *Scheduler
	reminders *ReminderGate
	clock     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFaultStore(),
		recorder: &events.Recorder{},
		clock:    time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return f.clock }
	f.ledger = NewLedgerService(f.store, f.recorder)
	f.ledger.now = now
	f.scheduler = NewScheduler(f.store, f.ledger, f.recorder, SchedulerConfig{})
	f.scheduler.now = now
	f.reminders = NewReminderGate(f.store, f.recorder, ReminderConfig{})
	f.reminders.now = now
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) account(t *testing.T, id, opening string) core.Account {
	t.Helper()
	a, err := f.ledger.CreateAccount(context.Background(), core.Account{
		ID:             id,
		Name:           id,
		Kind:           core.Checking,
		Currency:       "usd",
		OpeningBalance: dec(opening),
	})
	if err != nil {
		t.Fatalf("create account %s: %v", id, err)
	}
	return a
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("get account %s: %v", id, err)
	}
	return a.Balance
}

func (f *fixture) assertBalance(t *testing.T, id, want string) {
	t.Helper()
	if got := f.balance(t, id); !got.Equal(dec(want)) {
		t.Fatalf("balance of %s = %s, want %s", id, got, want)
	}
}

func (f *fixture) assertConsistent(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		v, err := f.ledger.VerifyAccount(context.Background(), id)
		if err != nil {
			t.Fatalf("verify %s: %v", id, err)
		}
		if !v.Consistent {
			t.Fatalf("account %s drifted: %+v", id, v)
		}
	}
}

func expenseTx(account, amount, date string) core.Transaction {
	return core.Transaction{
		Kind:       core.Expense,
		Amount:     dec(amount),
		Date:       core.MustDate(date),
		AccountID:  account,
		CategoryID: "groceries",
	}
}

func incomeTx(account, amount, date string) core.Transaction {
	return core.Transaction{
		Kind:       core.Income,
		Amount:     dec(amount),
		Date:       core.MustDate(date),
		AccountID:  account,
		CategoryID: "salary",
	}
}

func transferTx(from, to, amount, date string) core.Transaction {
	return core.Transaction{
		Kind:                 core.Transfer,
		Amount:               dec(amount),
		Date:                 core.MustDate(date),
		AccountID:            from,
		DestinationAccountID: to,
	}
}
