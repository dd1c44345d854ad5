package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"papelflow/internal/core"
	"papelflow/internal/events"
	"papelflow/internal/storage"
	"papelflow/internal/storage/memory"
)

var backends = []struct {
	name string
	open func(t *testing.T) storage.Store
}{
	{"memory", func(t *testing.T) storage.Store { return memory.New() }},
	{"sqlite", func(t *testing.T) storage.Store {
		repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { repo.Close() })
		return repo
	}},
}

// readBarrier holds the first n readers of one transaction until all of them
// have read it, so every caller starts from the same snapshot.
type readBarrier struct {
	storage.Store
	mu      sync.Mutex
	id      string
	pending int
	arrived sync.WaitGroup
}

func (b *readBarrier) arm(id string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.id, b.pending = id, n
	b.arrived.Add(n)
}

func (b *readBarrier) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	tx, err := b.Store.GetTransaction(ctx, id)

	b.mu.Lock()
	hold := id == b.id && b.pending > 0
	if hold {
		b.pending--
	}
	b.mu.Unlock()

	if hold {
		b.arrived.Done()
		b.arrived.Wait()
	}
	return tx, err
}

func concurrently(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fn(i)
		}(i)
	}
	wg.Wait()
	return errs
}

func TestLedger_ConcurrentDeletesRevertOnce(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := &readBarrier{Store: b.open(t)}
			recorder := &events.Recorder{}
			ledger := NewLedgerService(store, recorder)

			if _, err := ledger.CreateAccount(ctx, core.Account{
				ID: "checking", Name: "checking", Kind: core.Checking, Currency: "USD", OpeningBalance: dec("1000"),
			}); err != nil {
				t.Fatalf("create account: %v", err)
			}
			tx := expenseTx("checking", "200", "2026-02-01")
			tx.ID = "t1"
			if _, err := ledger.PostTransaction(ctx, tx); err != nil {
				t.Fatalf("post: %v", err)
			}

			store.arm("t1", 2)
			errs := concurrently(2, func(int) error { return ledger.DeleteTransaction(ctx, "t1") })
			for i, err := range errs {
				if err != nil {
					t.Errorf("delete #%d: %v", i+1, err)
				}
			}

			a, err := store.GetAccount(ctx, "checking")
			if err != nil {
				t.Fatal(err)
			}
			if !a.Balance.Equal(dec("1000")) {
				t.Errorf("balance = %s, want 1000", a.Balance)
			}
			if _, err := store.GetTransaction(ctx, "t1"); !errors.Is(err, core.ErrNotFound) {
				t.Errorf("deleted row still readable: %v", err)
			}
			if n := len(recorder.OfType(events.TransactionDeleted)); n != 1 {
				t.Errorf("%d deleted events, want 1", n)
			}
			v, err := ledger.VerifyAccount(ctx, "checking")
			if err != nil || !v.Consistent {
				t.Errorf("verification = %+v, %v", v, err)
			}
		})
	}
}

func TestLedger_ConcurrentRepairsRollBackOnce(t *testing.T) {
	ctx := context.Background()
	faults := newFaultStore()
	store := &readBarrier{Store: faults}
	ledger := NewLedgerService(store, nil)

	for _, id := range []string{"checking", "savings"} {
		opening := "0"
		if id == "checking" {
			opening = "1000"
		}
		if _, err := ledger.CreateAccount(ctx, core.Account{
			ID: id, Name: id, Kind: core.Checking, Currency: "USD", OpeningBalance: dec(opening),
		}); err != nil {
			t.Fatalf("create account %s: %v", id, err)
		}
	}
	faults.fail("delta:savings", 0, 1)
	faults.fail("delta:checking", 1, 1)
	tx := transferTx("checking", "savings", "250", "2026-02-01")
	tx.ID = "t1"
	if _, err := ledger.PostTransaction(ctx, tx); !errors.Is(err, core.ErrPartialFailure) {
		t.Fatalf("post = %v, want partial failure", err)
	}

	store.arm("t1", 2)
	errs := concurrently(2, func(int) error {
		_, err := ledger.RepairTransaction(ctx, "t1")
		return err
	})
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("repairs = %v, want exactly one success", errs)
	}

	for id, want := range map[string]string{"checking": "1000", "savings": "0"} {
		a, err := faults.GetAccount(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if !a.Balance.Equal(dec(want)) {
			t.Errorf("balance of %s = %s, want %s", id, a.Balance, want)
		}
	}
	if _, err := faults.GetTransaction(ctx, "t1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("rolled back row still readable: %v", err)
	}
}

func TestScheduler_ConcurrentRunsMaterializeOnce(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)
			ledger := NewLedgerService(store, nil)
			runners := []*Scheduler{
				NewScheduler(store, ledger, nil, SchedulerConfig{}),
				NewScheduler(store, ledger, nil, SchedulerConfig{}),
			}

			if _, err := ledger.CreateAccount(ctx, core.Account{
				ID: "checking", Name: "checking", Kind: core.Checking, Currency: "USD", OpeningBalance: dec("1000"),
			}); err != nil {
				t.Fatalf("create account: %v", err)
			}
			if _, err := runners[0].CreateObligation(ctx, core.RecurringObligation{
				ID:         "rent",
				Name:       "rent",
				Amount:     dec("100"),
				Frequency:  core.Monthly,
				NextDue:    core.MustDate("2026-01-05"),
				CategoryID: "housing",
				AccountID:  "checking",
			}); err != nil {
				t.Fatalf("create obligation: %v", err)
			}

			today := core.MustDate("2026-04-10")
			var (
				mu      sync.Mutex
				created []core.Transaction
			)
			errs := concurrently(len(runners), func(i int) error {
				txs, err := runners[i].Run(ctx, today)
				mu.Lock()
				created = append(created, txs...)
				mu.Unlock()
				return err
			})
			for i, err := range errs {
				if err != nil {
					t.Errorf("run #%d: %v", i+1, err)
				}
			}

			if len(created) != 4 {
				t.Errorf("runs created %d transactions together, want 4", len(created))
			}
			stored, err := store.ListTransactions(ctx, storage.TransactionFilter{AccountID: "checking"})
			if err != nil {
				t.Fatal(err)
			}
			seen := make(map[string]bool)
			for _, tx := range stored {
				if seen[tx.Date.String()] {
					t.Errorf("occurrence %s materialized twice", tx.Date)
				}
				seen[tx.Date.String()] = true
			}
			if len(stored) != 4 {
				t.Errorf("stored %d transactions, want 4", len(stored))
			}
			a, err := store.GetAccount(ctx, "checking")
			if err != nil {
				t.Fatal(err)
			}
			if !a.Balance.Equal(dec("600")) {
				t.Errorf("balance = %s, want 600", a.Balance)
			}
			o, err := store.GetObligation(ctx, "rent")
			if err != nil {
				t.Fatal(err)
			}
			if !o.NextDue.Equal(core.MustDate("2026-05-05")) {
				t.Errorf("next_due = %s, want 2026-05-05", o.NextDue)
			}
		})
	}
}
