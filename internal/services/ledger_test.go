package services

import (
	"context"
	"errors"
	"testing"

	"papelflow/internal/core"
	"papelflow/internal/events"
	"papelflow/internal/storage"
)

func TestLedger_ScenarioA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "checking", "1000")

	if _, err := f.ledger.PostTransaction(ctx, incomeTx("checking", "500", "2026-02-01")); err != nil {
		t.Fatalf("post income: %v", err)
	}
	f.assertBalance(t, "checking", "1500")

	exp, err := f.ledger.PostTransaction(ctx, expenseTx("checking", "200", "2026-02-02"))
	if err != nil {
		t.Fatalf("post expense: %v", err)
	}
	if exp.Status != core.StatusPosted {
		t.Errorf("status = %s, want posted", exp.Status)
	}
	f.assertBalance(t, "checking", "1300")

	if err := f.ledger.DeleteTransaction(ctx, exp.ID); err != nil {
		t.Fatalf("delete expense: %v", err)
	}
	f.assertBalance(t, "checking", "1500")
	f.assertConsistent(t, "checking")

	if n := len(f.recorder.OfType(events.TransactionPosted)); n != 2 {
		t.Errorf("posted events = %d, want 2", n)
	}
	if n := len(f.recorder.OfType(events.TransactionDeleted)); n != 1 {
		t.Errorf("deleted events = %d, want 1", n)
	}
}

func TestLedger_TransferSymmetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "checking", "1000")
	f.account(t, "savings", "0")

	tx, err := f.ledger.PostTransaction(ctx, transferTx("checking", "savings", "250", "2026-02-01"))
	if err != nil {
		t.Fatalf("post transfer: %v", err)
	}
	f.assertBalance(t, "checking", "750")
	f.assertBalance(t, "savings", "250")
	if total := f.balance(t, "checking").Add(f.balance(t, "savings")); !total.Equal(dec("1000")) {
		t.Errorf("combined balance = %s, want 1000", total)
	}

	if err := f.ledger.DeleteTransaction(ctx, tx.ID); err != nil {
		t.Fatalf("delete transfer: %v", err)
	}
	f.assertBalance(t, "checking", "1000")
	f.assertBalance(t, "savings", "0")
	f.assertConsistent(t, "checking", "savings")
}

func TestLedger_PostRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "checking", "1000")
	if _, err := f.ledger.CreateAccount(ctx, core.Account{
		ID: "euro", Name: "Euro", Kind: core.Savings, Currency: "EUR", OpeningBalance: dec("0"),
	}); err != nil {
		t.Fatalf("create euro account: %v", err)
	}

	noCategory := expenseTx("checking", "10", "2026-02-01")
	noCategory.CategoryID = ""

	tests := []struct {
		name string
		tx   core.Transaction
		want error
	}{
		{"zero amount", expenseTx("checking", "0", "2026-02-01"), core.ErrValidation},
		{"negative amount", expenseTx("checking", "-5", "2026-02-01"), core.ErrValidation},
		{"missing category", noCategory, core.ErrValidation},
		{"transfer to itself", transferTx("checking", "checking", "10", "2026-02-01"), core.ErrValidation},
		{"currency mismatch", transferTx("checking", "euro", "10", "2026-02-01"), core.ErrValidation},
		{"sub-cent amount", expenseTx("checking", "10.001", "2026-02-01"), core.ErrValidation},
		{"unknown account", expenseTx("nope", "10", "2026-02-01"), core.ErrNotFound},
		{"unknown destination", transferTx("checking", "nope", "10", "2026-02-01"), core.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.PostTransaction(ctx, tt.tx)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	txs, err := f.ledger.ListTransactions(ctx, storage.TransactionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 0 {
		t.Errorf("rejected posts left %d rows", len(txs))
	}
	f.assertBalance(t, "checking", "1000")
}

func TestLedger_ReplayedIDConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "checking", "100")

	tx := expenseTx("checking", "40", "2026-02-01")
	tx.ID = "client-key"
	if _, err := f.ledger.PostTransaction(ctx, tx); err != nil {
		t.Fatalf("first post: %v", err)
	}
	_, err := f.ledger.PostTransaction(ctx, tx)
	if !errors.Is(err, core.ErrConflict) {
		t.Fatalf("replay err = %v, want conflict", err)
	}
	f.assertBalance(t, "checking", "60")
	f.assertConsistent(t, "checking")
}

func TestLedger_InsertFailureChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.account(t, "checking", "100")
	f.store.fail("insert", 0, 1)

	_, err := f.ledger.PostTransaction(context.Background(), expenseTx("checking", "40", "2026-02-01"))
	if !errors.Is(err, core.ErrTransient) {
		t.Fatalf("err = %v, want transient", err)
	}
	f.assertBalance(t, "checking", "100")
}

func TestLedger_CompensatedLegFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "checking", "1000")
	f.account(t, "savings", "0")
	f.store.fail("delta:savings", 0, 1)

	tx := transferTx("checking", "savings", "250", "2026-02-01")
	tx.ID = "t1"
	_, err := f.ledger.PostTransaction(ctx, tx)
	if !errors.Is(err, core.ErrTransient) {
		t.Fatalf("err = %v, want transient", err)
	}
	if errors.Is(err, core.ErrPartialFailure) {
		t.Fatal("compensated failure must not be partial")
	}

	f.assertBalance(t, "checking", "1000")
	f.assertBalance(t, "savings", "0")
	if _, err := f.store.GetTransaction(ctx, "t1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("pending row should be discarded, got %v", err)
	}
	if n := len(f.recorder.OfType(events.TransactionPendingRepair)); n != 0 {
		t.Errorf("pending_repair events = %d, want 0", n)
	}

	// The same id can be posted once the store recovers.
	if _, err := f.ledger.PostTransaction(ctx, tx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	f.assertConsistent(t, "checking", "savings")
}

func TestLedger_PartialFailureThenRollbackRepair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "checking", "1000")
	f.account(t, "savings", "0")
	f.store.fail("delta:savings", 0, 1)
	f.store.fail("delta:checking", 1, 1) // forward leg succeeds, compensation fails

	tx := transferTx("checking", "savings", "250", "2026-02-01")
	tx.ID = "t1"
	_, err := f.ledger.PostTransaction(ctx, tx)

	var pf *core.PartialFailure
	if !errors.As(err, &pf) {
		t.Fatalf("err = %v, want PartialFailure", err)
	}
	if pf.TransactionID != "t1" || pf.Stage != "destination leg" {
		t.Errorf("partial failure = %+v", pf)
	}
	stored, err := f.store.GetTransaction(ctx, "t1")
	if err != nil || stored.Status != core.StatusPendingRepair {
		t.Fatalf("stored = %+v, %v; want pending_repair", stored, err)
	}
	repairEvents := f.recorder.OfType(events.TransactionPendingRepair)
	if len(repairEvents) != 1 || repairEvents[0].Reason != "destination leg" {
		t.Errorf("pending_repair events = %+v", repairEvents)
	}

	v, err := f.ledger.VerifyAccount(ctx, "checking")
	if err != nil {
		t.Fatal(err)
	}
	if v.Consistent || !v.Drift.Equal(dec("-250")) || len(v.PendingRepair) != 1 {
		t.Errorf("verification = %+v, want drift -250 with one pending repair", v)
	}

	if err := f.ledger.DeleteTransaction(ctx, "t1"); !errors.Is(err, core.ErrValidation) {
		t.Errorf("delete of pending_repair = %v, want validation error", err)
	}

	res, err := f.ledger.RepairTransaction(ctx, "t1")
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if res.Action != RepairRolledBack {
		t.Errorf("action = %s, want rolled_back", res.Action)
	}
	f.assertBalance(t, "checking", "1000")
	f.assertBalance(t, "savings", "0")
	f.assertConsistent(t, "checking", "savings")
	if _, err := f.store.GetTransaction(ctx, "t1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("rolled back row should be gone, got %v", err)
	}
}

func TestLedger_ConfirmFailureThenMarkPostedRepair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "checking", "1000")
	f.store.fail("status:posted", 0, 1)

	tx := expenseTx("checking", "100", "2026-02-01")
	tx.ID = "t2"
	_, err := f.ledger.PostTransaction(ctx, tx)
	var pf *core.PartialFailure
	if !errors.As(err, &pf) || pf.Stage != "confirm" {
		t.Fatalf("err = %v, want PartialFailure at confirm", err)
	}
	f.assertBalance(t, "checking", "900")

	res, err := f.ledger.RepairTransaction(ctx, "t2")
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if res.Action != RepairMarkedPosted {
		t.Errorf("action = %s, want marked_posted", res.Action)
	}
	stored, _ := f.store.GetTransaction(ctx, "t2")
	if stored.Status != core.StatusPosted {
		t.Errorf("status = %s, want posted", stored.Status)
	}
	f.assertConsistent(t, "checking")

	if _, err := f.ledger.RepairTransaction(ctx, "t2"); !errors.Is(err, core.ErrValidation) {
		t.Errorf("repairing a posted transaction = %v, want validation error", err)
	}
}

func TestLedger_RepairRefusesUnexplainedDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "checking", "1000")
	f.store.fail("status:posted", 0, 1)

	tx := expenseTx("checking", "100", "2026-02-01")
	tx.ID = "t3"
	if _, err := f.ledger.PostTransaction(ctx, tx); !errors.Is(err, core.ErrPartialFailure) {
		t.Fatalf("err = %v, want partial failure", err)
	}
	// Someone else moved the balance in the meantime.
	if err := f.store.Store.ApplyDelta(ctx, "checking", dec("-1")); err != nil {
		t.Fatal(err)
	}

	_, err := f.ledger.RepairTransaction(ctx, "t3")
	var pf *core.PartialFailure
	if !errors.As(err, &pf) || pf.Stage != "repair" {
		t.Fatalf("err = %v, want PartialFailure at repair", err)
	}
	stored, _ := f.store.GetTransaction(ctx, "t3")
	if stored.Status != core.StatusPendingRepair {
		t.Errorf("status = %s, want pending_repair", stored.Status)
	}
}

func TestLedger_DeleteFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown id is a no-op", func(t *testing.T) {
		f := newFixture(t)
		if err := f.ledger.DeleteTransaction(ctx, "missing"); err != nil {
			t.Fatalf("err = %v, want nil", err)
		}
	})

	t.Run("compensated revert keeps the transaction", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "checking", "1000")
		tx, err := f.ledger.PostTransaction(ctx, expenseTx("checking", "200", "2026-02-01"))
		if err != nil {
			t.Fatal(err)
		}
		f.store.fail("delta:checking", 0, 1)

		if err := f.ledger.DeleteTransaction(ctx, tx.ID); !errors.Is(err, core.ErrTransient) {
			t.Fatalf("err = %v, want transient", err)
		}
		stored, _ := f.store.GetTransaction(ctx, tx.ID)
		if stored.Status != core.StatusPosted {
			t.Errorf("status = %s, want posted", stored.Status)
		}
		f.assertBalance(t, "checking", "800")
		f.assertConsistent(t, "checking")
	})

	t.Run("half reverted transfer is rolled back by repair", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "checking", "1000")
		f.account(t, "savings", "0")
		tx, err := f.ledger.PostTransaction(ctx, transferTx("checking", "savings", "250", "2026-02-01"))
		if err != nil {
			t.Fatal(err)
		}
		f.store.fail("delta:savings", 0, 1)
		f.store.fail("delta:checking", 1, 1)

		err = f.ledger.DeleteTransaction(ctx, tx.ID)
		var pf *core.PartialFailure
		if !errors.As(err, &pf) || pf.Stage != "revert destination leg" {
			t.Fatalf("err = %v, want PartialFailure at revert destination leg", err)
		}

		res, err := f.ledger.RepairTransaction(ctx, tx.ID)
		if err != nil || res.Action != RepairRolledBack {
			t.Fatalf("repair = %+v, %v; want rolled_back", res, err)
		}
		f.assertBalance(t, "checking", "1000")
		f.assertBalance(t, "savings", "0")
		f.assertConsistent(t, "checking", "savings")
	})

	t.Run("row removal failure leaves a repairable row", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "checking", "1000")
		tx, err := f.ledger.PostTransaction(ctx, expenseTx("checking", "200", "2026-02-01"))
		if err != nil {
			t.Fatal(err)
		}
		f.store.fail("delete", 0, 1)

		if err := f.ledger.DeleteTransaction(ctx, tx.ID); !errors.Is(err, core.ErrPartialFailure) {
			t.Fatalf("err = %v, want partial failure", err)
		}
		f.assertBalance(t, "checking", "1000")

		res, err := f.ledger.RepairTransaction(ctx, tx.ID)
		if err != nil || res.Action != RepairRolledBack {
			t.Fatalf("repair = %+v, %v; want rolled_back", res, err)
		}
		f.assertConsistent(t, "checking")
	})
}

func TestLedger_VerifyUnknownAccount(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ledger.VerifyAccount(context.Background(), "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
