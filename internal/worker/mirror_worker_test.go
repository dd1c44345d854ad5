package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"papelflow/internal/core"
	"papelflow/internal/events"
	sheetsmem "papelflow/internal/sheets/memory"
	"papelflow/internal/storage/memory"

	"github.com/shopspring/decimal"
)

func expense(id, date string, status core.TransactionStatus) core.Transaction {
	return core.Transaction{
		ID:         id,
		Kind:       core.Expense,
		Amount:     decimal.RequireFromString("20"),
		Date:       core.MustDate(date),
		AccountID:  "checking",
		CategoryID: "food",
		Status:     status,
	}
}

// channelSource replays queued events, then blocks until ctx ends.
type channelSource struct {
	ch chan events.Event
}

func (s channelSource) Consume(ctx context.Context, handler func(context.Context, events.Event) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-s.ch:
			if err := handler(ctx, e); err != nil {
				return err
			}
		}
	}
}

type failingSource struct{ err error }

func (s failingSource) Consume(context.Context, func(context.Context, events.Event) error) error {
	return s.err
}

func TestHandleEvent(t *testing.T) {
	ctx := context.Background()
	mirror := sheetsmem.New()
	w := NewMirrorWorker(mirror, memory.New())
	now := time.Now()
	tx := expense("tx-1", "2026-03-10", core.StatusPosted)

	if err := w.HandleEvent(ctx, events.ForTransaction(events.TransactionPosted, tx, now)); err != nil {
		t.Fatalf("posted: %v", err)
	}
	if err := w.HandleEvent(ctx, events.ForTransaction(events.TransactionPosted, tx, now)); err != nil {
		t.Fatalf("replayed posted: %v", err)
	}
	if mirror.Len() != 1 {
		t.Fatalf("expected 1 row after replay, got %d", mirror.Len())
	}

	for _, typ := range []events.Type{events.TransactionPendingRepair, events.ObligationCreated, events.ObligationUpdated, events.ObligationMaterialized} {
		if err := w.HandleEvent(ctx, events.ForTransaction(typ, tx, now)); err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
	}
	if mirror.Len() != 1 {
		t.Fatalf("ignored events changed the mirror: %d rows", mirror.Len())
	}

	if err := w.HandleEvent(ctx, events.ForTransaction(events.TransactionDeleted, tx, now)); err != nil {
		t.Fatalf("deleted: %v", err)
	}
	if mirror.Len() != 0 {
		t.Fatalf("expected empty mirror, got %d rows", mirror.Len())
	}

	bad := events.ForTransaction(events.TransactionPosted, tx, now)
	bad.Date = "10/03/2026"
	if err := w.HandleEvent(ctx, bad); err == nil {
		t.Fatal("expected error for malformed date")
	}
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mirror := sheetsmem.New()
	w := NewMirrorWorker(mirror, store)

	for _, tx := range []core.Transaction{
		expense("posted-1", "2026-03-01", core.StatusPosted),
		expense("posted-2", "2026-03-31", core.StatusPosted),
		expense("repair", "2026-03-05", core.StatusPendingRepair),
		expense("april", "2026-04-01", core.StatusPosted),
	} {
		if err := store.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("insert %s: %v", tx.ID, err)
		}
	}
	// Already mirrored, and a row whose transaction is gone.
	if err := w.HandleEvent(ctx, events.ForTransaction(events.TransactionPosted, expense("posted-1", "2026-03-01", core.StatusPosted), time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := w.HandleEvent(ctx, events.ForTransaction(events.TransactionPosted, expense("gone", "2026-03-20", core.StatusPosted), time.Now())); err != nil {
		t.Fatal(err)
	}

	res, err := w.Reconcile(ctx, core.Month{Year: 2026, Month: 3})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Appended != 1 || res.Removed != 1 {
		t.Errorf("result = %+v, want 1 appended and 1 removed", res)
	}
	rows, _ := mirror.ListMonth(ctx, core.Month{Year: 2026, Month: 3})
	if len(rows) != 2 || rows[0].TransactionID != "posted-1" || rows[1].TransactionID != "posted-2" {
		t.Errorf("unexpected rows: %+v", rows)
	}

	again, err := w.Reconcile(ctx, core.Month{Year: 2026, Month: 3})
	if err != nil || again != (ReconcileResult{}) {
		t.Errorf("second reconcile = %+v, %v; want no changes", again, err)
	}
}

func TestMirrorWorker_Lifecycle(t *testing.T) {
	mirror := sheetsmem.New()
	w := NewMirrorWorker(mirror, memory.New())
	src := channelSource{ch: make(chan events.Event, 1)}

	if w.IsRunning() {
		t.Fatal("worker should not be running initially")
	}
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("stop before start: %v", err)
	}

	if err := w.Start(context.Background(), src); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Start(context.Background(), src); err == nil {
		t.Error("expected error when starting a running worker")
	}

	src.ch <- events.ForTransaction(events.TransactionPosted, expense("tx-1", "2026-03-10", core.StatusPosted), time.Now())
	deadline := time.Now().Add(2 * time.Second)
	for mirror.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mirror.Len() != 1 {
		t.Fatal("event was not mirrored")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if w.IsRunning() {
		t.Error("worker should not be running after stop")
	}
	if !errors.Is(w.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", w.Err())
	}
}

func TestMirrorWorker_SourceFailure(t *testing.T) {
	w := NewMirrorWorker(sheetsmem.New(), memory.New())
	boom := errors.New("broker gone")

	if err := w.Start(context.Background(), failingSource{err: boom}); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after source failure")
	}
	if !errors.Is(w.Err(), boom) {
		t.Errorf("Err() = %v, want %v", w.Err(), boom)
	}
	if w.IsRunning() {
		t.Error("worker should not be running after source failure")
	}
}
