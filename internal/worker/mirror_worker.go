// Package worker hosts the long-running consumers that sit behind the
// ledger's event stream.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"papelflow/internal/core"
	"papelflow/internal/events"
	"papelflow/internal/log"
	"papelflow/internal/sheets"
	"papelflow/internal/storage"
)

// EventSource delivers events to handler until ctx ends. amqp.Client and
// kafka.Subscriber both satisfy it.
type EventSource interface {
	Consume(ctx context.Context, handler func(context.Context, events.Event) error) error
}

// TransactionLister reads the ledger for reconciliation.
type TransactionLister interface {
	ListTransactions(ctx context.Context, filter storage.TransactionFilter) ([]core.Transaction, error)
}

// MirrorWorker keeps a spreadsheet mirror in step with the ledger. Events
// drive it; Reconcile is the backup for events lost while it was down.
type MirrorWorker struct {
	mirror sheets.Mirror
	ledger TransactionLister
	logger *log.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	runErr  error
}

func NewMirrorWorker(mirror sheets.Mirror, ledger TransactionLister) *MirrorWorker {
	return &MirrorWorker{
		mirror: mirror,
		ledger: ledger,
		logger: log.Default(log.ComponentWorker),
	}
}

// HandleEvent applies one ledger event to the mirror. Events that do not
// change the set of posted transactions are ignored.
func (w *MirrorWorker) HandleEvent(ctx context.Context, e events.Event) error {
	switch e.Type {
	case events.TransactionPosted:
		row, err := sheets.RowFromEvent(e)
		if err != nil {
			return fmt.Errorf("event %s: %w", e.ID, err)
		}
		ref, err := w.mirror.Append(ctx, row)
		if err != nil {
			return fmt.Errorf("append to mirror: %w", err)
		}
		w.logger.InfoContext(ctx, "Mirrored transaction",
			log.FieldOperation, log.OpMirror,
			log.FieldTransactionID, e.TransactionID,
			"sheets_ref", ref)
	case events.TransactionDeleted:
		row, err := sheets.RowFromEvent(e)
		if err != nil {
			return fmt.Errorf("event %s: %w", e.ID, err)
		}
		if err := w.mirror.Remove(ctx, row); err != nil {
			return fmt.Errorf("remove from mirror: %w", err)
		}
		w.logger.InfoContext(ctx, "Removed mirrored transaction",
			log.FieldOperation, log.OpMirror,
			log.FieldTransactionID, e.TransactionID)
	default:
		w.logger.DebugContext(ctx, "Ignoring event", "type", e.Type, "event_id", e.ID)
	}
	return nil
}

type ReconcileResult struct {
	Appended int `json:"appended"`
	Removed  int `json:"removed"`
}

// Reconcile makes the mirror's rows for month m match the ledger's posted
// transactions of that month.
func (w *MirrorWorker) Reconcile(ctx context.Context, m core.Month) (ReconcileResult, error) {
	txs, err := w.ledger.ListTransactions(ctx, storage.TransactionFilter{
		Status: core.StatusPosted,
		From:   m.First(),
		To:     m.Last(),
	})
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("list posted transactions: %w", err)
	}
	rows, err := w.mirror.ListMonth(ctx, m)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("list mirrored rows: %w", err)
	}

	mirrored := make(map[string]sheets.Row, len(rows))
	for _, r := range rows {
		mirrored[r.TransactionID] = r
	}
	posted := make(map[string]struct{}, len(txs))

	var (
		res  ReconcileResult
		errs []error
	)
	for _, tx := range txs {
		posted[tx.ID] = struct{}{}
		if _, ok := mirrored[tx.ID]; ok {
			continue
		}
		if _, err := w.mirror.Append(ctx, sheets.RowFromTransaction(tx)); err != nil {
			errs = append(errs, fmt.Errorf("append %s: %w", tx.ID, err))
			continue
		}
		res.Appended++
	}
	for id, r := range mirrored {
		if _, ok := posted[id]; ok {
			continue
		}
		if err := w.mirror.Remove(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", id, err))
			continue
		}
		res.Removed++
	}

	w.logger.InfoContext(ctx, "Mirror reconciled",
		log.FieldMonth, m.String(),
		"appended", res.Appended,
		"removed", res.Removed,
		"errors", len(errs))
	return res, errors.Join(errs...)
}

// Start consumes src in the background. Returns an error if already running.
func (w *MirrorWorker) Start(ctx context.Context, src EventSource) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("mirror worker is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.doneCh = make(chan struct{})
	w.runErr = nil
	w.mu.Unlock()

	go func() {
		defer close(w.doneCh)
		err := src.Consume(ctx, w.HandleEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "Event consumption stopped", log.FieldError, err)
		}
		w.mu.Lock()
		w.runErr = err
		w.running = false
		w.mu.Unlock()
	}()

	w.logger.InfoContext(ctx, "Mirror worker started")
	return nil
}

// Done is closed once consumption has stopped.
func (w *MirrorWorker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.doneCh
}

// Err returns why consumption stopped, if it has.
func (w *MirrorWorker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runErr
}

// Stop cancels consumption and waits for it to finish.
func (w *MirrorWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return nil
	}
	cancel, done := w.cancel, w.doneCh
	w.mu.Unlock()

	cancel()
	select {
	case <-done:
		w.logger.InfoContext(ctx, "Mirror worker stopped gracefully")
		return nil
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "Mirror worker stop timed out")
		return ctx.Err()
	}
}

func (w *MirrorWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
