package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"papelflow/internal/core"
	"papelflow/internal/events"
	"papelflow/internal/log"
	"papelflow/internal/storage"

	"github.com/shopspring/decimal"
)

// LedgerStore is the persistence the ledger needs.
type LedgerStore interface {
	storage.AccountStore
	storage.TransactionStore
}

// LedgerService keeps account balances consistent with the transactions
// posted against them.
//
// The store offers no multi-row transaction. Each write is a sequence of
// single-row steps (insert pending row, per-account delta, mark posted) with
// compensation on failure. A failure that cannot be compensated leaves the
// row in pending_repair and surfaces as core.PartialFailure.
type LedgerService struct {
	store     LedgerStore
	publisher events.Publisher
	logger    *log.Logger
	events    *log.StructuredLogger
	now       func() time.Time
}

// NewLedgerService builds a ledger over store. A nil publisher drops events.
func NewLedgerService(store LedgerStore, publisher events.Publisher) *LedgerService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	logger := log.Default(log.ComponentLedger)
	return &LedgerService{
		store:     store,
		publisher: publisher,
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
		now:       time.Now,
	}
}

// CreateAccount opens an account whose balance starts at its opening balance.
func (s *LedgerService) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.ID == "" {
		a.ID = core.NewID()
	}
	a.Currency = strings.ToUpper(strings.TrimSpace(a.Currency))
	a.Balance = a.OpeningBalance
	a.Active = true
	a.CreatedAt = s.now()
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return core.Account{}, core.Transient("create account", err)
	}
	s.logger.InfoContext(ctx, "Account created",
		log.FieldAccountID, a.ID,
		log.FieldKind, a.Kind,
		log.FieldAmount, a.OpeningBalance.String())
	return a, nil
}

// GetAccount returns the stored account, balance included.
func (s *LedgerService) GetAccount(ctx context.Context, id string) (core.Account, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return core.Account{}, core.Transient("get account", err)
	}
	return a, nil
}

// ListAccounts returns every account, inactive ones included.
func (s *LedgerService) ListAccounts(ctx context.Context) ([]core.Account, error) {
	accs, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, core.Transient("list accounts", err)
	}
	return accs, nil
}

// GetTransaction returns a transaction in any status.
func (s *LedgerService) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, core.Transient("get transaction", err)
	}
	return tx, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, f storage.TransactionFilter) ([]core.Transaction, error) {
	txs, err := s.store.ListTransactions(ctx, f)
	if err != nil {
		return nil, core.Transient("list transactions", err)
	}
	return txs, nil
}

func (s *LedgerService) activeAccount(ctx context.Context, id, field string) (core.Account, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return core.Account{}, core.Transient("get account", err)
	}
	if !a.Active {
		return core.Account{}, core.Invalid(field, fmt.Sprintf("account %s is inactive", id))
	}
	return a, nil
}

// validateAgainstAccounts checks what Transaction.Validate cannot: the
// accounts exist, are active, and agree on currency and precision.
func (s *LedgerService) validateAgainstAccounts(ctx context.Context, tx core.Transaction) error {
	src, err := s.activeAccount(ctx, tx.AccountID, "account_id")
	if err != nil {
		return err
	}
	if err := core.CheckPrecision(tx.Amount, src.Currency); err != nil {
		return err
	}
	if tx.Kind != core.Transfer {
		return nil
	}
	dst, err := s.activeAccount(ctx, tx.DestinationAccountID, "destination_account_id")
	if err != nil {
		return err
	}
	if dst.Currency != src.Currency {
		return core.Invalid("destination_account_id",
			fmt.Sprintf("cannot transfer %s into a %s account", src.Currency, dst.Currency))
	}
	return nil
}

// PostTransaction validates tx, records it and applies its balance effects.
// A caller supplied id makes the call idempotent: replaying it fails with
// core.ConflictError and changes nothing.
func (s *LedgerService) PostTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if tx.ID == "" {
		tx.ID = core.NewID()
	}
	tx.Status = core.StatusPending
	tx.CreatedAt = s.now()

	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := s.validateAgainstAccounts(ctx, tx); err != nil {
		return core.Transaction{}, err
	}

	if err := s.store.InsertTransaction(ctx, tx); err != nil {
		return core.Transaction{}, core.Transient("insert transaction", err)
	}

	if f := s.applyEffects(ctx, tx.Effects()); f != nil {
		if f.rollbackErr == nil {
			s.discardPending(ctx, tx.ID)
			return core.Transaction{}, core.Transient("apply "+f.stage, f.err)
		}
		return core.Transaction{}, s.flagRepair(ctx, tx, f.stage, errors.Join(f.err, f.rollbackErr))
	}

	won, err := s.store.SetTransactionStatus(ctx, tx.ID, core.StatusPending, core.StatusPosted)
	if err == nil && !won {
		err = fmt.Errorf("transaction %s left pending before it was confirmed", tx.ID)
	}
	if err != nil {
		return core.Transaction{}, s.flagRepair(ctx, tx, "confirm", err)
	}
	tx.Status = core.StatusPosted

	s.events.LogTransactionPosted(ctx, tx)
	events.Emit(ctx, s.publisher, events.ForTransaction(events.TransactionPosted, tx, s.now()))
	return tx, nil
}

// DeleteTransaction reverts the balance effects of a posted transaction and
// removes it. Unknown ids are a no-op so retries are harmless, and of two
// concurrent deletes only the one that takes the row out of posted reverts it.
func (s *LedgerService) DeleteTransaction(ctx context.Context, id string) error {
	tx, err := s.store.GetTransaction(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		s.logger.DebugContext(ctx, "Transaction already deleted", log.FieldTransactionID, id)
		return nil
	}
	if err != nil {
		return core.Transient("get transaction", err)
	}
	switch tx.Status {
	case core.StatusPosted:
	case core.StatusPendingRepair:
		return core.Invalid("status", fmt.Sprintf("transaction %s is pending repair and must be repaired first", id))
	default:
		return core.Invalid("status", fmt.Sprintf("transaction %s is not posted", id))
	}

	// Out of the posted set before its effects are reverted
	won, err := s.store.SetTransactionStatus(ctx, id, core.StatusPosted, core.StatusPending)
	if errors.Is(err, core.ErrNotFound) || (err == nil && !won) {
		s.logger.DebugContext(ctx, "Transaction already being deleted", log.FieldTransactionID, id)
		return nil
	}
	if err != nil {
		return core.Transient("mark transaction pending", err)
	}

	if f := s.applyEffects(ctx, inverse(tx.Effects())); f != nil {
		if f.rollbackErr == nil {
			won, err := s.store.SetTransactionStatus(ctx, id, core.StatusPending, core.StatusPosted)
			if err == nil && !won {
				err = fmt.Errorf("transaction %s left pending before it was restored", id)
			}
			if err != nil {
				return s.flagRepair(ctx, tx, "restore", err)
			}
			return core.Transient("revert "+f.stage, f.err)
		}
		return s.flagRepair(ctx, tx, "revert "+f.stage, errors.Join(f.err, f.rollbackErr))
	}

	if err := s.store.DeleteTransaction(ctx, id); err != nil && !errors.Is(err, core.ErrNotFound) {
		return s.flagRepair(ctx, tx, "remove", err)
	}

	s.logger.InfoContext(ctx, "Transaction deleted",
		log.FieldTransactionID, id,
		log.FieldKind, tx.Kind,
		log.FieldAmount, tx.Amount.String())
	events.Emit(ctx, s.publisher, events.ForTransaction(events.TransactionDeleted, tx, s.now()))
	return nil
}

type legFailure struct {
	stage       string
	err         error
	rollbackErr error
}

func legName(i int) string {
	if i == 0 {
		return "source leg"
	}
	return "destination leg"
}

// applyEffects applies every delta in order. When one fails the deltas
// already applied are reverted; rollbackErr is set if that also failed.
func (s *LedgerService) applyEffects(ctx context.Context, effects []core.Effect) *legFailure {
	for i, e := range effects {
		if err := s.store.ApplyDelta(ctx, e.AccountID, e.Delta); err != nil {
			f := &legFailure{stage: legName(i), err: err}
			for j := i - 1; j >= 0; j-- {
				prev := effects[j]
				if rerr := s.store.ApplyDelta(ctx, prev.AccountID, prev.Delta.Neg()); rerr != nil {
					f.rollbackErr = errors.Join(f.rollbackErr, fmt.Errorf("compensate %s: %w", legName(j), rerr))
				}
			}
			return f
		}
	}
	return nil
}

func inverse(effects []core.Effect) []core.Effect {
	out := make([]core.Effect, len(effects))
	for i, e := range effects {
		out[i] = core.Effect{AccountID: e.AccountID, Delta: e.Delta.Neg()}
	}
	return out
}

// discardPending removes a pending row whose effects were never applied.
// A leftover pending row does not count toward balances.
func (s *LedgerService) discardPending(ctx context.Context, id string) {
	if err := s.store.DeleteTransaction(ctx, id); err != nil && !errors.Is(err, core.ErrNotFound) {
		s.logger.WarnContext(ctx, "Failed to discard pending transaction",
			log.FieldTransactionID, id,
			log.FieldError, err)
	}
}

// flagRepair moves the pending row of tx to pending_repair and reports the
// integrity violation.
func (s *LedgerService) flagRepair(ctx context.Context, tx core.Transaction, stage string, cause error) error {
	won, err := s.store.SetTransactionStatus(ctx, tx.ID, core.StatusPending, core.StatusPendingRepair)
	if err == nil && !won {
		err = errors.New("row is no longer pending")
	}
	if err != nil {
		cause = errors.Join(cause, fmt.Errorf("flag pending_repair: %w", err))
	}
	pf := &core.PartialFailure{TransactionID: tx.ID, Stage: stage, Err: cause}

	fields := log.NewFields().WithTransaction(tx)
	fields["stage"] = stage
	s.events.LogError(ctx, "Ledger write left pending repair", pf, log.ComponentLedger, log.OpCompensate, fields)

	tx.Status = core.StatusPendingRepair
	e := events.ForTransaction(events.TransactionPendingRepair, tx, s.now())
	e.Reason = stage
	events.Emit(ctx, s.publisher, e)
	return pf
}

// Verification compares an account's stored balance with the balance
// implied by its posted transactions.
type Verification struct {
	AccountID     string          `json:"account_id"`
	Balance       decimal.Decimal `json:"balance"`
	Expected      decimal.Decimal `json:"expected"`
	Drift         decimal.Decimal `json:"drift"`
	Consistent    bool            `json:"consistent"`
	PendingRepair []string        `json:"pending_repair,omitempty"`
}

// expectedBalance is opening balance plus every posted effect on the
// account, skipping the transaction with id skip.
func expectedBalance(a core.Account, txs []core.Transaction, skip string) decimal.Decimal {
	total := a.OpeningBalance
	for _, tx := range txs {
		if tx.Status != core.StatusPosted || tx.ID == skip {
			continue
		}
		for _, e := range tx.Effects() {
			if e.AccountID == a.ID {
				total = total.Add(e.Delta)
			}
		}
	}
	return total
}

// VerifyAccount recomputes opening + posted effects and reports any drift.
func (s *LedgerService) VerifyAccount(ctx context.Context, id string) (Verification, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return Verification{}, core.Transient("get account", err)
	}
	txs, err := s.store.ListTransactions(ctx, storage.TransactionFilter{AccountID: id})
	if err != nil {
		return Verification{}, core.Transient("list transactions", err)
	}

	v := Verification{AccountID: id, Balance: a.Balance, Expected: expectedBalance(a, txs, "")}
	v.Drift = v.Balance.Sub(v.Expected)
	v.Consistent = v.Drift.IsZero()
	for _, tx := range txs {
		if tx.Status == core.StatusPendingRepair {
			v.PendingRepair = append(v.PendingRepair, tx.ID)
		}
	}
	if !v.Consistent {
		s.logger.WarnContext(ctx, "Account balance drift detected",
			log.FieldAccountID, id,
			"drift", v.Drift.String(),
			log.FieldCount, len(v.PendingRepair))
	}
	return v, nil
}

// RepairAction says how RepairTransaction resolved a row.
type RepairAction string

const (
	RepairMarkedPosted RepairAction = "marked_posted"
	RepairRolledBack   RepairAction = "rolled_back"
)

// RepairResult reports what RepairTransaction did to one row.
type RepairResult struct {
	TransactionID string       `json:"transaction_id"`
	Action        RepairAction `json:"action"`
}

// RepairTransaction resolves a transaction left pending_repair (or a stale
// pending row). Each touched account's drift shows whether the leg was
// applied: when every leg was applied the row is marked posted, otherwise
// applied legs are reverted and the row is removed.
func (s *LedgerService) RepairTransaction(ctx context.Context, id string) (RepairResult, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return RepairResult{}, core.Transient("get transaction", err)
	}
	if tx.Status == core.StatusPosted {
		return RepairResult{}, core.Invalid("status", fmt.Sprintf("transaction %s is already posted", id))
	}

	var applied, missing []core.Effect
	for _, e := range tx.Effects() {
		a, err := s.store.GetAccount(ctx, e.AccountID)
		if err != nil {
			return RepairResult{}, core.Transient("get account", err)
		}
		txs, err := s.store.ListTransactions(ctx, storage.TransactionFilter{AccountID: e.AccountID})
		if err != nil {
			return RepairResult{}, core.Transient("list transactions", err)
		}
		drift := a.Balance.Sub(expectedBalance(a, txs, id))
		switch {
		case drift.Equal(e.Delta):
			applied = append(applied, e)
		case drift.IsZero():
			missing = append(missing, e)
		default:
			return RepairResult{}, &core.PartialFailure{
				TransactionID: id,
				Stage:         "repair",
				Err:           fmt.Errorf("account %s drifted by %s, expected 0 or %s", e.AccountID, drift, e.Delta),
			}
		}
	}

	res := RepairResult{TransactionID: id}
	if len(missing) == 0 {
		won, err := s.store.SetTransactionStatus(ctx, id, tx.Status, core.StatusPosted)
		if err != nil {
			return RepairResult{}, core.Transient("mark transaction posted", err)
		}
		if !won {
			return RepairResult{}, repairedConcurrently(id)
		}
		res.Action = RepairMarkedPosted
		tx.Status = core.StatusPosted
		events.Emit(ctx, s.publisher, events.ForTransaction(events.TransactionPosted, tx, s.now()))
	} else {
		// Moving the row off the status it was read in means a second
		// repairer working from the same read cannot revert the legs again.
		claim := core.StatusPending
		if tx.Status == core.StatusPending {
			claim = core.StatusPendingRepair
		}
		won, err := s.store.SetTransactionStatus(ctx, id, tx.Status, claim)
		if err != nil {
			return RepairResult{}, core.Transient("claim transaction", err)
		}
		if !won {
			return RepairResult{}, repairedConcurrently(id)
		}
		if f := s.applyEffects(ctx, inverse(applied)); f != nil {
			if claim != core.StatusPendingRepair {
				if _, err := s.store.SetTransactionStatus(ctx, id, claim, core.StatusPendingRepair); err != nil {
					f.rollbackErr = errors.Join(f.rollbackErr, fmt.Errorf("flag pending_repair: %w", err))
				}
			}
			return RepairResult{}, &core.PartialFailure{TransactionID: id, Stage: "repair " + f.stage, Err: errors.Join(f.err, f.rollbackErr)}
		}
		if err := s.store.DeleteTransaction(ctx, id); err != nil && !errors.Is(err, core.ErrNotFound) {
			return RepairResult{}, core.Transient("remove transaction", err)
		}
		res.Action = RepairRolledBack
		events.Emit(ctx, s.publisher, events.ForTransaction(events.TransactionDeleted, tx, s.now()))
	}

	s.logger.InfoContext(ctx, "Transaction repaired",
		log.FieldTransactionID, id,
		log.FieldOperation, log.OpRepair,
		"action", res.Action)
	return res, nil
}

func repairedConcurrently(id string) error {
	return core.Invalid("status", fmt.Sprintf("transaction %s changed status while it was being repaired", id))
}
