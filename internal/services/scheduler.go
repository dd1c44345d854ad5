package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"papelflow/internal/core"
	"papelflow/internal/events"
	"papelflow/internal/log"
	"papelflow/internal/storage"
)

// SchedulerStore is the persistence the recurring scheduler needs.
type SchedulerStore interface {
	storage.ObligationStore
	storage.MaterializationStore
}

type SchedulerConfig struct {
	// ClaimTTL is how long a claimed occurrence belongs to the runner that
	// claimed it. Older claims are considered abandoned and taken over.
	ClaimTTL time.Duration
	// MaxCatchUp bounds the occurrences materialized per obligation and run.
	MaxCatchUp int
	// RetentionDays is how long materialized records are kept.
	RetentionDays int
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ClaimTTL:      10 * time.Minute,
		MaxCatchUp:    400,
		RetentionDays: 400,
	}
}

// Scheduler turns due obligation occurrences into ledger transactions.
//
// Every occurrence (obligation, due date) is claimed with a unique insert
// before posting, and the transaction id is derived from that key, so
// concurrent or repeated runs materialize it at most once. next_due only
// moves by compare-and-set.
type Scheduler struct {
	store     SchedulerStore
	ledger    *LedgerService
	publisher events.Publisher
	cfg       SchedulerConfig
	logger    *log.Logger
	events    *log.StructuredLogger
	now       func() time.Time
}

// NewScheduler fills zero config fields from DefaultSchedulerConfig.
func NewScheduler(store SchedulerStore, ledger *LedgerService, publisher events.Publisher, cfg SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = def.ClaimTTL
	}
	if cfg.MaxCatchUp <= 0 {
		cfg.MaxCatchUp = def.MaxCatchUp
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = def.RetentionDays
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	logger := log.Default(log.ComponentScheduler)
	return &Scheduler{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
		now:       time.Now,
	}
}

// CreateObligation registers a recurring obligation funded by an active account.
func (s *Scheduler) CreateObligation(ctx context.Context, o core.RecurringObligation) (core.RecurringObligation, error) {
	if o.ID == "" {
		o.ID = core.NewID()
	}
	o.Active = true
	o.CreatedAt = s.now()
	if err := o.Validate(); err != nil {
		return core.RecurringObligation{}, err
	}
	acc, err := s.ledger.activeAccount(ctx, o.AccountID, "account_id")
	if err != nil {
		return core.RecurringObligation{}, err
	}
	if err := core.CheckPrecision(o.Amount, acc.Currency); err != nil {
		return core.RecurringObligation{}, err
	}
	if err := s.store.CreateObligation(ctx, o); err != nil {
		return core.RecurringObligation{}, core.Transient("create obligation", err)
	}
	s.logger.InfoContext(ctx, "Obligation created",
		log.FieldObligationID, o.ID,
		log.FieldDueDate, o.NextDue.String(),
		"frequency", o.Frequency)
	events.Emit(ctx, s.publisher, events.ForObligation(events.ObligationCreated, o, s.now()))
	return o, nil
}

func (s *Scheduler) ListObligations(ctx context.Context, activeOnly bool) ([]core.RecurringObligation, error) {
	obs, err := s.store.ListObligations(ctx, activeOnly)
	if err != nil {
		return nil, core.Transient("list obligations", err)
	}
	return obs, nil
}

// SetObligationActive pauses or resumes an obligation. Paused obligations
// are skipped by Run and drop out of the forecast.
func (s *Scheduler) SetObligationActive(ctx context.Context, id string, active bool) error {
	if err := s.store.SetObligationActive(ctx, id, active); err != nil {
		return core.Transient("update obligation", err)
	}

	o, err := s.store.GetObligation(ctx, id)
	if err != nil {
		// Listeners only need the id to drop what they derived from it.
		o = core.RecurringObligation{ID: id, Active: active}
	}
	e := events.ForObligation(events.ObligationUpdated, o, s.now())
	e.Reason = "deactivated"
	if active {
		e.Reason = "activated"
	}
	events.Emit(ctx, s.publisher, e)
	return nil
}

// Run materializes every due occurrence of every active obligation, catching
// up on missed periods. A failing obligation is logged and skipped; the
// returned error joins all such failures.
func (s *Scheduler) Run(ctx context.Context, today core.Date) ([]core.Transaction, error) {
	obligations, err := s.store.ListObligations(ctx, true)
	if err != nil {
		return nil, core.Transient("list obligations", err)
	}

	var (
		created []core.Transaction
		errs    []error
	)
	for _, o := range obligations {
		txs, err := s.runObligation(ctx, o, today)
		created = append(created, txs...)
		if err != nil {
			s.events.LogError(ctx, "Obligation skipped for this run", err, log.ComponentScheduler, log.OpMaterialize,
				log.NewFields().WithObligation(o, o.NextDue))
			errs = append(errs, fmt.Errorf("obligation %s: %w", o.ID, err))
		}
	}

	s.logger.InfoContext(ctx, "Recurring scheduler run complete",
		log.FieldDate, today.String(),
		"obligations", len(obligations),
		"materialized", len(created),
		"failed", len(errs))
	return created, errors.Join(errs...)
}

func (s *Scheduler) runObligation(ctx context.Context, o core.RecurringObligation, today core.Date) ([]core.Transaction, error) {
	var created []core.Transaction
	due := o.NextDue
	for n := 0; !due.After(today); n++ {
		if n >= s.cfg.MaxCatchUp {
			s.logger.WarnContext(ctx, "Catch-up limit reached",
				log.FieldObligationID, o.ID,
				log.FieldDueDate, due.String(),
				"limit", s.cfg.MaxCatchUp)
			break
		}
		if err := ctx.Err(); err != nil {
			return created, err
		}

		tx, next, err := s.materialize(ctx, o, due, due)
		if tx != nil {
			created = append(created, *tx)
		}
		if err != nil {
			return created, err
		}
		if next.IsZero() {
			break
		}
		due = next
	}
	return created, nil
}

// materialize handles one occurrence. It returns the newly posted
// transaction (nil when an earlier run posted it) and the next due date, or
// a zero date when another runner currently owns the occurrence.
func (s *Scheduler) materialize(ctx context.Context, o core.RecurringObligation, due, txDate core.Date) (*core.Transaction, core.Date, error) {
	next, err := core.StepFrequency(due, o.Frequency)
	if err != nil {
		return nil, core.Date{}, err
	}

	txID := core.MaterializationTransactionID(o.ID, due)
	now := s.now()
	claim := core.MaterializationRecord{
		ObligationID:  o.ID,
		DueDate:       due,
		TransactionID: txID,
		State:         core.Claimed,
		ClaimedAt:     now,
	}

	err = s.store.ClaimOccurrence(ctx, claim)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrConflict):
		outcome, err := s.resolveClaimConflict(ctx, o, due, next, now)
		switch {
		case err != nil:
			return nil, core.Date{}, err
		case outcome == claimDone:
			return nil, next, nil
		case outcome == claimBusy:
			return nil, core.Date{}, nil
		}
	default:
		return nil, core.Date{}, core.Transient("claim occurrence", err)
	}

	tx := core.Transaction{
		ID:           txID,
		Kind:         core.Expense,
		Amount:       o.Amount,
		Date:         txDate,
		AccountID:    o.AccountID,
		CategoryID:   o.CategoryID,
		Payee:        o.Name,
		Recurring:    true,
		ObligationID: o.ID,
	}
	posted, err := s.ledger.PostTransaction(ctx, tx)
	var created *core.Transaction
	switch {
	case err == nil:
		created = &posted
	case errors.Is(err, core.ErrConflict):
		// Posted by an earlier run that stopped before marking the record.
		if err := s.checkAlreadyPosted(ctx, txID); err != nil {
			s.release(ctx, o.ID, due)
			return nil, core.Date{}, err
		}
	default:
		s.release(ctx, o.ID, due)
		return nil, core.Date{}, fmt.Errorf("post occurrence %s: %w", due, err)
	}

	if err := s.store.MarkMaterialized(ctx, o.ID, due, s.now()); err != nil {
		// The next run re-claims, finds the posted transaction and marks it.
		s.release(ctx, o.ID, due)
		return created, core.Date{}, core.Transient("mark materialized", err)
	}
	if created != nil {
		s.events.LogMaterialized(ctx, o, due, txID)
		events.Emit(ctx, s.publisher, events.ForMaterialization(*created, due, s.now()))
	}

	if err := s.advance(ctx, o.ID, due, next); err != nil {
		return created, core.Date{}, err
	}
	return created, next, nil
}

type claimOutcome int

const (
	claimOwned claimOutcome = iota // this runner holds the claim
	claimDone                      // occurrence already materialized
	claimBusy                      // another runner holds a fresh claim
)

// resolveClaimConflict decides what to do when the occurrence is already claimed.
func (s *Scheduler) resolveClaimConflict(ctx context.Context, o core.RecurringObligation, due, next core.Date, now time.Time) (claimOutcome, error) {
	rec, err := s.store.GetOccurrence(ctx, o.ID, due)
	if errors.Is(err, core.ErrNotFound) {
		// Released between our insert and read; the next run picks it up.
		return claimBusy, nil
	}
	if err != nil {
		return claimBusy, core.Transient("get occurrence", err)
	}

	switch rec.State {
	case core.Materialized:
		// Finish a run that stopped between marking and advancing.
		return claimDone, s.advance(ctx, o.ID, due, next)
	case core.Claimed:
		if now.Sub(rec.ClaimedAt) < s.cfg.ClaimTTL {
			s.logger.InfoContext(ctx, "Occurrence claimed by another runner",
				log.FieldObligationID, o.ID,
				log.FieldDueDate, due.String())
			return claimBusy, nil
		}
		ok, err := s.store.TakeOverClaim(ctx, o.ID, due, rec.ClaimedAt, now)
		if err != nil {
			return claimBusy, core.Transient("take over claim", err)
		}
		if !ok {
			return claimBusy, nil
		}
		s.logger.WarnContext(ctx, "Took over stale claim",
			log.FieldObligationID, o.ID,
			log.FieldDueDate, due.String(),
			"claimed_at", rec.ClaimedAt)
		return claimOwned, nil
	default:
		return claimBusy, fmt.Errorf("unknown materialization state %q", rec.State)
	}
}

// checkAlreadyPosted accepts an existing transaction only once it is posted.
func (s *Scheduler) checkAlreadyPosted(ctx context.Context, txID string) error {
	existing, err := s.ledger.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if existing.Status != core.StatusPosted {
		return &core.PartialFailure{
			TransactionID: txID,
			Stage:         "materialize",
			Err:           fmt.Errorf("transaction is %s", existing.Status),
		}
	}
	return nil
}

func (s *Scheduler) advance(ctx context.Context, obligationID string, from, to core.Date) error {
	ok, err := s.store.AdvanceDue(ctx, obligationID, from, to)
	if err != nil {
		return core.Transient("advance next_due", err)
	}
	if !ok {
		s.logger.DebugContext(ctx, "next_due already advanced",
			log.FieldObligationID, obligationID,
			log.FieldDueDate, from.String())
	}
	return nil
}

func (s *Scheduler) release(ctx context.Context, obligationID string, due core.Date) {
	if err := s.store.ReleaseClaim(ctx, obligationID, due); err != nil {
		s.logger.ErrorContext(ctx, "Failed to release claim",
			log.FieldObligationID, obligationID,
			log.FieldDueDate, due.String(),
			log.FieldError, err)
	}
}

// MarkPaid materializes the obligation's current occurrence now, dated today
// or on the due date if that is earlier, and advances next_due. It fails with
// core.ConflictError when the occurrence was already materialized or is being
// materialized by another runner.
func (s *Scheduler) MarkPaid(ctx context.Context, obligationID string, today core.Date) (core.Transaction, error) {
	o, err := s.store.GetObligation(ctx, obligationID)
	if err != nil {
		return core.Transaction{}, core.Transient("get obligation", err)
	}
	if !o.Active {
		return core.Transaction{}, core.Invalid("obligation_id", fmt.Sprintf("obligation %s is inactive", obligationID))
	}

	due := o.NextDue
	txDate := due
	if today.Before(due) {
		txDate = today
	}

	tx, _, err := s.materialize(ctx, o, due, txDate)
	if err != nil {
		return core.Transaction{}, err
	}
	if tx == nil {
		return core.Transaction{}, core.Conflict("materialization", obligationID+"@"+due.String())
	}
	return *tx, nil
}

// PruneMaterializations drops materialized records past the retention window.
func (s *Scheduler) PruneMaterializations(ctx context.Context, today core.Date) (int64, error) {
	n, err := s.store.PruneOccurrences(ctx, today.AddDays(-s.cfg.RetentionDays))
	if err != nil {
		return 0, core.Transient("prune materializations", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "Pruned materialization records",
			log.FieldOperation, log.OpPrune,
			log.FieldCount, n)
	}
	return n, nil
}
