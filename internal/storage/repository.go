package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"papelflow/internal/core"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect selects the SQL flavour of a repository.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	return string(d)
}

// SQLRepository implements Store on top of database/sql. Amounts are stored
// as integer units (core.StorageScale) so balance deltas are exact in SQL.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
}

var _ Store = (*SQLRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	return openRepository(DialectSQLite, dsn)
}

func NewPostgresRepository(dsn string) (*SQLRepository, error) {
	return openRepository(DialectPostgres, dsn)
}

func openRepository(d Dialect, dsn string) (*SQLRepository, error) {
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(d, dsn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("Opened ledger database", "dialect", d, "schema_version", version)
	return &SQLRepository{db: db, dialect: d}, nil
}

func (r *SQLRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (r *SQLRepository) rebind(q string) string {
	if r.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *SQLRepository) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return r.db.ExecContext(ctx, r.rebind(q), args...)
}

func (r *SQLRepository) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return r.db.QueryRowContext(ctx, r.rebind(q), args...)
}

func (r *SQLRepository) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return r.db.QueryContext(ctx, r.rebind(q), args...)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// insert maps a unique violation to ConflictError and anything else to a transient error.
func (r *SQLRepository) insert(ctx context.Context, entity, key, q string, args ...any) error {
	if _, err := r.exec(ctx, q, args...); err != nil {
		if isUniqueViolation(err) {
			return core.Conflict(entity, key)
		}
		return core.Transient("insert "+entity, err)
	}
	return nil
}

// mutate runs an UPDATE or DELETE and reports NotFoundError when no row matched.
func (r *SQLRepository) mutate(ctx context.Context, op, entity, key, q string, args ...any) error {
	res, err := r.exec(ctx, q, args...)
	if err != nil {
		return core.Transient(op+" "+entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Transient(op+" "+entity, err)
	}
	if n == 0 {
		return core.NotFound(entity, key)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Accounts

const accountColumns = `id, name, kind, currency, opening_units, balance_units, active, created_at`

func (r *SQLRepository) CreateAccount(ctx context.Context, a core.Account) error {
	return r.insert(ctx, "account", a.ID,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, string(a.Kind), a.Currency,
		core.ToUnits(a.OpeningBalance), core.ToUnits(a.Balance), a.Active, formatTime(a.CreatedAt))
}

func scanAccount(s rowScanner) (core.Account, error) {
	var (
		a                    core.Account
		kind, createdAt      string
		openingUnits, bUnits int64
	)
	if err := s.Scan(&a.ID, &a.Name, &kind, &a.Currency, &openingUnits, &bUnits, &a.Active, &createdAt); err != nil {
		return core.Account{}, err
	}
	a.Kind = core.AccountKind(kind)
	a.OpeningBalance = core.FromUnits(openingUnits)
	a.Balance = core.FromUnits(bUnits)
	t, err := parseTime(createdAt)
	if err != nil {
		return core.Account{}, fmt.Errorf("parse created_at: %w", err)
	}
	a.CreatedAt = t
	return a, nil
}

func (r *SQLRepository) GetAccount(ctx context.Context, id string) (core.Account, error) {
	a, err := scanAccount(r.queryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.NotFound("account", id)
	}
	if err != nil {
		return core.Account{}, core.Transient("get account", err)
	}
	return a, nil
}

func (r *SQLRepository) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := r.query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, core.Transient("list accounts", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, core.Transient("scan account", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Transient("list accounts", err)
	}
	return out, nil
}

func (r *SQLRepository) ApplyDelta(ctx context.Context, accountID string, delta decimal.Decimal) error {
	return r.mutate(ctx, "apply delta", "account", accountID,
		`UPDATE accounts SET balance_units = balance_units + ? WHERE id = ?`,
		core.ToUnits(delta), accountID)
}

// Transactions

const transactionColumns = `id, kind, amount_units, tx_date, account_id, destination_account_id,
	category_id, payee, notes, recurring, obligation_id, status, created_at`

func (r *SQLRepository) InsertTransaction(ctx context.Context, tx core.Transaction) error {
	return r.insert(ctx, "transaction", tx.ID,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, string(tx.Kind), core.ToUnits(tx.Amount), tx.Date.String(), tx.AccountID,
		tx.DestinationAccountID, tx.CategoryID, tx.Payee, tx.Notes, tx.Recurring,
		tx.ObligationID, string(tx.Status), formatTime(tx.CreatedAt))
}

func scanTransaction(s rowScanner) (core.Transaction, error) {
	var (
		tx                            core.Transaction
		kind, date, status, createdAt string
		units                         int64
	)
	err := s.Scan(&tx.ID, &kind, &units, &date, &tx.AccountID, &tx.DestinationAccountID,
		&tx.CategoryID, &tx.Payee, &tx.Notes, &tx.Recurring, &tx.ObligationID, &status, &createdAt)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.Kind = core.TransactionKind(kind)
	tx.Status = core.TransactionStatus(status)
	tx.Amount = core.FromUnits(units)
	if tx.Date, err = core.ParseDate(date); err != nil {
		return core.Transaction{}, fmt.Errorf("parse tx_date: %w", err)
	}
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Transaction{}, fmt.Errorf("parse created_at: %w", err)
	}
	return tx, nil
}

func (r *SQLRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	tx, err := scanTransaction(r.queryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.NotFound("transaction", id)
	}
	if err != nil {
		return core.Transaction{}, core.Transient("get transaction", err)
	}
	return tx, nil
}

func (r *SQLRepository) SetTransactionStatus(ctx context.Context, id string, from, to core.TransactionStatus) (bool, error) {
	res, err := r.exec(ctx,
		`UPDATE transactions SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return false, core.Transient("update transaction status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, core.Transient("update transaction status", err)
	}
	if n == 0 {
		if _, err := r.GetTransaction(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *SQLRepository) DeleteTransaction(ctx context.Context, id string) error {
	return r.mutate(ctx, "delete", "transaction", id, `DELETE FROM transactions WHERE id = ?`, id)
}

func (r *SQLRepository) ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.AccountID != "" {
		where = append(where, "(account_id = ? OR destination_account_id = ?)")
		args = append(args, f.AccountID, f.AccountID)
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		where = append(where, "tx_date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "tx_date <= ?")
		args = append(args, f.To.String())
	}

	q := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY tx_date, created_at, id"

	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, core.Transient("list transactions", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, core.Transient("scan transaction", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Transient("list transactions", err)
	}
	return out, nil
}

// Recurring obligations

const obligationColumns = `id, name, amount_units, frequency, next_due, category_id, account_id, active, created_at`

func (r *SQLRepository) CreateObligation(ctx context.Context, o core.RecurringObligation) error {
	return r.insert(ctx, "obligation", o.ID,
		`INSERT INTO recurring_obligations (`+obligationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Name, core.ToUnits(o.Amount), string(o.Frequency), o.NextDue.String(),
		o.CategoryID, o.AccountID, o.Active, formatTime(o.CreatedAt))
}

func scanObligation(s rowScanner) (core.RecurringObligation, error) {
	var (
		o                        core.RecurringObligation
		freq, nextDue, createdAt string
		units                    int64
	)
	err := s.Scan(&o.ID, &o.Name, &units, &freq, &nextDue, &o.CategoryID, &o.AccountID, &o.Active, &createdAt)
	if err != nil {
		return core.RecurringObligation{}, err
	}
	o.Amount = core.FromUnits(units)
	o.Frequency = core.Frequency(freq)
	if o.NextDue, err = core.ParseDate(nextDue); err != nil {
		return core.RecurringObligation{}, fmt.Errorf("parse next_due: %w", err)
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.RecurringObligation{}, fmt.Errorf("parse created_at: %w", err)
	}
	return o, nil
}

func (r *SQLRepository) GetObligation(ctx context.Context, id string) (core.RecurringObligation, error) {
	o, err := scanObligation(r.queryRow(ctx, `SELECT `+obligationColumns+` FROM recurring_obligations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringObligation{}, core.NotFound("obligation", id)
	}
	if err != nil {
		return core.RecurringObligation{}, core.Transient("get obligation", err)
	}
	return o, nil
}

func (r *SQLRepository) ListObligations(ctx context.Context, activeOnly bool) ([]core.RecurringObligation, error) {
	q := `SELECT ` + obligationColumns + ` FROM recurring_obligations`
	var args []any
	if activeOnly {
		q += ` WHERE active = ?`
		args = append(args, true)
	}
	q += ` ORDER BY next_due, id`

	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, core.Transient("list obligations", err)
	}
	defer rows.Close()

	var out []core.RecurringObligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, core.Transient("scan obligation", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Transient("list obligations", err)
	}
	return out, nil
}

func (r *SQLRepository) AdvanceDue(ctx context.Context, id string, from, to core.Date) (bool, error) {
	res, err := r.exec(ctx,
		`UPDATE recurring_obligations SET next_due = ? WHERE id = ? AND next_due = ?`,
		to.String(), id, from.String())
	if err != nil {
		return false, core.Transient("advance obligation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, core.Transient("advance obligation", err)
	}
	if n == 0 {
		if _, err := r.GetObligation(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *SQLRepository) SetObligationActive(ctx context.Context, id string, active bool) error {
	return r.mutate(ctx, "update", "obligation", id,
		`UPDATE recurring_obligations SET active = ? WHERE id = ?`, active, id)
}

// Materialization records

const materializationColumns = `obligation_id, due_date, transaction_id, state, claimed_at, materialized_at`

func occurrenceKey(obligationID string, due core.Date) string {
	return obligationID + "@" + due.String()
}

func (r *SQLRepository) ClaimOccurrence(ctx context.Context, rec core.MaterializationRecord) error {
	return r.insert(ctx, "materialization", occurrenceKey(rec.ObligationID, rec.DueDate),
		`INSERT INTO materialization_records (`+materializationColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ObligationID, rec.DueDate.String(), rec.TransactionID, string(rec.State),
		formatTime(rec.ClaimedAt), formatTime(rec.MaterializedAt))
}

func (r *SQLRepository) GetOccurrence(ctx context.Context, obligationID string, due core.Date) (core.MaterializationRecord, error) {
	var (
		rec                              core.MaterializationRecord
		dueDate, state, claimedAt, matAt string
	)
	err := r.queryRow(ctx,
		`SELECT `+materializationColumns+` FROM materialization_records WHERE obligation_id = ? AND due_date = ?`,
		obligationID, due.String()).Scan(&rec.ObligationID, &dueDate, &rec.TransactionID, &state, &claimedAt, &matAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.MaterializationRecord{}, core.NotFound("materialization", occurrenceKey(obligationID, due))
	}
	if err != nil {
		return core.MaterializationRecord{}, core.Transient("get materialization", err)
	}
	rec.State = core.MaterializationState(state)
	if rec.DueDate, err = core.ParseDate(dueDate); err != nil {
		return core.MaterializationRecord{}, core.Transient("parse due_date", err)
	}
	if rec.ClaimedAt, err = parseTime(claimedAt); err != nil {
		return core.MaterializationRecord{}, core.Transient("parse claimed_at", err)
	}
	if rec.MaterializedAt, err = parseTime(matAt); err != nil {
		return core.MaterializationRecord{}, core.Transient("parse materialized_at", err)
	}
	return rec, nil
}

func (r *SQLRepository) TakeOverClaim(ctx context.Context, obligationID string, due core.Date, observed, now time.Time) (bool, error) {
	res, err := r.exec(ctx,
		`UPDATE materialization_records SET claimed_at = ?
		 WHERE obligation_id = ? AND due_date = ? AND state = ? AND claimed_at = ?`,
		formatTime(now), obligationID, due.String(), string(core.Claimed), formatTime(observed))
	if err != nil {
		return false, core.Transient("take over claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, core.Transient("take over claim", err)
	}
	return n == 1, nil
}

func (r *SQLRepository) MarkMaterialized(ctx context.Context, obligationID string, due core.Date, at time.Time) error {
	return r.mutate(ctx, "update", "materialization", occurrenceKey(obligationID, due),
		`UPDATE materialization_records SET state = ?, materialized_at = ? WHERE obligation_id = ? AND due_date = ?`,
		string(core.Materialized), formatTime(at), obligationID, due.String())
}

func (r *SQLRepository) ReleaseClaim(ctx context.Context, obligationID string, due core.Date) error {
	_, err := r.exec(ctx,
		`DELETE FROM materialization_records WHERE obligation_id = ? AND due_date = ? AND state = ?`,
		obligationID, due.String(), string(core.Claimed))
	if err != nil {
		return core.Transient("release claim", err)
	}
	return nil
}

func (r *SQLRepository) PruneOccurrences(ctx context.Context, before core.Date) (int64, error) {
	res, err := r.exec(ctx,
		`DELETE FROM materialization_records WHERE state = ? AND due_date < ?`,
		string(core.Materialized), before.String())
	if err != nil {
		return 0, core.Transient("prune materializations", err)
	}
	return res.RowsAffected()
}

// Reminder records

func (r *SQLRepository) MarkReminder(ctx context.Context, rec core.ReminderRecord) error {
	key := rec.ObligationID + "@" + rec.Day.String() + "/" + string(rec.Kind)
	return r.insert(ctx, "reminder", key,
		`INSERT INTO reminder_records (obligation_id, day, kind, created_at) VALUES (?, ?, ?, ?)`,
		rec.ObligationID, rec.Day.String(), string(rec.Kind), formatTime(rec.CreatedAt))
}

func (r *SQLRepository) PruneReminders(ctx context.Context, before core.Date) (int64, error) {
	res, err := r.exec(ctx, `DELETE FROM reminder_records WHERE day < ?`, before.String())
	if err != nil {
		return 0, core.Transient("prune reminders", err)
	}
	return res.RowsAffected()
}

// Budgets and goals

func (r *SQLRepository) CreateBudget(ctx context.Context, b core.Budget) error {
	return r.insert(ctx, "budget", b.CategoryID+"@"+b.Month.String(),
		`INSERT INTO budgets (id, category_id, amount_units, month, rollover) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.CategoryID, core.ToUnits(b.Amount), b.Month.String(), b.Rollover)
}

func (r *SQLRepository) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	rows, err := r.query(ctx, `SELECT id, category_id, amount_units, month, rollover FROM budgets ORDER BY month, category_id`)
	if err != nil {
		return nil, core.Transient("list budgets", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		var (
			b     core.Budget
			units int64
			month string
		)
		if err := rows.Scan(&b.ID, &b.CategoryID, &units, &month, &b.Rollover); err != nil {
			return nil, core.Transient("scan budget", err)
		}
		b.Amount = core.FromUnits(units)
		if b.Month, err = core.ParseMonth(month); err != nil {
			return nil, core.Transient("parse budget month", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Transient("list budgets", err)
	}
	return out, nil
}

func (r *SQLRepository) CreateGoal(ctx context.Context, g core.Goal) error {
	return r.insert(ctx, "goal", g.ID,
		`INSERT INTO goals (id, name, target_units, current_units) VALUES (?, ?, ?, ?)`,
		g.ID, g.Name, core.ToUnits(g.Target), core.ToUnits(g.Current))
}

func (r *SQLRepository) ListGoals(ctx context.Context) ([]core.Goal, error) {
	rows, err := r.query(ctx, `SELECT id, name, target_units, current_units FROM goals ORDER BY name, id`)
	if err != nil {
		return nil, core.Transient("list goals", err)
	}
	defer rows.Close()

	var out []core.Goal
	for rows.Next() {
		var (
			g               core.Goal
			target, current int64
		)
		if err := rows.Scan(&g.ID, &g.Name, &target, &current); err != nil {
			return nil, core.Transient("scan goal", err)
		}
		g.Target = core.FromUnits(target)
		g.Current = core.FromUnits(current)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Transient("list goals", err)
	}
	return out, nil
}
