package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountKind is the closed set of account types.
type AccountKind string

const (
	Checking   AccountKind = "checking"
	Savings    AccountKind = "savings"
	Cash       AccountKind = "cash"
	Investment AccountKind = "investment"
	CreditCard AccountKind = "credit_card"
	Loan       AccountKind = "loan"
)

// AccountClass separates asset-like from liability-like accounts.
type AccountClass string

const (
	Asset     AccountClass = "asset"
	Liability AccountClass = "liability"
)

// AccountKinds lists every kind, in display order.
func AccountKinds() []AccountKind {
	return []AccountKind{Checking, Savings, Cash, Investment, CreditCard, Loan}
}

// ParseAccountKind normalizes s and rejects unknown kinds.
func ParseAccountKind(s string) (AccountKind, error) {
	k := AccountKind(strings.ToLower(strings.TrimSpace(s)))
	if _, err := k.Class(); err != nil {
		return "", err
	}
	return k, nil
}

// Class resolves the kind to asset or liability.
func (k AccountKind) Class() (AccountClass, error) {
	switch k {
	case Checking, Savings, Cash, Investment:
		return Asset, nil
	case CreditCard, Loan:
		return Liability, nil
	default:
		return "", Invalid("account kind", fmt.Sprintf("unknown account kind %q", k))
	}
}

// TransactionKind is expense, income or transfer.
type TransactionKind string

const (
	Expense  TransactionKind = "expense"
	Income   TransactionKind = "income"
	Transfer TransactionKind = "transfer"
)

// ParseTransactionKind normalizes s and rejects unknown kinds.
func ParseTransactionKind(s string) (TransactionKind, error) {
	k := TransactionKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", Invalid("kind", fmt.Sprintf("unknown transaction kind %q", s))
	}
	return k, nil
}

func (k TransactionKind) Valid() bool {
	switch k {
	case Expense, Income, Transfer:
		return true
	default:
		return false
	}
}

// TransactionStatus tracks the multi-step write protocol of a transaction.
// Only posted transactions count toward balances and aggregates.
type TransactionStatus string

const (
	StatusPending       TransactionStatus = "pending"
	StatusPosted        TransactionStatus = "posted"
	StatusPendingRepair TransactionStatus = "pending_repair"
)

type (
	Account struct {
		ID             string          `json:"id"`
		Name           string          `json:"name"`
		Kind           AccountKind     `json:"kind"`
		Currency       string          `json:"currency"`
		OpeningBalance decimal.Decimal `json:"opening_balance"`
		Balance        decimal.Decimal `json:"balance"`
		Active         bool            `json:"active"`
		CreatedAt      time.Time       `json:"created_at"`
	}

	Transaction struct {
		ID                   string            `json:"id"`
		Kind                 TransactionKind   `json:"kind"`
		Amount               decimal.Decimal   `json:"amount"`
		Date                 Date              `json:"date"`
		AccountID            string            `json:"account_id"`
		DestinationAccountID string            `json:"destination_account_id,omitempty"`
		CategoryID           string            `json:"category_id,omitempty"`
		Payee                string            `json:"payee,omitempty"`
		Notes                string            `json:"notes,omitempty"`
		Recurring            bool              `json:"recurring"`
		ObligationID         string            `json:"obligation_id,omitempty"`
		Status               TransactionStatus `json:"status"`
		CreatedAt            time.Time         `json:"created_at"`
	}

	// Effect is the signed balance change a transaction applies to one account.
	Effect struct {
		AccountID string
		Delta     decimal.Decimal
	}
)

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return Invalid("name", "account name is required")
	}
	if _, err := a.Kind.Class(); err != nil {
		return err
	}
	if _, err := LookupCurrency(a.Currency); err != nil {
		return err
	}
	return CheckPrecision(a.OpeningBalance, a.Currency)
}

// Validate checks the shape of a transaction. Account existence is checked by the ledger.
func (t Transaction) Validate() error {
	if !t.Kind.Valid() {
		return Invalid("kind", fmt.Sprintf("unknown transaction kind %q", t.Kind))
	}
	if !t.Amount.IsPositive() {
		return Invalid("amount", "amount must be greater than zero")
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if t.AccountID == "" {
		return Invalid("account_id", "source account is required")
	}
	switch t.Kind {
	case Transfer:
		if t.DestinationAccountID == "" {
			return Invalid("destination_account_id", "transfer requires a destination account")
		}
		if t.DestinationAccountID == t.AccountID {
			return Invalid("destination_account_id", "destination must differ from source")
		}
	case Expense, Income:
		if t.DestinationAccountID != "" {
			return Invalid("destination_account_id", "only transfers have a destination account")
		}
		if t.CategoryID == "" {
			return Invalid("category_id", "category is required")
		}
	}
	return nil
}

// Effects returns the balance changes the transaction applies, source first.
func (t Transaction) Effects() []Effect {
	switch t.Kind {
	case Expense:
		return []Effect{{AccountID: t.AccountID, Delta: t.Amount.Neg()}}
	case Income:
		return []Effect{{AccountID: t.AccountID, Delta: t.Amount}}
	case Transfer:
		return []Effect{
			{AccountID: t.AccountID, Delta: t.Amount.Neg()},
			{AccountID: t.DestinationAccountID, Delta: t.Amount},
		}
	default:
		return nil
	}
}

// Touches reports whether the transaction affects the account.
func (t Transaction) Touches(accountID string) bool {
	return t.AccountID == accountID || (t.Kind == Transfer && t.DestinationAccountID == accountID)
}

type (
	RecurringObligation struct {
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		Amount     decimal.Decimal `json:"amount"`
		Frequency  Frequency       `json:"frequency"`
		NextDue    Date            `json:"next_due"`
		CategoryID string          `json:"category_id"`
		AccountID  string          `json:"account_id"`
		Active     bool            `json:"active"`
		CreatedAt  time.Time       `json:"created_at"`
	}

	MaterializationState string

	// MaterializationRecord is the idempotency key of one obligation occurrence.
	MaterializationRecord struct {
		ObligationID   string               `json:"obligation_id"`
		DueDate        Date                 `json:"due_date"`
		TransactionID  string               `json:"transaction_id"`
		State          MaterializationState `json:"state"`
		ClaimedAt      time.Time            `json:"claimed_at"`
		MaterializedAt time.Time            `json:"materialized_at,omitempty"`
	}

	ReminderKind string

	ReminderRecord struct {
		ObligationID string       `json:"obligation_id"`
		Day          Date         `json:"day"`
		Kind         ReminderKind `json:"kind"`
		CreatedAt    time.Time    `json:"created_at"`
	}

	Budget struct {
		ID         string          `json:"id"`
		CategoryID string          `json:"category_id"`
		Amount     decimal.Decimal `json:"amount"`
		Month      Month           `json:"month"`
		Rollover   bool            `json:"rollover"`
	}

	Goal struct {
		ID      string          `json:"id"`
		Name    string          `json:"name"`
		Target  decimal.Decimal `json:"target"`
		Current decimal.Decimal `json:"current"`
	}
)

const (
	Claimed      MaterializationState = "claimed"
	Materialized MaterializationState = "materialized"
)

const (
	DueToday     ReminderKind = "due_today"
	UpcomingSoon ReminderKind = "upcoming"
)

func (o RecurringObligation) Validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return Invalid("name", "obligation name is required")
	}
	if !o.Amount.IsPositive() {
		return Invalid("amount", "amount must be greater than zero")
	}
	if !o.Frequency.Valid() {
		return Invalid("frequency", fmt.Sprintf("unknown frequency %q", o.Frequency))
	}
	if err := o.NextDue.Validate(); err != nil {
		return err
	}
	if o.AccountID == "" {
		return Invalid("account_id", "funding account is required")
	}
	if o.CategoryID == "" {
		return Invalid("category_id", "category is required")
	}
	return nil
}

func (b Budget) Validate() error {
	if b.CategoryID == "" {
		return Invalid("category_id", "category is required")
	}
	if !b.Amount.IsPositive() {
		return Invalid("amount", "budget amount must be greater than zero")
	}
	if err := CheckScale(b.Amount, "amount"); err != nil {
		return err
	}
	if b.Month.IsZero() {
		return Invalid("month", "month is required")
	}
	return nil
}

func (g Goal) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return Invalid("name", "goal name is required")
	}
	if !g.Target.IsPositive() {
		return Invalid("target", "target must be greater than zero")
	}
	if err := CheckScale(g.Target, "target"); err != nil {
		return err
	}
	if g.Current.IsNegative() {
		return Invalid("current", "current amount cannot be negative")
	}
	if err := CheckScale(g.Current, "current"); err != nil {
		return err
	}
	return nil
}

var materializationNamespace = uuid.MustParse("6f1c1f4e-2b7a-5d33-9c51-7e0d8a4b2f10")

// MaterializationTransactionID derives the transaction id of an occurrence.
// Every runner computes the same id, so a replayed post hits the ledger's
// unique id and fails with ConflictError instead of duplicating.
func MaterializationTransactionID(obligationID string, due Date) string {
	return uuid.NewSHA1(materializationNamespace, []byte(obligationID+"|"+due.String())).String()
}

// NewID returns a random identifier for user created entities.
func NewID() string {
	return uuid.NewString()
}
