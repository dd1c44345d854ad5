// Package sheets mirrors the ledger into a spreadsheet for people who
// prefer to read their books there. The ledger store stays the source of
// truth; rows are keyed by transaction id.
package sheets

import (
	"context"
	"strings"

	"papelflow/internal/core"
	"papelflow/internal/events"

	"github.com/shopspring/decimal"
)

// Row is one mirrored transaction.
type Row struct {
	TransactionID string
	Date          core.Date
	Kind          string
	Amount        decimal.Decimal
	AccountID     string
	DestinationID string
	CategoryID    string
	Payee         string
}

// RowFromEvent builds the row for a transaction.* event.
func RowFromEvent(e events.Event) (Row, error) {
	d, err := core.ParseDate(e.Date)
	if err != nil {
		return Row{}, err
	}
	r := Row{
		TransactionID: e.TransactionID,
		Date:          d,
		Kind:          e.Kind,
		Amount:        e.Amount,
		CategoryID:    e.CategoryID,
		Payee:         strings.TrimSpace(e.Payee),
	}
	if len(e.AccountIDs) > 0 {
		r.AccountID = e.AccountIDs[0]
	}
	if len(e.AccountIDs) > 1 {
		r.DestinationID = e.AccountIDs[1]
	}
	return r, nil
}

// RowFromTransaction builds the row for a ledger transaction.
func RowFromTransaction(tx core.Transaction) Row {
	return Row{
		TransactionID: tx.ID,
		Date:          tx.Date,
		Kind:          string(tx.Kind),
		Amount:        tx.Amount,
		AccountID:     tx.AccountID,
		DestinationID: tx.DestinationAccountID,
		CategoryID:    tx.CategoryID,
		Payee:         tx.Payee,
	}
}

// Ports for outbound adapters.
type (
	// LedgerWriter appends rows. Appending a transaction id that is already
	// mirrored returns the existing row reference.
	LedgerWriter interface {
		Append(ctx context.Context, r Row) (rowRef string, err error)
	}

	// LedgerRemover deletes the row of a transaction. Unknown ids are a no-op.
	LedgerRemover interface {
		Remove(ctx context.Context, r Row) error
	}

	// LedgerLister returns the mirrored rows dated within a month.
	LedgerLister interface {
		ListMonth(ctx context.Context, m core.Month) ([]Row, error)
	}

	Mirror interface {
		LedgerWriter
		LedgerRemover
		LedgerLister
	}
)
