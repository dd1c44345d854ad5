// Package http provides the JSON API over the ledger services.
//
// This file decodes request bodies and query parameters into domain values.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"papelflow/internal/core"

	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return core.Invalid("body", fmt.Sprintf("malformed JSON: %v", err))
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return core.Invalid("body", "request body must contain a single JSON value")
	}
	return nil
}

// parseAmountField accepts amounts as JSON strings so no precision is lost
// in transit.
func parseAmountField(field, raw string) (decimal.Decimal, error) {
	d, err := core.ParseAmount(raw)
	if err != nil {
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			return decimal.Zero, core.Invalid(field, ve.Reason)
		}
		return decimal.Zero, err
	}
	return d, nil
}

func parseDateField(field, raw string) (core.Date, error) {
	d, err := core.ParseDate(strings.TrimSpace(raw))
	if err != nil {
		return core.Date{}, core.Invalid(field, fmt.Sprintf("%q is not a YYYY-MM-DD date", raw))
	}
	return d, nil
}

// queryDate reads a YYYY-MM-DD query parameter, defaulting to today.
func queryDate(r *http.Request, name string, today core.Date) (core.Date, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return today, nil
	}
	return parseDateField(name, raw)
}

// queryMonth reads a YYYY-MM query parameter, defaulting to today's month.
func queryMonth(r *http.Request, name string, today core.Date) (core.Month, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return today.MonthOf(), nil
	}
	m, err := core.ParseMonth(raw)
	if err != nil {
		return core.Month{}, core.Invalid(name, fmt.Sprintf("%q is not a YYYY-MM month", raw))
	}
	return m, nil
}

type accountRequest struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	Currency       string `json:"currency"`
	OpeningBalance string `json:"opening_balance"`
}

func (req accountRequest) toAccount() (core.Account, error) {
	kind, err := core.ParseAccountKind(req.Kind)
	if err != nil {
		return core.Account{}, err
	}
	opening := decimal.Zero
	if s := strings.TrimSpace(req.OpeningBalance); s != "" {
		opening, err = decimal.NewFromString(s)
		if err != nil {
			return core.Account{}, core.Invalid("opening_balance", fmt.Sprintf("%q is not a decimal number", s))
		}
	}
	return core.Account{
		ID:             strings.TrimSpace(req.ID),
		Name:           strings.TrimSpace(req.Name),
		Kind:           kind,
		Currency:       strings.TrimSpace(req.Currency),
		OpeningBalance: opening,
	}, nil
}

type transactionRequest struct {
	ID                   string `json:"id"`
	Kind                 string `json:"kind"`
	Amount               string `json:"amount"`
	Date                 string `json:"date"`
	AccountID            string `json:"account_id"`
	DestinationAccountID string `json:"destination_account_id"`
	CategoryID           string `json:"category_id"`
	Payee                string `json:"payee"`
	Notes                string `json:"notes"`
}

func (req transactionRequest) toTransaction() (core.Transaction, error) {
	kind, err := core.ParseTransactionKind(req.Kind)
	if err != nil {
		return core.Transaction{}, err
	}
	amount, err := parseAmountField("amount", req.Amount)
	if err != nil {
		return core.Transaction{}, err
	}
	date, err := parseDateField("date", req.Date)
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		ID:                   strings.TrimSpace(req.ID),
		Kind:                 kind,
		Amount:               amount,
		Date:                 date,
		AccountID:            strings.TrimSpace(req.AccountID),
		DestinationAccountID: strings.TrimSpace(req.DestinationAccountID),
		CategoryID:           strings.TrimSpace(req.CategoryID),
		Payee:                strings.TrimSpace(req.Payee),
		Notes:                strings.TrimSpace(req.Notes),
	}, nil
}

type obligationRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Amount     string `json:"amount"`
	Frequency  string `json:"frequency"`
	NextDue    string `json:"next_due"`
	CategoryID string `json:"category_id"`
	AccountID  string `json:"account_id"`
}

func (req obligationRequest) toObligation() (core.RecurringObligation, error) {
	amount, err := parseAmountField("amount", req.Amount)
	if err != nil {
		return core.RecurringObligation{}, err
	}
	freq, err := core.ParseFrequency(req.Frequency)
	if err != nil {
		return core.RecurringObligation{}, err
	}
	due, err := parseDateField("next_due", req.NextDue)
	if err != nil {
		return core.RecurringObligation{}, err
	}
	return core.RecurringObligation{
		ID:         strings.TrimSpace(req.ID),
		Name:       strings.TrimSpace(req.Name),
		Amount:     amount,
		Frequency:  freq,
		NextDue:    due,
		CategoryID: strings.TrimSpace(req.CategoryID),
		AccountID:  strings.TrimSpace(req.AccountID),
	}, nil
}

type budgetRequest struct {
	CategoryID string `json:"category_id"`
	Amount     string `json:"amount"`
	Month      string `json:"month"`
	Rollover   bool   `json:"rollover"`
}

func (req budgetRequest) toBudget() (core.Budget, error) {
	amount, err := parseAmountField("amount", req.Amount)
	if err != nil {
		return core.Budget{}, err
	}
	m, err := core.ParseMonth(strings.TrimSpace(req.Month))
	if err != nil {
		return core.Budget{}, core.Invalid("month", fmt.Sprintf("%q is not a YYYY-MM month", req.Month))
	}
	return core.Budget{
		CategoryID: strings.TrimSpace(req.CategoryID),
		Amount:     amount,
		Month:      m,
		Rollover:   req.Rollover,
	}, nil
}

type goalRequest struct {
	Name    string `json:"name"`
	Target  string `json:"target"`
	Current string `json:"current"`
}

func (req goalRequest) toGoal() (core.Goal, error) {
	target, err := parseAmountField("target", req.Target)
	if err != nil {
		return core.Goal{}, err
	}
	current := decimal.Zero
	if s := strings.TrimSpace(req.Current); s != "" {
		current, err = decimal.NewFromString(s)
		if err != nil {
			return core.Goal{}, core.Invalid("current", fmt.Sprintf("%q is not a decimal number", s))
		}
	}
	return core.Goal{Name: strings.TrimSpace(req.Name), Target: target, Current: current}, nil
}
