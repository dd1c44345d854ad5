// Package core holds the ledger domain: money and calendar primitives,
// accounts, transactions, recurring obligations and the error taxonomy.
//
// Amounts are decimal.Decimal values in major units. Floating point is never
// used for money; float inputs are only accepted by tests through decimal
// constructors.
package core

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// StorageScale is the number of fractional digits kept by the stores.
// It covers every ISO 4217 minor unit (at most 3 digits).
const StorageScale = 4

// ParseAmount converts a user supplied decimal string to an amount.
//
// It accepts both dot (12.34) and comma (12,34) separators. The result must be
// strictly positive; signs are carried by the transaction kind, never by the amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, Invalid("amount", "amount is required")
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, Invalid("amount", "amount must be unsigned")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, Invalid("amount", fmt.Sprintf("%q is not a decimal number", s))
	}
	if !d.IsPositive() {
		return decimal.Zero, Invalid("amount", "amount must be greater than zero")
	}
	return d, nil
}

// LookupCurrency resolves an ISO 4217 code.
func LookupCurrency(code string) (*money.Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, Invalid("currency", "currency is required")
	}
	cur := money.GetCurrency(code)
	if cur == nil {
		return nil, Invalid("currency", fmt.Sprintf("unknown currency %q", code))
	}
	return cur, nil
}

// CheckPrecision rejects amounts with more fractional digits than the
// currency's minor unit allows (0.001 EUR).
func CheckPrecision(amount decimal.Decimal, code string) error {
	cur, err := LookupCurrency(code)
	if err != nil {
		return err
	}
	if !amount.Equal(amount.Truncate(int32(cur.Fraction))) {
		return Invalid("amount", fmt.Sprintf("%s allows at most %d decimal places", cur.Code, cur.Fraction))
	}
	return nil
}

// CheckScale rejects amounts with more fractional digits than the stores
// keep, which would otherwise be rounded on write.
func CheckScale(amount decimal.Decimal, field string) error {
	if !amount.Equal(amount.Truncate(StorageScale)) {
		return Invalid(field, fmt.Sprintf("at most %d decimal places can be stored", StorageScale))
	}
	return nil
}

// FormatAmount renders an amount with the currency's symbol and separators.
func FormatAmount(amount decimal.Decimal, code string) string {
	cur, err := LookupCurrency(code)
	if err != nil {
		return amount.StringFixed(2)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return cur.Formatter().Format(minor)
}

// ToUnits converts an amount to the integer representation used by the stores.
func ToUnits(amount decimal.Decimal) int64 {
	return amount.Shift(StorageScale).Round(0).IntPart()
}

// FromUnits is the inverse of ToUnits.
func FromUnits(units int64) decimal.Decimal {
	return decimal.New(units, -StorageScale)
}
