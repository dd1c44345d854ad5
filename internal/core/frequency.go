package core

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is how often an obligation recurs.
type Frequency string

const (
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// ParseFrequency accepts weekly, monthly or yearly in any case.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", Invalid("frequency", fmt.Sprintf("unknown frequency %q", s))
	}
	return f, nil
}

func (f Frequency) Valid() bool {
	switch f {
	case Weekly, Monthly, Yearly:
		return true
	default:
		return false
	}
}

// StepFrequency advances d by one period of f.
//
// weekly adds 7 days. monthly keeps the day of month, clamped to the last
// day of a shorter target month (Jan 31 -> Feb 28). yearly keeps month and
// day, so Feb 29 becomes Feb 28 in a non-leap year.
func StepFrequency(d Date, f Frequency) (Date, error) {
	switch f {
	case Weekly:
		return d.AddDays(7), nil
	case Monthly:
		return addMonthsClamped(d, 1), nil
	case Yearly:
		return addMonthsClamped(d, 12), nil
	default:
		return Date{}, Invalid("frequency", fmt.Sprintf("unknown frequency %q", f))
	}
}

func addMonthsClamped(d Date, months int) Date {
	y, m, day := d.Date()
	target := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := DaysIn(target.Year(), target.Month()); day > last {
		day = last
	}
	return NewDate(target.Year(), target.Month(), day)
}
