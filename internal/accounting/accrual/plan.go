// Package accrual splits one ledger amount into dated installments whose sum equals the
// original amount exactly.
package accrual

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MinInstallments is the smallest schedule accepted.
	MinInstallments = 1
	// MaxInstallments is the largest schedule accepted.
	MaxInstallments = 36
	// Places is the precision installments are truncated to.
	Places = 3
)

var (
	// ErrInstallmentsOutOfRange indicates N outside [MinInstallments, MaxInstallments].
	ErrInstallmentsOutOfRange = errors.New("accrual: installments out of range")
	// ErrInvalidTotal indicates a non-positive total or one with more than Places decimals.
	ErrInvalidTotal = errors.New("accrual: total must be positive with at most 3 decimal places")
)

// Input describes the amount to spread.
type Input struct {
	Description  string
	TotalAmount  decimal.Decimal
	Installments int
	FirstDate    time.Time
}

// Installment is one dated slice of the schedule. Index is 1-based.
type Installment struct {
	Index       int
	Of          int
	Date        time.Time
	Amount      decimal.Decimal
	Description string
}

// Plan computes the schedule. Every installment but the last carries the total divided
// by N truncated to three places; the last absorbs the remainder.
func Plan(in Input) ([]Installment, error) {
	n := in.Installments
	if n < MinInstallments || n > MaxInstallments {
		return nil, fmt.Errorf("%w: %d", ErrInstallmentsOutOfRange, n)
	}
	if !in.TotalAmount.IsPositive() || !in.TotalAmount.Equal(in.TotalAmount.Truncate(Places)) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTotal, in.TotalAmount.String())
	}
	count := decimal.NewFromInt(int64(n))
	base := in.TotalAmount.DivRound(count, Places+4).Truncate(Places)
	last := in.TotalAmount.Sub(base.Mul(decimal.NewFromInt(int64(n - 1))))

	out := make([]Installment, n)
	for i := 0; i < n; i++ {
		amount := base
		if i == n-1 {
			amount = last
		}
		out[i] = Installment{
			Index:       i + 1,
			Of:          n,
			Date:        addMonths(in.FirstDate, i),
			Amount:      amount,
			Description: fmt.Sprintf("Accrual %d/%d: %s", i+1, n, in.Description),
		}
	}
	return out, nil
}

// addMonths moves t forward by n calendar months, keeping the day of month but never
// spilling past the end of the target month.
func addMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	target := time.Date(year, month+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(target.Year(), target.Month(), t.Location()); day > last {
		day = last
	}
	return target.AddDate(0, 0, day-1)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// Sum adds the installment amounts.
func Sum(items []Installment) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}
