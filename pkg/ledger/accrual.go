package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanLedger/pkg/models"
	"github.com/shopspring/decimal"
)

var monthsInYear = decimal.NewFromInt(12)

// monthIndex counts calendar months since year zero, in UTC.
func monthIndex(t time.Time) int {
	t = t.UTC()
	return t.Year()*12 + int(t.Month()) - 1
}

// startOfMonth returns the first instant of the month offset months after t's month.
func startOfMonth(t time.Time, offset int) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+time.Month(offset), 1, 0, 0, 0, 0, time.UTC)
}

// monthlyInterest is one month of interest on the current balance.
func monthlyInterest(loan *models.Loan) decimal.Decimal {
	return Round(Total(loan.Ledger).Mul(loan.InterestRate).Div(monthsInYear))
}

// Accrue appends one interest entry per calendar month owed as of now and
// advances LastCompounded. It mutates loan in place and returns the number of
// months charged; persisting the loan is left to the caller.
//
// Months are counted from the later of LastCompounded and GracePeriodEnd, so
// nothing is owed for the grace period itself. Each charge compounds on the
// balance including the charges before it.
func Accrue(loan *models.Loan, now time.Time) int {
	if loan.Archived || !loan.InterestRate.IsPositive() {
		return 0
	}
	if now.Before(loan.GracePeriodEnd) {
		return 0
	}

	start := loan.LastCompounded
	if loan.GracePeriodEnd.After(start) {
		start = loan.GracePeriodEnd
	}

	months := monthIndex(now) - monthIndex(start)
	if months <= 0 {
		return 0
	}

	for i := 1; i <= months; i++ {
		loan.Ledger = append(loan.Ledger, models.LedgerEntry{
			ID:        uuid.New(),
			Amount:    monthlyInterest(loan),
			Kind:      models.EntryKindInterest,
			Method:    models.EntryMethodAuto,
			CreatedAt: startOfMonth(start, i),
		})
	}
	loan.LastCompounded = now.UTC()
	return months
}

// ProjectedInterest is the interest the next month boundary would charge on
// the current balance. It never mutates loan.
func ProjectedInterest(loan *models.Loan, now time.Time) decimal.Decimal {
	if loan.Archived || !loan.InterestRate.IsPositive() {
		return decimal.Zero
	}
	if loan.GracePeriodEnd.After(startOfMonth(now, 1)) {
		return decimal.Zero
	}
	return monthlyInterest(loan)
}
