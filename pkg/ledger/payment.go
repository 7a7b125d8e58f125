package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanLedger/pkg/models"
	"github.com/mcclellann/loanLedger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PaymentResult reports how a payment was spread across a borrower's loans.
// Remainder is the part of the payment no open loan could absorb; it is
// reported and otherwise discarded.
type PaymentResult struct {
	Remainder       decimal.Decimal  `json:"remainder"`
	AffectedLoanIDs []uuid.UUID      `json:"affected_loan_ids"`
	Activity        *models.Activity `json:"activity,omitempty"`
}

// ApplyPayment spends a negative amount on borrowerID's open loans, highest
// interest rate first. Loans paid down to zero are archived.
//
// Each loan is committed as soon as it is processed. If a save fails the
// error is returned alongside the partial result and earlier loans stay
// committed.
func (l *Ledger) ApplyPayment(ctx context.Context, borrowerID string, amount decimal.Decimal) (*PaymentResult, error) {
	borrowerID = strings.TrimSpace(borrowerID)
	if borrowerID == "" {
		return nil, validationErrorf("borrower is required")
	}
	amount = Round(amount)
	if !amount.IsNegative() {
		return nil, validationErrorf("payment amount must be negative")
	}

	candidates, err := l.storage.FindLoans(ctx, store.LoanFilter{
		BorrowerID: borrowerID,
		Sort:       store.SortByInterestRateDesc,
	})
	if err != nil {
		return nil, persistenceError("find loans", err)
	}

	result := &PaymentResult{Remainder: amount, AffectedLoanIDs: []uuid.UUID{}}
	for _, c := range candidates {
		stop, err := l.payLoan(ctx, c.ID, result)
		if err != nil {
			return result, err
		}
		if stop {
			break
		}
	}

	memo := fmt.Sprintf("Payment of %s applied to %d loan(s)", amount.Neg().StringFixed(DisplayPrecision), len(result.AffectedLoanIDs))
	if !result.Remainder.IsZero() {
		memo += fmt.Sprintf(", %s left unapplied", result.Remainder.Neg().StringFixed(DisplayPrecision))
	}
	l.log.WithFields(logrus.Fields{
		"borrower":  borrowerID,
		"amount":    amount.StringFixed(DisplayPrecision),
		"remainder": result.Remainder.StringFixed(DisplayPrecision),
		"loans":     len(result.AffectedLoanIDs),
	}).Info("Payment applied")

	result.Activity, err = l.RecordActivity(ctx, ActivityInput{
		Type:          models.ActivityTypePayment,
		Members:       []string{borrowerID},
		Memo:          memo,
		Amount:        amount,
		AffectedLoans: result.AffectedLoanIDs,
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

// payLoan applies what is left of the payment to one loan under its lock.
// It reports stop once the payment is used up.
func (l *Ledger) payLoan(ctx context.Context, id uuid.UUID, result *PaymentResult) (bool, error) {
	unlock := l.locks.lock(id)
	defer unlock()

	loan, err := l.load(ctx, id)
	if err != nil {
		return false, err
	}
	if loan.Archived {
		return false, nil
	}
	if err := l.refresh(ctx, loan); err != nil {
		return false, err
	}
	if result.Remainder.IsZero() {
		return true, nil
	}

	now := l.now().UTC()
	remaining, applied := allocate(loan, result.Remainder, now)
	loan.UpdatedAt = now
	if err := l.storage.SaveLoan(ctx, loan); err != nil {
		return false, persistenceError(fmt.Sprintf("save loan %s", loan.ID), err)
	}
	result.Remainder = remaining
	if applied {
		result.AffectedLoanIDs = append(result.AffectedLoanIDs, loan.ID)
	}
	if loan.Archived {
		l.log.WithField("loan_id", loan.ID).Info("Loan paid off and archived")
	}
	return false, nil
}

// allocate spends remaining (negative) on loan and returns what is left.
// A loan with a zero balance is archived without consuming anything; a loan
// the payment fully covers gets a payment entry of exactly its balance and is
// archived.
func allocate(loan *models.Loan, remaining decimal.Decimal, now time.Time) (decimal.Decimal, bool) {
	total := Total(loan.Ledger)
	if total.IsZero() {
		loan.Archived = true
		return remaining, false
	}

	entry := models.LedgerEntry{
		ID:        uuid.New(),
		Kind:      models.EntryKindPayment,
		Method:    models.EntryMethodManual,
		CreatedAt: now,
	}
	if total.GreaterThan(remaining.Neg()) {
		entry.Amount = remaining
		loan.Ledger = append(loan.Ledger, entry)
		return decimal.Zero, true
	}

	entry.Amount = total.Neg()
	loan.Ledger = append(loan.Ledger, entry)
	loan.Archived = true
	return Round(remaining.Add(total)), true
}
