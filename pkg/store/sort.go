package store

import (
	"sort"

	"github.com/mcclellann/loanLedger/pkg/models"
)

// sortLoans orders loans in place. Both backends sort here rather than in SQL
// because SQLite keeps rates as TEXT.
func sortLoans(loans []*models.Loan, by LoanSort) {
	switch by {
	case SortByInterestRateDesc:
		sort.SliceStable(loans, func(i, j int) bool {
			return loans[i].InterestRate.GreaterThan(loans[j].InterestRate)
		})
	default:
		sort.SliceStable(loans, func(i, j int) bool {
			return loans[i].CreatedAt.Before(loans[j].CreatedAt)
		})
	}
}
