package ledger

import (
	"github.com/mcclellann/loanLedger/pkg/models"
	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits amounts are kept at.
const Precision = 4

// DisplayPrecision is the number of fractional digits shown to members.
const DisplayPrecision = 2

// Round rounds half away from zero to Precision places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Precision)
}

// Total is the balance of a ledger: the rounded sum of its entries.
// It is always recomputed.
func Total(entries []models.LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return Round(total)
}
