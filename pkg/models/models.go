package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryKindPrincipal  EntryKind = "principal"
	EntryKindInterest   EntryKind = "interest"
	EntryKindPayment    EntryKind = "payment"
	EntryKindAdjustment EntryKind = "adjustment"
)

// Valid reports whether k is one of the known entry kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryKindPrincipal, EntryKindInterest, EntryKindPayment, EntryKindAdjustment:
		return true
	}
	return false
}

// EntryMethod records how an entry was posted.
type EntryMethod string

const (
	EntryMethodManual EntryMethod = "manual"
	EntryMethodAuto   EntryMethod = "auto"
	EntryMethodPaypal EntryMethod = "paypal"
)

// Valid reports whether m is one of the known entry methods.
func (m EntryMethod) Valid() bool {
	switch m {
	case EntryMethodManual, EntryMethodAuto, EntryMethodPaypal:
		return true
	}
	return false
}

// LedgerEntry is one signed amount on a loan's ledger. Entries are never
// edited or removed once appended.
type LedgerEntry struct {
	ID        uuid.UUID       `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Kind      EntryKind       `json:"kind"`
	Memo      string          `json:"memo,omitempty"`
	Method    EntryMethod     `json:"method"`
	CreatedAt time.Time       `json:"created_at"` // first instant of the accrued month for interest entries
}

// Loan is a debt owed by one or more borrowers, tracked as an append-only ledger.
type Loan struct {
	ID             uuid.UUID       `json:"id"`
	Memo           string          `json:"memo"`
	Borrowers      []string        `json:"borrowers"`     // member ids
	InterestRate   decimal.Decimal `json:"interest_rate"` // annual, fractional (0.05 = 5% APR)
	GracePeriodEnd time.Time       `json:"grace_period_end"`
	LastCompounded time.Time       `json:"last_compounded"`
	Ledger         []LedgerEntry   `json:"ledger"`
	Archived       bool            `json:"archived"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HasBorrower reports whether memberID is one of the loan's borrowers.
func (l *Loan) HasBorrower(memberID string) bool {
	for _, b := range l.Borrowers {
		if b == memberID {
			return true
		}
	}
	return false
}

// ActivityType classifies an activity record.
type ActivityType string

const (
	ActivityTypeLoan     ActivityType = "loan"
	ActivityTypeInterest ActivityType = "interest"
	ActivityTypePayment  ActivityType = "payment"
	ActivityTypeOther    ActivityType = "other"
)

// Activity is an immutable audit record of a loan-affecting event.
type Activity struct {
	ID            uuid.UUID       `json:"id"`
	Members       []string        `json:"members"`
	Broadcast     bool            `json:"broadcast"` // visible in every member's feed
	Type          ActivityType    `json:"type"`
	Memo          string          `json:"memo"`
	Amount        decimal.Decimal `json:"amount"`
	AffectedLoans []uuid.UUID     `json:"affected_loans"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Valid reports whether t is one of the known activity types.
func (t ActivityType) Valid() bool {
	switch t {
	case ActivityTypeLoan, ActivityTypeInterest, ActivityTypePayment, ActivityTypeOther:
		return true
	}
	return false
}
