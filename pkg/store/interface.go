package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/loanLedger/pkg/models"
)

// ErrNotFound is returned when a loan does not exist.
var ErrNotFound = errors.New("loan not found")

// LoanSort orders the result of FindLoans.
type LoanSort int

const (
	SortByCreated LoanSort = iota
	SortByInterestRateDesc
)

// LoanFilter selects loans. An empty BorrowerID matches every borrower.
type LoanFilter struct {
	BorrowerID      string
	IncludeArchived bool
	Sort            LoanSort
}

// Storage defines the interface for database operations related to loans and activity.
type Storage interface {
	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	// SaveLoan persists the loan row, its borrowers and any ledger entries
	// not stored yet. Stored entries are never rewritten.
	SaveLoan(ctx context.Context, loan *models.Loan) error
	FindLoans(ctx context.Context, filter LoanFilter) ([]*models.Loan, error)

	CreateActivity(ctx context.Context, activity *models.Activity) error
	// ListActivity returns activity naming memberID or broadcast to everyone,
	// newest first.
	ListActivity(ctx context.Context, memberID string, offset, limit int) ([]*models.Activity, error)

	Close() error
}
