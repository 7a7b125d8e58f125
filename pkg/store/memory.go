package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mcclellann/loanLedger/pkg/models"
)

// MemoryStore is an in-memory implementation of Storage. It hands out copies
// so callers observe the same save semantics as with a database.
type MemoryStore struct {
	mu       sync.Mutex
	loans    map[uuid.UUID]*models.Loan
	activity []*models.Activity
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		loans: make(map[uuid.UUID]*models.Loan),
	}
}

// CreateLoan stores a copy of loan.
func (m *MemoryStore) CreateLoan(_ context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.loans[loan.ID]; exists {
		return fmt.Errorf("failed to create loan: duplicate id %s", loan.ID)
	}
	m.loans[loan.ID] = copyLoan(loan)
	return nil
}

// GetLoan returns a copy of the loan with id.
func (m *MemoryStore) GetLoan(_ context.Context, id uuid.UUID) (*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loan, ok := m.loans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLoan(loan), nil
}

// SaveLoan replaces the loan's fields and appends its new ledger entries.
func (m *MemoryStore) SaveLoan(_ context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.loans[loan.ID]
	if !ok {
		return ErrNotFound
	}
	saved := copyLoan(loan)
	// Stored entries are immutable; only the tail is taken from the caller.
	if len(stored.Ledger) <= len(saved.Ledger) {
		saved.Ledger = append(append([]models.LedgerEntry{}, stored.Ledger...), saved.Ledger[len(stored.Ledger):]...)
	}
	m.loans[loan.ID] = saved
	return nil
}

// FindLoans returns copies of the loans matching filter.
func (m *MemoryStore) FindLoans(_ context.Context, filter LoanFilter) ([]*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loans := []*models.Loan{}
	for _, l := range m.loans {
		if !filter.IncludeArchived && l.Archived {
			continue
		}
		if filter.BorrowerID != "" && !l.HasBorrower(filter.BorrowerID) {
			continue
		}
		loans = append(loans, copyLoan(l))
	}
	// map iteration is random; settle on creation order before the requested sort
	sortLoans(loans, SortByCreated)
	sortLoans(loans, filter.Sort)
	return loans, nil
}

// CreateActivity appends a copy of a to the activity log.
func (m *MemoryStore) CreateActivity(_ context.Context, a *models.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.activity = append(m.activity, copyActivity(a))
	return nil
}

// ListActivity returns a page of activity visible to memberID, newest first.
func (m *MemoryStore) ListActivity(_ context.Context, memberID string, offset, limit int) ([]*models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// walk backwards so rows sharing a timestamp come out latest inserted first
	var visible []*models.Activity
	for i := len(m.activity) - 1; i >= 0; i-- {
		if a := m.activity[i]; a.Broadcast || contains(a.Members, memberID) {
			visible = append(visible, copyActivity(a))
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].CreatedAt.After(visible[j].CreatedAt)
	})
	if offset >= len(visible) {
		return []*models.Activity{}, nil
	}
	end := offset + limit
	if end > len(visible) {
		end = len(visible)
	}
	return visible[offset:end], nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func copyLoan(l *models.Loan) *models.Loan {
	cp := *l
	cp.Borrowers = append([]string{}, l.Borrowers...)
	cp.Ledger = append([]models.LedgerEntry{}, l.Ledger...)
	return &cp
}

func copyActivity(a *models.Activity) *models.Activity {
	cp := *a
	cp.Members = append([]string{}, a.Members...)
	cp.AffectedLoans = append([]uuid.UUID{}, a.AffectedLoans...)
	return &cp
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Compile-time check: ensure MemoryStore implements Storage
var _ Storage = (*MemoryStore)(nil)
