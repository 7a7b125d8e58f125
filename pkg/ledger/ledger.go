package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanLedger/pkg/models"
	"github.com/mcclellann/loanLedger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultGracePeriodDays is how long a new loan is interest free unless told otherwise.
const DefaultGracePeriodDays = 60

// ActivityPublisher forwards recorded activity to other systems.
type ActivityPublisher interface {
	Publish(ctx context.Context, activity *models.Activity) error
}

// Ledger handles the business logic for loans, payments and activity.
type Ledger struct {
	storage   store.Storage
	publisher ActivityPublisher
	log       *logrus.Logger
	now       func() time.Time
	locks     *loanLocks
	graceDays int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPublisher publishes every recorded activity through p.
func WithPublisher(p ActivityPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithDefaultGracePeriod sets the grace period used when a loan does not name one.
func WithDefaultGracePeriod(days int) Option {
	return func(l *Ledger) { l.graceDays = days }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, log *logrus.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		storage:   s,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     newLoanLocks(),
		graceDays: DefaultGracePeriodDays,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoanInput describes a loan to create. Nil optional fields take defaults.
type LoanInput struct {
	Memo            string           `json:"memo"`
	Borrowers       []string         `json:"borrowers"`
	Principal       decimal.Decimal  `json:"principal"`
	InterestRate    *decimal.Decimal `json:"interest_rate,omitempty"`
	GracePeriodDays *int             `json:"grace_period_days,omitempty"`
}

// EntryInput describes a ledger entry posted by an admin.
type EntryInput struct {
	Amount decimal.Decimal    `json:"amount"`
	Kind   models.EntryKind   `json:"kind"`
	Memo   string             `json:"memo"`
	Method models.EntryMethod `json:"method"`
}

// LoanSummary aggregates open loans.
type LoanSummary struct {
	Total            decimal.Decimal `json:"total"`
	UpcomingInterest decimal.Decimal `json:"upcoming_interest"`
	Loans            []*models.Loan  `json:"loans"`
}

// CreateLoan validates in, stores a loan whose ledger opens with a principal
// entry, and records a loan activity for its borrowers.
func (l *Ledger) CreateLoan(ctx context.Context, in LoanInput) (*models.Loan, *models.Activity, error) {
	memo := strings.TrimSpace(in.Memo)
	if memo == "" {
		return nil, nil, validationErrorf("memo is required")
	}
	borrowers := normalizeMembers(in.Borrowers)
	if len(borrowers) == 0 {
		return nil, nil, validationErrorf("at least one borrower is required")
	}
	principal := Round(in.Principal)
	if !principal.IsPositive() {
		return nil, nil, validationErrorf("principal must be positive")
	}
	rate := decimal.Zero
	if in.InterestRate != nil {
		rate = *in.InterestRate
	}
	graceDays := l.graceDays
	if in.GracePeriodDays != nil {
		if *in.GracePeriodDays < 0 {
			return nil, nil, validationErrorf("grace period cannot be negative")
		}
		graceDays = *in.GracePeriodDays
	}

	now := l.now().UTC()
	loan := &models.Loan{
		ID:             uuid.New(),
		Memo:           memo,
		Borrowers:      borrowers,
		InterestRate:   rate,
		GracePeriodEnd: now.AddDate(0, 0, graceDays),
		LastCompounded: now,
		Ledger: []models.LedgerEntry{{
			ID:        uuid.New(),
			Amount:    principal,
			Kind:      models.EntryKindPrincipal,
			Memo:      memo,
			Method:    models.EntryMethodManual,
			CreatedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		return nil, nil, persistenceError("store loan", err)
	}
	l.log.WithFields(logrus.Fields{
		"loan_id":   loan.ID,
		"principal": principal.StringFixed(DisplayPrecision),
		"borrowers": borrowers,
	}).Info("Loan created")

	activity, err := l.RecordActivity(ctx, ActivityInput{
		Type:          models.ActivityTypeLoan,
		Members:       borrowers,
		Memo:          memo,
		Amount:        principal,
		AffectedLoans: []uuid.UUID{loan.ID},
	})
	if err != nil {
		return loan, nil, err
	}
	return loan, activity, nil
}

// GetLoan loads a loan and charges any interest owed before returning it.
// Archived loans are reported as not found unless includeArchived is set.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID, includeArchived bool) (*models.Loan, error) {
	return l.getLoan(ctx, id, includeArchived, "")
}

// GetBorrowerLoan is GetLoan restricted to loans memberID borrows. Other
// loans are reported as not found and are left untouched.
func (l *Ledger) GetBorrowerLoan(ctx context.Context, id uuid.UUID, memberID string, includeArchived bool) (*models.Loan, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, validationErrorf("member is required")
	}
	return l.getLoan(ctx, id, includeArchived, memberID)
}

// getLoan checks visibility before charging interest; an empty memberID
// skips the borrower check.
func (l *Ledger) getLoan(ctx context.Context, id uuid.UUID, includeArchived bool, memberID string) (*models.Loan, error) {
	unlock := l.locks.lock(id)
	defer unlock()

	loan, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if memberID != "" && !loan.HasBorrower(memberID) {
		return nil, fmt.Errorf("%w: loan %s", ErrNotFound, id)
	}
	if loan.Archived && !includeArchived {
		return nil, fmt.Errorf("%w: loan %s is archived", ErrNotFound, id)
	}
	if err := l.refresh(ctx, loan); err != nil {
		return nil, err
	}
	return loan, nil
}

// PostEntry appends an entry to a loan's ledger after bringing its interest up to date.
func (l *Ledger) PostEntry(ctx context.Context, loanID uuid.UUID, in EntryInput) (*models.LedgerEntry, error) {
	amount := Round(in.Amount)
	if amount.IsZero() {
		return nil, validationErrorf("amount is required")
	}
	kind := in.Kind
	if kind == "" {
		kind = models.EntryKindAdjustment
	}
	if !kind.Valid() {
		return nil, validationErrorf("unknown entry kind %q", kind)
	}
	method := in.Method
	if method == "" {
		method = models.EntryMethodManual
	}
	if !method.Valid() {
		return nil, validationErrorf("unknown entry method %q", method)
	}

	unlock := l.locks.lock(loanID)
	defer unlock()

	loan, err := l.load(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if err := l.refresh(ctx, loan); err != nil {
		return nil, err
	}

	now := l.now().UTC()
	entry := models.LedgerEntry{
		ID:        uuid.New(),
		Amount:    amount,
		Kind:      kind,
		Memo:      strings.TrimSpace(in.Memo),
		Method:    method,
		CreatedAt: now,
	}
	loan.Ledger = append(loan.Ledger, entry)
	loan.UpdatedAt = now
	if err := l.storage.SaveLoan(ctx, loan); err != nil {
		return nil, persistenceError("save loan", err)
	}

	l.log.WithFields(logrus.Fields{
		"loan_id": loan.ID,
		"kind":    kind,
		"amount":  amount.StringFixed(DisplayPrecision),
	}).Info("Ledger entry posted")
	return &entry, nil
}

// Summary charges interest on and totals the open loans of borrowerID, or of
// every borrower when borrowerID is empty.
func (l *Ledger) Summary(ctx context.Context, borrowerID string) (*LoanSummary, error) {
	candidates, err := l.storage.FindLoans(ctx, store.LoanFilter{
		BorrowerID: strings.TrimSpace(borrowerID),
		Sort:       store.SortByCreated,
	})
	if err != nil {
		return nil, persistenceError("find loans", err)
	}

	summary := &LoanSummary{
		Total:            decimal.Zero,
		UpcomingInterest: decimal.Zero,
		Loans:            []*models.Loan{},
	}
	for _, c := range candidates {
		loan, err := l.refreshOpen(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if loan == nil {
			continue
		}
		summary.Total = summary.Total.Add(Total(loan.Ledger))
		summary.UpcomingInterest = summary.UpcomingInterest.Add(ProjectedInterest(loan, l.now()))
		summary.Loans = append(summary.Loans, loan)
	}
	return summary, nil
}

// refreshOpen reloads a loan under its lock and charges interest. It returns
// nil when the loan was archived in the meantime.
func (l *Ledger) refreshOpen(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	unlock := l.locks.lock(id)
	defer unlock()

	loan, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if loan.Archived {
		return nil, nil
	}
	if err := l.refresh(ctx, loan); err != nil {
		return nil, err
	}
	return loan, nil
}

// UpcomingInterest is the projected interest on loan as of the ledger's clock.
func (l *Ledger) UpcomingInterest(loan *models.Loan) decimal.Decimal {
	return ProjectedInterest(loan, l.now())
}

func (l *Ledger) load(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: loan %s", ErrNotFound, id)
		}
		return nil, persistenceError("get loan", err)
	}
	return loan, nil
}

// refresh charges owed interest and saves the loan when anything was charged.
// Callers hold the loan's lock.
func (l *Ledger) refresh(ctx context.Context, loan *models.Loan) error {
	now := l.now().UTC()
	months := Accrue(loan, now)
	if months == 0 {
		return nil
	}
	loan.UpdatedAt = now
	if err := l.storage.SaveLoan(ctx, loan); err != nil {
		return persistenceError("save accrued interest", err)
	}

	charged := decimal.Zero
	for _, e := range loan.Ledger[len(loan.Ledger)-months:] {
		charged = charged.Add(e.Amount)
	}
	l.log.WithFields(logrus.Fields{
		"loan_id": loan.ID,
		"months":  months,
		"charged": charged.StringFixed(DisplayPrecision),
	}).Info("Interest accrued")

	_, err := l.RecordActivity(ctx, ActivityInput{
		Type:          models.ActivityTypeInterest,
		Members:       loan.Borrowers,
		Memo:          fmt.Sprintf("%d month(s) of interest charged on %s", months, loan.Memo),
		Amount:        charged,
		AffectedLoans: []uuid.UUID{loan.ID},
	})
	return err
}

// normalizeMembers trims ids and drops blanks and duplicates, keeping order.
func normalizeMembers(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
