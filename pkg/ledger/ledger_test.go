package ledger

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanLedger/pkg/models"
	"github.com/mcclellann/loanLedger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingPublisher struct {
	published []*models.Activity
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, a *models.Activity) error {
	p.published = append(p.published, a)
	return p.err
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestLedger(t *testing.T, start time.Time, opts ...Option) (*Ledger, *store.MemoryStore, *testClock) {
	t.Helper()
	s := store.NewMemoryStore()
	clock := &testClock{t: start}
	opts = append([]Option{WithClock(clock.now)}, opts...)
	return NewLedger(s, quietLogger(), opts...), s, clock
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func rate(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func days(n int) *int {
	return &n
}

func mustCreate(t *testing.T, l *Ledger, in LoanInput) *models.Loan {
	t.Helper()
	loan, _, err := l.CreateLoan(context.Background(), in)
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}
	return loan
}

func TestCreateLoan(t *testing.T) {
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	l, s, _ := newTestLedger(t, start)

	loan, activity, err := l.CreateLoan(context.Background(), LoanInput{
		Memo:         "Car repair",
		Borrowers:    []string{"alice", " bob ", "alice"},
		Principal:    dec("1000"),
		InterestRate: rate("0.05"),
	})
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	if len(loan.Borrowers) != 2 {
		t.Errorf("Expected 2 borrowers, got %v", loan.Borrowers)
	}
	if !loan.GracePeriodEnd.Equal(start.AddDate(0, 0, DefaultGracePeriodDays)) {
		t.Errorf("Expected grace period to end %s, got %s", start.AddDate(0, 0, 60), loan.GracePeriodEnd)
	}
	if !loan.LastCompounded.Equal(start) {
		t.Errorf("Expected last compounded %s, got %s", start, loan.LastCompounded)
	}
	if len(loan.Ledger) != 1 || loan.Ledger[0].Kind != models.EntryKindPrincipal {
		t.Fatalf("Expected a single principal entry, got %+v", loan.Ledger)
	}
	if !Total(loan.Ledger).Equal(dec("1000")) {
		t.Errorf("Expected total 1000, got %s", Total(loan.Ledger))
	}

	if activity == nil || activity.Type != models.ActivityTypeLoan {
		t.Fatalf("Expected a loan activity, got %+v", activity)
	}
	if len(activity.AffectedLoans) != 1 || activity.AffectedLoans[0] != loan.ID {
		t.Errorf("Expected activity to reference loan %s, got %v", loan.ID, activity.AffectedLoans)
	}

	stored, err := s.GetLoan(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("Expected loan to be stored: %v", err)
	}
	if stored.Memo != "Car repair" {
		t.Errorf("Expected memo %q, got %q", "Car repair", stored.Memo)
	}
}

func TestCreateLoan_CustomGracePeriod(t *testing.T) {
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	l, _, _ := newTestLedger(t, start)

	loan := mustCreate(t, l, LoanInput{Memo: "m", Borrowers: []string{"a"}, Principal: dec("10"), GracePeriodDays: days(0)})
	if !loan.GracePeriodEnd.Equal(start) {
		t.Errorf("Expected grace period to end at creation, got %s", loan.GracePeriodEnd)
	}
	if !loan.InterestRate.IsZero() {
		t.Errorf("Expected default rate 0, got %s", loan.InterestRate)
	}
}

func TestCreateLoan_Validation(t *testing.T) {
	l, s, _ := newTestLedger(t, time.Now().UTC())

	cases := map[string]LoanInput{
		"missing memo":      {Borrowers: []string{"a"}, Principal: dec("10")},
		"missing borrowers": {Memo: "m", Borrowers: []string{" "}, Principal: dec("10")},
		"missing principal": {Memo: "m", Borrowers: []string{"a"}},
		"negative grace":    {Memo: "m", Borrowers: []string{"a"}, Principal: dec("10"), GracePeriodDays: days(-1)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := l.CreateLoan(context.Background(), in)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}

	loans, _ := s.FindLoans(context.Background(), store.LoanFilter{IncludeArchived: true})
	if len(loans) != 0 {
		t.Errorf("Expected no loans stored, got %d", len(loans))
	}
}

func TestGetLoan_IdempotentRead(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l, _, clock := newTestLedger(t, start)
	loan := mustCreate(t, l, LoanInput{Memo: "m", Borrowers: []string{"a"}, Principal: dec("1000"), InterestRate: rate("0.12"), GracePeriodDays: days(0)})

	clock.t = time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)

	first, err := l.GetLoan(context.Background(), loan.ID, false)
	if err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}
	second, err := l.GetLoan(context.Background(), loan.ID, false)
	if err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}

	if len(first.Ledger) != 4 {
		t.Errorf("Expected principal plus 3 interest entries, got %d", len(first.Ledger))
	}
	if len(second.Ledger) != len(first.Ledger) {
		t.Errorf("Expected no new entries on second read, got %d then %d", len(first.Ledger), len(second.Ledger))
	}
	if !Total(first.Ledger).Equal(Total(second.Ledger)) {
		t.Errorf("Expected identical totals, got %s and %s", Total(first.Ledger), Total(second.Ledger))
	}
	if !Total(second.Ledger).Equal(dec("1030.301")) {
		t.Errorf("Expected total 1030.301, got %s", Total(second.Ledger))
	}
}

func TestGetLoan_PersistsInterestAndRecordsActivity(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l, s, clock := newTestLedger(t, start)
	loan := mustCreate(t, l, LoanInput{Memo: "m", Borrowers: []string{"a"}, Principal: dec("1000"), InterestRate: rate("0.12"), GracePeriodDays: days(0)})

	clock.t = time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)
	if _, err := l.GetLoan(context.Background(), loan.ID, false); err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}

	stored, _ := s.GetLoan(context.Background(), loan.ID)
	if len(stored.Ledger) != 2 {
		t.Fatalf("Expected interest entry to be saved, got %d entries", len(stored.Ledger))
	}
	if !stored.LastCompounded.Equal(clock.t) {
		t.Errorf("Expected last compounded %s, got %s", clock.t, stored.LastCompounded)
	}

	activity, _ := s.ListActivity(context.Background(), "a", 0, 10)
	if len(activity) != 2 || activity[0].Type != models.ActivityTypeInterest {
		t.Fatalf("Expected newest activity to be interest, got %+v", activity)
	}
	if !activity[0].Amount.Equal(dec("10")) {
		t.Errorf("Expected interest activity amount 10, got %s", activity[0].Amount)
	}
}

func TestGetLoan_NotFoundAndArchived(t *testing.T) {
	l, s, _ := newTestLedger(t, time.Now().UTC())

	if _, err := l.GetLoan(context.Background(), uuid.New(), true); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}

	loan := mustCreate(t, l, LoanInput{Memo: "m", Borrowers: []string{"a"}, Principal: dec("10")})
	loan.Archived = true
	if err := s.SaveLoan(context.Background(), loan); err != nil {
		t.Fatalf("Failed to archive loan: %v", err)
	}

	if _, err := l.GetLoan(context.Background(), loan.ID, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected archived loan to be not found, got %v", err)
	}
	got, err := l.GetLoan(context.Background(), loan.ID, true)
	if err != nil {
		t.Fatalf("Expected archived loan when included, got %v", err)
	}
	if !got.Archived {
		t.Error("Expected loan to be archived")
	}
}

func TestGetBorrowerLoan_StrangerDoesNotAccrue(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l, s, clock := newTestLedger(t, start)
	loan := mustCreate(t, l, LoanInput{Memo: "m", Borrowers: []string{"alice"}, Principal: dec("1000"), InterestRate: rate("0.12"), GracePeriodDays: days(0)})

	clock.t = time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)

	if _, err := l.GetBorrowerLoan(context.Background(), loan.ID, "bob", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected not found for a non-borrower, got %v", err)
	}
	stored, _ := s.GetLoan(context.Background(), loan.ID)
	if len(stored.Ledger) != 1 {
		t.Errorf("Expected no interest charged by a rejected read, got %d entries", len(stored.Ledger))
	}
	activity, _ := s.ListActivity(context.Background(), "alice", 0, 10)
	if len(activity) != 1 || activity[0].Type != models.ActivityTypeLoan {
		t.Errorf("Expected only the loan activity, got %+v", activity)
	}

	got, err := l.GetBorrowerLoan(context.Background(), loan.ID, "alice", false)
	if err != nil {
		t.Fatalf("Expected borrower to read the loan, got %v", err)
	}
	if !Total(got.Ledger).Equal(dec("1030.301")) {
		t.Errorf("Expected total 1030.301, got %s", Total(got.Ledger))
	}

	if _, err := l.GetBorrowerLoan(context.Background(), loan.ID, " ", false); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error for blank member, got %v", err)
	}
}

func TestPostEntry(t *testing.T) {
	l, s, _ := newTestLedger(t, time.Now().UTC())
	loan := mustCreate(t, l, LoanInput{Memo: "m", Borrowers: []string{"a"}, Principal: dec("100")})

	entry, err := l.PostEntry(context.Background(), loan.ID, EntryInput{Amount: dec("-25.5"), Memo: "paypal refund", Method: models.EntryMethodPaypal})
	if err != nil {
		t.Fatalf("Failed to post entry: %v", err)
	}
	if entry.Kind != models.EntryKindAdjustment {
		t.Errorf("Expected default kind adjustment, got %s", entry.Kind)
	}

	stored, _ := s.GetLoan(context.Background(), loan.ID)
	if !Total(stored.Ledger).Equal(dec("74.5")) {
		t.Errorf("Expected total 74.5, got %s", Total(stored.Ledger))
	}
	if stored.Ledger[1].Method != models.EntryMethodPaypal {
		t.Errorf("Expected method paypal, got %s", stored.Ledger[1].Method)
	}
}

func TestPostEntry_Errors(t *testing.T) {
	l, _, _ := newTestLedger(t, time.Now().UTC())
	loan := mustCreate(t, l, LoanInput{Memo: "m", Borrowers: []string{"a"}, Principal: dec("100")})

	if _, err := l.PostEntry(context.Background(), loan.ID, EntryInput{}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error for zero amount, got %v", err)
	}
	if _, err := l.PostEntry(context.Background(), loan.ID, EntryInput{Amount: dec("1"), Kind: "bonus"}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error for unknown kind, got %v", err)
	}
	if _, err := l.PostEntry(context.Background(), uuid.New(), EntryInput{Amount: dec("1")}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l, _, _ := newTestLedger(t, start)

	mustCreate(t, l, LoanInput{Memo: "a1", Borrowers: []string{"alice"}, Principal: dec("1000"), InterestRate: rate("0.12"), GracePeriodDays: days(0)})
	mustCreate(t, l, LoanInput{Memo: "a2", Borrowers: []string{"alice"}, Principal: dec("500"), InterestRate: rate("0.12")})
	mustCreate(t, l, LoanInput{Memo: "b1", Borrowers: []string{"bob"}, Principal: dec("200")})

	summary, err := l.Summary(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Failed to get summary: %v", err)
	}
	if len(summary.Loans) != 2 {
		t.Errorf("Expected 2 loans for alice, got %d", len(summary.Loans))
	}
	if !summary.Total.Equal(dec("1500")) {
		t.Errorf("Expected total 1500, got %s", summary.Total)
	}
	// Only the first loan is out of its grace period by next month.
	if !summary.UpcomingInterest.Equal(dec("10")) {
		t.Errorf("Expected upcoming interest 10, got %s", summary.UpcomingInterest)
	}

	all, err := l.Summary(context.Background(), "")
	if err != nil {
		t.Fatalf("Failed to get summary: %v", err)
	}
	if len(all.Loans) != 3 || !all.Total.Equal(dec("1700")) {
		t.Errorf("Expected 3 loans totalling 1700, got %d totalling %s", len(all.Loans), all.Total)
	}
}

func TestListActivity(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l, _, clock := newTestLedger(t, start)

	for i := 0; i < 9; i++ {
		clock.advance(time.Minute)
		mustCreate(t, l, LoanInput{Memo: "m", Borrowers: []string{"alice"}, Principal: dec("1")})
	}
	clock.advance(time.Minute)
	if _, err := l.RecordActivity(context.Background(), ActivityInput{Type: models.ActivityTypeOther, Broadcast: true, Memo: "Rates change next month"}); err != nil {
		t.Fatalf("Failed to record activity: %v", err)
	}
	mustCreate(t, l, LoanInput{Memo: "m", Borrowers: []string{"bob"}, Principal: dec("1")})

	first, err := l.ListActivity(context.Background(), "alice", 0)
	if err != nil {
		t.Fatalf("Failed to list activity: %v", err)
	}
	if len(first) != ActivityPerPage {
		t.Fatalf("Expected %d entries on first page, got %d", ActivityPerPage, len(first))
	}
	if !first[0].Broadcast {
		t.Errorf("Expected newest entry to be the broadcast, got %+v", first[0])
	}

	second, _ := l.ListActivity(context.Background(), "alice", 1)
	if len(second) != 3 {
		t.Errorf("Expected 3 entries on second page, got %d", len(second))
	}

	if _, err := l.ListActivity(context.Background(), "alice", -1); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error for negative page, got %v", err)
	}
}

func TestRecordActivity_Publishes(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	l, _, _ := newTestLedger(t, time.Now().UTC(), WithPublisher(pub))

	a, err := l.RecordActivity(context.Background(), ActivityInput{Type: models.ActivityTypeOther, Members: []string{"a"}, Memo: "note"})
	if err != nil {
		t.Fatalf("Expected publish failure not to fail recording, got %v", err)
	}
	if len(pub.published) != 1 || pub.published[0].ID != a.ID {
		t.Errorf("Expected activity to be published, got %v", pub.published)
	}

	if _, err := l.RecordActivity(context.Background(), ActivityInput{Type: "gift", Memo: "x"}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error for unknown type, got %v", err)
	}
}
