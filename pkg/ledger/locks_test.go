package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mcclellann/loanLedger/pkg/models"
)

func TestConcurrentAccessChargesEachMonthOnce(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l, s, clock := newTestLedger(t, start)
	loan := mustCreate(t, l, LoanInput{Memo: "m", Borrowers: []string{"alice"}, Principal: dec("1000"), InterestRate: rate("0.12"), GracePeriodDays: days(0)})

	// Feb, Mar and Apr are owed; the clock stays put while the goroutines run.
	clock.t = time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)

	const workers = 30
	ctx := context.Background()
	errs := make(chan error, workers*3)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			if _, err := l.GetLoan(ctx, loan.ID, true); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := l.Summary(ctx, "alice"); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := l.ApplyPayment(ctx, "alice", dec("-1")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Unexpected error: %v", err)
	}

	stored, err := s.GetLoan(ctx, loan.ID)
	if err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}

	interestMonths := map[time.Time]int{}
	payments := 0
	for _, e := range stored.Ledger {
		switch e.Kind {
		case models.EntryKindInterest:
			interestMonths[e.CreatedAt]++
		case models.EntryKindPayment:
			payments++
		}
	}
	if len(interestMonths) != 3 {
		t.Errorf("Expected interest for 3 months, got %v", interestMonths)
	}
	for month, n := range interestMonths {
		if n != 1 {
			t.Errorf("Expected one interest entry for %s, got %d", month.Format("2006-01"), n)
		}
	}
	if payments != workers {
		t.Errorf("Expected %d payment entries, got %d", workers, payments)
	}
	// 1030.301 of principal and interest less 30 paid
	if !Total(stored.Ledger).Equal(dec("1000.301")) {
		t.Errorf("Expected total 1000.301, got %s", Total(stored.Ledger))
	}
}
