package ledger

import (
	"sync"

	"github.com/google/uuid"
)

// loanLocks hands out one mutex per loan id so load, accrue, mutate and save
// of a single loan never interleave within this process.
type loanLocks struct {
	mu    sync.Mutex // protects locks
	locks map[uuid.UUID]*sync.Mutex
}

func newLoanLocks() *loanLocks {
	return &loanLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *loanLocks) get(id uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.locks[id]; !exists {
		l.locks[id] = &sync.Mutex{}
	}
	return l.locks[id]
}

// lock acquires the loan's mutex and returns its unlock func.
func (l *loanLocks) lock(id uuid.UUID) func() {
	m := l.get(id)
	m.Lock()
	return m.Unlock
}
