package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing input. Nothing was mutated.
	ErrValidation = errors.New("invalid input")
	// ErrNotFound marks a missing loan, or an archived one where an open loan was expected.
	ErrNotFound = errors.New("not found")
	// ErrPersistence marks a failed storage operation. It is not retried.
	ErrPersistence = errors.New("storage failure")
)

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}
