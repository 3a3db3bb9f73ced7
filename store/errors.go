package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an item does not exist.
	ErrNotFound = errors.New("arbor: item not found")

	// ErrConditionFailed is returned when a conditional write is rejected.
	ErrConditionFailed = errors.New("arbor: conditional check failed")
)

// TransactionCanceledError is returned when a transactional write is
// cancelled. FailedIndex identifies the first item whose condition failed,
// or -1 when the cancellation had another cause.
type TransactionCanceledError struct {
	FailedIndex int
	Reasons     []string
}

func (e *TransactionCanceledError) Error() string {
	return fmt.Sprintf("arbor: transaction cancelled (failed item %d): %v", e.FailedIndex, e.Reasons)
}
