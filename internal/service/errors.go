package service

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError rejects a request before anything is written: missing
// fields, non-positive amounts, unknown payment modes, sub-centavo precision.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// OverpaymentError rejects a settlement whose amount would push the total
// paid above the transaction total. Remaining is the authoritative balance
// observed under the settlement lock at conflict time, never a stale
// pre-lock read.
type OverpaymentError struct {
	TransactionID int64
	Attempted     decimal.Decimal
	Remaining     decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("settlement of %s exceeds remaining balance %s for transaction %d",
		e.Attempted.StringFixed(2), e.Remaining.StringFixed(2), e.TransactionID)
}

// PersistenceError wraps a storage failure after the write began. The
// enclosing database transaction has rolled back, so callers may retry the
// whole settlement.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
