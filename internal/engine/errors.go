package engine

import "fmt"

// ValidationError rejects a command synchronously: no event is appended and
// no row is written. The reason is safe to surface to the caller.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string { return e.Reason }

func validationf(format string, args ...any) error {
	return ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// InvariantError means the books are inconsistent (for example the sum of
// non-cancelled invoices would exceed the budget). It indicates an upstream
// bug and is never clamped or retried.
type InvariantError struct {
	Reason string
}

func (e InvariantError) Error() string { return "invariant violation: " + e.Reason }

func invariantf(format string, args ...any) error {
	return InvariantError{Reason: fmt.Sprintf(format, args...)}
}

// PendingError reports that the wallet ledger could not confirm a credit. The
// invoice stays sent and the failed attempt is recorded in the event log; the
// ledger's own retry policy picks it up later.
type PendingError struct {
	InvoiceID string
	Cause     error
}

func (e PendingError) Error() string {
	return fmt.Sprintf("payment pending confirmation for invoice %s: %v", e.InvoiceID, e.Cause)
}

func (e PendingError) Unwrap() error { return e.Cause }
