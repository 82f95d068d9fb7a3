/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers use errors.Is against the sentinels, or errors.As against the
  structured types when they need the failing leg or field.

ERROR CATEGORIES:
  1. Validation errors - Malformed input, operation not created
  2. Execution rejections - Currency mismatch, overdraft, over-execution
  3. Authorization errors - Admin-only mutation by a regular user
  4. Lookup errors - Unknown operation, cash box or client id

ATOMICITY:
  Every error returned by a mutating call means NOTHING was committed.
  Warnings about non-reversed cash box effects are not errors; they are
  recorded in the audit log.

SEE ALSO:
  - balance.go: Produces CurrencyMismatchError and InsufficientFundsError
  - ledger.go: Produces OverExecutionError and ValidationError
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or missing fields.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCurrencyMismatch is returned when a leg's currency differs from the
	// currency of its target cash box.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInsufficientFunds is returned when a debit would drive a cash box
	// that disallows negative balances below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrOverExecution is returned when an execution exceeds the remaining amount.
	ErrOverExecution = errors.New("over execution")

	// ErrUnauthorized is returned for admin-only calls made by a regular user.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrCashBoxNotEmpty is returned when deleting a cash box with a balance.
	ErrCashBoxNotEmpty = errors.New("cash box not empty")

	// ErrDuplicateClient is returned when a client name already exists.
	ErrDuplicateClient = errors.New("duplicate client")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Leg names which side of an execution failed.
type Leg string

const (
	LegIn  Leg = "in"
	LegOut Leg = "out"
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "operation", "cash_box", "client"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// CurrencyMismatchError identifies the leg whose currency did not match.
type CurrencyMismatchError struct {
	Leg       Leg
	CashBoxID CashBoxID
	Expected  Currency // cash box currency
	Got       Currency // leg currency
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch on %s leg: cash box %s holds %s, leg is %s",
		e.Leg, e.CashBoxID, e.Expected, e.Got)
}

func (e *CurrencyMismatchError) Unwrap() error { return ErrCurrencyMismatch }

// InsufficientFundsError identifies the cash box that would be overdrawn.
type InsufficientFundsError struct {
	Leg       Leg
	CashBoxID CashBoxID
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on %s leg: cash box %s balance %s, requested %s",
		e.Leg, e.CashBoxID, e.Balance, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// OverExecutionError reports an execution larger than what remains.
type OverExecutionError struct {
	Leg       Leg
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *OverExecutionError) Error() string {
	return fmt.Sprintf("over execution on %s leg: requested %s, remaining %s",
		e.Leg, e.Requested, e.Remaining)
}

func (e *OverExecutionError) Unwrap() error { return ErrOverExecution }

func unauthorized(action string) error {
	return fmt.Errorf("%w: %s requires admin role", ErrUnauthorized, action)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrOverExecution) ||
		errors.Is(err, ErrCashBoxNotEmpty) ||
		errors.Is(err, ErrDuplicateClient)
}

// IsExecutionRejection returns true for the atomic rejections of Execute.
func IsExecutionRejection(err error) bool {
	return errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrOverExecution)
}

func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }
