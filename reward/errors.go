/*
errors.go - Centralized error kinds for the reward engine

PURPOSE:
  All error kinds in one place. Every rejected operation surfaces one of
  these so calling layers can render precise feedback; nothing is
  suppressed or retried silently inside the core.

ERROR CATEGORIES:
  1. Validation errors  - malformed or incomplete input (caller error)
  2. Business rejections - insufficient balance / budget / stock
  3. Integrity errors   - references to unknown wallets/programs/items
  4. Concurrency conflicts - a competing operation invalidated a
     precondition; the CALLER decides whether to retry

USAGE:
  if errors.Is(err, reward.ErrInsufficientStock) { ... }

  var stockErr *reward.InsufficientStockError
  if errors.As(err, &stockErr) {
      fmt.Println(stockErr.Requested - stockErr.Available)
  }

SEE ALSO:
  - ledger.go: Returns validation and integrity errors on append
  - api: Maps these kinds to HTTP statuses
*/
package reward

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or incomplete input.
	ErrValidation = errors.New("validation failed")

	// ErrIntegrity is returned when an operation references an unknown
	// wallet, program, policy, or item.
	ErrIntegrity = errors.New("unknown reference")

	// ErrInsufficientBalance is returned when a redemption exceeds the
	// wallet's personal points.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientBudget is returned when a gift exceeds the manager's
	// remaining giving budget.
	ErrInsufficientBudget = errors.New("insufficient giving budget")

	// ErrInsufficientStock is returned when a redemption exceeds an item's
	// remaining stock.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrConcurrencyConflict is returned when a competing operation
	// invalidated this operation's preconditions. Retry at the caller.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the
	// same idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrProgramStateTransition is returned for illegal lifecycle moves
	// (inactive is terminal; active is reached only from pending).
	ErrProgramStateTransition = errors.New("illegal program state transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes which field of the input was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// IntegrityError identifies the unknown reference.
type IntegrityError struct {
	Kind string // "wallet", "program", "policy", "item"
	Ref  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("unknown %s: %s", e.Kind, e.Ref)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// InsufficientBalanceError reports the shortfall of a rejected redemption.
type InsufficientBalanceError struct {
	WalletID  WalletID
	Available Points
	Requested Points
}

func (e *InsufficientBalanceError) Shortfall() Points {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s, short %s",
		e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InsufficientBudgetError reports the shortfall of a rejected gift. The
// requested amount is the full batch total: gifts are all-or-nothing.
type InsufficientBudgetError struct {
	WalletID  WalletID
	Available Points
	Requested Points
}

func (e *InsufficientBudgetError) Shortfall() Points {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientBudgetError) Error() string {
	return fmt.Sprintf("insufficient giving budget: available %s, requested %s, short %s",
		e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientBudgetError) Unwrap() error { return ErrInsufficientBudget }

// InsufficientStockError reports which catalog line failed the stock check.
type InsufficientStockError struct {
	ItemID    ItemID
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: available %d, requested %d",
		e.ItemID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// ConcurrencyConflictError identifies the wallet whose version moved
// underneath the operation.
type ConcurrencyConflictError struct {
	WalletID        WalletID
	ExpectedVersion int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("wallet %s changed concurrently (expected version %d)",
		e.WalletID, e.ExpectedVersion)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to the caller's input or
// an expected business-rule rejection.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientBudget) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrProgramStateTransition)
}

// IsNotFound returns true if the error indicates a missing reference.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrIntegrity)
}
