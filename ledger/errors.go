/*
errors.go - Centralized error taxonomy for the points engine

PURPOSE:
  All failure kinds in one place. Every error the engine surfaces belongs to
  exactly one class, and callers (HTTP handlers, CLI, metrics) switch on the
  class, never on message text.

ERROR CLASSES:
  1. ErrTransport    - the store could not be reached or answered garbage
  2. ErrConflict     - the CAS token was stale, or an action is in flight
  3. ErrValidation   - malformed input (bad points, empty reason, bad bet)
  4. ErrBusinessRule - well-formed input refused by a rule (caps, balance)
  5. ErrNotFound     - unknown task, reward, voucher or quiz
  6. ErrNotLoaded    - no document has been read yet

SHAPE:
  Specific failures are *Failure values that unwrap to their class:

    errors.Is(err, ledger.ErrInsufficientBalance) // the specific failure
    errors.Is(err, ledger.ErrBusinessRule)        // its class

  Structured errors (InsufficientBalanceError, DailyCapError) carry numbers
  for the caller and unwrap to the specific failure.

SEE ALSO:
  - api/handlers.go: maps classes to HTTP status codes
  - docstore/store.go: ConflictError unwraps to ErrConflict
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/warp/points-engine/calendar"
)

// =============================================================================
// CLASSES - Use with errors.Is()
// =============================================================================

var (
	ErrTransport    = errors.New("transport failure")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failure")
	ErrBusinessRule = errors.New("business rule violation")
	ErrNotFound     = errors.New("not found")
	ErrNotLoaded    = errors.New("document not loaded")
)

// Failure is a specific, named failure belonging to one class.
type Failure struct {
	Class   error
	Code    string
	Message string
}

// NewFailure declares a failure. Intended for package-level vars.
func NewFailure(class error, code, message string) *Failure {
	return &Failure{Class: class, Code: code, Message: message}
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.Class }

// =============================================================================
// SPECIFIC FAILURES
// =============================================================================

var (
	ErrAlreadySignedInToday = NewFailure(ErrBusinessRule, "already_signed_in", "already signed in today")
	ErrDailyCapReached      = NewFailure(ErrBusinessRule, "daily_cap_reached", "daily limit reached")
	ErrInsufficientBalance  = NewFailure(ErrBusinessRule, "insufficient_balance", "insufficient balance")
	ErrVoucherAlreadyUsed   = NewFailure(ErrBusinessRule, "voucher_used", "voucher already used")

	ErrInvalidPoints  = NewFailure(ErrValidation, "invalid_points", "points must be a non-zero whole number")
	ErrReasonRequired = NewFailure(ErrValidation, "reason_required", "reason is required")

	ErrInvalidDocument = NewFailure(ErrTransport, "invalid_document", "stored document is malformed")

	ErrTaskNotFound    = NewFailure(ErrNotFound, "task_not_found", "task not found")
	ErrRewardNotFound  = NewFailure(ErrNotFound, "reward_not_found", "reward not found")
	ErrVoucherNotFound = NewFailure(ErrNotFound, "voucher_not_found", "voucher not found")

	ErrActionInFlight = NewFailure(ErrConflict, "action_in_flight", "the same action is already running")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a spend larger than the balance.
type InsufficientBalanceError struct {
	Balance  int
	Required int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d, need %d", e.Balance, e.Required)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// DailyCapError reports a task or reward whose per-day limit is used up.
type DailyCapError struct {
	Kind  RecordType
	Code  string
	Max   int
	Count int
	Day   calendar.DayKey
}

func (e *DailyCapError) Error() string {
	return fmt.Sprintf("daily limit reached for %s %q on %s: %d of %d",
		e.Kind, e.Code, e.Day, e.Count, e.Max)
}

func (e *DailyCapError) Unwrap() error { return ErrDailyCapReached }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if re-reading and re-applying might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) && !errors.Is(err, ErrActionInFlight)
}

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrBusinessRule)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Code
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrBusinessRule):
		return "business_rule"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotLoaded):
		return "not_loaded"
	}
	return "internal"
}
