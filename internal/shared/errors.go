package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates an unknown product, account, branch or entry.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or missing input caught before any write.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates a missing branch context or a write outside the caller's branches.
	ErrForbidden = errors.New("forbidden")
	// ErrConcurrencyConflict indicates the store detected a lost-update race; retry the operation.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrConfiguration indicates missing account mappings or similar setup problems.
	ErrConfiguration = errors.New("configuration error")
	// ErrImbalanced is matched by every ImbalancedEntryError.
	ErrImbalanced = errors.New("journal entry is not balanced")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// Error kinds exposed to callers.
const (
	KindValidation          = "validation"
	KindImbalancedEntry     = "imbalanced_entry"
	KindNotFound            = "not_found"
	KindForbidden           = "forbidden"
	KindConcurrencyConflict = "concurrency_conflict"
	KindConfiguration       = "configuration"
	KindInternal            = "internal"
)

// ImbalancedEntryError reports the debit and credit totals of a rejected posting.
type ImbalancedEntryError struct {
	Debits  decimal.Decimal
	Credits decimal.Decimal
}

func (e *ImbalancedEntryError) Error() string {
	return fmt.Sprintf("journal entry is not balanced: debits %s, credits %s", e.Debits.StringFixed(2), e.Credits.StringFixed(2))
}

// Is lets errors.Is(err, ErrImbalanced) match.
func (e *ImbalancedEntryError) Is(target error) bool {
	return target == ErrImbalanced
}

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Forbiddenf wraps ErrForbidden with a formatted message.
func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// Configurationf wraps ErrConfiguration with a formatted message.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Kind returns the stable kind of err. Unknown errors are internal.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrImbalanced):
		return KindImbalancedEntry
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrConcurrencyConflict):
		return KindConcurrencyConflict
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	default:
		return KindInternal
	}
}

// UserSafeMessage returns err's message unless it is an internal error.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	if Kind(err) == KindInternal {
		return "internal error"
	}
	return err.Error()
}
