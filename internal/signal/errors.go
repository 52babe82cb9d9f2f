package signal

import (
	"fmt"
	"strings"

	apperrors "signal_trader/pkg/errors"

	"github.com/shopspring/decimal"
)

// ValidationError reports an input that cannot be turned into an order.
// Bounds are filled for sizing failures.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Min     decimal.NullDecimal
	Max     decimal.NullDecimal
	// Cost is the margin in USD one contract requires at the resolved leverage
	Cost decimal.NullDecimal
	// Inconsistent marks contradictions between fields rather than a bad single value
	Inconsistent bool
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "validation error for field '%s'", e.Field)
	if e.Value != nil {
		fmt.Fprintf(&b, " (value: %v)", e.Value)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	return b.String()
}

func (e *ValidationError) Unwrap() []error {
	if e.Inconsistent {
		return []error{apperrors.ErrValidation, apperrors.ErrInconsistentSignal}
	}
	return []error{apperrors.ErrValidation}
}

func invalid(field string, value interface{}, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)}
}

func inconsistent(field string, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Inconsistent: true}
}
