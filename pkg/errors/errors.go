// Package apperrors holds the error taxonomy shared by the engine and its collaborators
package apperrors

import (
	"errors"
	"fmt"
)

// Standardized Exchange Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")
	ErrPositionNotFound      = errors.New("position not found")
)

// Signal handling errors
var (
	ErrValidation            = errors.New("validation failed")
	ErrMarketDataUnavailable = errors.New("market data unavailable")
	ErrInsufficientDepth     = errors.New("insufficient order book depth")
	ErrGatewayRejected       = errors.New("gateway rejected request")
	ErrInconsistentSignal    = errors.New("inconsistent signal")
)

// ExchangeError is a business-level rejection returned by the exchange
type ExchangeError struct {
	Op      string
	Code    string
	Message string
	// Err is the mapped sentinel, nil when the code has no mapping
	Err error
}

func (e *ExchangeError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: exchange error %s: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange error %s: %s", e.Code, e.Message)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// MarketDataError means a required snapshot was missing or empty
type MarketDataError struct {
	What   string
	InstID string
	Err    error
}

func (e *MarketDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("market data unavailable: %s for %s: %v", e.What, e.InstID, e.Err)
	}
	return fmt.Sprintf("market data unavailable: %s for %s", e.What, e.InstID)
}

func (e *MarketDataError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMarketDataUnavailable, e.Err}
	}
	return []error{ErrMarketDataUnavailable}
}

// IsTransient reports whether an exchange business error is worth retrying.
// Network failures are retried by the HTTP pipeline and are not transient here.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrSystemOverload)
}
