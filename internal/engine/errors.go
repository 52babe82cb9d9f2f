package engine

import (
	"fmt"

	apperrors "signal_trader/pkg/errors"
)

// GatewayRejectedError is a gateway call the engine could not proceed past
type GatewayRejectedError struct {
	Op     string
	InstID string
	Err    error
}

func (e *GatewayRejectedError) Error() string {
	return fmt.Sprintf("gateway rejected %s for %s: %v", e.Op, e.InstID, e.Err)
}

func (e *GatewayRejectedError) Unwrap() []error {
	if e.Err == nil {
		return []error{apperrors.ErrGatewayRejected}
	}
	return []error{apperrors.ErrGatewayRejected, e.Err}
}
