// Package pricing turns order book depth and offsets into absolute order prices
package pricing

import (
	"fmt"

	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"
	"signal_trader/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// InsufficientDepthError means the book cannot fill the quantity within bounds
type InsufficientDepthError struct {
	Side      core.Side
	Quantity  decimal.Decimal
	Available decimal.Decimal
	Reference decimal.Decimal
	// Price is the first level that covered Quantity, zero if none did
	Price     decimal.Decimal
	MaxOffset decimal.NullDecimal
}

func (e *InsufficientDepthError) Error() string {
	if e.Price.IsZero() {
		return fmt.Sprintf("insufficient %s depth: need %s contracts, book offers %s from reference %s",
			e.Side, e.Quantity, e.Available, e.Reference)
	}
	return fmt.Sprintf("insufficient %s depth: %s contracts fill at %s, offset %s from reference %s exceeds max offset %s",
		e.Side, e.Quantity, e.Price, tradingutils.AbsDiff(e.Price, e.Reference), e.Reference, e.MaxOffset.Decimal)
}

func (e *InsufficientDepthError) Unwrap() error {
	return apperrors.ErrInsufficientDepth
}

// ResolveLimitPrice walks the side of the book a taker of side would consume (asks for buy, bids for sell),
// starting at reference, and returns the price of the first level at which cumulative size covers quantity.
// Levels on the far side of reference are ignored. When maxOffset is valid the chosen level must lie within
// maxOffset of reference. The result is rounded to two decimals.
func ResolveLimitPrice(book *core.OrderBook, quantity decimal.Decimal, side core.Side, reference decimal.Decimal, maxOffset decimal.NullDecimal) (decimal.Decimal, error) {
	if !quantity.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: quantity must be positive, got %s", apperrors.ErrInvalidOrderParameter, quantity)
	}

	var levels []core.BookLevel
	switch side {
	case core.SideBuy:
		if book != nil {
			levels = book.Asks
		}
	case core.SideSell:
		if book != nil {
			levels = book.Bids
		}
	default:
		return decimal.Zero, fmt.Errorf("%w: cannot price side %q", apperrors.ErrInvalidOrderParameter, side)
	}

	cumulative := decimal.Zero
	for _, level := range levels {
		if !reachable(side, level.Price, reference) {
			continue
		}
		cumulative = cumulative.Add(level.Size)
		if cumulative.LessThan(quantity) {
			continue
		}
		if maxOffset.Valid && tradingutils.AbsDiff(level.Price, reference).GreaterThan(maxOffset.Decimal) {
			return decimal.Zero, &InsufficientDepthError{
				Side:      side,
				Quantity:  quantity,
				Available: cumulative,
				Reference: reference,
				Price:     level.Price,
				MaxOffset: maxOffset,
			}
		}
		return tradingutils.RoundPrice(level.Price), nil
	}

	return decimal.Zero, &InsufficientDepthError{
		Side:      side,
		Quantity:  quantity,
		Available: cumulative,
		Reference: reference,
		MaxOffset: maxOffset,
	}
}

// reachable reports whether a level sits at or beyond reference in the direction side consumes the book
func reachable(side core.Side, price, reference decimal.Decimal) bool {
	if side == core.SideBuy {
		return price.GreaterThanOrEqual(reference)
	}
	return price.LessThanOrEqual(reference)
}
