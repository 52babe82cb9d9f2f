package pricing

import (
	"signal_trader/internal/core"
	"signal_trader/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Leg is a trigger/execution price pair of a conditional order
type Leg struct {
	Trigger   decimal.Decimal
	Execution decimal.Decimal
}

// TakeProfit prices the take-profit leg protecting a position opened on side.
// For buy the trigger sits trigOffset above reference and execution execOffset above the trigger; sell mirrors it.
func TakeProfit(side core.Side, reference, trigOffset, execOffset decimal.Decimal) Leg {
	sign := side.Sign()
	trigger := tradingutils.Shift(reference, trigOffset, sign)
	return Leg{
		Trigger:   tradingutils.RoundPrice(trigger),
		Execution: tradingutils.RoundPrice(tradingutils.Shift(trigger, execOffset, sign)),
	}
}

// StopLoss prices the stop-loss leg protecting a position opened on side.
// For buy the trigger sits trigOffset below reference and execution execOffset below the trigger; sell mirrors it.
func StopLoss(side core.Side, reference, trigOffset, execOffset decimal.Decimal) Leg {
	sign := -side.Sign()
	trigger := tradingutils.Shift(reference, trigOffset, sign)
	return Leg{
		Trigger:   tradingutils.RoundPrice(trigger),
		Execution: tradingutils.RoundPrice(tradingutils.Shift(trigger, execOffset, sign)),
	}
}

// TrailingActivation is the price at which a trailing stop protecting side starts tracking.
// Without an offset it activates at reference.
func TrailingActivation(side core.Side, reference decimal.Decimal, offset decimal.NullDecimal) decimal.Decimal {
	if !offset.Valid {
		return tradingutils.RoundPrice(reference)
	}
	return tradingutils.RoundPrice(tradingutils.Shift(reference, offset.Decimal, side.Sign()))
}

// ReferencePrice is the top of book a taker on side would face: ask for buy, bid for sell
func ReferencePrice(side core.Side, ticker *core.Ticker) decimal.Decimal {
	if ticker == nil {
		return decimal.Zero
	}
	if side == core.SideSell {
		return ticker.Bid
	}
	return ticker.Ask
}
