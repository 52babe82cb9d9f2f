package signal

import (
	"signal_trader/internal/core"

	"github.com/shopspring/decimal"
)

// Offsets is a validated trigger/execution offset pair for a take-profit or stop-loss leg
type Offsets struct {
	Trigger     decimal.Decimal
	Execution   decimal.Decimal
	TriggerType core.TriggerPriceType
}

// Trailing is a validated trailing stop setup
type Trailing struct {
	ActivationOffset decimal.NullDecimal
	// CallbackRatio is the callback distance as a fraction of last price, within [0.001, 1]
	CallbackRatio decimal.Decimal
}

// DCARung is one resolved ladder rung
type DCARung struct {
	Index           int
	Side            core.Side
	OrderType       core.OrderType
	USDAmount       decimal.Decimal
	TriggerOffset   decimal.Decimal
	ExecutionOffset decimal.Decimal
	// TriggerPrice is last price moved by TriggerOffset toward a better entry
	TriggerPrice decimal.Decimal
	// Contracts may be zero or negative. Such rungs are never submitted.
	Contracts     decimal.Decimal
	TakeProfit    *Offsets
	StopLoss      *Offsets
	ClientOrderID string
}

// SignalIntent is a fully resolved signal
type SignalIntent struct {
	RedButton            bool
	InstID               string
	Side                 core.Side
	OrderType            core.OrderType
	USDSize              decimal.NullDecimal
	Contracts            decimal.Decimal
	Leverage             int
	MaxPriceOffset       decimal.NullDecimal
	FlipIfOppositeSide   bool
	ClearPriorToNewOrder bool
	TakeProfit           *Offsets
	StopLoss             *Offsets
	Trailing             *Trailing
	DCA                  []DCARung
	ClientOrderID        string
	// LastPrice is the price the sizing was computed against
	LastPrice decimal.Decimal
}

// HasPrincipal reports whether a new directional order was requested
func (i *SignalIntent) HasPrincipal() bool {
	return i.Side != core.SideNone
}

// SignedContracts returns Contracts with the sign of Side
func (i *SignalIntent) SignedContracts() decimal.Decimal {
	if i.Side == core.SideSell {
		return i.Contracts.Neg()
	}
	return i.Contracts
}

// HasConditionals reports whether any TP, SL or trailing stop is configured
func (i *SignalIntent) HasConditionals() bool {
	return i.TakeProfit != nil || i.StopLoss != nil || i.Trailing != nil
}
