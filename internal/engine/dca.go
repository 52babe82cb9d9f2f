package engine

import (
	"signal_trader/internal/core"
	"signal_trader/internal/pricing"
	"signal_trader/internal/signal"
	"signal_trader/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// LadderOrder is a DCA rung ready for submission
type LadderOrder struct {
	Index   int
	Request core.AlgoOrderRequest
}

// BuildLadder turns resolved rungs into trigger orders for instID.
// Rungs without a positive contract size are dropped.
// Limit rungs execute execution_offset beyond the trigger in the entry direction, market rungs at the -1 sentinel.
func BuildLadder(instID string, rungs []signal.DCARung) []LadderOrder {
	ladder := make([]LadderOrder, 0, len(rungs))
	for _, rung := range rungs {
		if !rung.Contracts.IsPositive() {
			continue
		}

		reference := rung.TriggerPrice
		orderPrice := core.MarketOrderPrice
		if !rung.OrderType.IsMarket() {
			orderPrice = tradingutils.RoundPrice(tradingutils.Shift(rung.TriggerPrice, rung.ExecutionOffset, -rung.Side.Sign()))
			reference = orderPrice
		}

		req := core.AlgoOrderRequest{
			InstID:        instID,
			Side:          rung.Side,
			OrderType:     core.AlgoOrderTrigger,
			Size:          rung.Contracts,
			TriggerPrice:  decimal.NewNullDecimal(rung.TriggerPrice),
			OrderPrice:    decimal.NewNullDecimal(orderPrice),
			TriggerType:   core.TriggerPriceLast,
			ClientOrderID: rung.ClientOrderID,
			Attached:      attachedAlgo(signal.TPSLClientOrderID(rung.ClientOrderID), rung.Side, reference, rung.TakeProfit, rung.StopLoss),
		}
		ladder = append(ladder, LadderOrder{Index: rung.Index, Request: req})
	}
	return ladder
}

// attachedAlgo prices TP/SL legs from reference, nil when neither is configured
func attachedAlgo(clientOrderID string, side core.Side, reference decimal.Decimal, tp, sl *signal.Offsets) *core.AttachedAlgo {
	if tp == nil && sl == nil {
		return nil
	}
	a := &core.AttachedAlgo{ClientOrderID: clientOrderID}
	if tp != nil {
		leg := pricing.TakeProfit(side, reference, tp.Trigger, tp.Execution)
		a.TPTriggerPrice = decimal.NewNullDecimal(leg.Trigger)
		a.TPOrderPrice = decimal.NewNullDecimal(leg.Execution)
		a.TPTriggerType = tp.TriggerType
	}
	if sl != nil {
		leg := pricing.StopLoss(side, reference, sl.Trigger, sl.Execution)
		a.SLTriggerPrice = decimal.NewNullDecimal(leg.Trigger)
		a.SLOrderPrice = decimal.NewNullDecimal(leg.Execution)
		a.SLTriggerType = sl.TriggerType
	}
	return a
}
