package engine

import (
	"signal_trader/internal/core"
	"signal_trader/internal/signal"

	"github.com/shopspring/decimal"
)

// Scenario is the reconciliation case a signal falls into
type Scenario string

const (
	ScenarioMaintenance  Scenario = "MAINTENANCE"
	ScenarioNoPosition   Scenario = "NO_POSITION"
	ScenarioSameSide     Scenario = "SAME_SIDE"
	ScenarioOppositeSide Scenario = "OPPOSITE_SIDE"
	ScenarioFlip         Scenario = "OPPOSITE_SIDE_FLIP"
	ScenarioZeroNet      Scenario = "ZERO_NET_RESULT"
)

// ActionKind is a cleanup gateway call
type ActionKind string

const (
	ActionClosePosition    ActionKind = "close_position"
	ActionCancelOrders     ActionKind = "cancel_orders"
	ActionCancelAlgoOrders ActionKind = "cancel_algo_orders"
)

// Action is one cleanup step. Side is set for closes, Targets for cancels.
// InstID is empty for account-wide batches.
type Action struct {
	Kind    ActionKind
	InstID  string
	Side    core.Side
	Targets []core.CancelRequest
}

// ReconciliationPlan is what to do with one signal given the current account state.
// Actions run in order and complete before the principal order is placed.
type ReconciliationPlan struct {
	Scenario     Scenario
	InstID       string
	DominantSide core.Side
	// Aggregate is the signed position size once the principal order fills
	Aggregate          decimal.Decimal
	Actions            []Action
	PlacePrincipal     bool
	AttachConditionals bool
}

// ClosesPosition reports whether the plan flattens the position before placing
func (p *ReconciliationPlan) ClosesPosition() bool {
	for _, a := range p.Actions {
		if a.Kind == ActionClosePosition {
			return true
		}
	}
	return false
}

// BuildPlan decides the cleanup and placement for intent under net position mode.
// It does not touch the gateway.
func BuildPlan(intent *signal.SignalIntent, position *core.Position, orders []core.OrderRecord, algos []core.AlgoOrderRecord) *ReconciliationPlan {
	plan := &ReconciliationPlan{InstID: intent.InstID}

	if !intent.HasPrincipal() {
		plan.Scenario = ScenarioMaintenance
		if position.IsFlat() {
			plan.Actions = cancelActions(intent.InstID, orders, algos, core.SideNone)
		}
		return plan
	}

	requested := intent.SignedContracts()
	plan.PlacePrincipal = true
	plan.AttachConditionals = intent.HasConditionals()

	if position.IsFlat() {
		plan.Scenario = ScenarioNoPosition
		plan.DominantSide = intent.Side
		plan.Aggregate = requested
		return plan
	}

	existing := position.Size
	plan.Aggregate = existing.Add(requested)
	plan.DominantSide = core.SideFromSign(plan.Aggregate)

	switch {
	case position.Side() == intent.Side:
		plan.Scenario = ScenarioSameSide
		plan.Actions = cancelActions(intent.InstID, orders, algos, plan.DominantSide)

	case intent.FlipIfOppositeSide:
		plan.Scenario = ScenarioFlip
		plan.DominantSide = intent.Side
		plan.Aggregate = requested
		plan.Actions = append([]Action{{Kind: ActionClosePosition, InstID: intent.InstID, Side: position.Side()}},
			cancelActions(intent.InstID, orders, algos, core.SideNone)...)

	case plan.Aggregate.IsZero():
		plan.Scenario = ScenarioZeroNet
		plan.PlacePrincipal = false
		plan.AttachConditionals = false
		plan.Actions = cancelActions(intent.InstID, orders, algos, core.SideNone)

	case plan.DominantSide == intent.Side:
		plan.Scenario = ScenarioOppositeSide
		plan.Actions = cancelActions(intent.InstID, orders, algos, plan.DominantSide)

	default:
		// partial offset: conditionals would point against the surviving position
		plan.Scenario = ScenarioOppositeSide
		plan.AttachConditionals = false
	}

	return plan
}

// cancelActions cancels every order and algo order of instID not on keep. SideNone keeps nothing.
func cancelActions(instID string, orders []core.OrderRecord, algos []core.AlgoOrderRecord, keep core.Side) []Action {
	return batchCancels(instID, orders, algos, func(inst string, side core.Side) bool {
		return inst == instID && (keep == core.SideNone || side != keep)
	})
}

// batchCancels builds one cancel batch for orders and one for algo orders matching match.
// Empty batches are left out.
func batchCancels(instID string, orders []core.OrderRecord, algos []core.AlgoOrderRecord, match func(instID string, side core.Side) bool) []Action {
	var actions []Action

	var orderTargets []core.CancelRequest
	for _, o := range orders {
		if match(o.InstID, o.Side) {
			orderTargets = append(orderTargets, core.CancelRequest{InstID: o.InstID, ID: o.OrderID})
		}
	}
	if len(orderTargets) > 0 {
		actions = append(actions, Action{Kind: ActionCancelOrders, InstID: instID, Targets: orderTargets})
	}

	var algoTargets []core.CancelRequest
	for _, a := range algos {
		if match(a.InstID, a.Side) {
			algoTargets = append(algoTargets, core.CancelRequest{InstID: a.InstID, ID: a.AlgoID})
		}
	}
	if len(algoTargets) > 0 {
		actions = append(actions, Action{Kind: ActionCancelAlgoOrders, InstID: instID, Targets: algoTargets})
	}
	return actions
}

// clearActions closes the position and cancels everything for the instrument
func clearActions(instID string, position *core.Position, orders []core.OrderRecord, algos []core.AlgoOrderRecord) []Action {
	var actions []Action
	if !position.IsFlat() {
		actions = append(actions, Action{Kind: ActionClosePosition, InstID: instID, Side: position.Side()})
	}
	return append(actions, cancelActions(instID, orders, algos, core.SideNone)...)
}

// accountActions flattens every position and cancels everything on the account
func accountActions(positions []core.Position, orders []core.OrderRecord, algos []core.AlgoOrderRecord) []Action {
	var actions []Action
	for i := range positions {
		p := &positions[i]
		if !p.IsFlat() {
			actions = append(actions, Action{Kind: ActionClosePosition, InstID: p.InstID, Side: p.Side()})
		}
	}
	return append(actions, batchCancels("", orders, algos, func(string, core.Side) bool { return true })...)
}
