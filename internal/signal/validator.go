// Package signal validates webhook signals into fully resolved order intents
package signal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"
	"signal_trader/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

var (
	minCallbackRatio = decimal.RequireFromString("0.001")
	maxCallbackRatio = decimal.NewFromInt(1)
)

// Validator resolves RawSignals against live instrument and ticker data
type Validator struct {
	provider core.ISnapshotProvider
	logger   core.ILogger
	now      func() time.Time
	newID    func() string
}

// Option customizes a Validator
type Option func(*Validator)

// WithClock overrides the time source used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// WithIDGenerator overrides client order id generation
func WithIDGenerator(fn func() string) Option {
	return func(v *Validator) {
		v.newID = fn
	}
}

// NewValidator creates a validator reading reference data from provider
func NewValidator(provider core.ISnapshotProvider, logger core.ILogger, opts ...Option) *Validator {
	v := &Validator{
		provider: provider,
		logger:   logger.WithField("component", "signal_validator"),
		now:      time.Now,
		newID:    NewClientOrderID,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate turns raw into a SignalIntent. It only reads from the provider and never places orders.
// Errors are *ValidationError for bad input or *apperrors.MarketDataError when reference data is missing.
func (v *Validator) Validate(ctx context.Context, raw *RawSignal) (*SignalIntent, error) {
	if raw == nil {
		return nil, invalid("signal", nil, "signal body is empty")
	}
	if raw.RedButton {
		return &SignalIntent{RedButton: true}, nil
	}

	instID, err := ParseInstID(raw.InstID)
	if err != nil {
		return nil, err
	}

	inst, err := v.provider.GetInstrument(ctx, instID)
	if err != nil {
		return nil, &apperrors.MarketDataError{What: "instrument", InstID: instID, Err: err}
	}
	if inst == nil {
		return nil, invalid("instID", instID, "unknown instrument")
	}
	if !inst.ExpiresAt.IsZero() && !inst.ExpiresAt.After(v.now()) {
		return nil, invalid("instID", instID, "instrument expired at %s", inst.ExpiresAt.UTC().Format(time.RFC3339))
	}

	leverage, err := parseLeverage(raw.Leverage)
	if err != nil {
		return nil, err
	}
	if inst.MaxLeverage.IsPositive() && decimal.NewFromInt(int64(leverage)).GreaterThan(inst.MaxLeverage) {
		return nil, &ValidationError{
			Field:   "leverage",
			Value:   leverage,
			Message: fmt.Sprintf("leverage exceeds instrument cap of %s", inst.MaxLeverage),
			Max:     decimal.NewNullDecimal(inst.MaxLeverage),
		}
	}

	side, err := parseSide("order_side", raw.OrderSide, true)
	if err != nil {
		return nil, err
	}
	orderType, err := parseOrderType("order_type", raw.OrderType)
	if err != nil {
		return nil, err
	}

	intent := &SignalIntent{
		InstID:               instID,
		Side:                 side,
		OrderType:            orderType,
		USDSize:              raw.USDOrderSize.Null(),
		Contracts:            decimal.Zero,
		Leverage:             leverage,
		FlipIfOppositeSide:   bool(raw.FlipPositionIfOppositeSide),
		ClearPriorToNewOrder: bool(raw.ClearPriorToNewOrder),
	}

	principal := raw.USDOrderSize.Set && side != core.SideNone
	if principal || len(raw.DCAParameters) > 0 {
		ticker, err := v.provider.GetTicker(ctx, instID)
		if err != nil {
			return nil, &apperrors.MarketDataError{What: "ticker", InstID: instID, Err: err}
		}
		if ticker == nil || !ticker.Last.IsPositive() {
			return nil, &apperrors.MarketDataError{What: "last price", InstID: instID}
		}
		intent.LastPrice = ticker.Last
	}

	if principal {
		if !raw.USDOrderSize.Value.IsPositive() {
			return nil, invalid("usd_order_size", raw.USDOrderSize.Value, "must be positive")
		}
		contracts, cost := ContractsForUSD(raw.USDOrderSize.Value, leverage, inst, intent.LastPrice)
		if err := checkBounds("usd_order_size", raw.USDOrderSize.Value, contracts, cost, inst); err != nil {
			return nil, err
		}
		intent.Contracts = contracts
	}
	if side != core.SideNone && !intent.Contracts.IsPositive() {
		return nil, invalid("usd_order_size", nil, "a positive order size is required when order_side is set")
	}

	if intent.MaxPriceOffset, err = nonNegative("max_orderbook_limit_price_offset", raw.MaxOrderbookLimitPriceOffset); err != nil {
		return nil, err
	}
	if intent.TakeProfit, err = parseOffsets("tp", raw.TPTriggerPriceOffset, raw.TPExecutionPriceOffset, raw.TPTriggerPriceType); err != nil {
		return nil, err
	}
	if intent.StopLoss, err = parseOffsets("sl", raw.SLTriggerPriceOffset, raw.SLExecutionPriceOffset, raw.SLTriggerPriceType); err != nil {
		return nil, err
	}
	if intent.Trailing, err = parseTrailing(raw, intent.LastPrice, principal); err != nil {
		return nil, err
	}

	intent.ClientOrderID = v.newID()

	for i, rawRung := range raw.DCAParameters {
		rung, err := resolveRung(i, rawRung, intent, inst)
		if err != nil {
			return nil, err
		}
		intent.DCA = append(intent.DCA, *rung)
	}

	v.logger.Debug("Signal validated",
		"inst_id", intent.InstID,
		"side", intent.Side,
		"contracts", intent.Contracts,
		"leverage", intent.Leverage,
		"dca_rungs", len(intent.DCA),
		"client_order_id", intent.ClientOrderID)

	return intent, nil
}

// ParseInstID uppercases id and requires three dash separated segments
func ParseInstID(id string) (string, error) {
	instID := strings.ToUpper(strings.TrimSpace(id))
	if instID == "" {
		return "", invalid("instID", id, "instrument id is required")
	}
	parts := strings.Split(instID, "-")
	if len(parts) != 3 {
		return "", invalid("instID", id, "expected BASE-QUOTE-EXPIRY, got %d segments", len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return "", invalid("instID", id, "empty segment in instrument id")
		}
	}
	return instID, nil
}

func parseLeverage(raw OptionalDecimal) (int, error) {
	if !raw.Set {
		return 0, nil
	}
	if raw.Value.IsNegative() {
		return 0, invalid("leverage", raw.Value, "must be zero or positive")
	}
	if !raw.Value.Equal(raw.Value.Truncate(0)) {
		return 0, invalid("leverage", raw.Value, "must be a whole number")
	}
	return int(raw.Value.IntPart()), nil
}

func parseSide(field, raw string, allowEmpty bool) (core.Side, error) {
	side := core.ParseSide(raw)
	switch side {
	case core.SideBuy, core.SideSell:
		return side, nil
	case core.SideNone:
		if allowEmpty {
			return side, nil
		}
	}
	return core.SideNone, invalid(field, raw, "must be one of: buy, sell")
}

func parseOrderType(field, raw string) (core.OrderType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return core.OrderTypeLimit, nil
	}
	for _, t := range core.ValidOrderTypes {
		if core.OrderType(normalized) == t {
			return t, nil
		}
	}
	return "", invalid(field, raw, "must be one of: market, limit, post_only, fok, ioc")
}

func parseTriggerType(field, raw string) (core.TriggerPriceType, error) {
	switch t := core.TriggerPriceType(strings.ToLower(strings.TrimSpace(raw))); t {
	case "":
		return core.TriggerPriceLast, nil
	case core.TriggerPriceLast, core.TriggerPriceIndex, core.TriggerPriceMark:
		return t, nil
	}
	return "", invalid(field, raw, "must be one of: index, mark, last")
}

func nonNegative(field string, raw OptionalDecimal) (decimal.NullDecimal, error) {
	if raw.Set && raw.Value.IsNegative() {
		return decimal.NullDecimal{}, invalid(field, raw.Value, "must not be negative")
	}
	return raw.Null(), nil
}

// parseOffsets validates a trigger/execution pair. Fields are named prefix_trigger_price_offset etc.
func parseOffsets(prefix string, trigger, execution OptionalDecimal, triggerType string) (*Offsets, error) {
	trigField := prefix + "_trigger_price_offset"
	execField := prefix + "_execution_price_offset"

	tt, err := parseTriggerType(prefix+"_trigger_price_type", triggerType)
	if err != nil {
		return nil, err
	}
	if !trigger.Set && !execution.Set {
		return nil, nil
	}
	if !execution.Set {
		return nil, inconsistent(execField, "%s is set but %s is missing", trigField, execField)
	}
	if !trigger.Set {
		return nil, inconsistent(trigField, "%s is set but %s is missing", execField, trigField)
	}
	if _, err := nonNegative(trigField, trigger); err != nil {
		return nil, err
	}
	if _, err := nonNegative(execField, execution); err != nil {
		return nil, err
	}
	return &Offsets{Trigger: trigger.Value, Execution: execution.Value, TriggerType: tt}, nil
}

func parseTrailing(raw *RawSignal, last decimal.Decimal, principal bool) (*Trailing, error) {
	activation, err := nonNegative("trailing_stop_activation_price_offset", raw.TrailingStopActivationPriceOffset)
	if err != nil {
		return nil, err
	}
	callback, err := nonNegative("trailing_stop_callback_offset", raw.TrailingStopCallbackOffset)
	if err != nil {
		return nil, err
	}
	if !callback.Valid {
		if activation.Valid {
			return nil, inconsistent("trailing_stop_callback_offset",
				"trailing_stop_activation_price_offset is set but trailing_stop_callback_offset is missing")
		}
		return nil, nil
	}
	if !principal || !last.IsPositive() {
		return nil, nil
	}
	ratio := tradingutils.Clamp(callback.Decimal.Div(last), minCallbackRatio, maxCallbackRatio)
	return &Trailing{ActivationOffset: activation, CallbackRatio: ratio}, nil
}

// resolveRung sizes rung i against its own trigger price. A rung that sizes to zero is kept for the engine to skip.
func resolveRung(i int, raw RawDCARung, intent *SignalIntent, inst *core.Instrument) (*DCARung, error) {
	field := fmt.Sprintf("dca_parameters[%d]", i)

	side := intent.Side
	if raw.OrderSide != "" {
		s, err := parseSide(field+".order_side", raw.OrderSide, false)
		if err != nil {
			return nil, err
		}
		side = s
	}
	if side == core.SideNone {
		return nil, invalid(field+".order_side", raw.OrderSide, "rung side is required when order_side is empty")
	}

	orderType, err := parseOrderType(field+".order_type", raw.OrderType)
	if err != nil {
		return nil, err
	}
	trigOffset, err := nonNegative(field+".trigger_price_offset", raw.TriggerPriceOffset)
	if err != nil {
		return nil, err
	}
	execOffset, err := nonNegative(field+".execution_price_offset", raw.ExecutionPriceOffset)
	if err != nil {
		return nil, err
	}

	rung := &DCARung{
		Index:           i,
		Side:            side,
		OrderType:       orderType,
		USDAmount:       raw.USDAmount.Value,
		TriggerOffset:   trigOffset.Decimal,
		ExecutionOffset: execOffset.Decimal,
		// averaging entries trigger below last price for buys and above it for sells
		TriggerPrice:  tradingutils.RoundPrice(tradingutils.Shift(intent.LastPrice, trigOffset.Decimal, -side.Sign())),
		Contracts:     decimal.Zero,
		ClientOrderID: DCAClientOrderID(intent.ClientOrderID, i),
	}

	if rung.TakeProfit, err = parseOffsets(field+".tp", raw.TPTriggerPriceOffset, raw.TPExecutionPriceOffset, raw.TPTriggerPriceType); err != nil {
		return nil, err
	}
	if rung.StopLoss, err = parseOffsets(field+".sl", raw.SLTriggerPriceOffset, raw.SLExecutionPriceOffset, raw.SLTriggerPriceType); err != nil {
		return nil, err
	}

	if !raw.USDAmount.Set || !raw.USDAmount.Value.IsPositive() || !rung.TriggerPrice.IsPositive() {
		return rung, nil
	}
	contracts, cost := ContractsForUSD(raw.USDAmount.Value, intent.Leverage, inst, rung.TriggerPrice)
	if contracts.IsPositive() {
		if err := checkBounds(field+".usd_amount", raw.USDAmount.Value, contracts, cost, inst); err != nil {
			return nil, err
		}
	}
	rung.Contracts = contracts
	return rung, nil
}

func checkBounds(field string, usd, contracts, cost decimal.Decimal, inst *core.Instrument) error {
	tooSmall := contracts.LessThan(inst.MinSize) || !contracts.IsPositive()
	tooLarge := inst.MaxMarketSize.IsPositive() && contracts.GreaterThan(inst.MaxMarketSize)
	if !tooSmall && !tooLarge {
		return nil
	}
	return &ValidationError{
		Field: field,
		Value: usd,
		Message: fmt.Sprintf("%s USD buys %s contracts at %s USD per contract; allowed range is [%s, %s] contracts",
			usd, contracts, cost.Round(4), inst.MinSize, inst.MaxMarketSize),
		Min:  decimal.NewNullDecimal(inst.MinSize),
		Max:  decimal.NewNullDecimal(inst.MaxMarketSize),
		Cost: decimal.NewNullDecimal(cost),
	}
}
