package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// RawSignal is the webhook payload as sent by an operator or an indicator alert.
// Optional numeric fields accept numbers, quoted numbers, "" and null.
type RawSignal struct {
	RedButton                         FlexBool        `json:"red_button"`
	InstID                            string          `json:"instID"`
	USDOrderSize                      OptionalDecimal `json:"usd_order_size"`
	Leverage                          OptionalDecimal `json:"leverage"`
	OrderSide                         string          `json:"order_side"`
	OrderType                         string          `json:"order_type"`
	MaxOrderbookLimitPriceOffset      OptionalDecimal `json:"max_orderbook_limit_price_offset"`
	FlipPositionIfOppositeSide        FlexBool        `json:"flip_position_if_opposite_side"`
	ClearPriorToNewOrder              FlexBool        `json:"clear_prior_to_new_order"`
	TPTriggerPriceOffset              OptionalDecimal `json:"tp_trigger_price_offset"`
	TPExecutionPriceOffset            OptionalDecimal `json:"tp_execution_price_offset"`
	SLTriggerPriceOffset              OptionalDecimal `json:"sl_trigger_price_offset"`
	SLExecutionPriceOffset            OptionalDecimal `json:"sl_execution_price_offset"`
	TPTriggerPriceType                string          `json:"tp_trigger_price_type"`
	SLTriggerPriceType                string          `json:"sl_trigger_price_type"`
	TrailingStopActivationPriceOffset OptionalDecimal `json:"trailing_stop_activation_price_offset"`
	TrailingStopCallbackOffset        OptionalDecimal `json:"trailing_stop_callback_offset"`
	DCAParameters                     []RawDCARung    `json:"dca_parameters"`
}

// RawDCARung is one averaging order of the ladder
type RawDCARung struct {
	USDAmount              OptionalDecimal `json:"usd_amount"`
	OrderType              string          `json:"order_type"`
	OrderSide              string          `json:"order_side"`
	TriggerPriceOffset     OptionalDecimal `json:"trigger_price_offset"`
	ExecutionPriceOffset   OptionalDecimal `json:"execution_price_offset"`
	TPTriggerPriceOffset   OptionalDecimal `json:"tp_trigger_price_offset"`
	TPExecutionPriceOffset OptionalDecimal `json:"tp_execution_price_offset"`
	SLTriggerPriceOffset   OptionalDecimal `json:"sl_trigger_price_offset"`
	SLExecutionPriceOffset OptionalDecimal `json:"sl_execution_price_offset"`
	TPTriggerPriceType     string          `json:"tp_trigger_price_type"`
	SLTriggerPriceType     string          `json:"sl_trigger_price_type"`
}

// ParseRawSignal decodes a webhook body
func ParseRawSignal(data []byte) (*RawSignal, error) {
	var raw RawSignal
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode signal: %w", err)
	}
	return &raw, nil
}

// OptionalDecimal is a number that may be absent
type OptionalDecimal struct {
	Value decimal.Decimal
	Set   bool
}

// Some returns a present value
func Some(v decimal.Decimal) OptionalDecimal {
	return OptionalDecimal{Value: v, Set: true}
}

// SomeString parses s, panicking on malformed input. Intended for literals.
func SomeString(s string) OptionalDecimal {
	return Some(decimal.RequireFromString(s))
}

// Null converts to decimal.NullDecimal
func (o OptionalDecimal) Null() decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: o.Value, Valid: o.Set}
}

func (o *OptionalDecimal) UnmarshalJSON(data []byte) error {
	text := string(bytes.TrimSpace(data))
	if text == "null" {
		*o = OptionalDecimal{}
		return nil
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
	}
	if text == "" {
		*o = OptionalDecimal{}
		return nil
	}
	v, err := decimal.NewFromString(text)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", string(data), err)
	}
	*o = Some(v)
	return nil
}

func (o OptionalDecimal) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return []byte(o.Value.String()), nil
}

// FlexBool accepts true/false as JSON booleans or strings
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	text := string(bytes.TrimSpace(data))
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
	}
	switch strings.ToLower(text) {
	case "", "null", "false", "0", "no":
		*b = false
	case "true", "1", "yes":
		*b = true
	default:
		return fmt.Errorf("invalid boolean %s", string(data))
	}
	return nil
}
