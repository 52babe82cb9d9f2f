package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or position
type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side. SideNone stays SideNone.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideNone
	}
}

// Sign returns +1 for buy, -1 for sell and 0 otherwise
func (s Side) Sign() int64 {
	switch s {
	case SideBuy:
		return 1
	case SideSell:
		return -1
	default:
		return 0
	}
}

// SideFromSign maps a signed quantity to the side it represents
func SideFromSign(d decimal.Decimal) Side {
	switch d.Sign() {
	case 1:
		return SideBuy
	case -1:
		return SideSell
	default:
		return SideNone
	}
}

// ParseSide normalizes a raw side string
func ParseSide(s string) Side {
	return Side(strings.ToLower(strings.TrimSpace(s)))
}

// OrderType is the execution style of a regular order
type OrderType string

const (
	OrderTypeMarket   OrderType = "market"
	OrderTypeLimit    OrderType = "limit"
	OrderTypePostOnly OrderType = "post_only"
	OrderTypeFOK      OrderType = "fok"
	OrderTypeIOC      OrderType = "ioc"
)

// ValidOrderTypes lists the accepted order types
var ValidOrderTypes = []OrderType{OrderTypeMarket, OrderTypeLimit, OrderTypePostOnly, OrderTypeFOK, OrderTypeIOC}

// IsMarket reports whether the order executes without a limit price
func (t OrderType) IsMarket() bool {
	return t == OrderTypeMarket
}

// TriggerPriceType selects which price feed arms a conditional order
type TriggerPriceType string

const (
	TriggerPriceLast  TriggerPriceType = "last"
	TriggerPriceIndex TriggerPriceType = "index"
	TriggerPriceMark  TriggerPriceType = "mark"
)

// AlgoOrderType is the kind of conditional order sent to the gateway
type AlgoOrderType string

const (
	AlgoOrderTrigger      AlgoOrderType = "trigger"
	AlgoOrderConditional  AlgoOrderType = "conditional"
	AlgoOrderOCO          AlgoOrderType = "oco"
	AlgoOrderTrailingStop AlgoOrderType = "move_order_stop"
)

// MarketOrderPrice is the order price sentinel meaning "fill at market" on trigger
var MarketOrderPrice = decimal.NewFromInt(-1)

// Instrument is exchange reference data for a tradable contract
type Instrument struct {
	InstID           string          `json:"inst_id"`
	ContractValue    decimal.Decimal `json:"contract_value"`
	ContractValueCcy string          `json:"contract_value_ccy"`
	MinSize          decimal.Decimal `json:"min_size"`
	MaxMarketSize    decimal.Decimal `json:"max_market_size"`
	MaxLeverage      decimal.Decimal `json:"max_leverage"`
	TickSize         decimal.Decimal `json:"tick_size"`
	LotSize          decimal.Decimal `json:"lot_size"`
	ExpiresAt        time.Time       `json:"expires_at"`
	State            string          `json:"state"`
}

// IsUSDValued reports whether the contract value is already quoted in USD terms
func (i *Instrument) IsUSDValued() bool {
	ccy := strings.ToUpper(i.ContractValueCcy)
	return ccy == "USD" || ccy == "USDT" || ccy == "USDC"
}

// Ticker is the latest top of book for an instrument
type Ticker struct {
	InstID string          `json:"inst_id"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Last   decimal.Decimal `json:"last"`
}

// BookLevel is a single order book price level
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook is a depth snapshot. Asks ascend, bids descend.
type OrderBook struct {
	InstID    string      `json:"inst_id"`
	Asks      []BookLevel `json:"asks"`
	Bids      []BookLevel `json:"bids"`
	Timestamp time.Time   `json:"timestamp"`
}

// Position is the net position of an instrument. Size is signed.
type Position struct {
	InstID     string          `json:"inst_id"`
	Size       decimal.Decimal `json:"size"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	MarginMode string          `json:"margin_mode"`
}

// Side returns the direction implied by the signed size
func (p *Position) Side() Side {
	if p == nil {
		return SideNone
	}
	return SideFromSign(p.Size)
}

// IsFlat reports whether there is no open exposure
func (p *Position) IsFlat() bool {
	return p == nil || p.Size.IsZero()
}

// OrderRecord is an open regular order
type OrderRecord struct {
	InstID        string          `json:"inst_id"`
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Side          Side            `json:"side"`
	OrderType     string          `json:"order_type"`
	Size          decimal.Decimal `json:"size"`
	Price         decimal.Decimal `json:"price"`
	State         string          `json:"state"`
}

// AlgoOrderRecord is an open conditional order
type AlgoOrderRecord struct {
	InstID            string          `json:"inst_id"`
	AlgoID            string          `json:"algo_id"`
	AlgoClientOrderID string          `json:"algo_client_order_id"`
	Side              Side            `json:"side"`
	OrderType         string          `json:"order_type"`
	Size              decimal.Decimal `json:"size"`
	TriggerPrice      decimal.Decimal `json:"trigger_price"`
	OrderPrice        decimal.Decimal `json:"order_price"`
	State             string          `json:"state"`
}

// MaxSize holds per-side size limits reported by the account
type MaxSize struct {
	InstID string          `json:"inst_id"`
	Buy    decimal.Decimal `json:"buy"`
	Sell   decimal.Decimal `json:"sell"`
}

// AttachedAlgo carries take-profit and stop-loss legs riding on a parent order
type AttachedAlgo struct {
	ClientOrderID  string              `json:"client_order_id"`
	TPTriggerPrice decimal.NullDecimal `json:"tp_trigger_price"`
	TPOrderPrice   decimal.NullDecimal `json:"tp_order_price"`
	TPTriggerType  TriggerPriceType    `json:"tp_trigger_type,omitempty"`
	SLTriggerPrice decimal.NullDecimal `json:"sl_trigger_price"`
	SLOrderPrice   decimal.NullDecimal `json:"sl_order_price"`
	SLTriggerType  TriggerPriceType    `json:"sl_trigger_type,omitempty"`
}

// IsEmpty reports whether neither leg is set
func (a *AttachedAlgo) IsEmpty() bool {
	return a == nil || (!a.TPTriggerPrice.Valid && !a.SLTriggerPrice.Valid)
}

// PlaceOrderRequest is a regular order submission
type PlaceOrderRequest struct {
	InstID        string          `json:"inst_id"`
	Side          Side            `json:"side"`
	OrderType     OrderType       `json:"order_type"`
	Size          decimal.Decimal `json:"size"`
	Price         decimal.Decimal `json:"price"`
	ClientOrderID string          `json:"client_order_id"`
	ReduceOnly    bool            `json:"reduce_only"`
	Attached      *AttachedAlgo   `json:"attached,omitempty"`
}

// AlgoOrderRequest is a conditional order submission
type AlgoOrderRequest struct {
	InstID        string              `json:"inst_id"`
	Side          Side                `json:"side"`
	OrderType     AlgoOrderType       `json:"order_type"`
	Size          decimal.Decimal     `json:"size"`
	TriggerPrice  decimal.NullDecimal `json:"trigger_price"`
	OrderPrice    decimal.NullDecimal `json:"order_price"`
	TriggerType   TriggerPriceType    `json:"trigger_type,omitempty"`
	CallbackRatio decimal.NullDecimal `json:"callback_ratio"`
	ActivePrice   decimal.NullDecimal `json:"active_price"`
	ReduceOnly    bool                `json:"reduce_only"`
	CancelOnClose bool                `json:"cancel_on_close"`
	ClientOrderID string              `json:"client_order_id"`
	Attached      *AttachedAlgo       `json:"attached,omitempty"`
}

// OrderAck is the gateway acknowledgement of an accepted placement
type OrderAck struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
}

// CancelRequest identifies one order or algo order to cancel
type CancelRequest struct {
	InstID string `json:"inst_id"`
	ID     string `json:"id"`
}

// ItemResult is the per-item outcome of a batch gateway call
type ItemResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// InstrumentStatusReport is the post-action view returned to callers
type InstrumentStatusReport struct {
	InstID       string            `json:"inst_id"`
	MaxOrderSize *MaxSize          `json:"max_order_size,omitempty"`
	MaxAvailSize *MaxSize          `json:"max_avail_size,omitempty"`
	Positions    []Position        `json:"positions"`
	Orders       []OrderRecord     `json:"orders"`
	AlgoOrders   []AlgoOrderRecord `json:"algo_orders"`
	GeneratedAt  time.Time         `json:"generated_at"`
}
