package okx

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"
)

type orderData struct {
	InstID  string `json:"instId"`
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
	Px      string `json:"px"`
	State   string `json:"state"`
}

type algoData struct {
	InstID      string `json:"instId"`
	AlgoID      string `json:"algoId"`
	AlgoClOrdID string `json:"algoClOrdId"`
	Side        string `json:"side"`
	OrdType     string `json:"ordType"`
	Sz          string `json:"sz"`
	TriggerPx   string `json:"triggerPx"`
	OrdPx       string `json:"ordPx"`
	TpTriggerPx string `json:"tpTriggerPx"`
	SlTriggerPx string `json:"slTriggerPx"`
	ActivePx    string `json:"activePx"`
	State       string `json:"state"`
}

// tradeAck is the per-item result of every trade endpoint
type tradeAck struct {
	OrdID       string `json:"ordId"`
	ClOrdID     string `json:"clOrdId"`
	AlgoID      string `json:"algoId"`
	AlgoClOrdID string `json:"algoClOrdId"`
	SCode       string `json:"sCode"`
	SMsg        string `json:"sMsg"`
}

type attachAlgoOrd struct {
	AttachAlgoClOrdID string `json:"attachAlgoClOrdId,omitempty"`
	TpTriggerPx       string `json:"tpTriggerPx,omitempty"`
	TpOrdPx           string `json:"tpOrdPx,omitempty"`
	TpTriggerPxType   string `json:"tpTriggerPxType,omitempty"`
	SlTriggerPx       string `json:"slTriggerPx,omitempty"`
	SlOrdPx           string `json:"slOrdPx,omitempty"`
	SlTriggerPxType   string `json:"slTriggerPxType,omitempty"`
}

type orderBody struct {
	InstID         string          `json:"instId"`
	TdMode         string          `json:"tdMode"`
	Side           string          `json:"side"`
	OrdType        string          `json:"ordType"`
	Sz             string          `json:"sz"`
	Px             string          `json:"px,omitempty"`
	ClOrdID        string          `json:"clOrdId,omitempty"`
	ReduceOnly     bool            `json:"reduceOnly,omitempty"`
	AttachAlgoOrds []attachAlgoOrd `json:"attachAlgoOrds,omitempty"`
}

type algoBody struct {
	InstID         string          `json:"instId"`
	TdMode         string          `json:"tdMode"`
	Side           string          `json:"side"`
	OrdType        string          `json:"ordType"`
	Sz             string          `json:"sz"`
	AlgoClOrdID    string          `json:"algoClOrdId,omitempty"`
	ReduceOnly     bool            `json:"reduceOnly,omitempty"`
	CxlOnClosePos  bool            `json:"cxlOnClosePos,omitempty"`
	TriggerPx      string          `json:"triggerPx,omitempty"`
	OrderPx        string          `json:"orderPx,omitempty"`
	TriggerPxType  string          `json:"triggerPxType,omitempty"`
	CallbackRatio  string          `json:"callbackRatio,omitempty"`
	ActivePx       string          `json:"activePx,omitempty"`
	AttachAlgoOrds []attachAlgoOrd `json:"attachAlgoOrds,omitempty"`
}

// ListOrders returns pending regular orders, following pagination
func (e *Exchange) ListOrders(ctx context.Context, instID string) ([]core.OrderRecord, error) {
	var orders []core.OrderRecord
	after := ""
	for page := 0; page < maxPages; page++ {
		params := url.Values{"limit": {strconv.Itoa(pageLimit)}}
		if instID != "" {
			params.Set("instId", instID)
		}
		if after != "" {
			params.Set("after", after)
		}

		data, err := getData[orderData](ctx, e, "list_orders", "/api/v5/trade/orders-pending", params)
		if err != nil {
			return nil, err
		}
		for _, raw := range data {
			orders = append(orders, core.OrderRecord{
				InstID:        raw.InstID,
				OrderID:       raw.OrdID,
				ClientOrderID: raw.ClOrdID,
				Side:          core.ParseSide(raw.Side),
				OrderType:     raw.OrdType,
				Size:          dec(raw.Sz),
				Price:         dec(raw.Px),
				State:         raw.State,
			})
		}
		if len(data) < pageLimit {
			break
		}
		after = data[len(data)-1].OrdID
	}
	return orders, nil
}

// ListAlgoOrders returns pending conditional, oco, trigger and trailing orders
func (e *Exchange) ListAlgoOrders(ctx context.Context, instID string) ([]core.AlgoOrderRecord, error) {
	var algos []core.AlgoOrderRecord
	for _, ordType := range pendingAlgoTypes {
		params := url.Values{"ordType": {string(ordType)}}
		if instID != "" {
			params.Set("instId", instID)
		}

		data, err := getData[algoData](ctx, e, "list_algo_orders", "/api/v5/trade/orders-algo-pending", params)
		if err != nil {
			return nil, err
		}
		for _, raw := range data {
			algos = append(algos, toAlgoRecord(raw))
		}
	}
	return algos, nil
}

func toAlgoRecord(raw algoData) core.AlgoOrderRecord {
	// conditional and oco orders report their legs instead of a single trigger
	trigger := raw.TriggerPx
	for _, px := range []string{raw.SlTriggerPx, raw.TpTriggerPx, raw.ActivePx} {
		if trigger != "" {
			break
		}
		trigger = px
	}
	return core.AlgoOrderRecord{
		InstID:            raw.InstID,
		AlgoID:            raw.AlgoID,
		AlgoClientOrderID: raw.AlgoClOrdID,
		Side:              core.ParseSide(raw.Side),
		OrderType:         raw.OrdType,
		Size:              dec(raw.Sz),
		TriggerPrice:      dec(trigger),
		OrderPrice:        dec(raw.OrdPx),
		State:             raw.State,
	}
}

func toAttachAlgoOrds(a *core.AttachedAlgo) []attachAlgoOrd {
	if a.IsEmpty() {
		return nil
	}
	ord := attachAlgoOrd{AttachAlgoClOrdID: a.ClientOrderID}
	if a.TPTriggerPrice.Valid {
		ord.TpTriggerPx = optionalString(a.TPTriggerPrice)
		ord.TpOrdPx = optionalString(a.TPOrderPrice)
		ord.TpTriggerPxType = string(a.TPTriggerType)
	}
	if a.SLTriggerPrice.Valid {
		ord.SlTriggerPx = optionalString(a.SLTriggerPrice)
		ord.SlOrdPx = optionalString(a.SLOrderPrice)
		ord.SlTriggerPxType = string(a.SLTriggerType)
	}
	return []attachAlgoOrd{ord}
}

// PlaceOrder submits a regular order with optional attached TP/SL
func (e *Exchange) PlaceOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.OrderAck, error) {
	body := orderBody{
		InstID:         req.InstID,
		TdMode:         marginMode,
		Side:           string(req.Side),
		OrdType:        string(req.OrderType),
		Sz:             req.Size.String(),
		ClOrdID:        req.ClientOrderID,
		ReduceOnly:     req.ReduceOnly,
		AttachAlgoOrds: toAttachAlgoOrds(req.Attached),
	}
	if !req.OrderType.IsMarket() {
		body.Px = req.Price.String()
	}

	ack, err := placeOne(ctx, e, "place_order", "/api/v5/trade/order", body)
	if err != nil {
		return nil, err
	}
	return &core.OrderAck{OrderID: ack.OrdID, ClientOrderID: ack.ClOrdID}, nil
}

// PlaceAlgoOrder submits a trigger or trailing stop order
func (e *Exchange) PlaceAlgoOrder(ctx context.Context, req *core.AlgoOrderRequest) (*core.OrderAck, error) {
	body := algoBody{
		InstID:         req.InstID,
		TdMode:         marginMode,
		Side:           string(req.Side),
		OrdType:        string(req.OrderType),
		Sz:             req.Size.String(),
		AlgoClOrdID:    req.ClientOrderID,
		ReduceOnly:     req.ReduceOnly,
		CxlOnClosePos:  req.CancelOnClose,
		TriggerPx:      optionalString(req.TriggerPrice),
		OrderPx:        optionalString(req.OrderPrice),
		TriggerPxType:  string(req.TriggerType),
		CallbackRatio:  optionalString(req.CallbackRatio),
		ActivePx:       optionalString(req.ActivePrice),
		AttachAlgoOrds: toAttachAlgoOrds(req.Attached),
	}

	ack, err := placeOne(ctx, e, "place_algo_order", "/api/v5/trade/order-algo", body)
	if err != nil {
		return nil, err
	}
	return &core.OrderAck{OrderID: ack.AlgoID, ClientOrderID: ack.AlgoClOrdID}, nil
}

// placeOne posts a single placement. The item-level sCode is more specific than the envelope code.
func placeOne(ctx context.Context, e *Exchange, op, path string, body interface{}) (*tradeAck, error) {
	env, err := postData[tradeAck](ctx, e, op, path, body)
	if env != nil && len(env.Data) > 0 {
		ack := env.Data[0]
		if ack.SCode != "" && ack.SCode != "0" {
			e.logger.Warn("Order rejected", "op", op, "code", ack.SCode, "msg", ack.SMsg)
			return nil, parseError(op, ack.SCode, ack.SMsg)
		}
		if err == nil {
			return &ack, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%s: okx returned no data", op)
}

// CancelOrders cancels regular orders in chunks of 20
func (e *Exchange) CancelOrders(ctx context.Context, reqs []core.CancelRequest) ([]core.ItemResult, error) {
	return cancelBatch(ctx, e, "cancel_orders", "/api/v5/trade/cancel-batch-orders", cancelOrdersChunk, reqs,
		func(r core.CancelRequest) map[string]string {
			return map[string]string{"instId": r.InstID, "ordId": r.ID}
		},
		func(a tradeAck) string { return a.OrdID })
}

// CancelAlgoOrders cancels algo orders in chunks of 10
func (e *Exchange) CancelAlgoOrders(ctx context.Context, reqs []core.CancelRequest) ([]core.ItemResult, error) {
	return cancelBatch(ctx, e, "cancel_algo_orders", "/api/v5/trade/cancel-algos", cancelAlgosChunk, reqs,
		func(r core.CancelRequest) map[string]string {
			return map[string]string{"instId": r.InstID, "algoId": r.ID}
		},
		func(a tradeAck) string { return a.AlgoID })
}

// cancelBatch sends chunked cancel requests. Envelope codes 1 (all failed) and 2 (partial) still carry
// per-item results, so those chunks report items instead of failing the call.
func cancelBatch(
	ctx context.Context,
	e *Exchange,
	op, path string,
	chunk int,
	reqs []core.CancelRequest,
	toBody func(core.CancelRequest) map[string]string,
	idOf func(tradeAck) string,
) ([]core.ItemResult, error) {
	results := make([]core.ItemResult, 0, len(reqs))
	for start := 0; start < len(reqs); start += chunk {
		end := min(start+chunk, len(reqs))

		body := make([]map[string]string, 0, end-start)
		for _, r := range reqs[start:end] {
			body = append(body, toBody(r))
		}

		env, err := postData[tradeAck](ctx, e, op, path, body)
		if err != nil {
			var exErr *apperrors.ExchangeError
			partial := errors.As(err, &exErr) && (exErr.Code == "1" || exErr.Code == "2")
			if !partial || env == nil || len(env.Data) == 0 {
				return results, err
			}
		}

		for _, ack := range env.Data {
			results = append(results, core.ItemResult{
				ID:      idOf(ack),
				Success: ack.SCode == "0",
				Code:    ack.SCode,
				Message: ack.SMsg,
			})
		}
	}
	return results, nil
}

// ClosePosition market-closes the net position of instID
func (e *Exchange) ClosePosition(ctx context.Context, instID string, side core.Side) error {
	_, err := postData[struct {
		InstID  string `json:"instId"`
		PosSide string `json:"posSide"`
	}](ctx, e, "close_position", "/api/v5/trade/close-position", map[string]interface{}{
		"instId":  instID,
		"mgnMode": marginMode,
		"posSide": netPosSide,
		"autoCxl": true,
	})
	if err != nil {
		return err
	}
	e.logger.Info("Position closed", "instrument", instID, "side", side)
	return nil
}
