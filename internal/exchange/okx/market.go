package okx

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"signal_trader/internal/core"
)

type instrumentData struct {
	InstID   string `json:"instId"`
	InstType string `json:"instType"`
	CtVal    string `json:"ctVal"`
	CtValCcy string `json:"ctValCcy"`
	MinSz    string `json:"minSz"`
	MaxMktSz string `json:"maxMktSz"`
	Lever    string `json:"lever"`
	TickSz   string `json:"tickSz"`
	LotSz    string `json:"lotSz"`
	ExpTime  string `json:"expTime"`
	State    string `json:"state"`
}

// GetInstrument looks the instrument up as FUTURES first and falls back to SWAP.
// Unknown instruments return nil without error.
func (e *Exchange) GetInstrument(ctx context.Context, instID string) (*core.Instrument, error) {
	e.mu.RLock()
	known, ok := e.instTypes[instID]
	e.mu.RUnlock()

	types := []string{"FUTURES", "SWAP"}
	if ok {
		types = []string{known}
	}

	for _, instType := range types {
		data, err := getData[instrumentData](ctx, e, "get_instrument", "/api/v5/public/instruments", url.Values{
			"instType": {instType},
			"instId":   {instID},
		})
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}

		e.mu.Lock()
		e.instTypes[instID] = instType
		e.mu.Unlock()

		return toInstrument(data[0]), nil
	}

	return nil, nil
}

func toInstrument(raw instrumentData) *core.Instrument {
	inst := &core.Instrument{
		InstID:           raw.InstID,
		ContractValue:    dec(raw.CtVal),
		ContractValueCcy: raw.CtValCcy,
		MinSize:          dec(raw.MinSz),
		MaxMarketSize:    dec(raw.MaxMktSz),
		MaxLeverage:      dec(raw.Lever),
		TickSize:         dec(raw.TickSz),
		LotSize:          dec(raw.LotSz),
		State:            raw.State,
	}
	if ms, err := strconv.ParseInt(raw.ExpTime, 10, 64); err == nil && ms > 0 {
		inst.ExpiresAt = time.UnixMilli(ms).UTC()
	}
	return inst
}

// GetTicker returns nil without error when OKX has no ticker for the instrument
func (e *Exchange) GetTicker(ctx context.Context, instID string) (*core.Ticker, error) {
	data, err := getData[struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		AskPx  string `json:"askPx"`
		BidPx  string `json:"bidPx"`
	}](ctx, e, "get_ticker", "/api/v5/market/ticker", url.Values{"instId": {instID}})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	raw := data[0]
	return &core.Ticker{
		InstID: instID,
		Bid:    dec(raw.BidPx),
		Ask:    dec(raw.AskPx),
		Last:   dec(raw.Last),
	}, nil
}

// GetOrderBook fetches up to depth levels per side. OKX caps depth at 400.
func (e *Exchange) GetOrderBook(ctx context.Context, instID string, depth int) (*core.OrderBook, error) {
	if depth <= 0 || depth > maxBookDepth {
		depth = maxBookDepth
	}

	// Each level is [price, size, deprecated, orderCount]
	data, err := getData[struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
		TS   string     `json:"ts"`
	}](ctx, e, "get_order_book", "/api/v5/market/books", url.Values{
		"instId": {instID},
		"sz":     {strconv.Itoa(depth)},
	})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	raw := data[0]
	book := &core.OrderBook{
		InstID: instID,
		Asks:   toLevels(raw.Asks),
		Bids:   toLevels(raw.Bids),
	}
	if ms, err := strconv.ParseInt(raw.TS, 10, 64); err == nil {
		book.Timestamp = time.UnixMilli(ms).UTC()
	}
	return book, nil
}

func toLevels(raw [][]string) []core.BookLevel {
	levels := make([]core.BookLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		levels = append(levels, core.BookLevel{Price: dec(lvl[0]), Size: dec(lvl[1])})
	}
	return levels
}
