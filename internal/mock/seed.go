package mock

import (
	"time"

	"signal_trader/internal/core"

	"github.com/shopspring/decimal"
)

// NewSeededExchange returns an account with one quarterly BTC future and a shallow book,
// enough to exercise the whole signal flow without network access.
func NewSeededExchange(now time.Time) *MockExchange {
	m := NewMockExchange("mock")
	instID := "BTC-USDT-" + quarterlyExpiry(now).Format("060102")

	m.AddInstrument(core.Instrument{
		InstID:           instID,
		ContractValue:    decimal.RequireFromString("0.01"),
		ContractValueCcy: "BTC",
		MinSize:          decimal.NewFromInt(1),
		MaxMarketSize:    decimal.NewFromInt(5000),
		MaxLeverage:      decimal.NewFromInt(100),
		TickSize:         decimal.RequireFromString("0.1"),
		LotSize:          decimal.NewFromInt(1),
		ExpiresAt:        quarterlyExpiry(now),
		State:            "live",
	})
	m.SetTicker(core.Ticker{
		InstID: instID,
		Bid:    decimal.NewFromInt(49999),
		Ask:    decimal.NewFromInt(50001),
		Last:   decimal.NewFromInt(50000),
	})

	book := core.OrderBook{InstID: instID, Timestamp: now}
	for i := int64(0); i < 10; i++ {
		book.Asks = append(book.Asks, core.BookLevel{Price: decimal.NewFromInt(50001 + i), Size: decimal.NewFromInt(5 + i)})
		book.Bids = append(book.Bids, core.BookLevel{Price: decimal.NewFromInt(49999 - i), Size: decimal.NewFromInt(5 + i)})
	}
	m.SetOrderBook(book)
	return m
}

// quarterlyExpiry is the last Friday 08:00 UTC of the current quarter, or of the next one if already past
func quarterlyExpiry(now time.Time) time.Time {
	now = now.UTC()
	quarterEnd := time.Month(((int(now.Month())-1)/3 + 1) * 3)
	expiry := lastFriday(now.Year(), quarterEnd)
	if !expiry.After(now) {
		next := now.AddDate(0, 3, 0)
		quarterEnd = time.Month(((int(next.Month())-1)/3 + 1) * 3)
		expiry = lastFriday(next.Year(), quarterEnd)
	}
	return expiry
}

func lastFriday(year int, month time.Month) time.Time {
	t := time.Date(year, month+1, 1, 8, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for t.Weekday() != time.Friday {
		t = t.AddDate(0, 0, -1)
	}
	return t
}
