package pricing

import (
	"errors"
	"testing"

	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func offset(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(d(s))
}

func level(price, size string) core.BookLevel {
	return core.BookLevel{Price: d(price), Size: d(size)}
}

func testBook() *core.OrderBook {
	return &core.OrderBook{
		InstID: "BTC-USDT-250926",
		Asks:   []core.BookLevel{level("100.5", "2"), level("101", "3"), level("101.5", "5"), level("103", "10")},
		Bids:   []core.BookLevel{level("100", "1"), level("99.5", "4"), level("99", "6")},
	}
}

func TestResolveLimitPrice(t *testing.T) {
	tests := []struct {
		name      string
		qty       string
		side      core.Side
		ref       string
		maxOffset decimal.NullDecimal
		want      string
		wantErr   error
	}{
		{name: "buy fills at first level", qty: "1", side: core.SideBuy, ref: "100.5", want: "100.5"},
		{name: "buy walks levels", qty: "5", side: core.SideBuy, ref: "100.5", want: "101"},
		{name: "buy exact cumulative", qty: "10", side: core.SideBuy, ref: "100.5", want: "101.5"},
		{name: "buy skips levels below reference", qty: "3", side: core.SideBuy, ref: "101", want: "101"},
		{name: "sell walks bids", qty: "4", side: core.SideSell, ref: "100", want: "99.5"},
		{name: "sell skips bids above reference", qty: "4", side: core.SideSell, ref: "99.5", want: "99.5"},
		{name: "within max offset", qty: "5", side: core.SideBuy, ref: "100.5", maxOffset: offset("0.5"), want: "101"},
		{name: "beyond max offset", qty: "11", side: core.SideBuy, ref: "100.5", maxOffset: offset("1"), wantErr: apperrors.ErrInsufficientDepth},
		{name: "book too thin", qty: "50", side: core.SideBuy, ref: "100.5", wantErr: apperrors.ErrInsufficientDepth},
		{name: "zero quantity", qty: "0", side: core.SideBuy, ref: "100.5", wantErr: apperrors.ErrInvalidOrderParameter},
		{name: "no side", qty: "1", side: core.SideNone, ref: "100.5", wantErr: apperrors.ErrInvalidOrderParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, err := ResolveLimitPrice(testBook(), d(tt.qty), tt.side, d(tt.ref), tt.maxOffset)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), err.Error())
				return
			}
			require.NoError(t, err)
			assert.True(t, price.Equal(d(tt.want)), "got %s want %s", price, tt.want)
		})
	}
}

func TestResolveLimitPriceNeverCrossesSide(t *testing.T) {
	book := testBook()
	for _, qty := range []string{"1", "2", "3", "7", "10", "20"} {
		price, err := ResolveLimitPrice(book, d(qty), core.SideBuy, d("100.5"), decimal.NullDecimal{})
		require.NoError(t, err)
		assert.True(t, price.GreaterThanOrEqual(d("100.5")), "buy priced below best ask: %s", price)

		reachableVolume := decimal.Zero
		for _, l := range book.Asks {
			if l.Price.LessThanOrEqual(price) {
				reachableVolume = reachableVolume.Add(l.Size)
			}
		}
		assert.True(t, reachableVolume.GreaterThanOrEqual(d(qty)))
	}
	for _, qty := range []string{"1", "5", "11"} {
		price, err := ResolveLimitPrice(book, d(qty), core.SideSell, d("100"), decimal.NullDecimal{})
		require.NoError(t, err)
		assert.True(t, price.LessThanOrEqual(d("100")), "sell priced above best bid: %s", price)
	}
}

func TestInsufficientDepthErrorDetails(t *testing.T) {
	_, err := ResolveLimitPrice(testBook(), d("11"), core.SideBuy, d("100.5"), offset("1"))
	var depthErr *InsufficientDepthError
	require.True(t, errors.As(err, &depthErr))
	assert.True(t, depthErr.Price.Equal(d("103")))
	assert.Contains(t, err.Error(), "exceeds max offset 1")

	_, err = ResolveLimitPrice(nil, d("1"), core.SideSell, d("100"), decimal.NullDecimal{})
	require.True(t, errors.As(err, &depthErr))
	assert.True(t, depthErr.Available.IsZero())
}

func TestResolveLimitPriceRounds(t *testing.T) {
	book := &core.OrderBook{Asks: []core.BookLevel{level("100.123", "5")}}
	price, err := ResolveLimitPrice(book, d("1"), core.SideBuy, d("100.123"), decimal.NullDecimal{})
	require.NoError(t, err)
	assert.Equal(t, "100.12", price.String())
}
