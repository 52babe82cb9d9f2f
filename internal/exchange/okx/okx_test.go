package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"signal_trader/internal/config"
	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"
	"signal_trader/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInst = "BTC-USDT-250926"

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestExchange(t *testing.T, handler http.HandlerFunc) *Exchange {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.ExchangeConfig{
		APIKey:            "key",
		SecretKey:         "secret",
		Passphrase:        "pass",
		BaseURL:           server.URL,
		Simulated:         true,
		RequestsPerSecond: 100,
		TimeoutMs:         2000,
	}
	e, err := NewExchange(cfg, logging.NewNopLogger(), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return e
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNewExchange_RejectsPlainHTTP(t *testing.T) {
	_, err := NewExchange(&config.ExchangeConfig{BaseURL: "http://www.okx.com"}, logging.NewNopLogger())
	require.Error(t, err)
}

func TestSignRequestHeaders(t *testing.T) {
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		message := "2025-06-01T12:00:00.000Z" + "GET" + "/api/v5/market/ticker?instId=" + testInst
		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte(message))
		expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

		assert.Equal(t, "key", r.Header.Get("OK-ACCESS-KEY"))
		assert.Equal(t, "pass", r.Header.Get("OK-ACCESS-PASSPHRASE"))
		assert.Equal(t, "2025-06-01T12:00:00.000Z", r.Header.Get("OK-ACCESS-TIMESTAMP"))
		assert.Equal(t, expected, r.Header.Get("OK-ACCESS-SIGN"))
		assert.Equal(t, "1", r.Header.Get("x-simulated-trading"))

		writeJSON(w, `{"code":"0","msg":"","data":[{"instId":"BTC-USDT-250926","last":"50000","askPx":"50001","bidPx":"49999"}]}`)
	})

	ticker, err := e.GetTicker(context.Background(), testInst)
	require.NoError(t, err)
	assert.True(t, d("50001").Equal(ticker.Ask))
	assert.True(t, d("49999").Equal(ticker.Bid))
	assert.True(t, d("50000").Equal(ticker.Last))
}

func TestGetInstrument_FallsBackToSwap(t *testing.T) {
	var mu sync.Mutex
	var types []string
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		instType := r.URL.Query().Get("instType")
		mu.Lock()
		types = append(types, instType)
		mu.Unlock()
		if instType == "FUTURES" {
			writeJSON(w, `{"code":"0","msg":"","data":[]}`)
			return
		}
		writeJSON(w, `{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","instType":"SWAP","ctVal":"0.01","ctValCcy":"BTC","minSz":"1","maxMktSz":"5000","lever":"100","tickSz":"0.1","lotSz":"1","expTime":"","state":"live"}]}`)
	})

	inst, err := e.GetInstrument(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.True(t, d("0.01").Equal(inst.ContractValue))
	assert.Equal(t, "BTC", inst.ContractValueCcy)
	assert.True(t, d("100").Equal(inst.MaxLeverage))
	assert.True(t, inst.ExpiresAt.IsZero())

	_, err = e.GetInstrument(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"FUTURES", "SWAP", "SWAP"}, types)
}

func TestGetInstrument_FuturesExpiry(t *testing.T) {
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"code":"0","msg":"","data":[{"instId":"BTC-USDT-250926","ctVal":"0.01","ctValCcy":"BTC","minSz":"1","lever":"50","tickSz":"0.1","lotSz":"1","expTime":"1758873600000","state":"live"}]}`)
	})

	inst, err := e.GetInstrument(context.Background(), testInst)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 9, 26, 8, 0, 0, 0, time.UTC), inst.ExpiresAt)
}

func TestGetInstrument_Unknown(t *testing.T) {
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"code":"0","msg":"","data":[]}`)
	})

	inst, err := e.GetInstrument(context.Background(), "NOPE-USDT-250926")
	require.NoError(t, err)
	assert.Nil(t, inst)
}

func TestGetOrderBook(t *testing.T) {
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/market/books", r.URL.Path)
		assert.Equal(t, "400", r.URL.Query().Get("sz"))
		writeJSON(w, `{"code":"0","msg":"","data":[{"asks":[["50001","2","0","1"],["50002","3","0","2"]],"bids":[["49999","4","0","1"]],"ts":"1748779200000"}]}`)
	})

	book, err := e.GetOrderBook(context.Background(), testInst, 1000)
	require.NoError(t, err)
	require.Len(t, book.Asks, 2)
	require.Len(t, book.Bids, 1)
	assert.True(t, d("50002").Equal(book.Asks[1].Price))
	assert.True(t, d("3").Equal(book.Asks[1].Size))
	assert.True(t, d("4").Equal(book.Bids[0].Size))
	assert.Equal(t, fixedNow, book.Timestamp)
}

func TestListPositions(t *testing.T) {
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"code":"0","msg":"","data":[
			{"instId":"BTC-USDT-250926","pos":"-3","posSide":"net","avgPx":"50000","mgnMode":"cross"},
			{"instId":"ETH-USDT-250926","pos":"0","posSide":"net","avgPx":"","mgnMode":"cross"}
		]}`)
	})

	positions, err := e.ListPositions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, core.SideSell, positions[0].Side())

	pos, err := e.GetPosition(context.Background(), "ETH-USDT-250926")
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestListAlgoOrders_QueriesEveryType(t *testing.T) {
	var mu sync.Mutex
	var types []string
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		ordType := r.URL.Query().Get("ordType")
		mu.Lock()
		types = append(types, ordType)
		mu.Unlock()
		if ordType == "oco" {
			writeJSON(w, `{"code":"0","msg":"","data":[{"instId":"BTC-USDT-250926","algoId":"a1","algoClOrdId":"abcTPSL","side":"sell","ordType":"oco","sz":"5","tpTriggerPx":"51000","slTriggerPx":"49000","ordPx":"-1","state":"live"}]}`)
			return
		}
		writeJSON(w, `{"code":"0","msg":"","data":[]}`)
	})

	algos, err := e.ListAlgoOrders(context.Background(), testInst)
	require.NoError(t, err)
	require.Len(t, algos, 1)
	assert.Equal(t, "a1", algos[0].AlgoID)
	assert.Equal(t, core.SideSell, algos[0].Side)
	assert.True(t, d("49000").Equal(algos[0].TriggerPrice))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"conditional", "oco", "trigger", "move_order_stop"}, types)
}

func TestListOrders_Paginates(t *testing.T) {
	var calls int32
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			assert.Empty(t, r.URL.Query().Get("after"))
			data := make([]map[string]string, pageLimit)
			for i := range data {
				data[i] = map[string]string{"instId": testInst, "ordId": "o" + string(rune('a'+i%26)), "side": "buy", "sz": "1", "px": "1"}
			}
			data[pageLimit-1]["ordId"] = "last"
			out, _ := json.Marshal(map[string]interface{}{"code": "0", "msg": "", "data": data})
			_, _ = w.Write(out)
			return
		}
		assert.Equal(t, "last", r.URL.Query().Get("after"))
		writeJSON(w, `{"code":"0","msg":"","data":[{"instId":"BTC-USDT-250926","ordId":"tail","side":"sell","sz":"2","px":"50100"}]}`)
	})

	orders, err := e.ListOrders(context.Background(), testInst)
	require.NoError(t, err)
	assert.Len(t, orders, pageLimit+1)
	assert.Equal(t, "tail", orders[pageLimit].OrderID)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestPlaceOrder_AttachesTPSL(t *testing.T) {
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v5/trade/order", r.URL.Path)

		var body map[string]interface{}
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "cross", body["tdMode"])
		assert.Equal(t, "buy", body["side"])
		assert.Equal(t, "market", body["ordType"])
		assert.Equal(t, "10", body["sz"])
		assert.NotContains(t, body, "px")
		assert.Equal(t, "abcdef0123456789", body["clOrdId"])

		attached := body["attachAlgoOrds"].([]interface{})
		require.Len(t, attached, 1)
		leg := attached[0].(map[string]interface{})
		assert.Equal(t, "abcdef0123456789TPSL", leg["attachAlgoClOrdId"])
		assert.Equal(t, "50050", leg["tpTriggerPx"])
		assert.Equal(t, "last", leg["tpTriggerPxType"])
		assert.NotContains(t, leg, "slTriggerPx")

		writeJSON(w, `{"code":"0","msg":"","data":[{"ordId":"312269865356374016","clOrdId":"abcdef0123456789","sCode":"0","sMsg":""}]}`)
	})

	ack, err := e.PlaceOrder(context.Background(), &core.PlaceOrderRequest{
		InstID:        testInst,
		Side:          core.SideBuy,
		OrderType:     core.OrderTypeMarket,
		Size:          d("10"),
		ClientOrderID: "abcdef0123456789",
		Attached: &core.AttachedAlgo{
			ClientOrderID:  "abcdef0123456789TPSL",
			TPTriggerPrice: decimal.NewNullDecimal(d("50050")),
			TPOrderPrice:   decimal.NewNullDecimal(d("50040")),
			TPTriggerType:  core.TriggerPriceLast,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "312269865356374016", ack.OrderID)
}

func TestPlaceOrder_ItemCodeMapped(t *testing.T) {
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"code":"1","msg":"All operations failed","data":[{"ordId":"","clOrdId":"x","sCode":"51008","sMsg":"Insufficient balance"}]}`)
	})

	_, err := e.PlaceOrder(context.Background(), &core.PlaceOrderRequest{
		InstID: testInst, Side: core.SideBuy, OrderType: core.OrderTypeLimit, Size: d("1"), Price: d("50000"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientFunds))

	var exErr *apperrors.ExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, "51008", exErr.Code)
	assert.Equal(t, "place_order", exErr.Op)
}

func TestPlaceAlgoOrder_TrailingStop(t *testing.T) {
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/trade/order-algo", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "move_order_stop", body["ordType"])
		assert.Equal(t, "0.01", body["callbackRatio"])
		assert.Equal(t, "51000", body["activePx"])
		assert.Equal(t, true, body["reduceOnly"])
		assert.Equal(t, true, body["cxlOnClosePos"])
		assert.NotContains(t, body, "triggerPx")
		writeJSON(w, `{"code":"0","msg":"","data":[{"algoId":"alg1","algoClOrdId":"abcTRAIL","sCode":"0","sMsg":""}]}`)
	})

	ack, err := e.PlaceAlgoOrder(context.Background(), &core.AlgoOrderRequest{
		InstID:        testInst,
		Side:          core.SideSell,
		OrderType:     core.AlgoOrderTrailingStop,
		Size:          d("5"),
		CallbackRatio: decimal.NewNullDecimal(d("0.01")),
		ActivePrice:   decimal.NewNullDecimal(d("51000")),
		ReduceOnly:    true,
		CancelOnClose: true,
		ClientOrderID: "abcTRAIL",
	})
	require.NoError(t, err)
	assert.Equal(t, "alg1", ack.OrderID)
	assert.Equal(t, "abcTRAIL", ack.ClientOrderID)
}

func TestPlaceAlgoOrder_MarketTrigger(t *testing.T) {
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "trigger", body["ordType"])
		assert.Equal(t, "49000", body["triggerPx"])
		assert.Equal(t, "-1", body["orderPx"])
		writeJSON(w, `{"code":"0","msg":"","data":[{"algoId":"alg2","sCode":"0"}]}`)
	})

	_, err := e.PlaceAlgoOrder(context.Background(), &core.AlgoOrderRequest{
		InstID:       testInst,
		Side:         core.SideBuy,
		OrderType:    core.AlgoOrderTrigger,
		Size:         d("2"),
		TriggerPrice: decimal.NewNullDecimal(d("49000")),
		OrderPrice:   decimal.NewNullDecimal(core.MarketOrderPrice),
	})
	require.NoError(t, err)
}

func TestCancelOrders_Chunks(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		var body []map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		sizes = append(sizes, len(body))
		mu.Unlock()

		data := make([]map[string]string, 0, len(body))
		for _, item := range body {
			data = append(data, map[string]string{"ordId": item["ordId"], "sCode": "0", "sMsg": ""})
		}
		out, _ := json.Marshal(map[string]interface{}{"code": "0", "msg": "", "data": data})
		_, _ = w.Write(out)
	})

	reqs := make([]core.CancelRequest, 25)
	for i := range reqs {
		reqs[i] = core.CancelRequest{InstID: testInst, ID: string(rune('a' + i))}
	}

	results, err := e.CancelOrders(context.Background(), reqs)
	require.NoError(t, err)
	assert.Len(t, results, 25)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{20, 5}, sizes)
}

func TestCancelAlgoOrders_PartialFailure(t *testing.T) {
	var calls int32
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/trade/cancel-algos", r.URL.Path)
		if atomic.AddInt32(&calls, 1) == 1 {
			var body []map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Len(t, body, 10)
			data := make([]map[string]string, 0, len(body))
			for i, item := range body {
				code := "0"
				if i == 0 {
					code = "51603"
				}
				data = append(data, map[string]string{"algoId": item["algoId"], "sCode": code})
			}
			out, _ := json.Marshal(map[string]interface{}{"code": "2", "msg": "Bulk operation partially succeeded.", "data": data})
			_, _ = w.Write(out)
			return
		}
		writeJSON(w, `{"code":"0","msg":"","data":[{"algoId":"k","sCode":"0"},{"algoId":"l","sCode":"0"}]}`)
	})

	reqs := make([]core.CancelRequest, 12)
	for i := range reqs {
		reqs[i] = core.CancelRequest{InstID: testInst, ID: string(rune('a' + i))}
	}

	results, err := e.CancelAlgoOrders(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 12)
	assert.False(t, results[0].Success)
	assert.Equal(t, "51603", results[0].Code)
	assert.True(t, results[1].Success)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClosePosition(t *testing.T) {
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cross", body["mgnMode"])
		assert.Equal(t, "net", body["posSide"])
		writeJSON(w, `{"code":"51023","msg":"Position does not exist","data":[]}`)
	})

	err := e.ClosePosition(context.Background(), testInst, core.SideBuy)
	assert.True(t, errors.Is(err, apperrors.ErrPositionNotFound))
}

func TestSetLeverage(t *testing.T) {
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "20", body["lever"])
		assert.Equal(t, "cross", body["mgnMode"])
		writeJSON(w, `{"code":"0","msg":"","data":[{"lever":"20"}]}`)
	})

	require.NoError(t, e.SetLeverage(context.Background(), testInst, 20))
}

func TestReadsRetryTransientCodes(t *testing.T) {
	var calls int32
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			writeJSON(w, `{"code":"50011","msg":"Too Many Requests","data":[]}`)
			return
		}
		writeJSON(w, `{"code":"0","msg":"","data":[{"maxBuy":"1000","maxSell":"900"}]}`)
	})

	size, err := e.GetMaxOrderSize(context.Background(), testInst)
	require.NoError(t, err)
	assert.True(t, d("900").Equal(size.Sell))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestWritesAreNotRetried(t *testing.T) {
	var calls int32
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, `{"code":"50011","msg":"Too Many Requests","data":[]}`)
	})

	_, err := e.PlaceOrder(context.Background(), &core.PlaceOrderRequest{
		InstID: testInst, Side: core.SideSell, OrderType: core.OrderTypeMarket, Size: d("1"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrRateLimitExceeded))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestHTTPErrorCarriesBusinessCode(t *testing.T) {
	e := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, `{"code":"50113","msg":"Invalid Sign","data":[]}`)
	})

	err := e.CheckHealth(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAuthenticationFailed))
}

func TestParseError(t *testing.T) {
	tests := []struct {
		code     string
		expected error
	}{
		{"50001", apperrors.ErrSystemOverload},
		{"50011", apperrors.ErrRateLimitExceeded},
		{"50102", apperrors.ErrTimestampOutOfBounds},
		{"50111", apperrors.ErrAuthenticationFailed},
		{"51000", apperrors.ErrInvalidOrderParameter},
		{"51001", apperrors.ErrInvalidSymbol},
		{"51016", apperrors.ErrDuplicateOrder},
		{"51401", apperrors.ErrOrderNotFound},
		{"50035", apperrors.ErrExchangeMaintenance},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := parseError("op", tt.code, "msg")
			assert.True(t, errors.Is(err, tt.expected))
		})
	}

	assert.NoError(t, parseError("op", "0", ""))

	var exErr *apperrors.ExchangeError
	require.True(t, errors.As(parseError("op", "59999", "unknown"), &exErr))
	assert.Nil(t, exErr.Err)
}
